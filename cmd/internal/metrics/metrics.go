// Package metrics exposes the server's Prometheus collectors behind one
// registry so app wiring stays in a single place.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the server's collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	LetterOpens  *prometheus.CounterVec

	LettersPromoted prometheus.Counter
	LettersExpired  prometheus.Counter
}

// New constructs a Metrics bundle with its own registry, including Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openon_http_requests_total",
			Help: "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		LetterOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openon_letter_opens_total",
			Help: "Letter open attempts by outcome.",
		}, []string{"outcome"}),
		LettersPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openon_letters_promoted_total",
			Help: "Letters promoted sealed to ready by the sweeper.",
		}),
		LettersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openon_letters_expired_total",
			Help: "Disappearing letters expired by the sweeper.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.LetterOpens,
		m.LettersPromoted,
		m.LettersExpired,
	)
	return m
}

// Outcome labels for LetterOpens.
const (
	OutcomeOpened         = "opened"
	OutcomeNotFound       = "not_found"
	OutcomeForbidden      = "forbidden"
	OutcomeNotEligible    = "not_eligible"
	OutcomeNotYetUnlocked = "not_yet_unlocked"
	OutcomeError          = "error"
)

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
