// Package lifecycle runs the time-driven letter transitions that happen
// outside any user request: promoting sealed letters to ready once their
// unlock time passes, and expiring disappearing letters. The open operation
// itself never performs these transitions; it only observes their result.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"openon/cmd/internal/letter"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultInterval = 30 * time.Second

// Store is the subset of the letter store the sweeper drives.
type Store interface {
	MarkReady(ctx context.Context, now time.Time) ([]letter.ReadyNotice, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically applies due lifecycle transitions.
type Sweeper struct {
	store    Store
	log      *slog.Logger
	events   letter.EventSink
	interval time.Duration

	promoted prometheus.Counter
	expired  prometheus.Counter
}

// Option configures the Sweeper.
type Option func(*Sweeper)

// WithInterval overrides the sweep interval (default 30s).
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithEventSink routes ready notifications to the given sink.
func WithEventSink(sink letter.EventSink) Option {
	return func(s *Sweeper) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithCounters wires promotion/expiry counters.
func WithCounters(promoted, expired prometheus.Counter) Option {
	return func(s *Sweeper) {
		s.promoted = promoted
		s.expired = expired
	}
}

type noopSink struct{}

func (noopSink) Publish(string, letter.Event) {}

// New constructs a Sweeper.
func New(store Store, log *slog.Logger, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, letter.ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{store: store, log: log, events: noopSink{}, interval: defaultInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run blocks, sweeping on every tick until the context is cancelled. The
// first sweep happens immediately so restarts do not delay due promotions.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep applies one round of due transitions as of now.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	notices, err := s.store.MarkReady(ctx, now)
	if err != nil {
		s.log.Error("lifecycle.mark_ready.fail", "err", err)
	} else if len(notices) > 0 {
		s.log.Info("lifecycle.mark_ready", "count", len(notices))
		if s.promoted != nil {
			s.promoted.Add(float64(len(notices)))
		}
		for _, n := range notices {
			if n.LinkedUserID == nil {
				continue
			}
			s.events.Publish(*n.LinkedUserID, letter.Event{
				Type:     letter.EventReady,
				LetterID: n.LetterID,
				At:       now,
			})
		}
	}

	expired, err := s.store.ExpireDue(ctx, now)
	if err != nil {
		s.log.Error("lifecycle.expire.fail", "err", err)
	} else if expired > 0 {
		s.log.Info("lifecycle.expire", "count", expired)
		if s.expired != nil {
			s.expired.Add(float64(expired))
		}
	}
}
