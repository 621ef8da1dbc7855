package letter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultListLimit = 50

// Event is a fire-and-forget notification about a letter state change.
type Event struct {
	Type     string    `json:"type"`
	LetterID string    `json:"letter_id"`
	At       time.Time `json:"at"`
}

// Event types published by the letter domain.
const (
	EventOpened = "letter.opened"
	EventReady  = "letter.ready"
)

// EventSink receives letter events for a user. Publish must not block and
// its failure never affects the originating transition.
type EventSink interface {
	Publish(userID string, ev Event)
}

type noopSink struct{}

func (noopSink) Publish(string, Event) {}

// Service implements letter composition and the open transition.
type Service struct {
	store      Store
	recipients RecipientSource
	log        *slog.Logger
	events     EventSink
}

// Option configures the Service.
type Option func(*Service) error

// WithEventSink routes letter events to the given sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) error {
		if sink == nil {
			return ErrInvalidInput
		}
		s.events = sink
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, recipients RecipientSource, log *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil || recipients == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{store: store, recipients: recipients, log: log, events: noopSink{}}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// OpenInput identifies the letter to open and the authenticated caller.
// Caller identity is threaded explicitly; the service never consults
// ambient request state.
type OpenInput struct {
	LetterID    string
	CallerID    string
	CallerEmail string

	// Now pins the single time source for the whole invocation. Zero means
	// wall clock.
	Now time.Time
}

// Open authorizes and performs the one-time open transition, returning the
// letter's public view.
//
// Repeated calls on an already-opened letter are an idempotent success: the
// current view is returned and nothing is written. Exactly one row mutation
// happens on the success path and none on any failure path.
func (s *Service) Open(ctx context.Context, in OpenInput) (View, error) {
	if s == nil || s.store == nil {
		return View{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return View{}, err
	}
	if strings.TrimSpace(in.LetterID) == "" || strings.TrimSpace(in.CallerID) == "" {
		return View{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	j, err := s.store.GetWithRecipient(ctx, in.LetterID)
	if err != nil {
		return View{}, err
	}
	l := j.Letter

	if err := s.authorizeOpen(ctx, j, in.CallerID, in.CallerEmail); err != nil {
		return View{}, err
	}
	viewerIsSender := in.CallerID == l.SenderID

	// Idempotent replay: a previously opened letter is returned as-is.
	if l.OpenedAt != nil {
		return buildView(j, now, viewerIsSender), nil
	}

	if l.Status != StatusSealed && l.Status != StatusReady {
		return View{}, ErrNotEligible
	}

	if l.UnlocksAt.After(now) {
		return View{}, ErrNotYetUnlocked
	}

	rec := OpenRecord{ID: l.ID, Now: now}
	if l.IsAnonymous && l.RevealAt == nil {
		at := now.Add(clampRevealDelay(l.RevealDelaySeconds))
		rec.RevealAt = &at
	}

	updated, err := s.store.Open(ctx, rec)
	if errors.Is(err, ErrNotApplied) {
		// Lost a race or the row changed under us. Re-read and resolve:
		// a concurrent open means idempotent replay, anything else means
		// the letter stopped being eligible.
		j2, err2 := s.store.GetWithRecipient(ctx, in.LetterID)
		if err2 != nil {
			return View{}, err2
		}
		if j2.Letter.OpenedAt != nil {
			return buildView(j2, now, viewerIsSender), nil
		}
		return View{}, ErrNotEligible
	}
	if err != nil {
		return View{}, err
	}

	s.log.Info("letter.open",
		"letter_id", l.ID,
		"anonymous", l.IsAnonymous,
		"self_send", j.Recipient.IsSelfSend(l.SenderID),
	)
	s.events.Publish(l.SenderID, Event{Type: EventOpened, LetterID: l.ID, At: now})

	j.Letter = updated
	return buildView(j, now, viewerIsSender), nil
}

// authorizeOpen evaluates the recipient-relationship policy in priority
// order; the first applicable branch wins. Denials are logged with the
// branch that denied but surface as one uniform error.
func (s *Service) authorizeOpen(ctx context.Context, j LetterWithParties, callerID, callerEmail string) error {
	l := j.Letter
	r := j.Recipient

	if callerID == l.SenderID {
		if r.IsSelfSend(l.SenderID) {
			return nil
		}
		// Authorship grants no open rights on letters addressed to others.
		s.denied(ctx, l.ID, "sender_not_recipient")
		return ErrForbidden
	}

	if r.LinkedUserID != nil {
		if callerID == *r.LinkedUserID {
			return nil
		}
		s.denied(ctx, l.ID, "wrong_linked_user")
		return ErrForbidden
	}

	if r.Email != nil {
		if emailsEqual(callerEmail, *r.Email) {
			return nil
		}
		s.denied(ctx, l.ID, "email_mismatch")
		return ErrForbidden
	}

	// Upstream invariants promise at least one of linked user / email.
	s.log.WarnContext(ctx, "letter.open.invalid_recipient",
		"letter_id", l.ID, "recipient_id", r.ID)
	return ErrInvalidRecipient
}

func (s *Service) denied(ctx context.Context, letterID, reason string) {
	s.log.InfoContext(ctx, "letter.open.denied", "letter_id", letterID, "reason", reason)
}

func emailsEqual(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return a != "" && a == b
}

// CreateInput describes letter composition.
type CreateInput struct {
	SenderID           string
	RecipientID        string
	Body               string
	BodyRich           *string
	IsAnonymous        bool
	RevealDelaySeconds *int64
	AttachmentKey      *string
	UnlocksAt          time.Time
	ExpiresAt          *time.Time
	Now                time.Time
}

// Create composes a new sealed letter addressed to one of the sender's
// recipient contacts.
func (s *Service) Create(ctx context.Context, in CreateInput) (View, error) {
	if s == nil || s.store == nil {
		return View{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return View{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	senderID := strings.TrimSpace(in.SenderID)
	recipientID := strings.TrimSpace(in.RecipientID)
	if senderID == "" || recipientID == "" {
		return View{}, ErrInvalidInput
	}
	if strings.TrimSpace(in.Body) == "" && in.BodyRich == nil {
		return View{}, ErrInvalidInput
	}
	if !in.UnlocksAt.After(now) {
		return View{}, ErrInvalidInput
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(in.UnlocksAt) {
		return View{}, ErrInvalidInput
	}

	rec, err := s.recipients.GetOwned(ctx, senderID, recipientID)
	if err != nil {
		return View{}, err
	}

	created, err := s.store.Create(ctx, CreateRecord{
		ID:                 uuid.NewString(),
		SenderID:           senderID,
		RecipientID:        rec.ID,
		IsAnonymous:        in.IsAnonymous,
		Body:               in.Body,
		BodyRich:           in.BodyRich,
		AttachmentKey:      in.AttachmentKey,
		RevealDelaySeconds: in.RevealDelaySeconds,
		Status:             StatusSealed,
		CreatedAt:          now,
		UnlocksAt:          in.UnlocksAt.UTC(),
		ExpiresAt:          in.ExpiresAt,
	})
	if err != nil {
		return View{}, err
	}

	s.log.Info("letter.create", "letter_id", created.ID, "anonymous", created.IsAnonymous)
	return buildView(LetterWithParties{Letter: created, Recipient: rec}, now, true), nil
}

// GetInput identifies a letter to read and the caller.
type GetInput struct {
	LetterID    string
	CallerID    string
	CallerEmail string
	Now         time.Time
}

// Get returns a letter view for its sender or its authorized recipient.
// Reading never mutates state; an unopened letter's body stays withheld
// from the recipient.
func (s *Service) Get(ctx context.Context, in GetInput) (View, error) {
	if s == nil || s.store == nil {
		return View{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return View{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	j, err := s.store.GetWithRecipient(ctx, in.LetterID)
	if err != nil {
		return View{}, err
	}
	l := j.Letter

	// The sender may always view their own letter.
	if in.CallerID == l.SenderID {
		return buildView(j, now, true), nil
	}
	if err := s.authorizeOpen(ctx, j, in.CallerID, in.CallerEmail); err != nil {
		return View{}, err
	}
	return buildView(j, now, false), nil
}

// ListOutbox returns the caller's sent letters, newest first.
func (s *Service) ListOutbox(ctx context.Context, senderID string, now time.Time) ([]View, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	rows, err := s.store.ListBySender(ctx, senderID, defaultListLimit)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(rows))
	for _, j := range rows {
		views = append(views, buildView(j, now, true))
	}
	return views, nil
}

// ListInbox returns letters addressed to the caller, newest first.
func (s *Service) ListInbox(ctx context.Context, callerID, callerEmail string, now time.Time) ([]View, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	rows, err := s.store.ListForRecipient(ctx, callerID, strings.ToLower(strings.TrimSpace(callerEmail)), defaultListLimit)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(rows))
	for _, j := range rows {
		views = append(views, buildView(j, now, j.Letter.SenderID == callerID))
	}
	return views, nil
}
