// Package recipient manages a sender's contact records. A recipient either
// links to a registered user (a connection) or carries a bare email address;
// letters reference recipients, never users directly.
package recipient

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Recipient is a contact record owned by a sender.
type Recipient struct {
	ID           string
	OwnerID      string
	LinkedUserID *string
	Email        *string
	DisplayName  *string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// CreateInput describes contact creation. At least one of LinkedUserID and
// Email must be set.
type CreateInput struct {
	OwnerID      string
	LinkedUserID *string
	Email        *string
	DisplayName  *string
	Now          time.Time
}

// Service manages recipient contacts.
type Service struct {
	store Store
	log   *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, log *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}, nil
}

// Create registers a new contact for the owner.
func (s *Service) Create(ctx context.Context, in CreateInput) (Recipient, error) {
	if s == nil || s.store == nil {
		return Recipient{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Recipient{}, err
	}

	ownerID := strings.TrimSpace(in.OwnerID)
	if ownerID == "" {
		return Recipient{}, ErrInvalidInput
	}
	linked := trimPtr(in.LinkedUserID)
	email := normalizeEmailPtr(in.Email)
	if linked == nil && email == nil {
		// A contact with no resolvable identity would make every letter to
		// it permanently unopenable.
		return Recipient{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rec, err := s.store.Create(ctx, Recipient{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		LinkedUserID: linked,
		Email:        email,
		DisplayName:  trimPtr(in.DisplayName),
		CreatedAt:    now,
	})
	if err != nil {
		return Recipient{}, err
	}
	s.log.Info("recipient.create", "recipient_id", rec.ID, "connection", rec.LinkedUserID != nil)
	return rec, nil
}

// List returns the owner's active contacts, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Recipient, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrInvalidInput
	}
	return s.store.ListByOwner(ctx, ownerID)
}

// Delete soft-deletes a contact owned by ownerID.
func (s *Service) Delete(ctx context.Context, ownerID, recipientID string, now time.Time) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(recipientID) == "" {
		return ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.SoftDelete(ctx, ownerID, recipientID, now)
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func normalizeEmailPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.ToLower(strings.TrimSpace(*v))
	if s == "" || !strings.Contains(s, "@") {
		return nil
	}
	return &s
}
