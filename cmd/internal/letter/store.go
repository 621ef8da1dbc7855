package letter

import (
	"context"
	"time"
)

// CreateRecord is a normalized letter insert payload.
type CreateRecord struct {
	ID                 string
	SenderID           string
	RecipientID        string
	IsAnonymous        bool
	Body               string
	BodyRich           *string
	AttachmentKey      *string
	RevealDelaySeconds *int64
	Status             Status
	CreatedAt          time.Time
	UnlocksAt          time.Time
	ExpiresAt          *time.Time
}

// OpenRecord describes the open transition. RevealAt is nil for
// non-anonymous letters; for anonymous letters it is only applied when the
// row's reveal_at is still unset.
type OpenRecord struct {
	ID       string
	Now      time.Time
	RevealAt *time.Time
}

// ReadyNotice identifies a letter promoted sealed -> ready, with the linked
// user to notify when the recipient is a connection.
type ReadyNotice struct {
	LetterID     string
	LinkedUserID *string
}

// Store is the persistence boundary for letters.
//
// Open must be conditional: it mutates the row only while opened_at is unset
// and status is still sealed or ready, and reports ErrNotApplied otherwise.
// That check is what makes the open transition at-most-once under
// concurrent calls.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Letter, error)

	// GetWithRecipient fetches a non-deleted letter joined with its
	// recipient record and sender profile. Soft-deleted rows are ErrNotFound.
	GetWithRecipient(ctx context.Context, id string) (LetterWithParties, error)

	Open(ctx context.Context, in OpenRecord) (Letter, error)

	// ListBySender returns the sender's letters, newest first.
	ListBySender(ctx context.Context, senderID string, limit int) ([]LetterWithParties, error)

	// ListForRecipient returns letters addressed to the given identity,
	// matching either a linked user id or a normalized email, newest first.
	ListForRecipient(ctx context.Context, userID, email string, limit int) ([]LetterWithParties, error)

	// MarkReady promotes due sealed letters to ready as of now.
	MarkReady(ctx context.Context, now time.Time) ([]ReadyNotice, error)

	// ExpireDue soft-deletes disappearing letters whose expiry has passed,
	// marking them expired. Returns the number of rows affected.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// RecipientSource resolves a recipient contact owned by a given user.
// Implemented by the recipient package's stores; kept as a local interface
// so the letter domain does not depend on it.
type RecipientSource interface {
	GetOwned(ctx context.Context, ownerID, recipientID string) (RecipientRef, error)
}
