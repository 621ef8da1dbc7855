package recipient

import (
	"context"
	"time"
)

// Store is the persistence boundary for recipient contacts.
type Store interface {
	Create(ctx context.Context, in Recipient) (Recipient, error)

	// GetOwned fetches an active contact owned by ownerID. Foreign and
	// soft-deleted contacts are ErrNotFound.
	GetOwned(ctx context.Context, ownerID, id string) (Recipient, error)

	ListByOwner(ctx context.Context, ownerID string) ([]Recipient, error)

	SoftDelete(ctx context.Context, ownerID, id string, now time.Time) error
}
