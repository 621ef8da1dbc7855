package recipient

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback when DB is not configured.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Recipient
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Recipient)}
}

// Create inserts a new contact.
func (s *MemoryStore) Create(ctx context.Context, in Recipient) (Recipient, error) {
	if err := ctx.Err(); err != nil {
		return Recipient{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.OwnerID) == "" {
		return Recipient{}, ErrInvalidInput
	}
	if in.LinkedUserID == nil && in.Email == nil {
		return Recipient{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[in.ID] = in
	return in, nil
}

// GetOwned fetches an active contact owned by ownerID.
func (s *MemoryStore) GetOwned(ctx context.Context, ownerID, id string) (Recipient, error) {
	if err := ctx.Err(); err != nil {
		return Recipient{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok || r.OwnerID != ownerID || r.DeletedAt != nil {
		return Recipient{}, ErrNotFound
	}
	return r, nil
}

// ListByOwner returns the owner's active contacts, newest first.
func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Recipient
	for _, r := range s.recs {
		if r.OwnerID == ownerID && r.DeletedAt == nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out, nil
}

// SoftDelete marks a contact deleted.
func (s *MemoryStore) SoftDelete(ctx context.Context, ownerID, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok || r.OwnerID != ownerID || r.DeletedAt != nil {
		return ErrNotFound
	}
	r.DeletedAt = &now
	s.recs[id] = r
	return nil
}
