package letter

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback when DB is not configured. It holds
// letters, recipient records, and sender profiles in maps and implements the
// same at-most-once open semantics as the Postgres store.
type MemoryStore struct {
	mu         sync.Mutex
	letters    map[string]*Letter
	recipients map[string]RecipientRef
	profiles   map[string]profile

	appliedOpens int
}

type profile struct {
	name   *string
	avatar *string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		letters:    make(map[string]*Letter),
		recipients: make(map[string]RecipientRef),
		profiles:   make(map[string]profile),
	}
}

// PutRecipient seeds or replaces a recipient record.
func (s *MemoryStore) PutRecipient(r RecipientRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[r.ID] = r
}

// PutProfile seeds a sender profile used when building joined rows.
func (s *MemoryStore) PutProfile(userID string, name, avatarURL *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = profile{name: name, avatar: avatarURL}
}

// AppliedOpens reports how many open transitions actually mutated a row.
func (s *MemoryStore) AppliedOpens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appliedOpens
}

// Create inserts a new letter.
func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (Letter, error) {
	if err := ctx.Err(); err != nil {
		return Letter{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.SenderID) == "" || strings.TrimSpace(in.RecipientID) == "" {
		return Letter{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recipients[in.RecipientID]; !ok {
		return Letter{}, ErrInvalidInput
	}

	l := Letter{
		ID:                 in.ID,
		SenderID:           in.SenderID,
		RecipientID:        in.RecipientID,
		IsAnonymous:        in.IsAnonymous,
		Body:               in.Body,
		BodyRich:           in.BodyRich,
		AttachmentKey:      in.AttachmentKey,
		RevealDelaySeconds: in.RevealDelaySeconds,
		Status:             in.Status,
		CreatedAt:          in.CreatedAt,
		UpdatedAt:          in.CreatedAt,
		UnlocksAt:          in.UnlocksAt,
		ExpiresAt:          in.ExpiresAt,
	}
	s.letters[l.ID] = &l
	return l, nil
}

// GetWithRecipient fetches a non-deleted letter with its recipient and
// sender profile.
func (s *MemoryStore) GetWithRecipient(ctx context.Context, id string) (LetterWithParties, error) {
	if err := ctx.Err(); err != nil {
		return LetterWithParties{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedLocked(id)
}

func (s *MemoryStore) joinedLocked(id string) (LetterWithParties, error) {
	l, ok := s.letters[id]
	if !ok || l.DeletedAt != nil {
		return LetterWithParties{}, ErrNotFound
	}
	rec, ok := s.recipients[l.RecipientID]
	if !ok {
		return LetterWithParties{}, ErrNotFound
	}
	p := s.profiles[l.SenderID]
	return LetterWithParties{
		Letter:          *l,
		Recipient:       rec,
		SenderName:      p.name,
		SenderAvatarURL: p.avatar,
	}, nil
}

// Open applies the conditional open transition under the store lock.
func (s *MemoryStore) Open(ctx context.Context, in OpenRecord) (Letter, error) {
	if err := ctx.Err(); err != nil {
		return Letter{}, err
	}
	if strings.TrimSpace(in.ID) == "" || in.Now.IsZero() {
		return Letter{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.letters[in.ID]
	if !ok {
		return Letter{}, ErrNotApplied
	}
	if l.DeletedAt != nil || l.OpenedAt != nil || (l.Status != StatusSealed && l.Status != StatusReady) {
		return Letter{}, ErrNotApplied
	}

	now := in.Now
	l.OpenedAt = &now
	l.Status = StatusOpened
	l.UpdatedAt = now
	if l.RevealAt == nil && in.RevealAt != nil {
		at := *in.RevealAt
		l.RevealAt = &at
	}
	s.appliedOpens++
	return *l, nil
}

// ListBySender returns the sender's non-deleted letters, newest first.
func (s *MemoryStore) ListBySender(ctx context.Context, senderID string, limit int) ([]LetterWithParties, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.list(limit, func(l *Letter, _ RecipientRef) bool {
		return l.SenderID == senderID
	})
}

// ListForRecipient returns letters resolving to the given identity, newest first.
func (s *MemoryStore) ListForRecipient(ctx context.Context, userID, email string, limit int) ([]LetterWithParties, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	return s.list(limit, func(_ *Letter, r RecipientRef) bool {
		if r.LinkedUserID != nil {
			return *r.LinkedUserID == userID
		}
		return r.Email != nil && email != "" && strings.ToLower(strings.TrimSpace(*r.Email)) == email
	})
}

func (s *MemoryStore) list(limit int, match func(*Letter, RecipientRef) bool) ([]LetterWithParties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []LetterWithParties
	for id, l := range s.letters {
		if l.DeletedAt != nil {
			continue
		}
		rec, ok := s.recipients[l.RecipientID]
		if !ok || !match(l, rec) {
			continue
		}
		j, err := s.joinedLocked(id)
		if err != nil {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].Letter.CreatedAt.After(out[k].Letter.CreatedAt)
	})
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// MarkReady promotes due sealed letters to ready.
func (s *MemoryStore) MarkReady(ctx context.Context, now time.Time) ([]ReadyNotice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var notices []ReadyNotice
	for _, l := range s.letters {
		if l.DeletedAt != nil || l.Status != StatusSealed || l.UnlocksAt.After(now) {
			continue
		}
		l.Status = StatusReady
		l.UpdatedAt = now
		n := ReadyNotice{LetterID: l.ID}
		if rec, ok := s.recipients[l.RecipientID]; ok {
			n.LinkedUserID = rec.LinkedUserID
		}
		notices = append(notices, n)
	}
	return notices, nil
}

// ExpireDue soft-deletes disappearing letters whose expiry has passed.
func (s *MemoryStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, l := range s.letters {
		if l.DeletedAt != nil || l.ExpiresAt == nil || l.ExpiresAt.After(now) {
			continue
		}
		if l.Status != StatusSealed && l.Status != StatusReady {
			continue
		}
		at := now
		l.Status = StatusExpired
		l.DeletedAt = &at
		l.UpdatedAt = now
		n++
	}
	return n, nil
}

// GetOwned resolves a recipient record owned by ownerID, which lets the
// MemoryStore double as a RecipientSource in dev mode and tests.
func (s *MemoryStore) GetOwned(ctx context.Context, ownerID, recipientID string) (RecipientRef, error) {
	if err := ctx.Err(); err != nil {
		return RecipientRef{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recipients[recipientID]
	if !ok || rec.OwnerID != ownerID {
		return RecipientRef{}, ErrNotFound
	}
	return rec, nil
}
