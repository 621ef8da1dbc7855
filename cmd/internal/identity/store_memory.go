package identity

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is a dev/test fallback when DB is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

// Create inserts a new user.
func (s *MemoryStore) Create(ctx context.Context, in User) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Email) == "" || in.PasswordHash == "" {
		return User{}, ErrInvalidInput
	}

	key := strings.ToLower(in.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[key]; taken {
		return User{}, ErrEmailTaken
	}
	s.byID[in.ID] = in
	s.byEmail[key] = in.ID
	return in, nil
}

// GetByEmail fetches a user by email, case-insensitively.
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.byID[id], nil
}

// GetByID fetches a user by id.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
