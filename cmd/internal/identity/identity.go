package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const minPasswordLength = 10

// User is a registered account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  *string
	AvatarURL    *string
	CreatedAt    time.Time
}

// RegisterInput describes account creation.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName *string
	Now         time.Time
}

// Service manages user accounts.
type Service struct {
	store  Store
	log    *slog.Logger
	params Argon2idParams

	// dummyHash keeps failed lookups on the same timing path as failed
	// verifications.
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithParams overrides the Argon2id cost parameters.
func WithParams(p Argon2idParams) Option {
	return func(s *Service) {
		if s != nil {
			s.params = p
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, log *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{store: store, log: log, params: DefaultArgon2idParams()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if hash, err := HashPassword("dummy-password-for-timing-only", s.params); err == nil {
		s.dummyHash = hash
	}
	return s, nil
}

// Register creates a new account with a hashed password.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	if s == nil || s.store == nil {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := normalizeEmail(in.Email)
	if email == "" {
		return User{}, ErrInvalidInput
	}
	if len(in.Password) < minPasswordLength {
		return User{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	hash, err := HashPassword(in.Password, s.params)
	if err != nil {
		return User{}, err
	}

	var display *string
	if in.DisplayName != nil {
		if d := strings.TrimSpace(*in.DisplayName); d != "" {
			display = &d
		}
	}

	u, err := s.store.Create(ctx, User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  display,
		CreatedAt:    now,
	})
	if err != nil {
		return User{}, err
	}

	s.log.Info("identity.register", "user_id", u.ID)
	u.PasswordHash = ""
	return u, nil
}

// Authenticate verifies email+password credentials. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	if s == nil || s.store == nil {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if s.dummyHash != "" {
				_, _ = VerifyPassword(password, s.dummyHash)
			}
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok {
		return User{}, ErrInvalidCredentials
	}

	u.PasswordHash = ""
	return u, nil
}

// Get returns a user by id without credential material.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	if s == nil || s.store == nil {
		return User{}, ErrInvalidInput
	}
	u, err := s.store.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return User{}, err
	}
	u.PasswordHash = ""
	return u, nil
}

func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return ""
	}
	return email
}
