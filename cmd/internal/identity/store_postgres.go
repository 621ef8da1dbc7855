package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, password_hash, display_name, avatar_url, created_at`

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore constructs a PostgresStore on the default "openon" schema.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{pool: pool, schema: "openon"}, nil
}

// Create inserts a new user row.
func (s *PostgresStore) Create(ctx context.Context, in User) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Email) == "" || in.PasswordHash == "" {
		return User{}, ErrInvalidInput
	}

	users := pgx.Identifier{s.schema, "users"}.Sanitize()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, email, password_hash, display_name, avatar_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, in.Email, in.PasswordHash, in.DisplayName, in.AvatarURL, in.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return in, nil
}

// GetByEmail fetches a user by normalized email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.getBy(ctx, `lower(email) = lower($1)`, strings.TrimSpace(email))
}

// GetByID fetches a user by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	return s.getBy(ctx, `id = $1`, strings.TrimSpace(id))
}

func (s *PostgresStore) getBy(ctx context.Context, where, arg string) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if arg == "" {
		return User{}, ErrInvalidInput
	}

	users := pgx.Identifier{s.schema, "users"}.Sanitize()
	var out User
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE `+where, arg,
	).Scan(&out.ID, &out.Email, &out.PasswordHash, &out.DisplayName, &out.AvatarURL, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return out, nil
}
