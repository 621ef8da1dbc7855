package recipient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recipientColumns = `id, owner_id, linked_user_id, email, display_name, created_at, deleted_at`

// PostgresStore persists recipient contacts in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "openon").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "openon"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// Create inserts a new contact.
func (s *PostgresStore) Create(ctx context.Context, in Recipient) (Recipient, error) {
	if s == nil || s.pool == nil {
		return Recipient{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Recipient{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.OwnerID) == "" {
		return Recipient{}, ErrInvalidInput
	}
	if in.LinkedUserID == nil && in.Email == nil {
		return Recipient{}, ErrInvalidInput
	}

	recipients := pgIdent(s.schema, "recipients")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+recipients+` (id, owner_id, linked_user_id, email, display_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, in.OwnerID, in.LinkedUserID, in.Email, in.DisplayName, in.CreatedAt,
	)
	if err != nil {
		return Recipient{}, err
	}
	return in, nil
}

// GetOwned fetches an active contact owned by ownerID.
func (s *PostgresStore) GetOwned(ctx context.Context, ownerID, id string) (Recipient, error) {
	if s == nil || s.pool == nil {
		return Recipient{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Recipient{}, err
	}
	ownerID = strings.TrimSpace(ownerID)
	id = strings.TrimSpace(id)
	if ownerID == "" || id == "" {
		return Recipient{}, ErrInvalidInput
	}

	recipients := pgIdent(s.schema, "recipients")
	var out Recipient
	err := s.pool.QueryRow(ctx,
		`SELECT `+recipientColumns+`
		   FROM `+recipients+`
		  WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL`,
		id, ownerID,
	).Scan(&out.ID, &out.OwnerID, &out.LinkedUserID, &out.Email, &out.DisplayName, &out.CreatedAt, &out.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipient{}, ErrNotFound
		}
		return Recipient{}, err
	}
	return out, nil
}

// ListByOwner returns the owner's active contacts, newest first.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]Recipient, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrInvalidInput
	}

	recipients := pgIdent(s.schema, "recipients")
	rows, err := s.pool.Query(ctx,
		`SELECT `+recipientColumns+`
		   FROM `+recipients+`
		  WHERE owner_id = $1 AND deleted_at IS NULL
		  ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.LinkedUserID, &r.Email, &r.DisplayName, &r.CreatedAt, &r.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SoftDelete marks a contact deleted. Letters already addressed to it keep
// their reference; only new sends stop resolving.
func (s *PostgresStore) SoftDelete(ctx context.Context, ownerID, id string, now time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recipients := pgIdent(s.schema, "recipients")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+recipients+`
		    SET deleted_at = $3
		  WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL`,
		strings.TrimSpace(id), strings.TrimSpace(ownerID), now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
