package letter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const letterColumns = `l.id, l.sender_id, l.recipient_id, l.is_anonymous,
	l.body, l.body_rich, l.attachment_key, l.reveal_delay_seconds,
	l.status, l.created_at, l.updated_at, l.unlocks_at,
	l.opened_at, l.reveal_at, l.expires_at, l.deleted_at`

const letterReturning = `id, sender_id, recipient_id, is_anonymous,
	body, body_rich, attachment_key, reveal_delay_seconds,
	status, created_at, updated_at, unlocks_at,
	opened_at, reveal_at, expires_at, deleted_at`

// PostgresStore persists letters in PostgreSQL.
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

// Create inserts a new letter row.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Letter, error) {
	if s == nil || s.pool == nil {
		return Letter{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Letter{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.SenderID) == "" || strings.TrimSpace(in.RecipientID) == "" {
		return Letter{}, ErrInvalidInput
	}
	if _, err := ParseStatus(string(in.Status)); err != nil {
		return Letter{}, ErrInvalidInput
	}

	letters := pgIdent(s.schema, "letters")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+letters+` (
		     id, sender_id, recipient_id, is_anonymous,
		     body, body_rich, attachment_key, reveal_delay_seconds,
		     status, created_at, updated_at, unlocks_at, expires_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $11, $12)`,
		in.ID,
		in.SenderID,
		in.RecipientID,
		in.IsAnonymous,
		in.Body,
		in.BodyRich,
		in.AttachmentKey,
		in.RevealDelaySeconds,
		string(in.Status),
		in.CreatedAt,
		in.UnlocksAt,
		in.ExpiresAt,
	)
	if err != nil {
		return Letter{}, err
	}

	return Letter{
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
	}, nil
}

// GetWithRecipient fetches a non-deleted letter joined with its recipient
// record and the sender's profile in one round trip.
func (s *PostgresStore) GetWithRecipient(ctx context.Context, id string) (LetterWithParties, error) {
	if s == nil || s.pool == nil {
		return LetterWithParties{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return LetterWithParties{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return LetterWithParties{}, ErrInvalidInput
	}

	letters := pgIdent(s.schema, "letters")
	recipients := pgIdent(s.schema, "recipients")
	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`SELECT `+letterColumns+`,
		        r.id, r.owner_id, r.linked_user_id, r.email,
		        u.display_name, u.avatar_url
		   FROM `+letters+` l
		   JOIN `+recipients+` r ON r.id = l.recipient_id
		   LEFT JOIN `+users+` u ON u.id = l.sender_id
		  WHERE l.id = $1
		    AND l.deleted_at IS NULL`,
		id,
	)
	out, err := scanJoined(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LetterWithParties{}, ErrNotFound
		}
		return LetterWithParties{}, err
	}
	return out, nil
}

// Open performs the conditional open transition. The WHERE clause re-verifies
// the preconditions at write time, so a row that was opened, deleted, or
// expired between read and write matches nothing and the caller sees
// ErrNotApplied instead of a second mutation.
func (s *PostgresStore) Open(ctx context.Context, in OpenRecord) (Letter, error) {
	if s == nil || s.pool == nil {
		return Letter{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Letter{}, err
	}
	if strings.TrimSpace(in.ID) == "" || in.Now.IsZero() {
		return Letter{}, ErrInvalidInput
	}

	letters := pgIdent(s.schema, "letters")
	row := s.pool.QueryRow(ctx,
		`UPDATE `+letters+` l
		    SET opened_at = $2,
		        status = 'opened',
		        reveal_at = COALESCE(l.reveal_at, $3),
		        updated_at = $2
		  WHERE l.id = $1
		    AND l.deleted_at IS NULL
		    AND l.opened_at IS NULL
		    AND l.status IN ('sealed', 'ready')
		RETURNING `+letterReturning,
		in.ID,
		in.Now,
		in.RevealAt,
	)
	out, err := scanLetter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Letter{}, ErrNotApplied
		}
		return Letter{}, err
	}
	return out, nil
}

// ListBySender returns the sender's non-deleted letters, newest first.
func (s *PostgresStore) ListBySender(ctx context.Context, senderID string, limit int) ([]LetterWithParties, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return nil, ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx, s.listQuery(`l.sender_id = $1`, "$2"), senderID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJoined(rows)
}

// ListForRecipient returns letters whose recipient record resolves to the
// given user id or email, newest first.
func (s *PostgresStore) ListForRecipient(ctx context.Context, userID, email string, limit int) ([]LetterWithParties, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx,
		s.listQuery(`(r.linked_user_id = $1 OR (r.linked_user_id IS NULL AND lower(r.email) = $2))`, "$3"),
		userID, strings.ToLower(strings.TrimSpace(email)), clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJoined(rows)
}

// MarkReady promotes due sealed letters to ready.
func (s *PostgresStore) MarkReady(ctx context.Context, now time.Time) ([]ReadyNotice, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	letters := pgIdent(s.schema, "letters")
	recipients := pgIdent(s.schema, "recipients")

	rows, err := s.pool.Query(ctx,
		`UPDATE `+letters+` l
		    SET status = 'ready',
		        updated_at = $1
		   FROM `+recipients+` r
		  WHERE r.id = l.recipient_id
		    AND l.status = 'sealed'
		    AND l.unlocks_at <= $1
		    AND l.deleted_at IS NULL
		RETURNING l.id, r.linked_user_id`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notices []ReadyNotice
	for rows.Next() {
		var n ReadyNotice
		if err := rows.Scan(&n.LetterID, &n.LinkedUserID); err != nil {
			return nil, err
		}
		notices = append(notices, n)
	}
	return notices, rows.Err()
}

// ExpireDue soft-deletes disappearing letters whose expiry has passed.
func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	letters := pgIdent(s.schema, "letters")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+letters+`
		    SET status = 'expired',
		        deleted_at = $1,
		        updated_at = $1
		  WHERE expires_at IS NOT NULL
		    AND expires_at <= $1
		    AND status IN ('sealed', 'ready')
		    AND deleted_at IS NULL`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) listQuery(where, limitArg string) string {
	letters := pgIdent(s.schema, "letters")
	recipients := pgIdent(s.schema, "recipients")
	users := pgIdent(s.schema, "users")
	return `SELECT ` + letterColumns + `,
	        r.id, r.owner_id, r.linked_user_id, r.email,
	        u.display_name, u.avatar_url
	   FROM ` + letters + ` l
	   JOIN ` + recipients + ` r ON r.id = l.recipient_id
	   LEFT JOIN ` + users + ` u ON u.id = l.sender_id
	  WHERE l.deleted_at IS NULL
	    AND ` + where + `
	  ORDER BY l.created_at DESC
	  LIMIT ` + limitArg
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > 200 {
		return 200
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLetter(row rowScanner) (Letter, error) {
	var (
		out    Letter
		status string
	)
	err := row.Scan(
		&out.ID,
		&out.SenderID,
		&out.RecipientID,
		&out.IsAnonymous,
		&out.Body,
		&out.BodyRich,
		&out.AttachmentKey,
		&out.RevealDelaySeconds,
		&status,
		&out.CreatedAt,
		&out.UpdatedAt,
		&out.UnlocksAt,
		&out.OpenedAt,
		&out.RevealAt,
		&out.ExpiresAt,
		&out.DeletedAt,
	)
	if err != nil {
		return Letter{}, err
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return Letter{}, err
	}
	out.Status = parsed
	return out, nil
}

func scanJoined(row rowScanner) (LetterWithParties, error) {
	var (
		out    LetterWithParties
		status string
	)
	err := row.Scan(
		&out.Letter.ID,
		&out.Letter.SenderID,
		&out.Letter.RecipientID,
		&out.Letter.IsAnonymous,
		&out.Letter.Body,
		&out.Letter.BodyRich,
		&out.Letter.AttachmentKey,
		&out.Letter.RevealDelaySeconds,
		&status,
		&out.Letter.CreatedAt,
		&out.Letter.UpdatedAt,
		&out.Letter.UnlocksAt,
		&out.Letter.OpenedAt,
		&out.Letter.RevealAt,
		&out.Letter.ExpiresAt,
		&out.Letter.DeletedAt,
		&out.Recipient.ID,
		&out.Recipient.OwnerID,
		&out.Recipient.LinkedUserID,
		&out.Recipient.Email,
		&out.SenderName,
		&out.SenderAvatarURL,
	)
	if err != nil {
		return LetterWithParties{}, err
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return LetterWithParties{}, err
	}
	out.Letter.Status = parsed
	return out, nil
}

func collectJoined(rows pgx.Rows) ([]LetterWithParties, error) {
	var out []LetterWithParties
	for rows.Next() {
		j, err := scanJoined(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
