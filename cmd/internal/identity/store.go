package identity

import "context"

// Store is the persistence boundary for user accounts.
type Store interface {
	// Create inserts a new user; a duplicate email is ErrEmailTaken.
	Create(ctx context.Context, in User) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
}
