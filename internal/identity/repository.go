package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yasashii-care/caredocs/internal/database"
)

// ErrUserNotFound is returned when a user record is not found.
var ErrUserNotFound = errors.New("user not found")

// ErrAlreadyExists is returned when a user with the same email already exists.
var ErrAlreadyExists = errors.New("user already exists")

// Repository provides operations on the users table.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, limit, offset int) ([]User, error)
	// SetSession overwrites the stored session token and records the login time.
	SetSession(ctx context.Context, id uuid.UUID, token string, loginAt time.Time) error
	// SetPassword stores a new hash and rotates the session token in one statement.
	SetPassword(ctx context.Context, id uuid.UUID, hash string, initialized bool, token string) error
	// SetStripeCustomerID backfills the denormalized customer id for the user with email.
	SetStripeCustomerID(ctx context.Context, email, customerID string) error
	// WithQuerier returns a Repository bound to q, usually a transaction.
	WithQuerier(q database.Querier) Repository
}
