package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yasashii-care/caredocs/internal/database"
)

const userColumns = `id, auth_user_id, email, display_name, phone, plan, seat_limit,
	password_hash, password_initialized, session_token, last_login_at,
	stripe_customer_id, status, created_at, updated_at`

// PostgresRepository implements Repository using pgx.
type PostgresRepository struct {
	q database.Querier
}

// NewRepository creates a new Repository backed by the given pool or transaction.
func NewRepository(q database.Querier) Repository {
	return &PostgresRepository{q: q}
}

// WithQuerier returns a copy of the repository that runs against q.
func (r *PostgresRepository) WithQuerier(q database.Querier) Repository {
	return &PostgresRepository{q: q}
}

// Create inserts a new user record. Returns ErrAlreadyExists on a duplicate email.
func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	if u.Status == "" {
		u.Status = StatusActive
	}
	query := `
		INSERT INTO users (auth_user_id, email, display_name, phone, plan, seat_limit,
		                   password_hash, password_initialized, stripe_customer_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := r.q.QueryRow(ctx, query,
		u.AuthUserID,
		u.Email,
		u.DisplayName,
		u.Phone,
		u.Plan,
		u.SeatLimit,
		u.PasswordHash,
		u.PasswordInitialized,
		u.StripeCustomerID,
		u.Status,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

// GetByID retrieves a single user by its UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByEmail retrieves a single user by exact email match.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, query, email)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// List retrieves users ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC LIMIT $1 OFFSET $2`

	rows, err := r.q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return users, nil
}

// SetSession overwrites the session token, invalidating any earlier one.
func (r *PostgresRepository) SetSession(ctx context.Context, id uuid.UUID, token string, loginAt time.Time) error {
	query := `
		UPDATE users
		SET session_token = $2, last_login_at = $3, updated_at = NOW()
		WHERE id = $1`

	return r.execOne(ctx, "updating session", query, id, token, loginAt)
}

// SetPassword stores the hash and replaces the session token.
func (r *PostgresRepository) SetPassword(ctx context.Context, id uuid.UUID, hash string, initialized bool, token string) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_initialized = $3, session_token = $4, updated_at = NOW()
		WHERE id = $1`

	return r.execOne(ctx, "updating password", query, id, hash, initialized, token)
}

// SetStripeCustomerID records the payment customer id on the user with email.
// A missing user is not an error: the ledger remains the source of truth.
func (r *PostgresRepository) SetStripeCustomerID(ctx context.Context, email, customerID string) error {
	query := `
		UPDATE users
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE email = $1 AND stripe_customer_id IS DISTINCT FROM $2`

	if _, err := r.q.Exec(ctx, query, email, customerID); err != nil {
		return fmt.Errorf("updating stripe customer id: %w", err)
	}
	return nil
}

func (r *PostgresRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.AuthUserID, &u.Email, &u.DisplayName, &u.Phone, &u.Plan, &u.SeatLimit,
		&u.PasswordHash, &u.PasswordInitialized, &u.SessionToken, &u.LastLoginAt,
		&u.StripeCustomerID, &u.Status, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
