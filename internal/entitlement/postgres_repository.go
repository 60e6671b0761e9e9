package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yasashii-care/caredocs/internal/database"
)

const recordColumns = `email, product_code, status, trial_end, current_period_end,
	stripe_customer_id, stripe_subscription_id, source, created_at, updated_at`

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

// Get retrieves the entitlement for (email, productCode).
func (r *PostgresRepository) Get(ctx context.Context, email, productCode string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM entitlements WHERE email = $1 AND product_code = $2`
	return r.getOne(ctx, query, email, productCode)
}

// GetForUpdate retrieves the entitlement and locks the row.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, email, productCode string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM entitlements WHERE email = $1 AND product_code = $2 FOR UPDATE`
	return r.getOne(ctx, query, email, productCode)
}

// ListByEmail retrieves all entitlements held by email.
func (r *PostgresRepository) ListByEmail(ctx context.Context, email string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM entitlements WHERE email = $1 ORDER BY product_code`
	return r.list(ctx, query, email)
}

// ListBySubscription retrieves the entitlements linked to a subscription.
func (r *PostgresRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM entitlements WHERE stripe_subscription_id = $1 ORDER BY email, product_code`
	return r.list(ctx, query, subscriptionID)
}

// UpsertCheckout creates or replaces the row for a completed checkout. When the
// row already belongs to the same subscription, lifecycle fields recorded by
// subscription events are kept and only missing values are filled in, so a
// redelivered or late checkout never rolls the row back.
func (r *PostgresRepository) UpsertCheckout(ctx context.Context, rec *Record) (*Record, error) {
	query := `
		INSERT INTO entitlements (email, product_code, status, trial_end, current_period_end,
		                          stripe_customer_id, stripe_subscription_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email, product_code) DO UPDATE SET
			status = CASE WHEN ` + sameSubscription + `
			              THEN entitlements.status ELSE EXCLUDED.status END,
			trial_end = CASE WHEN ` + sameSubscription + `
			                 THEN COALESCE(entitlements.trial_end, EXCLUDED.trial_end)
			                 ELSE EXCLUDED.trial_end END,
			current_period_end = CASE WHEN ` + sameSubscription + `
			                          THEN COALESCE(entitlements.current_period_end, EXCLUDED.current_period_end)
			                          ELSE EXCLUDED.current_period_end END,
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, entitlements.stripe_customer_id),
			stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, entitlements.stripe_subscription_id),
			source = CASE WHEN ` + sameSubscription + `
			              THEN entitlements.source ELSE 'provider' END,
			updated_at = NOW()
		RETURNING ` + recordColumns

	return r.upsert(ctx, "upserting checkout entitlement", query, rec)
}

const sameSubscription = `EXCLUDED.stripe_subscription_id IS NOT NULL
			AND entitlements.stripe_subscription_id = EXCLUDED.stripe_subscription_id`

// UpsertSubscription creates or replaces the row from subscription state.
// Subscription events are authoritative for the lifecycle fields.
func (r *PostgresRepository) UpsertSubscription(ctx context.Context, rec *Record) (*Record, error) {
	query := `
		INSERT INTO entitlements (email, product_code, status, trial_end, current_period_end,
		                          stripe_customer_id, stripe_subscription_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email, product_code) DO UPDATE SET
			status = EXCLUDED.status,
			trial_end = EXCLUDED.trial_end,
			current_period_end = EXCLUDED.current_period_end,
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, entitlements.stripe_customer_id),
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			source = 'provider',
			updated_at = NOW()
		RETURNING ` + recordColumns

	return r.upsert(ctx, "upserting subscription entitlement", query, rec)
}

// UpdateBySubscription applies lifecycle fields to the rows matched by
// subscription id and hands them back to the provider. Returns
// ErrNoMatchingSubscription when none match.
func (r *PostgresRepository) UpdateBySubscription(ctx context.Context, c SubscriptionChange) (*Record, error) {
	return r.updateBySubscription(ctx, "updating entitlement by subscription", `WHERE stripe_subscription_id = $1`, c)
}

// RefreshBySubscription applies provider state only to rows the provider
// wrote last, so a manual grant survives until the next real lifecycle event.
func (r *PostgresRepository) RefreshBySubscription(ctx context.Context, c SubscriptionChange) (*Record, error) {
	return r.updateBySubscription(ctx, "refreshing entitlement by subscription",
		`WHERE stripe_subscription_id = $1 AND source = 'provider'`, c)
}

func (r *PostgresRepository) updateBySubscription(ctx context.Context, op, where string, c SubscriptionChange) (*Record, error) {
	query := `
		UPDATE entitlements
		SET status = $2,
		    trial_end = $3,
		    current_period_end = $4,
		    stripe_customer_id = COALESCE($5, stripe_customer_id),
		    source = 'provider',
		    updated_at = NOW()
		` + where + `
		RETURNING ` + recordColumns

	rows, err := r.q.Query(ctx, query, c.SubscriptionID, string(c.Status), c.TrialEnd, c.CurrentPeriodEnd, nullable(c.CustomerID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	records, err := collect(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoMatchingSubscription
	}
	return &records[0], nil
}

// UpsertManual writes an admin-chosen status and marks the row as manually
// managed. Payment provider ids are kept for the billing portal.
func (r *PostgresRepository) UpsertManual(ctx context.Context, rec *Record) (*Record, error) {
	query := `
		INSERT INTO entitlements (email, product_code, status, trial_end, current_period_end,
		                          stripe_customer_id, stripe_subscription_id, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'manual')
		ON CONFLICT (email, product_code) DO UPDATE SET
			status = EXCLUDED.status,
			trial_end = EXCLUDED.trial_end,
			current_period_end = EXCLUDED.current_period_end,
			source = 'manual',
			updated_at = NOW()
		RETURNING ` + recordColumns

	return r.upsert(ctx, "upserting manual entitlement", query, rec)
}

// ListStale returns provider-managed subscription rows in a non-terminal status
// that have not been touched since updatedBefore, oldest first.
func (r *PostgresRepository) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM entitlements
		WHERE stripe_subscription_id IS NOT NULL
		  AND source = 'provider'
		  AND status NOT IN ('canceled', 'none')
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`
	return r.list(ctx, query, updatedBefore, limit)
}

func (r *PostgresRepository) upsert(ctx context.Context, op, query string, rec *Record) (*Record, error) {
	out, err := scanRecord(r.q.QueryRow(ctx, query,
		rec.Email,
		rec.ProductCode,
		string(rec.Status),
		rec.TrialEnd,
		rec.CurrentPeriodEnd,
		rec.StripeCustomerID,
		rec.StripeSubscriptionID,
	))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*Record, error) {
	rec, err := scanRecord(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying entitlement: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entitlements: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entitlement row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entitlement rows: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var status, source string
	err := row.Scan(
		&rec.Email, &rec.ProductCode, &status, &rec.TrialEnd, &rec.CurrentPeriodEnd,
		&rec.StripeCustomerID, &rec.StripeSubscriptionID, &source, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Source = Source(source)
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
