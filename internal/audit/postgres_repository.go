package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/yasashii-care/caredocs/internal/database"
)

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

// Append inserts an audit entry. Entries are never updated or deleted.
func (r *PostgresRepository) Append(ctx context.Context, e *Entry) error {
	if strings.TrimSpace(e.Reason) == "" {
		return ErrReasonRequired
	}

	query := `
		INSERT INTO admin_audit_log (action, target_user_id, target_email, product_code,
		                             previous_status, new_status, trial_days, reason, actor, client_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.q.QueryRow(ctx, query,
		e.Action,
		e.TargetUserID,
		e.TargetEmail,
		e.ProductCode,
		e.PreviousStatus,
		e.NewStatus,
		e.TrialDays,
		e.Reason,
		e.Actor,
		e.ClientIP,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns audit entries, newest first.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	query := `
		SELECT id, action, target_user_id, target_email, product_code, previous_status,
		       new_status, trial_days, reason, actor, client_ip, created_at
		FROM admin_audit_log
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.ID, &e.Action, &e.TargetUserID, &e.TargetEmail, &e.ProductCode, &e.PreviousStatus,
			&e.NewStatus, &e.TrialDays, &e.Reason, &e.Actor, &e.ClientIP, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, nil
}

// RecordWarning inserts a reconciliation warning.
func (r *PostgresRepository) RecordWarning(ctx context.Context, w *Warning) error {
	query := `
		INSERT INTO reconciliation_warnings (event_id, event_type, kind, detail,
		                                     stripe_customer_id, stripe_subscription_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.q.QueryRow(ctx, query,
		w.EventID,
		w.EventType,
		w.Kind,
		w.Detail,
		w.StripeCustomerID,
		w.StripeSubscriptionID,
	).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting reconciliation warning: %w", err)
	}
	return nil
}

// ListWarnings returns warnings, newest first. Resolved warnings are skipped
// unless includeResolved is set.
func (r *PostgresRepository) ListWarnings(ctx context.Context, includeResolved bool, limit int) ([]Warning, error) {
	query := `
		SELECT id, event_id, event_type, kind, detail, stripe_customer_id,
		       stripe_subscription_id, created_at, resolved_at
		FROM reconciliation_warnings
		WHERE $1 OR resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.q.Query(ctx, query, includeResolved, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reconciliation warnings: %w", err)
	}
	defer rows.Close()

	warnings := []Warning{}
	for rows.Next() {
		var w Warning
		err := rows.Scan(
			&w.ID, &w.EventID, &w.EventType, &w.Kind, &w.Detail, &w.StripeCustomerID,
			&w.StripeSubscriptionID, &w.CreatedAt, &w.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning warning row: %w", err)
		}
		warnings = append(warnings, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating warning rows: %w", err)
	}
	return warnings, nil
}
