package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/yasashii-care/caredocs/internal/database"
)

// ErrNotFound is returned when no entitlement exists for (email, product).
var ErrNotFound = errors.New("entitlement not found")

// ErrNoMatchingSubscription is returned when a subscription event matches no row.
var ErrNoMatchingSubscription = errors.New("no entitlement for subscription")

// Repository provides operations on the entitlements table.
type Repository interface {
	Get(ctx context.Context, email, productCode string) (*Record, error)
	// GetForUpdate locks the row for the rest of the surrounding transaction.
	GetForUpdate(ctx context.Context, email, productCode string) (*Record, error)
	ListByEmail(ctx context.Context, email string) ([]Record, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]Record, error)
	UpsertCheckout(ctx context.Context, rec *Record) (*Record, error)
	UpsertSubscription(ctx context.Context, rec *Record) (*Record, error)
	UpdateBySubscription(ctx context.Context, change SubscriptionChange) (*Record, error)
	// RefreshBySubscription is UpdateBySubscription restricted to rows whose
	// last write came from the payment provider.
	RefreshBySubscription(ctx context.Context, change SubscriptionChange) (*Record, error)
	UpsertManual(ctx context.Context, rec *Record) (*Record, error)
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]Record, error)
	WithQuerier(q database.Querier) Repository
}
