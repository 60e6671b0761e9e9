package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yasashii-care/caredocs/internal/database"
)

// ErrInvalidGrant is returned when a manual grant is missing required fields.
var ErrInvalidGrant = errors.New("invalid entitlement grant")

// Ledger is the single writer of entitlement state.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a Ledger over repo.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// WithQuerier returns a Ledger whose reads and writes go through q.
func (l *Ledger) WithQuerier(q database.Querier) *Ledger {
	c := *l
	c.repo = l.repo.WithQuerier(q)
	return &c
}

// WithClock returns a Ledger that reads the current time from now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	c := *l
	c.now = now
	return &c
}

// Get returns the entitlement for (email, productCode) or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, email, productCode string) (*Record, error) {
	return l.repo.Get(ctx, email, productCode)
}

// ListByEmail returns every entitlement held by email.
func (l *Ledger) ListByEmail(ctx context.Context, email string) ([]Record, error) {
	return l.repo.ListByEmail(ctx, email)
}

// ListBySubscription returns the entitlements linked to a subscription.
func (l *Ledger) ListBySubscription(ctx context.Context, subscriptionID string) ([]Record, error) {
	return l.repo.ListBySubscription(ctx, subscriptionID)
}

// UpsertFromCheckout records a completed checkout. The status starts as
// trialing when a subscription exists and active for one-off purchases.
func (l *Ledger) UpsertFromCheckout(ctx context.Context, g CheckoutGrant) (*Record, error) {
	if g.Email == "" || g.ProductCode == "" {
		return nil, fmt.Errorf("%w: email and product code are required", ErrInvalidGrant)
	}

	status := StatusActive
	if g.SubscriptionID != "" {
		status = StatusTrialing
	}

	return l.repo.UpsertCheckout(ctx, &Record{
		Email:                g.Email,
		ProductCode:          g.ProductCode,
		Status:               status,
		TrialEnd:             g.TrialEnd,
		CurrentPeriodEnd:     g.CurrentPeriodEnd,
		StripeCustomerID:     nullable(g.CustomerID),
		StripeSubscriptionID: nullable(g.SubscriptionID),
	})
}

// ApplySubscriptionEvent updates the rows linked to the subscription.
// Returns ErrNoMatchingSubscription when the checkout has not landed yet.
func (l *Ledger) ApplySubscriptionEvent(ctx context.Context, c SubscriptionChange) (*Record, error) {
	if c.SubscriptionID == "" {
		return nil, ErrNoMatchingSubscription
	}
	return l.repo.UpdateBySubscription(ctx, c)
}

// RefreshSubscription applies provider state fetched by the periodic resync.
// Rows last written by a manual grant are left alone and reported as
// ErrNoMatchingSubscription; only a lifecycle event hands them back to the
// provider.
func (l *Ledger) RefreshSubscription(ctx context.Context, c SubscriptionChange) (*Record, error) {
	if c.SubscriptionID == "" {
		return nil, ErrNoMatchingSubscription
	}
	return l.repo.RefreshBySubscription(ctx, c)
}

// SeedFromSubscription creates the row for a subscription whose checkout has
// not been seen, using an email resolved from the payment customer.
func (l *Ledger) SeedFromSubscription(ctx context.Context, s SubscriptionSeed) (*Record, error) {
	if s.Email == "" || s.ProductCode == "" || s.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: email, product code and subscription are required", ErrInvalidGrant)
	}
	return l.repo.UpsertSubscription(ctx, &Record{
		Email:                s.Email,
		ProductCode:          s.ProductCode,
		Status:               s.Status,
		TrialEnd:             s.TrialEnd,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		StripeCustomerID:     nullable(s.CustomerID),
		StripeSubscriptionID: &s.SubscriptionID,
	})
}

// GrantManual writes an admin-chosen status. A trialing grant sets
// trial_end = now + TrialDays; any other status clears the trial and period
// fields. It returns the stored record and the status held before the grant,
// StatusNone when the row did not exist.
func (l *Ledger) GrantManual(ctx context.Context, g Grant) (*Record, Status, error) {
	g.Email = strings.TrimSpace(g.Email)
	g.ProductCode = strings.TrimSpace(g.ProductCode)
	if g.Email == "" || g.ProductCode == "" {
		return nil, "", fmt.Errorf("%w: email and product code are required", ErrInvalidGrant)
	}
	if !g.Status.Known() {
		return nil, "", fmt.Errorf("%w: unknown status %q", ErrInvalidGrant, g.Status)
	}
	if g.Status == StatusTrialing && g.TrialDays <= 0 {
		return nil, "", fmt.Errorf("%w: trial days are required for a trial", ErrInvalidGrant)
	}

	previous := StatusNone
	existing, err := l.repo.GetForUpdate(ctx, g.Email, g.ProductCode)
	switch {
	case err == nil:
		previous = existing.Status
	case errors.Is(err, ErrNotFound):
	default:
		return nil, "", err
	}

	rec := &Record{
		Email:       g.Email,
		ProductCode: g.ProductCode,
		Status:      g.Status,
	}
	if g.Status == StatusTrialing {
		trialEnd := l.now().UTC().AddDate(0, 0, g.TrialDays)
		rec.TrialEnd = &trialEnd
	}

	stored, err := l.repo.UpsertManual(ctx, rec)
	if err != nil {
		return nil, "", err
	}
	return stored, previous, nil
}

// ListStale returns provider-managed, non-terminal subscription rows not
// updated within olderThan. Manually granted rows are never listed.
func (l *Ledger) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]Record, error) {
	return l.repo.ListStale(ctx, l.now().Add(-olderThan), limit)
}
