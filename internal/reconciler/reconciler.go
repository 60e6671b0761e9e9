package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/metrics"
	"github.com/yasashii-care/caredocs/internal/payments"
)

const batchSize = 100

// Ledger is the subset of the entitlement ledger the resync reads and writes.
type Ledger interface {
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]entitlement.Record, error)
	RefreshSubscription(ctx context.Context, c entitlement.SubscriptionChange) (*entitlement.Record, error)
}

// SubscriptionSource fetches the provider's current view of a subscription.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*payments.Subscription, error)
}

// Reconciler periodically refreshes subscription-backed entitlements that have
// not been touched by a webhook recently, covering deliveries that were lost.
type Reconciler struct {
	ledger   Ledger
	source   SubscriptionSource
	interval time.Duration
	staleAge time.Duration
}

// New creates a new Reconciler.
func New(ledger Ledger, source SubscriptionSource, interval, staleAge time.Duration) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		source:   source,
		interval: interval,
		staleAge: staleAge,
	}
}

// Start begins the resync loop. It blocks until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	slog.Info("resync started", "interval", r.interval.String(), "staleAge", r.staleAge.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("resync stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes one batch of stale entitlements and returns how many were
// updated.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	records, err := r.ledger.ListStale(ctx, r.staleAge, batchSize)
	if err != nil {
		slog.Error("resync: failed to list stale entitlements", "error", err)
		return 0
	}

	updated := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return updated
		}
		if r.refresh(ctx, rec) {
			updated++
		}
	}
	return updated
}

func (r *Reconciler) refresh(ctx context.Context, rec entitlement.Record) bool {
	if rec.StripeSubscriptionID == nil || rec.Source == entitlement.SourceManual {
		return false
	}
	subID := *rec.StripeSubscriptionID

	sub, err := r.source.GetSubscription(ctx, subID)
	if err != nil {
		metrics.ResyncTotal.WithLabelValues("provider_error").Inc()
		slog.Warn("resync: failed to fetch subscription",
			"subscription", subID,
			"email", rec.Email,
			"error", err,
		)
		return false
	}

	status, ok := entitlement.ParseStatus(sub.Status)
	if !ok {
		metrics.ResyncTotal.WithLabelValues("unknown_status").Inc()
		slog.Warn("resync: unknown subscription status", "subscription", subID, "status", sub.Status)
		return false
	}

	_, err = r.ledger.RefreshSubscription(ctx, entitlement.SubscriptionChange{
		SubscriptionID:   subID,
		CustomerID:       sub.Customer,
		Status:           status,
		TrialEnd:         sub.TrialEndTime(),
		CurrentPeriodEnd: sub.CurrentPeriodEnd(),
	})
	if err != nil {
		if errors.Is(err, entitlement.ErrNoMatchingSubscription) {
			// Granted manually since it was listed.
			metrics.ResyncTotal.WithLabelValues("skipped_manual").Inc()
			return false
		}
		metrics.ResyncTotal.WithLabelValues("ledger_error").Inc()
		slog.Error("resync: failed to update entitlement",
			"subscription", subID,
			"email", rec.Email,
			"error", err,
		)
		return false
	}

	metrics.ResyncTotal.WithLabelValues("updated").Inc()
	if status != rec.Status {
		slog.Info("resync: entitlement status changed",
			"subscription", subID,
			"email", rec.Email,
			"from", rec.Status,
			"to", status,
		)
	}
	return true
}
