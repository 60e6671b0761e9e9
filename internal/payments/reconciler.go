package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/yasashii-care/caredocs/internal/audit"
	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/identity"
	"github.com/yasashii-care/caredocs/internal/metrics"
	"github.com/yasashii-care/caredocs/internal/notify"
)

const welcomeTimeout = 30 * time.Second

// Outcome describes what the reconciler did with a verified event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
	OutcomeWarning Outcome = "warning"
	OutcomeFailed  Outcome = "failed"
)

// Ledger is the subset of the entitlement ledger the reconciler writes to.
type Ledger interface {
	ListBySubscription(ctx context.Context, subscriptionID string) ([]entitlement.Record, error)
	UpsertFromCheckout(ctx context.Context, g entitlement.CheckoutGrant) (*entitlement.Record, error)
	ApplySubscriptionEvent(ctx context.Context, c entitlement.SubscriptionChange) (*entitlement.Record, error)
	SeedFromSubscription(ctx context.Context, s entitlement.SubscriptionSeed) (*entitlement.Record, error)
}

// Directory is the subset of the identity service used for self-serve
// provisioning after a purchase.
type Directory interface {
	GetUserByEmail(ctx context.Context, email string) (*identity.User, error)
	ProvisionUser(ctx context.Context, email string, profile identity.Profile) (*identity.Provisioned, error)
	LinkStripeCustomer(ctx context.Context, email, customerID string) error
}

// WarningRecorder persists events that need manual review.
type WarningRecorder interface {
	RecordWarning(ctx context.Context, w *audit.Warning) error
}

// Welcomer sends login details to newly provisioned users.
type Welcomer interface {
	SendWelcome(ctx context.Context, w notify.Welcome) error
}

// Reconciler folds verified payment events into the entitlement ledger.
type Reconciler struct {
	ledger         Ledger
	users          Directory
	warnings       WarningRecorder
	client         Client
	welcome        Welcomer
	defaultProduct string
	async          func(func())
}

// NewReconciler creates a Reconciler. client and welcome may be nil, in which
// case provider lookups and welcome emails are skipped.
func NewReconciler(ledger Ledger, users Directory, warnings WarningRecorder, client Client, welcome Welcomer, defaultProduct string) *Reconciler {
	return &Reconciler{
		ledger:         ledger,
		users:          users,
		warnings:       warnings,
		client:         client,
		welcome:        welcome,
		defaultProduct: defaultProduct,
		async:          func(fn func()) { go fn() },
	}
}

// WithAsync replaces the runner used for work done off the acknowledgement
// path.
func (r *Reconciler) WithAsync(run func(func())) *Reconciler {
	c := *r
	c.async = run
	return &c
}

// HandleEvent applies one verified event. The returned error is for logging;
// callers acknowledge the delivery regardless.
func (r *Reconciler) HandleEvent(ctx context.Context, event stripelib.Event) (Outcome, error) {
	eventType := string(event.Type)
	outcome, err := r.dispatch(ctx, event)
	metrics.ReconcileOutcomes.WithLabelValues(eventType, string(outcome)).Inc()
	return outcome, err
}

func (r *Reconciler) dispatch(ctx context.Context, event stripelib.Event) (Outcome, error) {
	if event.Data == nil {
		return OutcomeIgnored, nil
	}

	switch string(event.Type) {
	case EventCheckoutCompleted:
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return OutcomeFailed, fmt.Errorf("decode checkout.session: %w", err)
		}
		return r.handleCheckout(ctx, event, session)

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return OutcomeFailed, fmt.Errorf("decode subscription: %w", err)
		}
		return r.handleSubscription(ctx, event, sub)

	case EventInvoicePaymentFailed:
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return OutcomeFailed, fmt.Errorf("decode invoice: %w", err)
		}
		return r.handlePaymentFailed(ctx, event, inv)

	default:
		slog.Info("payment webhook ignored (unhandled type)", "type", event.Type, "eventId", event.ID)
		return OutcomeIgnored, nil
	}
}

func (r *Reconciler) handleCheckout(ctx context.Context, event stripelib.Event, s CheckoutSession) (Outcome, error) {
	email := identity.NormalizeEmail(s.Email())
	if email == "" && s.Customer != "" {
		email = identity.NormalizeEmail(r.lookupCustomerEmail(ctx, s.Customer))
	}
	if email == "" {
		r.warn(ctx, event, audit.WarningMissingEmail, "checkout session "+s.ID+" has no resolvable email", s.Customer, s.Subscription)
		return OutcomeWarning, nil
	}

	outcome := OutcomeApplied
	productCode := s.Metadata[MetadataProductCode]
	if productCode == "" {
		if r.defaultProduct == "" {
			r.warn(ctx, event, audit.WarningMissingProductCode, "checkout session "+s.ID+" for "+email+" has no product_code", s.Customer, s.Subscription)
			return OutcomeWarning, nil
		}
		productCode = r.defaultProduct
		outcome = OutcomeWarning
		r.warn(ctx, event, audit.WarningDefaultProductCode, "checkout session "+s.ID+" for "+email+" granted default product "+productCode, s.Customer, s.Subscription)
	}

	grant := entitlement.CheckoutGrant{
		Email:          email,
		ProductCode:    productCode,
		CustomerID:     s.Customer,
		SubscriptionID: s.Subscription,
	}
	if s.Subscription != "" && r.client != nil {
		sub, err := r.client.GetSubscription(ctx, s.Subscription)
		if err != nil {
			slog.Warn("checkout: subscription lookup failed, dates left for subscription events",
				"subscription", s.Subscription, "error", err)
		} else {
			grant.TrialEnd = sub.TrialEndTime()
			grant.CurrentPeriodEnd = sub.CurrentPeriodEnd()
		}
	}

	if _, err := r.ledger.UpsertFromCheckout(ctx, grant); err != nil {
		r.warn(ctx, event, audit.WarningLedgerWrite, "checkout for "+email+": "+err.Error(), s.Customer, s.Subscription)
		return OutcomeFailed, fmt.Errorf("upserting checkout entitlement: %w", err)
	}

	r.provisionBuyer(ctx, email, productCode, s)

	if s.Customer != "" {
		if err := r.users.LinkStripeCustomer(ctx, email, s.Customer); err != nil {
			slog.Error("checkout: failed to link customer to user", "email", email, "customer", s.Customer, "error", err)
		}
	}

	slog.Info("checkout applied", "email", email, "productCode", productCode, "subscription", s.Subscription)
	return outcome, nil
}

// provisionBuyer creates an account for a buyer without one and mails the
// temporary password. Failures are logged; the entitlement is already stored.
func (r *Reconciler) provisionBuyer(ctx context.Context, email, productCode string, s CheckoutSession) {
	_, err := r.users.GetUserByEmail(ctx, email)
	if err == nil {
		return
	}
	if !errors.Is(err, identity.ErrUserNotFound) {
		slog.Error("checkout: user lookup failed", "email", email, "error", err)
		return
	}

	provisioned, err := r.users.ProvisionUser(ctx, email, identity.Profile{
		DisplayName: s.CustomerDetails.Name,
		Phone:       s.CustomerDetails.Phone,
		Plan:        productCode,
	})
	if err != nil {
		if !errors.Is(err, identity.ErrAlreadyExists) {
			slog.Error("checkout: failed to provision user", "email", email, "error", err)
		}
		return
	}
	slog.Info("checkout: provisioned user", "email", email, "userId", provisioned.User.ID)

	if r.welcome == nil {
		return
	}
	welcome := notify.Welcome{
		Name:              provisioned.User.DisplayName,
		Email:             email,
		TemporaryPassword: provisioned.TemporaryPassword,
	}
	r.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), welcomeTimeout)
		defer cancel()
		if err := r.welcome.SendWelcome(ctx, welcome); err != nil {
			slog.Error("checkout: failed to send welcome email", "email", welcome.Email, "error", err)
		}
	})
}

func (r *Reconciler) handleSubscription(ctx context.Context, event stripelib.Event, sub Subscription) (Outcome, error) {
	status := entitlement.StatusCanceled
	if string(event.Type) != EventSubscriptionDeleted {
		parsed, ok := entitlement.ParseStatus(sub.Status)
		if !ok {
			r.warn(ctx, event, audit.WarningUnknownStatus, "subscription "+sub.ID+" has status "+sub.Status, sub.Customer, sub.ID)
			return OutcomeWarning, nil
		}
		status = parsed
	}

	change := entitlement.SubscriptionChange{
		SubscriptionID:   sub.ID,
		CustomerID:       sub.Customer,
		Status:           status,
		TrialEnd:         sub.TrialEndTime(),
		CurrentPeriodEnd: sub.CurrentPeriodEnd(),
	}

	_, err := r.ledger.ApplySubscriptionEvent(ctx, change)
	switch {
	case err == nil:
		slog.Info("subscription applied", "subscription", sub.ID, "status", status)
		return OutcomeApplied, nil
	case errors.Is(err, entitlement.ErrNoMatchingSubscription):
		return r.seedSubscription(ctx, event, sub, change)
	default:
		r.warn(ctx, event, audit.WarningLedgerWrite, "subscription "+sub.ID+": "+err.Error(), sub.Customer, sub.ID)
		return OutcomeFailed, fmt.Errorf("applying subscription event: %w", err)
	}
}

// seedSubscription creates the row for a subscription whose checkout has not
// arrived yet, so the final state does not depend on delivery order.
func (r *Reconciler) seedSubscription(ctx context.Context, event stripelib.Event, sub Subscription, change entitlement.SubscriptionChange) (Outcome, error) {
	email := ""
	if sub.Customer != "" {
		email = identity.NormalizeEmail(r.lookupCustomerEmail(ctx, sub.Customer))
	}
	productCode := sub.ProductCode()
	if email == "" || productCode == "" {
		r.warn(ctx, event, audit.WarningUnmatchedSubscription,
			fmt.Sprintf("subscription %s matches no entitlement (email=%q productCode=%q)", sub.ID, email, productCode),
			sub.Customer, sub.ID)
		return OutcomeWarning, nil
	}

	if _, err := r.ledger.SeedFromSubscription(ctx, entitlement.SubscriptionSeed{
		Email:              email,
		ProductCode:        productCode,
		SubscriptionChange: change,
	}); err != nil {
		r.warn(ctx, event, audit.WarningLedgerWrite, "seeding subscription "+sub.ID+": "+err.Error(), sub.Customer, sub.ID)
		return OutcomeFailed, fmt.Errorf("seeding subscription entitlement: %w", err)
	}

	slog.Info("subscription seeded before checkout", "subscription", sub.ID, "email", email, "productCode", productCode)
	return OutcomeApplied, nil
}

func (r *Reconciler) handlePaymentFailed(ctx context.Context, event stripelib.Event, inv Invoice) (Outcome, error) {
	subID := inv.SubscriptionID()
	if subID == "" {
		return OutcomeIgnored, nil
	}

	records, err := r.ledger.ListBySubscription(ctx, subID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("listing entitlements for subscription: %w", err)
	}
	if len(records) == 0 {
		r.warn(ctx, event, audit.WarningUnmatchedSubscription, "invoice "+inv.ID+" for unknown subscription "+subID, inv.Customer, subID)
		return OutcomeWarning, nil
	}

	_, err = r.ledger.ApplySubscriptionEvent(ctx, entitlement.SubscriptionChange{
		SubscriptionID:   subID,
		CustomerID:       inv.Customer,
		Status:           entitlement.StatusPastDue,
		TrialEnd:         records[0].TrialEnd,
		CurrentPeriodEnd: records[0].CurrentPeriodEnd,
	})
	if err != nil {
		r.warn(ctx, event, audit.WarningLedgerWrite, "invoice "+inv.ID+": "+err.Error(), inv.Customer, subID)
		return OutcomeFailed, fmt.Errorf("marking subscription past due: %w", err)
	}

	slog.Info("subscription marked past due", "subscription", subID, "invoice", inv.ID)
	return OutcomeApplied, nil
}

func (r *Reconciler) lookupCustomerEmail(ctx context.Context, customerID string) string {
	if r.client == nil {
		return ""
	}
	email, err := r.client.CustomerEmail(ctx, customerID)
	if err != nil {
		slog.Warn("customer email lookup failed", "customer", customerID, "error", err)
		return ""
	}
	return email
}

func (r *Reconciler) warn(ctx context.Context, event stripelib.Event, kind, detail, customerID, subscriptionID string) {
	slog.Warn("reconciliation warning", "kind", kind, "eventId", event.ID, "type", event.Type, "detail", detail)

	w := &audit.Warning{
		EventID:   event.ID,
		EventType: string(event.Type),
		Kind:      kind,
		Detail:    detail,
	}
	if customerID != "" {
		w.StripeCustomerID = &customerID
	}
	if subscriptionID != "" {
		w.StripeSubscriptionID = &subscriptionID
	}
	if err := r.warnings.RecordWarning(ctx, w); err != nil {
		slog.Error("failed to record reconciliation warning", "kind", kind, "eventId", event.ID, "error", err)
	}
}
