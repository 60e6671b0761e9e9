package entitlement

import "time"

// Status is the billing state of one entitlement. Values mirror the payment
// provider's subscription statuses plus "none".
type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
	StatusUnpaid     Status = "unpaid"
	StatusNone       Status = "none"
)

// Known reports whether s is one of the statuses the ledger stores.
func (s Status) Known() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled,
		StatusIncomplete, StatusUnpaid, StatusNone:
		return true
	}
	return false
}

// ParseStatus normalizes a raw status. "trial" is accepted as an alias of
// trialing; provider-only statuses fold into the closest ledger status.
func ParseStatus(raw string) (Status, bool) {
	switch raw {
	case "trial":
		return StatusTrialing, true
	case "incomplete_expired":
		return StatusIncomplete, true
	case "paused":
		return StatusUnpaid, true
	}
	s := Status(raw)
	return s, s.Known()
}

// Source records which writer last set a row's lifecycle fields.
type Source string

const (
	SourceProvider Source = "provider"
	SourceManual   Source = "manual"
)

// Record represents a row in the entitlements table, keyed by
// (email, product_code).
type Record struct {
	Email                string
	ProductCode          string
	Status               Status
	TrialEnd             *time.Time
	CurrentPeriodEnd     *time.Time
	StripeCustomerID     *string
	StripeSubscriptionID *string
	Source               Source
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CheckoutGrant is the ledger input derived from a completed checkout.
type CheckoutGrant struct {
	Email            string
	ProductCode      string
	CustomerID       string
	SubscriptionID   string
	TrialEnd         *time.Time
	CurrentPeriodEnd *time.Time
}

// SubscriptionChange is the ledger input derived from a subscription
// lifecycle event.
type SubscriptionChange struct {
	SubscriptionID   string
	CustomerID       string
	Status           Status
	TrialEnd         *time.Time
	CurrentPeriodEnd *time.Time
}

// SubscriptionSeed creates a row from a subscription event that arrived
// before its checkout.
type SubscriptionSeed struct {
	Email       string
	ProductCode string
	SubscriptionChange
}

// Grant is a manual entitlement change made through the admin plane.
type Grant struct {
	Email       string
	ProductCode string
	Status      Status
	TrialDays   int
}
