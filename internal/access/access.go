// Package access holds the single access policy. Every endpoint that decides
// whether a caller may use a product goes through these functions.
package access

import (
	"time"

	"github.com/yasashii-care/caredocs/internal/entitlement"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonSessionInvalid       Reason = "session_invalid"
	ReasonPaymentRequired      Reason = "payment_required"
	ReasonSubscriptionCanceled Reason = "subscription_canceled"
	ReasonNotGranted           Reason = "not_granted"
	ReasonExpired              Reason = "expired"
)

// Mode describes why an entitlement check passed.
type Mode string

const (
	ModeTrial  Mode = "trial"
	ModeActive Mode = "active"
)

// App identifies which front-end a user is routed to.
type App string

const (
	AppHome     App = "home"
	AppFacility App = "facility"
)

// FacilityProduct is the product code that routes a user to the facility app.
const FacilityProduct = "facility_monitoring"

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Evaluate combines session validity and entitlement state. Rules are applied
// in order and the first match wins. status is nil when no entitlement exists.
func Evaluate(sessionValid bool, status *entitlement.Status, trialEnd *time.Time, now time.Time) Decision {
	if !sessionValid {
		return Decision{Reason: ReasonSessionInvalid}
	}
	if status == nil {
		return Decision{Reason: ReasonPaymentRequired}
	}
	if trialEnd != nil && trialEnd.After(now) {
		return Decision{Allowed: true}
	}

	switch *status {
	case entitlement.StatusTrialing, entitlement.StatusActive:
		return Decision{Allowed: true}
	case entitlement.StatusCanceled:
		return Decision{Reason: ReasonSubscriptionCanceled}
	case entitlement.StatusPastDue, entitlement.StatusUnpaid, entitlement.StatusIncomplete:
		return Decision{Reason: ReasonPaymentRequired}
	}
	return Decision{Reason: ReasonPaymentRequired}
}

// EvaluateRecord is Evaluate over a ledger record, nil meaning absent.
func EvaluateRecord(sessionValid bool, rec *entitlement.Record, now time.Time) Decision {
	if rec == nil {
		return Evaluate(sessionValid, nil, nil, now)
	}
	status := rec.Status
	return Evaluate(sessionValid, &status, rec.TrialEnd, now)
}

// ProductCheck is the outcome of EvaluateProduct.
type ProductCheck struct {
	OK       bool
	Mode     Mode
	Reason   Reason
	TrialEnd *time.Time
	Status   entitlement.Status
}

// EvaluateProduct decides entitlement-only access, without a session. An
// active record whose current period has ended is reported as expired.
func EvaluateProduct(rec *entitlement.Record, now time.Time) ProductCheck {
	if rec == nil {
		return ProductCheck{Reason: ReasonNotGranted}
	}

	if rec.TrialEnd != nil && !rec.TrialEnd.Before(now) {
		return ProductCheck{OK: true, Mode: ModeTrial, TrialEnd: rec.TrialEnd}
	}

	switch rec.Status {
	case entitlement.StatusTrialing:
		if rec.TrialEnd == nil {
			return ProductCheck{OK: true, Mode: ModeTrial}
		}
	case entitlement.StatusActive:
		if rec.CurrentPeriodEnd == nil || !rec.CurrentPeriodEnd.Before(now) {
			return ProductCheck{OK: true, Mode: ModeActive}
		}
	}

	return ProductCheck{Reason: ReasonExpired, Status: rec.Status}
}

// ResolveApp picks the facility app when any record currently grants the
// facility product, and the home app otherwise.
func ResolveApp(records []entitlement.Record, now time.Time) App {
	for i := range records {
		if records[i].ProductCode != FacilityProduct {
			continue
		}
		if EvaluateRecord(true, &records[i], now).Allowed {
			return AppFacility
		}
	}
	return AppHome
}
