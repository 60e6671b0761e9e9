package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the admin audit log.
const (
	ActionCreateUser          = "create_user"
	ActionReissueCredential   = "reissue_credential"
	ActionChangeBillingStatus = "change_billing_status"
	ActionGrantEntitlement    = "grant_entitlement"
)

// Entry represents a row in the append-only admin_audit_log table.
type Entry struct {
	ID             uuid.UUID
	Action         string
	TargetUserID   *uuid.UUID
	TargetEmail    string
	ProductCode    string
	PreviousStatus string
	NewStatus      string
	TrialDays      *int
	Reason         string
	Actor          string
	ClientIP       string
	CreatedAt      time.Time
}

// Warning kinds written by the webhook reconciler.
const (
	WarningMissingProductCode    = "missing_product_code"
	WarningDefaultProductCode    = "default_product_code"
	WarningMissingEmail          = "missing_email"
	WarningUnmatchedSubscription = "unmatched_subscription"
	WarningUnknownStatus         = "unknown_status"
	WarningLedgerWrite           = "ledger_write_failed"
)

// Warning represents a row in reconciliation_warnings: a payment event that
// could not be folded into the ledger without human review.
type Warning struct {
	ID                   uuid.UUID
	EventID              string
	EventType            string
	Kind                 string
	Detail               string
	StripeCustomerID     *string
	StripeSubscriptionID *string
	CreatedAt            time.Time
	ResolvedAt           *time.Time
}
