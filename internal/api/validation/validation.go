package validation

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/yasashii-care/caredocs/internal/entitlement"
)

const (
	maxEmailLength    = 254
	maxReasonLength   = 1000
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt ignores bytes past 72
	maxTrialDays      = 365
)

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// LoginRequest mirrors the fields needed for login validation.
type LoginRequest struct {
	Email    string
	Password string
}

// ValidateLoginRequest validates the fields of a login request.
func ValidateLoginRequest(req LoginRequest) []FieldError {
	var errs []FieldError
	errs = appendEmail(errs, "email", req.Email)
	if req.Password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "password is required"})
	}
	return errs
}

// SessionRequest mirrors the session reference sent by the browser client.
type SessionRequest struct {
	UserID       string
	SessionToken string
}

// ValidateSessionRequest validates a userId/sessionToken pair.
func ValidateSessionRequest(req SessionRequest) []FieldError {
	var errs []FieldError
	errs = appendUUID(errs, "userId", req.UserID)
	if req.SessionToken == "" {
		errs = append(errs, FieldError{Field: "sessionToken", Message: "sessionToken is required"})
	}
	return errs
}

// ChangePasswordRequest mirrors the fields needed for change-password validation.
type ChangePasswordRequest struct {
	SessionRequest
	NewPassword string
}

// ValidateChangePasswordRequest validates the fields of a change-password request.
func ValidateChangePasswordRequest(req ChangePasswordRequest) []FieldError {
	errs := ValidateSessionRequest(req.SessionRequest)
	switch {
	case req.NewPassword == "":
		errs = append(errs, FieldError{Field: "newPassword", Message: "newPassword is required"})
	case len(req.NewPassword) < minPasswordLength:
		errs = append(errs, FieldError{Field: "newPassword", Message: fmt.Sprintf("newPassword must be at least %d characters", minPasswordLength)})
	case len(req.NewPassword) > maxPasswordLength:
		errs = append(errs, FieldError{Field: "newPassword", Message: fmt.Sprintf("newPassword must be at most %d bytes", maxPasswordLength)})
	}
	return errs
}

// EntitlementCheckRequest mirrors the fields of an entitlement-only check.
type EntitlementCheckRequest struct {
	Email       string
	ProductCode string
}

// ValidateEntitlementCheckRequest validates an entitlement check.
func ValidateEntitlementCheckRequest(req EntitlementCheckRequest) []FieldError {
	var errs []FieldError
	errs = appendEmail(errs, "email", req.Email)
	errs = appendProductCode(errs, req.ProductCode)
	return errs
}

// ValidateEmail validates a request carrying only an email.
func ValidateEmail(email string) []FieldError {
	return appendEmail(nil, "email", email)
}

// ValidateProductCode validates a request carrying only a product code.
func ValidateProductCode(code string) []FieldError {
	return appendProductCode(nil, code)
}

// CreateUserRequest mirrors the fields needed for admin user creation.
type CreateUserRequest struct {
	Email     string
	SeatLimit int
	Reason    string
}

// ValidateCreateUserRequest validates the fields of an admin create-user request.
func ValidateCreateUserRequest(req CreateUserRequest) []FieldError {
	var errs []FieldError
	errs = appendEmail(errs, "email", req.Email)
	if req.SeatLimit < 0 {
		errs = append(errs, FieldError{Field: "seatLimit", Message: "seatLimit must not be negative"})
	}
	errs = appendReason(errs, req.Reason)
	return errs
}

// ValidateReason validates a mutation that carries only a reason.
func ValidateReason(reason string) []FieldError {
	return appendReason(nil, reason)
}

// BillingChangeRequest mirrors the fields of a manual entitlement change.
type BillingChangeRequest struct {
	Email       *string
	ProductCode string
	Status      string
	TrialDays   int
	Reason      string
}

// ValidateBillingChangeRequest validates a manual entitlement change. Email is
// only checked when the request addresses the entitlement by email.
func ValidateBillingChangeRequest(req BillingChangeRequest) []FieldError {
	var errs []FieldError
	if req.Email != nil {
		errs = appendEmail(errs, "email", *req.Email)
	}
	errs = appendProductCode(errs, req.ProductCode)

	status, ok := entitlement.ParseStatus(req.Status)
	switch {
	case req.Status == "":
		errs = append(errs, FieldError{Field: "status", Message: "status is required"})
	case !ok:
		errs = append(errs, FieldError{Field: "status", Message: fmt.Sprintf("status %q is not a known billing status", req.Status)})
	case status == entitlement.StatusTrialing && req.TrialDays <= 0:
		errs = append(errs, FieldError{Field: "trialDays", Message: "trialDays must be greater than 0 for a trial"})
	}
	if req.TrialDays < 0 || req.TrialDays > maxTrialDays {
		errs = append(errs, FieldError{Field: "trialDays", Message: fmt.Sprintf("trialDays must be between 0 and %d", maxTrialDays)})
	}

	errs = appendReason(errs, req.Reason)
	return errs
}

func appendEmail(errs []FieldError, field, email string) []FieldError {
	email = strings.TrimSpace(email)
	if email == "" {
		return append(errs, FieldError{Field: field, Message: field + " is required"})
	}
	if len(email) > maxEmailLength {
		return append(errs, FieldError{Field: field, Message: fmt.Sprintf("%s must be at most %d characters", field, maxEmailLength)})
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return append(errs, FieldError{Field: field, Message: field + " must be a valid email address"})
	}
	return errs
}

func appendUUID(errs []FieldError, field, value string) []FieldError {
	if value == "" {
		return append(errs, FieldError{Field: field, Message: field + " is required"})
	}
	if _, err := uuid.Parse(value); err != nil {
		return append(errs, FieldError{Field: field, Message: field + " must be a valid UUID"})
	}
	return errs
}

func appendProductCode(errs []FieldError, code string) []FieldError {
	code = strings.TrimSpace(code)
	if code == "" {
		return append(errs, FieldError{Field: "productCode", Message: "productCode is required"})
	}
	if len(code) > 64 {
		return append(errs, FieldError{Field: "productCode", Message: "productCode must be at most 64 characters"})
	}
	return errs
}

func appendReason(errs []FieldError, reason string) []FieldError {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return append(errs, FieldError{Field: "reason", Message: "reason is required"})
	}
	if len(reason) > maxReasonLength {
		return append(errs, FieldError{Field: "reason", Message: fmt.Sprintf("reason must be at most %d characters", maxReasonLength)})
	}
	return errs
}
