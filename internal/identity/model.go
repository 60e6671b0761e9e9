package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User statuses. Users are never hard-deleted; disabling is a status change.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// User represents a row in the users table.
type User struct {
	ID                  uuid.UUID
	AuthUserID          *string // nil for accounts that predate the identity provider
	Email               string
	DisplayName         string
	Phone               string
	Plan                string
	SeatLimit           int
	PasswordHash        string
	PasswordInitialized bool
	SessionToken        *string
	LastLoginAt         *time.Time
	StripeCustomerID    *string
	Status              string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Profile carries the optional attributes supplied when provisioning a user.
type Profile struct {
	DisplayName string
	Phone       string
	Plan        string
	SeatLimit   int
}

// Session is returned by operations that issue a new session token.
type Session struct {
	Token string
	User  *User
}

// Provisioned is the result of creating a user with a temporary password.
// The password is only ever available here.
type Provisioned struct {
	User              *User
	TemporaryPassword string
}

// NormalizeEmail returns the form used as the lookup key for users and
// entitlements. Emails are case-sensitive as stored; only surrounding
// whitespace is dropped.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
