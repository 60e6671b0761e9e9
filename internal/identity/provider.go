package identity

import (
	"context"
	"errors"
)

// ErrUpstreamAuth wraps failures reported by the external identity provider.
var ErrUpstreamAuth = errors.New("identity provider error")

// Provider manages accounts in the external identity system.
type Provider interface {
	// CreateUser creates an account and returns its provider id. An empty id
	// means the provider keeps no external record.
	CreateUser(ctx context.Context, email, password string) (string, error)
	UpdatePassword(ctx context.Context, authUserID, password string) error
	DeleteUser(ctx context.Context, authUserID string) error
}

// LocalProvider is used when no external identity system is configured.
// Credentials live only in the users table.
type LocalProvider struct{}

// CreateUser returns an empty provider id.
func (LocalProvider) CreateUser(context.Context, string, string) (string, error) {
	return "", nil
}

// UpdatePassword is a no-op.
func (LocalProvider) UpdatePassword(context.Context, string, string) error {
	return nil
}

// DeleteUser is a no-op.
func (LocalProvider) DeleteUser(context.Context, string) error {
	return nil
}
