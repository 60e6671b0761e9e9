package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	auth "github.com/supabase-community/auth-go"
	"github.com/supabase-community/auth-go/types"
)

// GoTrueProvider manages accounts through the Supabase Auth admin API.
type GoTrueProvider struct {
	client auth.Client
}

// NewGoTrueProvider creates a provider for the project at baseURL, authenticated
// with the service role key.
func NewGoTrueProvider(baseURL, serviceKey string) *GoTrueProvider {
	client := auth.New("", serviceKey).
		WithCustomAuthURL(strings.TrimRight(baseURL, "/") + "/auth/v1").
		WithToken(serviceKey).
		WithClient(http.Client{Timeout: 10 * time.Second})
	return &GoTrueProvider{client: client}
}

// CreateUser creates a confirmed account with the given password.
func (p *GoTrueProvider) CreateUser(ctx context.Context, email, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resp, err := p.client.AdminCreateUser(types.AdminCreateUserRequest{
		Email:        email,
		Password:     &password,
		EmailConfirm: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: creating user: %v", ErrUpstreamAuth, err)
	}
	if resp == nil || resp.ID == uuid.Nil {
		return "", fmt.Errorf("%w: create user returned no id", ErrUpstreamAuth)
	}
	return resp.ID.String(), nil
}

// UpdatePassword replaces the account password.
func (p *GoTrueProvider) UpdatePassword(ctx context.Context, authUserID, password string) error {
	id, err := parseAuthUserID(ctx, authUserID)
	if err != nil {
		return err
	}

	if _, err := p.client.AdminUpdateUser(types.AdminUpdateUserRequest{
		UserID:   id,
		Password: password,
	}); err != nil {
		return fmt.Errorf("%w: updating password: %v", ErrUpstreamAuth, err)
	}
	return nil
}

// DeleteUser removes the account.
func (p *GoTrueProvider) DeleteUser(ctx context.Context, authUserID string) error {
	id, err := parseAuthUserID(ctx, authUserID)
	if err != nil {
		return err
	}

	if err := p.client.AdminDeleteUser(types.AdminDeleteUserRequest{UserID: id}); err != nil {
		return fmt.Errorf("%w: deleting user: %v", ErrUpstreamAuth, err)
	}
	return nil
}

// parseAuthUserID rejects ids that are not provider uuids before any request
// is built from them.
func parseAuthUserID(ctx context.Context, authUserID string) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(authUserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid provider user id %q", ErrUpstreamAuth, authUserID)
	}
	return id, nil
}
