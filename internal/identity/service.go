package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/yasashii-care/caredocs/internal/database"
)

// ErrInvalidCredentials is returned when the email is unknown, the password
// does not match or the account is disabled.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Service provides user, password and session operations.
type Service struct {
	repo       Repository
	provider   Provider
	bcryptCost int
	now        func() time.Time
}

// NewService creates a new identity Service.
func NewService(repo Repository, provider Provider, bcryptCost int) *Service {
	if provider == nil {
		provider = LocalProvider{}
	}
	return &Service{
		repo:       repo,
		provider:   provider,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// WithQuerier returns a Service whose writes go through q.
func (s *Service) WithQuerier(q database.Querier) *Service {
	c := *s
	c.repo = s.repo.WithQuerier(q)
	return &c
}

// Authenticate verifies the password and issues a new session token,
// replacing whatever token the user held before.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if u.Status != StatusActive {
		return nil, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.repo.SetSession(ctx, u.ID, token, now); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	u.SessionToken = &token
	u.LastLoginAt = &now
	return &Session{Token: token, User: u}, nil
}

// ValidateSession reports whether token is the user's current session token.
// It has no side effects.
func (s *Service) ValidateSession(ctx context.Context, userID uuid.UUID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("looking up user: %w", err)
	}

	return sessionMatches(u, token), nil
}

// ChangePassword stores a new password and rotates the session token. The
// returned session carries the replacement token.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, newPassword string) (*Session, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	token, err := s.setPassword(ctx, u, newPassword, true)
	if err != nil {
		return nil, err
	}

	u.PasswordInitialized = true
	u.SessionToken = &token
	return &Session{Token: token, User: u}, nil
}

// ProvisionUser creates the identity provider account and then the local row.
// If the local insert fails the provider account is removed again.
func (s *Service) ProvisionUser(ctx context.Context, email string, profile Profile) (*Provisioned, error) {
	email = NormalizeEmail(email)
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	password, err := generateTemporaryPassword()
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	authUserID, err := s.provider.CreateUser(ctx, email, password)
	if err != nil {
		return nil, upstream(err)
	}

	seats := profile.SeatLimit
	if seats <= 0 {
		seats = 1
	}

	u := &User{
		Email:               email,
		DisplayName:         profile.DisplayName,
		Phone:               profile.Phone,
		Plan:                profile.Plan,
		SeatLimit:           seats,
		PasswordHash:        string(hash),
		PasswordInitialized: false,
		Status:              StatusActive,
	}
	if authUserID != "" {
		u.AuthUserID = &authUserID
	}

	if err := s.repo.Create(ctx, u); err != nil {
		s.deleteProviderUser(ctx, authUserID)
		return nil, err
	}

	return &Provisioned{User: u, TemporaryPassword: password}, nil
}

// DiscardProvisioned removes the provider account of a user whose local row
// was rolled back by the caller.
func (s *Service) DiscardProvisioned(ctx context.Context, p *Provisioned) {
	if p == nil || p.User == nil || p.User.AuthUserID == nil {
		return
	}
	s.deleteProviderUser(ctx, *p.User.AuthUserID)
}

// ReissueTemporaryPassword replaces the password with a generated one, marks
// it as not yet chosen by the user and ends the current session.
func (s *Service) ReissueTemporaryPassword(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}

	password, err := generateTemporaryPassword()
	if err != nil {
		return "", err
	}

	if _, err := s.setPassword(ctx, u, password, false); err != nil {
		return "", err
	}

	return password, nil
}

// GetUser returns the user with the given id.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetUserByEmail returns the user with the given email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, NormalizeEmail(email))
}

// ListUsers returns a page of users.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	return s.repo.List(ctx, limit, offset)
}

// LinkStripeCustomer backfills the denormalized payment customer id.
func (s *Service) LinkStripeCustomer(ctx context.Context, email, customerID string) error {
	return s.repo.SetStripeCustomerID(ctx, NormalizeEmail(email), customerID)
}

func (s *Service) setPassword(ctx context.Context, u *User, password string, initialized bool) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	if u.AuthUserID != nil {
		if err := s.provider.UpdatePassword(ctx, *u.AuthUserID, password); err != nil {
			return "", upstream(err)
		}
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	if err := s.repo.SetPassword(ctx, u.ID, string(hash), initialized, token); err != nil {
		return "", fmt.Errorf("storing password: %w", err)
	}

	u.PasswordHash = string(hash)
	return token, nil
}

func (s *Service) deleteProviderUser(ctx context.Context, authUserID string) {
	if authUserID == "" {
		return
	}
	if err := s.provider.DeleteUser(ctx, authUserID); err != nil {
		slog.Error("identity: failed to roll back provider account", "authUserId", authUserID, "error", err)
	}
}

func sessionMatches(u *User, token string) bool {
	if u.Status != StatusActive || u.SessionToken == nil || *u.SessionToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*u.SessionToken), []byte(token)) == 1
}

func upstream(err error) error {
	if errors.Is(err, ErrUpstreamAuth) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamAuth, err)
}

// generateToken returns 32 random bytes encoded as base64url.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateTemporaryPassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
