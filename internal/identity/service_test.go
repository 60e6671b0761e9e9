package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yasashii-care/caredocs/internal/database"
	"github.com/yasashii-care/caredocs/internal/identity"
)

const testBcryptCost = 4 // low cost for fast tests

// --- In-memory repository ---

type memRepo struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*identity.User
	createFn func(ctx context.Context, u *identity.User) error
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[uuid.UUID]*identity.User{}}
}

func (m *memRepo) Create(ctx context.Context, u *identity.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return identity.ErrAlreadyExists
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *memRepo) List(_ context.Context, _, _ int) ([]identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []identity.User{}
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *memRepo) SetSession(_ context.Context, id uuid.UUID, token string, loginAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.SessionToken = &token
	u.LastLoginAt = &loginAt
	return nil
}

func (m *memRepo) SetPassword(_ context.Context, id uuid.UUID, hash string, initialized bool, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.PasswordInitialized = initialized
	u.SessionToken = &token
	return nil
}

func (m *memRepo) SetStripeCustomerID(_ context.Context, email, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			u.StripeCustomerID = &customerID
		}
	}
	return nil
}

func (m *memRepo) WithQuerier(database.Querier) identity.Repository { return m }

// --- Mock provider ---

type mockProvider struct {
	createFn         func(ctx context.Context, email, password string) (string, error)
	updatePasswordFn func(ctx context.Context, id, password string) error
	deleted          []string
}

func (p *mockProvider) CreateUser(ctx context.Context, email, password string) (string, error) {
	if p.createFn != nil {
		return p.createFn(ctx, email, password)
	}
	return "auth-" + email, nil
}

func (p *mockProvider) UpdatePassword(ctx context.Context, id, password string) error {
	if p.updatePasswordFn != nil {
		return p.updatePasswordFn(ctx, id, password)
	}
	return nil
}

func (p *mockProvider) DeleteUser(_ context.Context, id string) error {
	p.deleted = append(p.deleted, id)
	return nil
}

// --- Helpers ---

func seedUser(t *testing.T, repo *memRepo, email, password string) *identity.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), testBcryptCost)
	require.NoError(t, err)
	u := &identity.User{
		Email:               email,
		PasswordHash:        string(hash),
		PasswordInitialized: true,
		Status:              identity.StatusActive,
		SeatLimit:           1,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

// --- Authenticate ---

func TestAuthenticate_Success(t *testing.T) {
	repo := newMemRepo()
	u := seedUser(t, repo, "carer@example.jp", "correct-horse")
	svc := identity.NewService(repo, &mockProvider{}, testBcryptCost)

	sess, err := svc.Authenticate(context.Background(), "carer@example.jp", "correct-horse")
	require.NoError(t, err)

	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, u.ID, sess.User.ID)
	require.NotNil(t, sess.User.LastLoginAt)

	stored, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, *stored.SessionToken)
}

func TestAuthenticate_TrimsEmail(t *testing.T) {
	repo := newMemRepo()
	u := seedUser(t, repo, "carer@example.jp", "correct-horse")
	svc := identity.NewService(repo, &mockProvider{}, testBcryptCost)

	sess, err := svc.Authenticate(context.Background(), "  carer@example.jp ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.User.ID)
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	repo := newMemRepo()
	seedUser(t, repo, "carer@example.jp", "correct-horse")
	disabled := seedUser(t, repo, "gone@example.jp", "correct-horse")
	repo.users[disabled.ID].Status = identity.StatusDisabled
	svc := identity.NewService(repo, &mockProvider{}, testBcryptCost)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown email", "nobody@example.jp", "correct-horse"},
		{"wrong password", "carer@example.jp", "battery-staple"},
		{"disabled user", "gone@example.jp", "correct-horse"},
		{"email is case sensitive", "CARER@example.jp", "correct-horse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := svc.Authenticate(context.Background(), tt.email, tt.password)
			assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
			assert.Nil(t, sess)
		})
	}
}

func TestAuthenticate_SecondLoginInvalidatesFirst(t *testing.T) {
	repo := newMemRepo()
	u := seedUser(t, repo, "carer@example.jp", "correct-horse")
	svc := identity.NewService(repo, &mockProvider{}, testBcryptCost)
	ctx := context.Background()

	first, err := svc.Authenticate(ctx, "carer@example.jp", "correct-horse")
	require.NoError(t, err)
	second, err := svc.Authenticate(ctx, "carer@example.jp", "correct-horse")
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)

	ok, err := svc.ValidateSession(ctx, u.ID, first.Token)
	require.NoError(t, err)
	assert.False(t, ok, "first token must be invalid after a second login")

	ok, err = svc.ValidateSession(ctx, u.ID, second.Token)
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- ValidateSession ---

func TestValidateSession(t *testing.T) {
	repo := newMemRepo()
	u := seedUser(t, repo, "carer@example.jp", "correct-horse")
	svc := identity.NewService(repo, &mockProvider{}, testBcryptCost)
	ctx := context.Background()

	sess, err := svc.Authenticate(ctx, "carer@example.jp", "correct-horse")
	require.NoError(t, err)

	tests := []struct {
		name   string
		userID uuid.UUID
		token  string
		want   bool
	}{
		{"current token", u.ID, sess.Token, true},
		{"wrong token", u.ID, "not-the-token", false},
		{"empty token", u.ID, "", false},
		{"unknown user", uuid.New(), sess.Token, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := svc.ValidateSession(ctx, tt.userID, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestValidateSession_NoTokenIssued(t *testing.T) {
	repo := newMemRepo()
	u := seedUser(t, repo, "carer@example.jp", "correct-horse")
	svc := identity.NewService(repo, &mockProvider{}, testBcryptCost)

	ok, err := svc.ValidateSession(context.Background(), u.ID, "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- ChangePassword ---

func TestChangePassword_RotatesSession(t *testing.T) {
	repo := newMemRepo()
	u := seedUser(t, repo, "carer@example.jp", "correct-horse")
	authID := "auth-123"
	repo.users[u.ID].AuthUserID = &authID

	var providerPassword string
	provider := &mockProvider{
		updatePasswordFn: func(_ context.Context, id, password string) error {
			assert.Equal(t, authID, id)
			providerPassword = password
			return nil
		},
	}
	svc := identity.NewService(repo, provider, testBcryptCost)
	ctx := context.Background()

	old, err := svc.Authenticate(ctx, "carer@example.jp", "correct-horse")
	require.NoError(t, err)

	sess, err := svc.ChangePassword(ctx, u.ID, "new-password-1")
	require.NoError(t, err)
	assert.NotEqual(t, old.Token, sess.Token)
	assert.Equal(t, "new-password-1", providerPassword)

	ok, err := svc.ValidateSession(ctx, u.ID, old.Token)
	require.NoError(t, err)
	assert.False(t, ok, "password change must end earlier sessions")

	ok, err = svc.ValidateSession(ctx, u.ID, sess.Token)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Authenticate(ctx, "carer@example.jp", "correct-horse")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "carer@example.jp", "new-password-1")
	assert.NoError(t, err)
}

func TestChangePassword_ProviderFailure(t *testing.T) {
	repo := newMemRepo()
	u := seedUser(t, repo, "carer@example.jp", "correct-horse")
	authID := "auth-123"
	repo.users[u.ID].AuthUserID = &authID
	provider := &mockProvider{
		updatePasswordFn: func(context.Context, string, string) error {
			return errors.New("connection refused")
		},
	}
	svc := identity.NewService(repo, provider, testBcryptCost)

	_, err := svc.ChangePassword(context.Background(), u.ID, "new-password-1")
	assert.ErrorIs(t, err, identity.ErrUpstreamAuth)

	_, err = svc.Authenticate(context.Background(), "carer@example.jp", "correct-horse")
	assert.NoError(t, err, "old password must still work")
}

func TestChangePassword_UnknownUser(t *testing.T) {
	svc := identity.NewService(newMemRepo(), &mockProvider{}, testBcryptCost)

	_, err := svc.ChangePassword(context.Background(), uuid.New(), "new-password-1")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

// --- ProvisionUser ---

func TestProvisionUser_Success(t *testing.T) {
	repo := newMemRepo()
	svc := identity.NewService(repo, &mockProvider{}, testBcryptCost)
	ctx := context.Background()

	p, err := svc.ProvisionUser(ctx, "new@example.jp", identity.Profile{DisplayName: "Sato", Plan: "standard"})
	require.NoError(t, err)

	assert.NotEmpty(t, p.TemporaryPassword)
	assert.Equal(t, "new@example.jp", p.User.Email)
	assert.Equal(t, "Sato", p.User.DisplayName)
	assert.Equal(t, 1, p.User.SeatLimit)
	assert.False(t, p.User.PasswordInitialized)
	require.NotNil(t, p.User.AuthUserID)
	assert.Equal(t, "auth-new@example.jp", *p.User.AuthUserID)

	_, err = svc.Authenticate(ctx, "new@example.jp", p.TemporaryPassword)
	assert.NoError(t, err)
}

func TestProvisionUser_AlreadyExists(t *testing.T) {
	repo := newMemRepo()
	seedUser(t, repo, "carer@example.jp", "correct-horse")
	provider := &mockProvider{
		createFn: func(context.Context, string, string) (string, error) {
			t.Fatal("provider must not be called for an existing email")
			return "", nil
		},
	}
	svc := identity.NewService(repo, provider, testBcryptCost)

	_, err := svc.ProvisionUser(context.Background(), "carer@example.jp", identity.Profile{})
	assert.ErrorIs(t, err, identity.ErrAlreadyExists)
}

func TestProvisionUser_EmailIsCaseSensitive(t *testing.T) {
	repo := newMemRepo()
	svc := identity.NewService(repo, &mockProvider{}, testBcryptCost)
	ctx := context.Background()

	mixed, err := svc.ProvisionUser(ctx, "Alice@Example.com", identity.Profile{})
	require.NoError(t, err)
	assert.Equal(t, "Alice@Example.com", mixed.User.Email, "stored email is not rewritten")

	lower, err := svc.ProvisionUser(ctx, "alice@example.com", identity.Profile{})
	require.NoError(t, err)
	assert.NotEqual(t, mixed.User.ID, lower.User.ID)

	found, err := svc.GetUserByEmail(ctx, " Alice@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, mixed.User.ID, found.ID)
}

func TestProvisionUser_UpstreamFailure(t *testing.T) {
	repo := newMemRepo()
	provider := &mockProvider{
		createFn: func(context.Context, string, string) (string, error) {
			return "", errors.New("HTTP 500")
		},
	}
	svc := identity.NewService(repo, provider, testBcryptCost)

	_, err := svc.ProvisionUser(context.Background(), "new@example.jp", identity.Profile{})
	assert.ErrorIs(t, err, identity.ErrUpstreamAuth)
	assert.Empty(t, repo.users)
}

func TestProvisionUser_LocalFailureRollsBackProvider(t *testing.T) {
	repo := newMemRepo()
	repo.createFn = func(context.Context, *identity.User) error {
		return identity.ErrAlreadyExists
	}
	provider := &mockProvider{}
	svc := identity.NewService(repo, provider, testBcryptCost)

	_, err := svc.ProvisionUser(context.Background(), "race@example.jp", identity.Profile{})
	assert.ErrorIs(t, err, identity.ErrAlreadyExists)
	assert.Equal(t, []string{"auth-race@example.jp"}, provider.deleted)
}

func TestDiscardProvisioned(t *testing.T) {
	provider := &mockProvider{}
	svc := identity.NewService(newMemRepo(), provider, testBcryptCost)
	authID := "auth-1"

	svc.DiscardProvisioned(context.Background(), nil)
	svc.DiscardProvisioned(context.Background(), &identity.Provisioned{User: &identity.User{}})
	svc.DiscardProvisioned(context.Background(), &identity.Provisioned{User: &identity.User{AuthUserID: &authID}})

	assert.Equal(t, []string{"auth-1"}, provider.deleted)
}

// --- ReissueTemporaryPassword ---

func TestReissueTemporaryPassword(t *testing.T) {
	repo := newMemRepo()
	u := seedUser(t, repo, "carer@example.jp", "correct-horse")
	svc := identity.NewService(repo, &mockProvider{}, testBcryptCost)
	ctx := context.Background()

	sess, err := svc.Authenticate(ctx, "carer@example.jp", "correct-horse")
	require.NoError(t, err)

	password, err := svc.ReissueTemporaryPassword(ctx, u.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, password)

	stored, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, stored.PasswordInitialized)

	ok, err := svc.ValidateSession(ctx, u.ID, sess.Token)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Authenticate(ctx, "carer@example.jp", password)
	assert.NoError(t, err)
}

func TestLinkStripeCustomer(t *testing.T) {
	repo := newMemRepo()
	u := seedUser(t, repo, "carer@example.jp", "correct-horse")
	svc := identity.NewService(repo, nil, testBcryptCost)

	require.NoError(t, svc.LinkStripeCustomer(context.Background(), "carer@example.jp", "cus_123"))

	stored, err := svc.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StripeCustomerID)
	assert.Equal(t, "cus_123", *stored.StripeCustomerID)
}
