package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yasashii-care/caredocs/internal/audit"
	"github.com/yasashii-care/caredocs/internal/database"
	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/identity"
)

const testBcryptCost = 4

// --- users ---

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[uuid.UUID]*identity.User{}}
}

func (m *memUsers) Create(_ context.Context, u *identity.User) error {
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

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*identity.User, error) {
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

func (m *memUsers) List(_ context.Context, limit, offset int) ([]identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []identity.User{}
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if offset >= len(out) {
		return []identity.User{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memUsers) SetSession(_ context.Context, id uuid.UUID, token string, loginAt time.Time) error {
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

func (m *memUsers) SetPassword(_ context.Context, id uuid.UUID, hash string, initialized bool, token string) error {
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

func (m *memUsers) SetStripeCustomerID(_ context.Context, email, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			u.StripeCustomerID = &customerID
		}
	}
	return nil
}

func (m *memUsers) WithQuerier(database.Querier) identity.Repository { return m }

// --- entitlements ---

type memLedger struct {
	mu   sync.Mutex
	rows map[string]*entitlement.Record
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[string]*entitlement.Record{}}
}

func ledgerKey(email, product string) string { return email + "|" + product }

func (m *memLedger) put(rec entitlement.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if rec.Source == "" {
		rec.Source = entitlement.SourceProvider
	}
	m.rows[ledgerKey(rec.Email, rec.ProductCode)] = &rec
}

func (m *memLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memLedger) Get(_ context.Context, email, product string) (*entitlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[ledgerKey(email, product)]
	if !ok {
		return nil, entitlement.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memLedger) GetForUpdate(ctx context.Context, email, product string) (*entitlement.Record, error) {
	return m.Get(ctx, email, product)
}

func (m *memLedger) ListByEmail(_ context.Context, email string) ([]entitlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entitlement.Record{}
	for _, rec := range m.rows {
		if rec.Email == email {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductCode < out[j].ProductCode })
	return out, nil
}

func (m *memLedger) ListBySubscription(_ context.Context, subscriptionID string) ([]entitlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entitlement.Record{}
	for _, rec := range m.rows {
		if rec.StripeSubscriptionID != nil && *rec.StripeSubscriptionID == subscriptionID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memLedger) UpsertCheckout(_ context.Context, rec *entitlement.Record) (*entitlement.Record, error) {
	m.put(*rec)
	return rec, nil
}

func (m *memLedger) UpsertSubscription(_ context.Context, rec *entitlement.Record) (*entitlement.Record, error) {
	m.put(*rec)
	return rec, nil
}

func (m *memLedger) UpdateBySubscription(_ context.Context, c entitlement.SubscriptionChange) (*entitlement.Record, error) {
	return m.updateBySubscription(c, false)
}

func (m *memLedger) RefreshBySubscription(_ context.Context, c entitlement.SubscriptionChange) (*entitlement.Record, error) {
	return m.updateBySubscription(c, true)
}

func (m *memLedger) updateBySubscription(c entitlement.SubscriptionChange, providerOnly bool) (*entitlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.rows {
		if rec.StripeSubscriptionID == nil || *rec.StripeSubscriptionID != c.SubscriptionID {
			continue
		}
		if providerOnly && rec.Source == entitlement.SourceManual {
			continue
		}
		rec.Status = c.Status
		rec.TrialEnd = c.TrialEnd
		rec.CurrentPeriodEnd = c.CurrentPeriodEnd
		rec.Source = entitlement.SourceProvider
		rec.UpdatedAt = time.Now().UTC()
		cp := *rec
		return &cp, nil
	}
	return nil, entitlement.ErrNoMatchingSubscription
}

func (m *memLedger) UpsertManual(_ context.Context, rec *entitlement.Record) (*entitlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *rec
	if existing, ok := m.rows[ledgerKey(rec.Email, rec.ProductCode)]; ok {
		stored.StripeCustomerID = existing.StripeCustomerID
		stored.StripeSubscriptionID = existing.StripeSubscriptionID
		stored.CreatedAt = existing.CreatedAt
	}
	stored.Source = entitlement.SourceManual
	stored.UpdatedAt = time.Now().UTC()
	m.rows[ledgerKey(rec.Email, rec.ProductCode)] = &stored
	cp := stored
	return &cp, nil
}

func (m *memLedger) ListStale(_ context.Context, updatedBefore time.Time, limit int) ([]entitlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entitlement.Record{}
	for _, rec := range m.rows {
		if rec.StripeSubscriptionID == nil || rec.Source != entitlement.SourceProvider {
			continue
		}
		if rec.Status == entitlement.StatusCanceled || rec.Status == entitlement.StatusNone {
			continue
		}
		if rec.UpdatedAt.Before(updatedBefore) && len(out) < limit {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// age moves every row's last write back by d.
func (m *memLedger) age(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.rows {
		rec.UpdatedAt = rec.UpdatedAt.Add(-d)
	}
}

func (m *memLedger) WithQuerier(database.Querier) entitlement.Repository { return m }

// --- audit ---

type memAudit struct {
	mu       sync.Mutex
	entries  []audit.Entry
	warnings []audit.Warning
}

func (m *memAudit) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAudit) List(_ context.Context, _, _ int) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Entry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *memAudit) RecordWarning(_ context.Context, w *audit.Warning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = uuid.New()
	w.CreatedAt = time.Now().UTC()
	m.warnings = append(m.warnings, *w)
	return nil
}

func (m *memAudit) ListWarnings(_ context.Context, _ bool, _ int) ([]audit.Warning, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Warning(nil), m.warnings...), nil
}

func (m *memAudit) WithQuerier(database.Querier) audit.Repository { return m }

// passTx runs fn without a real transaction; the in-memory repositories
// ignore the querier.
type passTx struct{}

func (passTx) InTx(_ context.Context, fn func(q database.Querier) error) error {
	return fn(nil)
}

// --- fixture ---

type fixture struct {
	userRepo   *memUsers
	ledgerRepo *memLedger
	audit      *memAudit
	users      *identity.Service
	ledger     *entitlement.Ledger
}

func newFixture() *fixture {
	f := &fixture{
		userRepo:   newMemUsers(),
		ledgerRepo: newMemLedger(),
		audit:      &memAudit{},
	}
	f.users = identity.NewService(f.userRepo, nil, testBcryptCost)
	f.ledger = entitlement.NewLedger(f.ledgerRepo)
	return f
}

// seedUser stores an active user with the given password.
func (f *fixture) seedUser(t *testing.T, email, password string) *identity.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), testBcryptCost)
	require.NoError(t, err)
	u := &identity.User{
		Email:               email,
		PasswordHash:        string(hash),
		PasswordInitialized: true,
		SeatLimit:           1,
		Status:              identity.StatusActive,
	}
	require.NoError(t, f.userRepo.Create(context.Background(), u))
	return u
}

// login returns a fresh session token for the user.
func (f *fixture) login(t *testing.T, email, password string) string {
	t.Helper()
	s, err := f.users.Authenticate(context.Background(), email, password)
	require.NoError(t, err)
	return s.Token
}

// --- request helpers ---

func makeChiRequest(method, path string, body []byte, routePattern string, params map[string]string) (*http.Request, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()

	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		rctx.RoutePatterns = append(rctx.RoutePatterns, routePattern)
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	return req, w
}

func jsonBody(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func parseEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &env)
	require.NoError(t, err, "failed to parse response body")
	return env
}

func envelopeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	env := parseEnvelope(t, w)
	data, ok := env["data"].(map[string]interface{})
	require.True(t, ok, "expected object data, got %s", w.Body.String())
	return data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := parseEnvelope(t, w)
	apiErr, ok := env["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %s", w.Body.String())
	return apiErr["code"].(string)
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrString(s string) *string { return &s }
