package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noteforge/noteforge/internal/models"
	"github.com/noteforge/noteforge/internal/repository"
	"github.com/noteforge/noteforge/internal/token"
	"github.com/noteforge/noteforge/pkg/config"
	appErrors "github.com/noteforge/noteforge/pkg/errors"
)

type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
	err   error
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	m := &mockUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return appErrors.Clone(appErrors.ErrAlreadyExists, "email already registered")
		}
	}
	if user.ID == "" {
		user.ID = "user-" + user.Email
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

// mockCredentialStore mirrors the Postgres store semantics, including the
// compare-and-swap behavior of ReplaceRefreshToken, so rotation races can be
// exercised in-memory.
type mockCredentialStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
	audits []*models.AuditLog
	err    error
}

func newMockStore() *mockCredentialStore {
	return &mockCredentialStore{tokens: make(map[string]*models.RefreshToken)}
}

func (m *mockCredentialStore) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tokens[rt.ID]; exists {
		return appErrors.Clone(appErrors.ErrDuplicateCredential, "credential id already exists")
	}
	clone := *rt
	m.tokens[rt.ID] = &clone
	return nil
}

func (m *mockCredentialStore) FindRefreshToken(ctx context.Context, id string) (*models.RefreshToken, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.tokens[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *rt
	return &clone, nil
}

func (m *mockCredentialStore) ListUserRefreshTokens(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RefreshToken
	for _, rt := range m.tokens {
		if rt.UserID == userID {
			out = append(out, *rt)
		}
	}
	return out, nil
}

func (m *mockCredentialStore) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.tokens[id]; ok && !rt.Revoked {
		rt.Revoked = true
		rt.RevokedAt = &revokedAt
	}
	return nil
}

func (m *mockCredentialStore) RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.tokens {
		if rt.UserID == userID && !rt.Revoked {
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockCredentialStore) ReplaceRefreshToken(ctx context.Context, oldID string, newToken *models.RefreshToken) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok || old.Revoked || old.ReplacedBy != nil {
		return repository.ErrCredentialConsumed
	}
	now := time.Now().UTC()
	old.Revoked = true
	old.RevokedAt = &now
	replacedBy := newToken.ID
	old.ReplacedBy = &replacedBy
	clone := *newToken
	m.tokens[newToken.ID] = &clone
	return nil
}

func (m *mockCredentialStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, log)
	return nil
}

func (m *mockCredentialStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.audits))
	for _, a := range m.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

func testAuthCodec() *token.Codec {
	return token.NewCodec(config.AuthConfig{
		AccessSecret:    "access_secret",
		RefreshSecret:   "refresh_secret",
		KeyID:           "v1",
		Issuer:          "noteforge-auth",
		AccessTokenTTL:  10 * time.Minute,
		RefreshTokenTTL: time.Hour,
		ClockSkewLeeway: 5 * time.Second,
	})
}

func newTestService(users *mockUserRepo, store *mockCredentialStore) *AuthService {
	return NewAuthService(users, store, nil, testAuthCodec(), validator.New(), zap.NewNop(), nil, AuthServiceConfig{BcryptCost: bcrypt.MinCost})
}

func activeUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(hash), FullName: "User", Role: models.RoleUser, Active: true}
}

func TestAuthServiceRegister(t *testing.T) {
	users := newMockUserRepo()
	svc := newTestService(users, newMockStore())

	info, err := svc.Register(context.Background(), models.RegisterRequest{Email: "new@example.com", Password: "password123", FullName: "New User"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", info.Email)
	assert.Equal(t, models.RoleUser, info.Role)

	_, err = svc.Register(context.Background(), models.RegisterRequest{Email: "new@example.com", Password: "password123", FullName: "New User"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyExists))
}

func TestAuthServiceLoginIssuesVerifiablePair(t *testing.T) {
	users := newMockUserRepo(activeUser(t, "password123"))
	store := newMockStore()
	svc := newTestService(users, store)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)

	// The access token must verify via the codec immediately after issuance.
	claims, err := testAuthCodec().Verify(res.AccessToken, token.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	refreshClaims, err := testAuthCodec().Verify(res.RefreshToken, token.TypeRefresh)
	require.NoError(t, err)

	record, err := store.FindRefreshToken(context.Background(), refreshClaims.CredentialID())
	require.NoError(t, err)
	assert.Equal(t, models.CredentialActive, record.Status())
	assert.Equal(t, token.Hash(res.RefreshToken), record.TokenHash)
}

func TestAuthServiceLoginInvalidPassword(t *testing.T) {
	users := newMockUserRepo(activeUser(t, "password123"))
	svc := newTestService(users, newMockStore())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong-password"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials))
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc := newTestService(newMockUserRepo(), newMockStore())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials))
}

func TestAuthServiceRefreshRotates(t *testing.T) {
	users := newMockUserRepo(activeUser(t, "password123"))
	store := newMockStore()
	svc := newTestService(users, store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)

	oldClaims, err := testAuthCodec().Verify(login.RefreshToken, token.TypeRefresh)
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	status, err := svc.RevocationStatus(context.Background(), oldClaims.CredentialID())
	require.NoError(t, err)
	assert.Equal(t, models.CredentialRotated, status)

	// The rotated pair keeps working.
	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: refreshed.RefreshToken})
	require.NoError(t, err)
}

func TestAuthServiceRefreshReuseRevokesFamily(t *testing.T) {
	users := newMockUserRepo(activeUser(t, "password123"))
	store := newMockStore()
	svc := newTestService(users, store)

	// Two concurrent devices for the same principal.
	device1, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)
	device2, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)

	// Legitimate rotation on device 1.
	rotated, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: device1.RefreshToken})
	require.NoError(t, err)

	// Replaying the consumed token looks like theft: the caller gets the
	// generic invalid-token answer, not a reuse-specific one.
	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: device1.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidToken))
	assert.Contains(t, store.auditActions(), models.AuditActionTokenReuse)

	// The whole family is gone: the legitimately rotated token and the
	// sibling device token now both fail.
	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: rotated.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidToken))

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: device2.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidToken))
}

func TestAuthServiceConcurrentRefreshSingleWinner(t *testing.T) {
	users := newMockUserRepo(activeUser(t, "password123"))
	store := newMockStore()
	svc := newTestService(users, store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidToken))
			failures++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent rotation may win")
	assert.Equal(t, attempts-1, failures)
}

func TestAuthServiceLogoutIdempotent(t *testing.T) {
	users := newMockUserRepo(activeUser(t, "password123"))
	store := newMockStore()
	svc := newTestService(users, store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: login.RefreshToken}))
	require.NoError(t, svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: login.RefreshToken}))

	claims, err := testAuthCodec().Verify(login.RefreshToken, token.TypeRefresh)
	require.NoError(t, err)
	status, err := svc.RevocationStatus(context.Background(), claims.CredentialID())
	require.NoError(t, err)
	assert.Equal(t, models.CredentialRevoked, status)
}

func TestAuthServiceLogoutAllRevokesEveryRecord(t *testing.T) {
	users := newMockUserRepo(activeUser(t, "password123"))
	store := newMockStore()
	svc := newTestService(users, store)

	device1, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: device1.RefreshToken, Scope: models.LogoutScopeAll}))

	sessions, err := svc.ListSessions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, models.CredentialRevoked, s.Status)
	}
}

func TestAuthServiceRevocationStatusNotFound(t *testing.T) {
	svc := newTestService(newMockUserRepo(), newMockStore())

	status, err := svc.RevocationStatus(context.Background(), "missing-credential")
	require.NoError(t, err)
	assert.Equal(t, models.CredentialNotFound, status)
}

func TestAuthServiceRevokeSessionForbiddenForOtherUser(t *testing.T) {
	users := newMockUserRepo(activeUser(t, "password123"))
	store := newMockStore()
	svc := newTestService(users, store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)
	claims, err := testAuthCodec().Verify(login.RefreshToken, token.TypeRefresh)
	require.NoError(t, err)

	other := &models.Principal{UserID: "u2", Role: models.RoleUser}
	err = svc.RevokeSession(context.Background(), other, claims.CredentialID())
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))

	admin := &models.Principal{UserID: "admin-1", Role: models.RoleAdmin}
	require.NoError(t, svc.RevokeSession(context.Background(), admin, claims.CredentialID()))
}

func TestAuthServiceStoreOutageIsNotInvalidToken(t *testing.T) {
	users := newMockUserRepo(activeUser(t, "password123"))
	store := newMockStore()
	svc := newTestService(users, store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)

	store.err = errors.New("connection refused")
	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnavailable))
	assert.False(t, appErrors.HasCode(err, appErrors.ErrInvalidToken))
}
