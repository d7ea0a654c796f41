package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noteforge/noteforge/internal/models"
	"github.com/noteforge/noteforge/internal/repository"
	"github.com/noteforge/noteforge/internal/token"
	appErrors "github.com/noteforge/noteforge/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

// credentialStore is the durable record of issued refresh credentials. The
// auth service is its only writer.
type credentialStore interface {
	CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, id string) (*models.RefreshToken, error)
	ListUserRefreshTokens(ctx context.Context, userID string) ([]models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time) error
	ReplaceRefreshToken(ctx context.Context, oldID string, newToken *models.RefreshToken) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog)
}

type statusCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// AuthServiceConfig tunes issuance behavior beyond what the codec owns.
type AuthServiceConfig struct {
	BcryptCost         int
	RevocationCacheTTL time.Duration
}

// AuthService is the authentication authority: it issues, rotates, and
// revokes credentials and owns all writes to the credential store.
type AuthService struct {
	users     authUserRepository
	store     credentialStore
	cache     statusCache
	audits    auditRecorder
	codec     *token.Codec
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    AuthServiceConfig
}

// NewAuthService constructs an AuthService instance. Cache and metrics are
// optional.
func NewAuthService(users authUserRepository, store credentialStore, cache statusCache, codec *token.Codec, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config AuthServiceConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.BcryptCost <= 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.RevocationCacheTTL <= 0 {
		config.RevocationCacheTTL = 30 * time.Second
	}
	return &AuthService{
		users:     users,
		store:     store,
		cache:     cache,
		codec:     codec,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// SetAuditRecorder routes audit writes through the given recorder instead of
// inline store inserts.
func (s *AuthService) SetAuditRecorder(r auditRecorder) {
	s.audits = r
}

// Register creates a new platform account.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         models.RoleUser,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if appErrors.HasCode(err, appErrors.ErrAlreadyExists) {
			return nil, err
		}
		return nil, s.storeFailure(err, "failed to create user")
	}

	s.audit(ctx, &user.ID, models.AuditActionRegister, nil, "", "")

	return &models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role}, nil
}

// Login authenticates a user and returns an issued token pair together with a
// persisted refresh record.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, s.storeFailure(err, "failed to fetch user")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	pair, refreshClaims, err := s.issuePair(ctx, user, req.IP, req.UserAgent, "")
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	credID := refreshClaims.CredentialID()
	s.audit(ctx, &user.ID, models.AuditActionLogin, &credID, req.IP, req.UserAgent)

	pair.User = &models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role}
	return pair, nil
}

// Refresh exchanges a refresh token for a new token pair, atomically rotating
// the underlying credential. A replayed token revokes the whole session
// family and reports a generic invalid-token outcome so callers cannot probe
// for reuse detection.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.codec.Verify(req.RefreshToken, token.TypeRefresh)
	if err != nil {
		s.metrics.TokenRejected(rejectionReason(err))
		if errors.Is(err, token.ErrExpired) {
			return nil, appErrors.Clone(appErrors.ErrTokenExpired, "refresh token expired")
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "invalid refresh token")
	}

	record, err := s.store.FindRefreshToken(ctx, claims.CredentialID())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The signature may be valid, but the store is the source of
			// truth: a missing record is always a rejection.
			s.metrics.TokenRejected("unknown_credential")
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "invalid refresh token")
		}
		return nil, s.storeFailure(err, "failed to load refresh record")
	}

	if record.TokenHash != token.Hash(req.RefreshToken) {
		s.metrics.TokenRejected("hash_mismatch")
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "invalid refresh token")
	}

	if record.Consumed() {
		return nil, s.handleReuse(ctx, record, req.IP, req.UserAgent)
	}

	if time.Now().UTC().After(record.ExpiresAt) {
		s.metrics.TokenRejected("expired")
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "refresh token expired")
	}

	user, err := s.users.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "invalid refresh token")
		}
		return nil, s.storeFailure(err, "failed to load user")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	pair, refreshClaims, err := s.issuePair(ctx, user, req.IP, req.UserAgent, record.ID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialConsumed) {
			// Lost the rotation race: someone else consumed this token
			// between our read and the replace. Same response as replay.
			return nil, s.handleReuse(ctx, record, req.IP, req.UserAgent)
		}
		return nil, err
	}

	s.invalidateStatus(ctx, record.ID)

	credID := refreshClaims.CredentialID()
	s.audit(ctx, &record.UserID, models.AuditActionRefresh, &credID, req.IP, req.UserAgent)

	return pair, nil
}

// Logout revokes one refresh credential or the caller's whole session family.
// Idempotent: revoking an unknown or already-revoked token is a success.
func (s *AuthService) Logout(ctx context.Context, req models.LogoutRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid logout payload")
	}

	claims, err := s.codec.Verify(req.RefreshToken, token.TypeRefresh)
	if err != nil {
		// Nothing identifiable to revoke; logout stays idempotent.
		s.logger.Debug("logout with unverifiable refresh token", zap.Error(err))
		return nil
	}

	now := time.Now().UTC()
	credID := claims.CredentialID()

	if req.Scope == models.LogoutScopeAll {
		if err := s.store.RevokeUserRefreshTokens(ctx, claims.UserID, now); err != nil {
			return s.storeFailure(err, "failed to revoke session family")
		}
		s.invalidateUserStatus(ctx, claims.UserID)
		s.audit(ctx, &claims.UserID, models.AuditActionLogoutAll, &credID, req.IP, req.UserAgent)
		return nil
	}

	if err := s.store.RevokeRefreshToken(ctx, credID, now); err != nil {
		return s.storeFailure(err, "failed to revoke refresh token")
	}
	s.invalidateStatus(ctx, credID)
	s.audit(ctx, &claims.UserID, models.AuditActionLogout, &credID, req.IP, req.UserAgent)
	return nil
}

// RevocationStatus reports the lifecycle state of a refresh credential. This
// is the stateful check delegated to by validation clients that need
// certainty beyond signature validity.
func (s *AuthService) RevocationStatus(ctx context.Context, credentialID string) (models.CredentialStatus, error) {
	key := statusCacheKey(credentialID)
	if s.cache != nil {
		var cached models.CredentialStatus
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	record, err := s.store.FindRefreshToken(ctx, credentialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CredentialNotFound, nil
		}
		return "", s.storeFailure(err, "failed to load refresh record")
	}

	status := record.Status()
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, status, s.config.RevocationCacheTTL); err != nil {
			s.logger.Warn("failed to cache revocation status", zap.Error(err))
		}
	}
	return status, nil
}

// ListSessions returns the refresh records of a user for session management.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.SessionInfo, error) {
	records, err := s.store.ListUserRefreshTokens(ctx, userID)
	if err != nil {
		return nil, s.storeFailure(err, "failed to list sessions")
	}

	sessions := make([]models.SessionInfo, 0, len(records))
	for i := range records {
		rec := &records[i]
		sessions = append(sessions, models.SessionInfo{
			CredentialID: rec.ID,
			Status:       rec.Status(),
			IssuedAt:     rec.IssuedAt,
			ExpiresAt:    rec.ExpiresAt,
			IPAddress:    rec.IPAddress,
			UserAgent:    rec.UserAgent,
		})
	}
	return sessions, nil
}

// RevokeSession revokes a single refresh credential on behalf of the acting
// principal. Non-admins may only revoke their own sessions.
func (s *AuthService) RevokeSession(ctx context.Context, actor *models.Principal, credentialID string) error {
	record, err := s.store.FindRefreshToken(ctx, credentialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Idempotent from the caller's point of view.
			return nil
		}
		return s.storeFailure(err, "failed to load refresh record")
	}

	if record.UserID != actor.UserID && actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "session does not belong to caller")
	}

	if err := s.store.RevokeRefreshToken(ctx, credentialID, time.Now().UTC()); err != nil {
		return s.storeFailure(err, "failed to revoke session")
	}
	s.invalidateStatus(ctx, credentialID)
	s.audit(ctx, &actor.UserID, models.AuditActionRevokeOne, &credentialID, "", "")
	return nil
}

// issuePair signs a new access/refresh pair and persists the refresh record.
// When rotateFrom is set the record replaces the consumed credential in a
// single transaction.
func (s *AuthService) issuePair(ctx context.Context, user *models.User, ip, userAgent, rotateFrom string) (*models.TokenPairResponse, *token.Claims, error) {
	accessToken, _, err := s.codec.Issue(user, token.TypeAccess)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}

	refreshToken, refreshClaims, err := s.codec.Issue(user, token.TypeRefresh)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign refresh token")
	}

	now := time.Now().UTC()
	record := &models.RefreshToken{
		ID:        refreshClaims.CredentialID(),
		UserID:    user.ID,
		TokenHash: token.Hash(refreshToken),
		IssuedAt:  now,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
		CreatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
	}

	if rotateFrom == "" {
		err = s.store.CreateRefreshToken(ctx, record)
	} else {
		err = s.store.ReplaceRefreshToken(ctx, rotateFrom, record)
	}
	if err != nil {
		if errors.Is(err, repository.ErrCredentialConsumed) {
			return nil, nil, err
		}
		return nil, nil, s.storeFailure(err, "failed to persist refresh record")
	}

	s.metrics.TokenIssued(string(token.TypeAccess))
	s.metrics.TokenIssued(string(token.TypeRefresh))

	return &models.TokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.codec.TTL(token.TypeAccess).Seconds()),
		IssuedAt:     now,
	}, refreshClaims, nil
}

// handleReuse is the defensive response to a replayed refresh token: the
// entire session family is revoked and the caller receives the same generic
// rejection as for any invalid token.
func (s *AuthService) handleReuse(ctx context.Context, record *models.RefreshToken, ip, userAgent string) error {
	s.logger.Warn("refresh token reuse detected, revoking session family",
		zap.String("user_id", record.UserID),
		zap.String("credential_id", record.ID))
	s.metrics.ReuseDetected()

	if err := s.store.RevokeUserRefreshTokens(ctx, record.UserID, time.Now().UTC()); err != nil {
		s.logger.Error("failed to revoke session family after reuse detection",
			zap.Error(err),
			zap.String("user_id", record.UserID))
	}
	s.invalidateUserStatus(ctx, record.UserID)

	s.audit(ctx, &record.UserID, models.AuditActionTokenReuse, &record.ID, ip, userAgent)

	return appErrors.Clone(appErrors.ErrInvalidToken, "invalid refresh token")
}

func (s *AuthService) audit(ctx context.Context, userID *string, action string, credentialID *string, ip, userAgent string) {
	entry := &models.AuditLog{
		UserID:       userID,
		Action:       action,
		CredentialID: credentialID,
		IPAddress:    ip,
		UserAgent:    userAgent,
	}
	if s.audits != nil {
		s.audits.Record(ctx, entry)
		return
	}
	if err := s.store.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuthService) invalidateStatus(ctx context.Context, credentialID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statusCacheKey(credentialID)); err != nil {
		s.logger.Warn("failed to invalidate revocation cache", zap.Error(err))
	}
}

func (s *AuthService) invalidateUserStatus(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	records, err := s.store.ListUserRefreshTokens(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to list sessions for cache invalidation", zap.Error(err))
		return
	}
	keys := make([]string, 0, len(records))
	for i := range records {
		keys = append(keys, statusCacheKey(records[i].ID))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate revocation cache", zap.Error(err))
	}
}

// storeFailure keeps connectivity problems distinguishable from credential
// rejections: callers must never mistake an outage for an invalid token.
func (s *AuthService) storeFailure(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, message)
}

func statusCacheKey(credentialID string) string {
	return "auth:credential_status:" + credentialID
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, token.ErrWrongType):
		return "wrong_type"
	default:
		return "malformed"
	}
}
