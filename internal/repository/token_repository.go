package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noteforge/noteforge/internal/models"
	appErrors "github.com/noteforge/noteforge/pkg/errors"
)

// ErrCredentialConsumed signals that a refresh record was already rotated or
// revoked when a replace was attempted. The auth service treats this as token
// reuse.
var ErrCredentialConsumed = errors.New("refresh credential already consumed")

// TokenRepository is the durable credential store for refresh records and
// security audit events. Only the Authentication Authority writes here.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateRefreshToken persists a new refresh record. A duplicate credential id
// yields ErrDuplicateCredential.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at, created_at, revoked, revoked_at, replaced_by, ip_address, user_agent) VALUES (:id, :user_id, :token_hash, :issued_at, :expires_at, :created_at, :revoked, :revoked_at, :replaced_by, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrDuplicateCredential, "credential id already exists")
		}
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh record by credential id.
func (r *TokenRepository) FindRefreshToken(ctx context.Context, id string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token_hash, issued_at, expires_at, created_at, revoked, revoked_at, replaced_by, ip_address, user_agent FROM refresh_tokens WHERE id = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// ListUserRefreshTokens returns all refresh records for a user, newest first.
func (r *TokenRepository) ListUserRefreshTokens(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	const query = `SELECT id, user_id, token_hash, issued_at, expires_at, created_at, revoked, revoked_at, replaced_by, ip_address, user_agent FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at DESC`
	var tokens []models.RefreshToken
	if err := r.db.SelectContext(ctx, &tokens, query, userID); err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	return tokens, nil
}

// RevokeRefreshToken marks a record as revoked. Revoking an already-revoked
// record is a no-op success.
func (r *TokenRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every outstanding record for a user.
// Idempotent; used by logout-all and reuse-triggered family revocation.
func (r *TokenRepository) RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, revokedAt); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// ReplaceRefreshToken atomically rotates a credential: the old record is
// marked revoked with a replaced-by pointer and the new record is inserted in
// the same transaction. The guarded UPDATE acts as a compare-and-swap: if the
// old record was already consumed, zero rows match and the transaction rolls
// back with ErrCredentialConsumed, so two concurrent rotations of the same
// token can never both succeed.
func (r *TokenRepository) ReplaceRefreshToken(ctx context.Context, oldID string, newToken *models.RefreshToken) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, replaced_by = $3 WHERE id = $1 AND revoked = FALSE AND replaced_by IS NULL`,
		oldID, now, newToken.ID,
	)
	if err != nil {
		return fmt.Errorf("consume old refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume old refresh token: %w", err)
	}
	if affected == 0 {
		return ErrCredentialConsumed
	}

	if newToken.CreatedAt.IsZero() {
		newToken.CreatedAt = now
	}
	const insert = `INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at, created_at, revoked, revoked_at, replaced_by, ip_address, user_agent) VALUES (:id, :user_id, :token_hash, :issued_at, :expires_at, :created_at, :revoked, :revoked_at, :replaced_by, :ip_address, :user_agent)`
	if _, err := tx.NamedExecContext(ctx, insert, newToken); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrDuplicateCredential, "credential id already exists")
		}
		return fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace transaction: %w", err)
	}
	return nil
}

// CreateAuditLog stores a security audit event.
func (r *TokenRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, credential_id, detail, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :credential_id, :detail, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
