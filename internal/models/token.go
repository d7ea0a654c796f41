package models

import "time"

// CredentialStatus describes the lifecycle state of a refresh credential.
// Active -> Rotated and Active -> Revoked are the only transitions; both end
// states are terminal.
type CredentialStatus string

const (
	CredentialActive   CredentialStatus = "active"
	CredentialRotated  CredentialStatus = "rotated"
	CredentialRevoked  CredentialStatus = "revoked"
	CredentialNotFound CredentialStatus = "not_found"
)

// RefreshToken is the persisted record of an issued refresh credential. The
// ID doubles as the credential id (jti) embedded in the signed token. Only the
// sha256 hash of the token material is stored.
type RefreshToken struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	TokenHash  string     `db:"token_hash" json:"-"`
	IssuedAt   time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	Revoked    bool       `db:"revoked" json:"revoked"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ReplacedBy *string    `db:"replaced_by" json:"replaced_by,omitempty"`
	IPAddress  string     `db:"ip_address" json:"ip_address"`
	UserAgent  string     `db:"user_agent" json:"user_agent"`
}

// Status derives the lifecycle state of the record. Expiry is evaluated
// lazily at verification time and does not affect the stored state.
func (t *RefreshToken) Status() CredentialStatus {
	if t == nil {
		return CredentialNotFound
	}
	if t.ReplacedBy != nil {
		return CredentialRotated
	}
	if t.Revoked {
		return CredentialRevoked
	}
	return CredentialActive
}

// Consumed reports whether the record can no longer be redeemed. Presenting a
// consumed token is the observable signal of replay.
func (t *RefreshToken) Consumed() bool {
	return t.Revoked || t.ReplacedBy != nil
}
