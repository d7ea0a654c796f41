package models

import "time"

// Audit actions recorded by the auth service.
const (
	AuditActionRegister   = "auth.register"
	AuditActionLogin      = "auth.login"
	AuditActionRefresh    = "auth.refresh"
	AuditActionLogout     = "auth.logout"
	AuditActionLogoutAll  = "auth.logout_all"
	AuditActionTokenReuse = "auth.token_reuse"
	AuditActionRevokeOne  = "auth.revoke_session"
)

// AuditLog stores a security-relevant event. Token reuse detections land here
// so compromised session families can be investigated.
type AuditLog struct {
	ID           string    `db:"id" json:"id"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	Action       string    `db:"action" json:"action"`
	CredentialID *string   `db:"credential_id" json:"credential_id,omitempty"`
	Detail       []byte    `db:"detail" json:"detail,omitempty"`
	IPAddress    string    `db:"ip_address" json:"ip_address"`
	UserAgent    string    `db:"user_agent" json:"user_agent"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
