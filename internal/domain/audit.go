package domain

import "time"

// AuditAction names the kind of event an audit log entry records.
type AuditAction string

const (
	AuditLoginSuccess  AuditAction = "auth.login.success"
	AuditLoginFailure  AuditAction = "auth.login.failure"
	AuditLogout        AuditAction = "auth.logout"
	AuditRoleCreated   AuditAction = "role.created"
	AuditRoleUpdated   AuditAction = "role.updated"
	AuditRoleDeleted   AuditAction = "role.deleted"
	AuditUserDeleted   AuditAction = "user.deleted"
	AuditToolCallDenied AuditAction = "tool.call.denied"
)

// AuditOutcome is the result of the audited action.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
)

// AuditLog is a single audit log entry.
type AuditLog struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id,omitempty"`
	UserEmail string                 `json:"user_email,omitempty"`
	Action    AuditAction            `json:"action"`
	Outcome   AuditOutcome           `json:"outcome"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
