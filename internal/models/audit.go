package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin         = "LOGIN"
	AuditActionLogout        = "LOGOUT"
	AuditActionRegister      = "REGISTER"
	AuditActionUserUpdate    = "USER_UPDATE"
	AuditActionUserDelete    = "USER_DELETE"
	AuditActionSessionOpen   = "SESSION_OPEN"
	AuditActionSessionClose  = "SESSION_CLOSE"
	AuditActionCourseCreate  = "COURSE_CREATE"
	AuditActionPeriodsSeeded = "PERIODS_SEEDED"
	AuditActionPasswordSet   = "PASSWORD_CHANGE"
	AuditActionOTPLogin      = "OTP_LOGIN"
	AuditActionStaffCreate   = "STAFF_CREATE"
	AuditActionTokenReuse    = "TOKEN_REUSE"
)

// AuditLog represents an audit trail record. Values hold JSON documents.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  *string   `db:"old_values" json:"old_values,omitempty"`
	NewValues  *string   `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditLogFilter narrows the audit trail listing.
type AuditLogFilter struct {
	Action   string
	UserID   string
	Page     int
	PageSize int
}
