package domain

import "time"

// AuditLog records every state-changing request for compliance.
type AuditLog struct {
	ID        string    `json:"id"         db:"id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	Action    string    `json:"action"     db:"action"`
	Resource  string    `json:"resource"   db:"resource"`
	Details   string    `json:"details"    db:"details"` // JSON blob
	IP        string    `json:"ip"         db:"ip"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Audit action constants.
const (
	AuditActionLogin      = "login"
	AuditActionDisconnect = "disconnect"
	AuditActionRequest    = "http_request"
)
