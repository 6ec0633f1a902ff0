package models

import (
	"time"

	"gorm.io/gorm"
)

// GatewaySession mirrors a tenant's live connection state into the
// database so operators can see it across restarts. The in-memory session
// map stays authoritative; these rows are status bookkeeping only.
type GatewaySession struct {
	ID           uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID     string         `json:"tenant_id" gorm:"size:100;not null;index"`
	Status       string         `json:"status" gorm:"type:varchar(20);default:'disconnected'"`
	DeviceJID    string         `json:"device_jid" gorm:"size:100"`
	LastActivity time.Time      `json:"last_activity" gorm:"autoUpdateTime"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for GatewaySession
func (GatewaySession) TableName() string {
	return "gateway_sessions"
}

// VerificationRecord is an append-only audit row for a session reference
// that passed the channel-follow gate. It is never read back; the
// verification check itself is served from the in-memory set, so a process
// restart clears verification.
type VerificationRecord struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionRef string    `json:"session_ref" gorm:"size:255;not null;index"`
	VerifiedAt time.Time `json:"verified_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for VerificationRecord
func (VerificationRecord) TableName() string {
	return "verification_records"
}
