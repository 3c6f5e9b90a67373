package store

import (
	"errors"
	"time"
)

// SessionRecord is one finished session in the audit trail.
type SessionRecord struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RemoteAddr string    `gorm:"type:varchar(255)" json:"remote_addr"`
	Mechanism  string    `gorm:"type:varchar(32)" json:"mechanism,omitempty"`
	Subject    string    `gorm:"type:varchar(1024);index" json:"subject,omitempty"`
	Identity   string    `gorm:"type:varchar(255)" json:"identity,omitempty"`
	Outcome    string    `gorm:"type:varchar(32);index;not null" json:"outcome"`
	Responded  bool      `json:"responded"`
	StatusCode int32     `json:"status_code"`
	Message    string    `gorm:"type:text" json:"message,omitempty"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// IdentityMapping binds a local username to an authenticated subject
// (Kerberos principal or certificate DN). A subject may have several.
type IdentityMapping struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Subject   string    `gorm:"uniqueIndex:idx_subject_username;type:varchar(1024);not null" json:"subject"`
	Username  string    `gorm:"uniqueIndex:idx_subject_username;type:varchar(255);not null" json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllModels returns the models managed by AutoMigrate.
func AllModels() []any {
	return []any{
		&SessionRecord{},
		&IdentityMapping{},
	}
}

// Error types for identity mapping operations.
var (
	ErrMappingNotFound  = errors.New("identity mapping not found")
	ErrDuplicateMapping = errors.New("identity mapping already exists")
	ErrInvalidMapping   = errors.New("identity mapping requires a subject and a username")
)
