package model

import "time"

// AuditEntry captures an admin operation against the backend.
type AuditEntry struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	Actor     string    `json:"actor" gorm:"size:64"`
	Action    string    `json:"action" gorm:"size:64"`
	Target    string    `json:"target" gorm:"size:128"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`
}
