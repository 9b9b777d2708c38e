package models

import "time"

// AuditRecord is a persisted login or booking lifecycle event.
type AuditRecord struct {
	ID        string
	Type      string
	Phone     string
	AttemptID string
	Outcome   string
	Message   string
	CreatedAt time.Time
}
