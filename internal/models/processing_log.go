package models

import (
	"database/sql"
	"time"
)

// Processing log actions.
const (
	ActionExtraction   = "EXTRACTION"
	ActionAIProcessing = "AI_PROCESSING"
	ActionPersistence  = "PERSISTENCE"
	ActionPublishing   = "PUBLISHING"
)

// ProcessingLog represents a row in the processing_logs table. Rows are append-only.
type ProcessingLog struct {
	ID           int64          `db:"id" json:"id"`
	ArticleID    int64          `db:"article_id" json:"article_id"`
	Action       string         `db:"action" json:"action"`
	Message      string         `db:"message" json:"message"`
	CredentialID sql.NullString `db:"credential_id" json:"-"`
	Success      bool           `db:"success" json:"success"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// NewProcessingLog creates a log entry stamped now.
func NewProcessingLog(action, message string, success bool) ProcessingLog {
	return ProcessingLog{
		Action:    action,
		Message:   message,
		Success:   success,
		CreatedAt: time.Now().UTC(),
	}
}
