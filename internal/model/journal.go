// internal/model/journal.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Journal entry sync states
const (
	JournalPending = "PENDING"
	JournalFailed  = "FAILED"
)

// JournalEntry is a scanned code whose redemption could not be persisted
type JournalEntry struct {
	ID              uuid.UUID  `json:"id"`
	ScanID          uuid.UUID  `json:"scan_id"`
	Code            string     `json:"code"`
	Source          ScanSource `json:"source"`
	CreatedAt       time.Time  `json:"created_at"`
	SyncStatus      string     `json:"sync_status"`
	SyncAttempts    int        `json:"sync_attempts"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}
