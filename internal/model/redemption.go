// internal/model/redemption.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// RedemptionOutcome is the business result of one scan
type RedemptionOutcome string

const (
	OutcomeRedeemed    RedemptionOutcome = "REDEEMED"
	OutcomeAlreadyUsed RedemptionOutcome = "ALREADY_USED"
	OutcomeNotFound    RedemptionOutcome = "NOT_FOUND"
	OutcomeRejected    RedemptionOutcome = "REJECTED"
	// OutcomeFailed is reported when the store could not be reached;
	// the code is journaled for replay when the journal is enabled.
	OutcomeFailed RedemptionOutcome = "FAILED"
)

// ScanSource identifies where a code came from
type ScanSource string

const (
	SourceSerial ScanSource = "SERIAL"
	SourceHTTP   ScanSource = "HTTP"
	SourceReplay ScanSource = "REPLAY"
)

// RedemptionResult is returned by the redemption worker
type RedemptionResult struct {
	ScanID     uuid.UUID         `json:"scan_id"`
	Code       string            `json:"code"`
	Outcome    RedemptionOutcome `json:"outcome"`
	Source     ScanSource        `json:"source"`
	Ticket     *Ticket           `json:"ticket,omitempty"`
	Journaled  bool              `json:"journaled,omitempty"`
	Duration   time.Duration     `json:"duration"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// RedemptionEvent is published for every redemption outcome
type RedemptionEvent struct {
	ID         uuid.UUID         `json:"id"`
	ScanID     uuid.UUID         `json:"scan_id"`
	Code       string            `json:"code"`
	Outcome    RedemptionOutcome `json:"outcome"`
	Source     ScanSource        `json:"source"`
	TicketID   *int64            `json:"ticket_id,omitempty"`
	Error      string            `json:"error,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewRedemptionEvent builds the event describing a result
func NewRedemptionEvent(result *RedemptionResult, err error) *RedemptionEvent {
	event := &RedemptionEvent{
		ID:         uuid.New(),
		ScanID:     result.ScanID,
		Code:       result.Code,
		Outcome:    result.Outcome,
		Source:     result.Source,
		OccurredAt: result.OccurredAt,
	}
	if result.Ticket != nil {
		id := result.Ticket.ID
		event.TicketID = &id
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

// ScannerState is the lifecycle state of the serial scanner subsystem
type ScannerState string

const (
	ScannerStopped     ScannerState = "STOPPED"
	ScannerDiscovering ScannerState = "DISCOVERING"
	ScannerListening   ScannerState = "LISTENING"
	ScannerFailed      ScannerState = "FAILED"
	ScannerDisabled    ScannerState = "DISABLED"
)

// ScannerStatus is a snapshot of the scanner subsystem
type ScannerStatus struct {
	State     ScannerState  `json:"state"`
	Port      string        `json:"port,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	LastScan  *time.Time    `json:"last_scan,omitempty"`
	Counters  ScanCounters  `json:"counters"`
	Threshold time.Duration `json:"inactivity_threshold"`
}

// ScanCounters are cumulative scanner counters
type ScanCounters struct {
	Bursts       int64 `json:"bursts"`
	DecodeErrors int64 `json:"decode_errors"`
	Sessions     int64 `json:"sessions"`
	Overflows    int64 `json:"overflows"`
	Rejected     int64 `json:"rejected"`
	Redeemed     int64 `json:"redeemed"`
	AlreadyUsed  int64 `json:"already_used"`
	NotFound     int64 `json:"not_found"`
	Failed       int64 `json:"failed"`
}
