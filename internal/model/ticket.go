// internal/model/ticket.go
package model

import (
	"time"
)

// Used flag values as persisted in the usado column
const (
	TicketUnused = 0
	TicketUsed   = 1
)

// Ticket represents an issued admission ticket
type Ticket struct {
	ID            int64      `json:"id"`
	TicketNumber  int        `json:"ticket_number" binding:"required"`
	UnitID        int        `json:"unit_id" binding:"required"`
	UserID        *int       `json:"user_id,omitempty"`
	Type          string     `json:"type" binding:"required"`
	PaymentMethod string     `json:"payment_method" binding:"required"`
	Value         int        `json:"value"`
	Used          *int       `json:"used"`
	ReusedUnitID  *int       `json:"reused_unit_id,omitempty"`
	Token         string     `json:"token"`
	SecondCopy    *int       `json:"second_copy,omitempty"`
	Online        *int       `json:"online,omitempty"`
	Called        *int       `json:"called,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// IsUsed reports whether the ticket has already been redeemed.
// A nil flag means the ticket was never scanned.
func (t *Ticket) IsUsed() bool {
	return t.Used != nil && *t.Used == TicketUsed
}

// MarkUsed sets the used flag and stamps the update time
func (t *Ticket) MarkUsed(at time.Time) {
	used := TicketUsed
	t.Used = &used
	t.UpdatedAt = &at
}

// Clone returns a deep copy of the ticket
func (t *Ticket) Clone() *Ticket {
	c := *t
	c.UserID = cloneInt(t.UserID)
	c.Used = cloneInt(t.Used)
	c.ReusedUnitID = cloneInt(t.ReusedUnitID)
	c.SecondCopy = cloneInt(t.SecondCopy)
	c.Online = cloneInt(t.Online)
	c.Called = cloneInt(t.Called)
	if t.UpdatedAt != nil {
		u := *t.UpdatedAt
		c.UpdatedAt = &u
	}
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// TicketStats summarises ticket usage
type TicketStats struct {
	Total    int `json:"total"`
	Used     int `json:"used"`
	Unused   int `json:"unused"`
	NeverSet int `json:"never_scanned"`
}
