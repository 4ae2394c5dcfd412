// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"ticket-service/internal/model"
)

var (
	// ErrTicketNotFound is returned when no ticket matches the lookup
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketAlreadyUsed is returned by MarkUsed when the ticket was redeemed before
	ErrTicketAlreadyUsed = errors.New("ticket already used")
	// ErrDuplicateToken is returned by Create when the token is taken
	ErrDuplicateToken = errors.New("ticket token already exists")
)

// TicketRepository defines ticket data access operations
type TicketRepository interface {
	// Issuing
	Create(ctx context.Context, ticket *model.Ticket) error

	// Lookup
	GetByID(ctx context.Context, id int64) (*model.Ticket, error)
	FindByToken(ctx context.Context, token string) (*model.Ticket, error)

	// MarkUsed flips the used flag of an unused ticket and stamps the
	// update time in one conditional write. It returns ErrTicketAlreadyUsed
	// when the ticket is already used.
	MarkUsed(ctx context.Context, id int64, at time.Time) error

	// Listing and reporting
	List(ctx context.Context, filter *TicketFilter) ([]*model.Ticket, int, error)
	GetStats(ctx context.Context) (*model.TicketStats, error)

	HealthCheck(ctx context.Context) error
}

// TicketFilter represents ticket listing filters
type TicketFilter struct {
	Used    *bool  `json:"used,omitempty"`
	Type    string `json:"type,omitempty"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

// Offset returns the row offset for the requested page
func (f *TicketFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}
