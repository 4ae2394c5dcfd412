// internal/service/ticket_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ticket-service/internal/model"
	"ticket-service/internal/repository"
	"ticket-service/internal/utils"
)

const tokenPrefix = "TICKET_"

// TicketService issues and queries tickets
type TicketService struct {
	ticketRepo repository.TicketRepository
	logger     *utils.ServiceLogger
}

// NewTicketService creates a new ticket service
func NewTicketService(ticketRepo repository.TicketRepository, logger *zap.Logger) *TicketService {
	return &TicketService{
		ticketRepo: ticketRepo,
		logger:     utils.NewServiceLogger(logger, "ticket-service"),
	}
}

// CreateTicket stores a new unused ticket, generating a token when none is given
func (s *TicketService) CreateTicket(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	ticket.Token = strings.TrimSpace(ticket.Token)
	if ticket.Token == "" {
		ticket.Token = NewToken()
	}

	unused := model.TicketUnused
	ticket.ID = 0
	ticket.Used = &unused
	ticket.UpdatedAt = nil
	ticket.CreatedAt = time.Now()

	if err := s.ticketRepo.Create(ctx, ticket); err != nil {
		return nil, err
	}

	s.logger.Info("Ticket issued",
		zap.Int64("id", ticket.ID),
		zap.Int("n_ticket", ticket.TicketNumber),
		zap.String("type", ticket.Type),
	)
	return ticket, nil
}

// GetTicket returns a ticket by id
func (s *TicketService) GetTicket(ctx context.Context, id int64) (*model.Ticket, error) {
	return s.ticketRepo.GetByID(ctx, id)
}

// GetTicketByToken returns a ticket by token
func (s *TicketService) GetTicketByToken(ctx context.Context, token string) (*model.Ticket, error) {
	return s.ticketRepo.FindByToken(ctx, token)
}

// ListTickets lists tickets page by page
func (s *TicketService) ListTickets(ctx context.Context, filter *repository.TicketFilter) ([]*model.Ticket, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 || filter.PerPage > 100 {
		filter.PerPage = 20
	}

	tickets, total, err := s.ticketRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, total, nil
}

// GetStats returns usage counts
func (s *TicketService) GetStats(ctx context.Context) (*model.TicketStats, error) {
	return s.ticketRepo.GetStats(ctx)
}

// NewToken returns a fresh ticket token
func NewToken() string {
	return tokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
