// internal/repository/memory_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ticket-service/internal/model"
)

// memoryTicketRepository keeps tickets in process memory. All writes
// hold the mutex so MarkUsed is as atomic as the postgres conditional update.
type memoryTicketRepository struct {
	mutex   sync.RWMutex
	nextID  int64
	byID    map[int64]*model.Ticket
	byToken map[string]int64
	logger  *zap.Logger
}

// NewMemoryTicketRepository creates an in-memory ticket repository
func NewMemoryTicketRepository(logger *zap.Logger) TicketRepository {
	return &memoryTicketRepository{
		byID:    make(map[int64]*model.Ticket),
		byToken: make(map[string]int64),
		logger:  logger.With(zap.String("repository", "ticket-memory")),
	}
}

func (r *memoryTicketRepository) Create(ctx context.Context, ticket *model.Ticket) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.byToken[ticket.Token]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateToken, ticket.Token)
	}

	r.nextID++
	ticket.ID = r.nextID
	r.byID[ticket.ID] = ticket.Clone()
	r.byToken[ticket.Token] = ticket.ID

	r.logger.Debug("Ticket created", zap.Int64("id", ticket.ID))
	return nil
}

func (r *memoryTicketRepository) GetByID(ctx context.Context, id int64) (*model.Ticket, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ticket, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrTicketNotFound, id)
	}
	return ticket.Clone(), nil
}

func (r *memoryTicketRepository) FindByToken(ctx context.Context, token string) (*model.Ticket, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *memoryTicketRepository) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	ticket, ok := r.byID[id]
	if !ok || ticket.IsUsed() {
		return ErrTicketAlreadyUsed
	}
	ticket.MarkUsed(at)
	return nil
}

func (r *memoryTicketRepository) List(ctx context.Context, filter *TicketFilter) ([]*model.Ticket, int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	matched := make([]*model.Ticket, 0, len(r.byID))
	for _, ticket := range r.byID {
		if filter.Used != nil && ticket.IsUsed() != *filter.Used {
			continue
		}
		if filter.Type != "" && ticket.Type != filter.Type {
			continue
		}
		matched = append(matched, ticket)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := total
	if filter.PerPage > 0 && start+filter.PerPage < end {
		end = start + filter.PerPage
	}

	page := make([]*model.Ticket, 0, end-start)
	for _, ticket := range matched[start:end] {
		page = append(page, ticket.Clone())
	}
	return page, total, nil
}

func (r *memoryTicketRepository) GetStats(ctx context.Context) (*model.TicketStats, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := &model.TicketStats{Total: len(r.byID)}
	for _, ticket := range r.byID {
		switch {
		case ticket.IsUsed():
			stats.Used++
		case ticket.Used == nil:
			stats.NeverSet++
			stats.Unused++
		default:
			stats.Unused++
		}
	}
	return stats, nil
}

func (r *memoryTicketRepository) HealthCheck(ctx context.Context) error {
	return nil
}
