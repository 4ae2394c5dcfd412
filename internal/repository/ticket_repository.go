// internal/repository/ticket_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"ticket-service/internal/database"
	"ticket-service/internal/model"
)

const uniqueViolation = "23505"

const ticketColumns = `
	id, n_ticket, abrir_viatura_id, user_id, tipo, pagamento, valor,
	usado, n_vt_usado, token, segunda_via, online, chamou, create_at, update_at
`

// ticketRepository implements TicketRepository on postgres
type ticketRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewTicketRepository creates a new postgres ticket repository
func NewTicketRepository(db *database.DB, logger *zap.Logger) TicketRepository {
	return &ticketRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "ticket")),
	}
}

// Create inserts a new ticket and fills its id and creation time
func (r *ticketRepository) Create(ctx context.Context, ticket *model.Ticket) error {
	query := `
		INSERT INTO tickets (
			n_ticket, abrir_viatura_id, user_id, tipo, pagamento, valor,
			usado, n_vt_usado, token, segunda_via, online, chamou, create_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		ticket.TicketNumber, ticket.UnitID, ticket.UserID, ticket.Type,
		ticket.PaymentMethod, ticket.Value, ticket.Used, ticket.ReusedUnitID,
		ticket.Token, ticket.SecondCopy, ticket.Online, ticket.Called, ticket.CreatedAt,
	).Scan(&ticket.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateToken, ticket.Token)
		}
		r.logger.Error("Failed to create ticket", zap.Error(err), zap.Int("n_ticket", ticket.TicketNumber))
		return fmt.Errorf("failed to create ticket: %w", err)
	}

	r.logger.Info("Ticket created successfully", zap.Int64("id", ticket.ID))
	return nil
}

// GetByID retrieves a ticket by its id
func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrTicketNotFound, id)
		}
		r.logger.Error("Failed to get ticket by ID", zap.Error(err), zap.Int64("id", id))
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	return ticket, nil
}

// FindByToken retrieves a ticket by exact token match
func (r *ticketRepository) FindByToken(ctx context.Context, token string) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE token = $1 LIMIT 1`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		r.logger.Error("Failed to find ticket by token", zap.Error(err))
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}

	return ticket, nil
}

// MarkUsed redeems an unused ticket with a single conditional update
func (r *ticketRepository) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE tickets SET usado = 1, update_at = $2
		WHERE id = $1 AND (usado IS NULL OR usado = 0)
	`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		r.logger.Error("Failed to mark ticket as used", zap.Error(err), zap.Int64("id", id))
		return fmt.Errorf("failed to mark ticket as used: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrTicketAlreadyUsed
	}

	return nil
}

// List lists tickets with filtering and pagination
func (r *ticketRepository) List(ctx context.Context, filter *TicketFilter) ([]*model.Ticket, int, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.Used != nil {
		if *filter.Used {
			conditions = append(conditions, "usado = 1")
		} else {
			conditions = append(conditions, "(usado IS NULL OR usado = 0)")
		}
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("tipo = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	args = append(args, filter.PerPage, filter.Offset())
	query := fmt.Sprintf(`SELECT %s FROM tickets%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		ticketColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []*model.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			r.logger.Error("Failed to scan ticket", zap.Error(err))
			continue
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate tickets: %w", err)
	}

	return tickets, total, nil
}

// GetStats returns ticket usage counts
func (r *ticketRepository) GetStats(ctx context.Context) (*model.TicketStats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE usado = 1),
			COUNT(*) FILTER (WHERE usado = 0),
			COUNT(*) FILTER (WHERE usado IS NULL)
		FROM tickets
	`

	stats := &model.TicketStats{}
	var unusedZero int
	err := r.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Used, &unusedZero, &stats.NeverSet)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket stats: %w", err)
	}
	stats.Unused = unusedZero + stats.NeverSet

	return stats, nil
}

// HealthCheck verifies the database is reachable
func (r *ticketRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*model.Ticket, error) {
	var (
		ticket       model.Ticket
		userID       sql.NullInt64
		used         sql.NullInt64
		reusedUnitID sql.NullInt64
		secondCopy   sql.NullInt64
		online       sql.NullInt64
		called       sql.NullInt64
		updatedAt    sql.NullTime
	)

	err := row.Scan(
		&ticket.ID, &ticket.TicketNumber, &ticket.UnitID, &userID, &ticket.Type,
		&ticket.PaymentMethod, &ticket.Value, &used, &reusedUnitID, &ticket.Token,
		&secondCopy, &online, &called, &ticket.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ticket.UserID = nullInt(userID)
	ticket.Used = nullInt(used)
	ticket.ReusedUnitID = nullInt(reusedUnitID)
	ticket.SecondCopy = nullInt(secondCopy)
	ticket.Online = nullInt(online)
	ticket.Called = nullInt(called)
	if updatedAt.Valid {
		t := updatedAt.Time
		ticket.UpdatedAt = &t
	}

	return &ticket, nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
