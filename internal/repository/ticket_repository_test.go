package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ticket-service/internal/database"
	"ticket-service/internal/model"
)

var columns = []string{
	"id", "n_ticket", "abrir_viatura_id", "user_id", "tipo", "pagamento", "valor",
	"usado", "n_vt_usado", "token", "segunda_via", "online", "chamou", "create_at", "update_at",
}

func newMockRepo(t *testing.T) (TicketRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTicketRepository(database.Wrap(db, zap.NewNop()), zap.NewNop()), mock
}

func TestTicketRepository_FindByToken(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .* FROM tickets WHERE token").
		WithArgs("TICKET_1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(1, 100, 3, nil, "ADULT", "CASH", 1500, nil, nil, "TICKET_1", nil, 1, nil, created, nil))

	ticket, err := repo.FindByToken(context.Background(), "TICKET_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticket.ID)
	assert.Equal(t, 100, ticket.TicketNumber)
	assert.Equal(t, "TICKET_1", ticket.Token)
	assert.Nil(t, ticket.Used)
	assert.False(t, ticket.IsUsed())
	require.NotNil(t, ticket.Online)
	assert.Equal(t, 1, *ticket.Online)
	assert.Nil(t, ticket.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_FindByToken_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT .* FROM tickets WHERE token").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	ticket, err := repo.FindByToken(context.Background(), "missing")
	assert.Nil(t, ticket)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_MarkUsed(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unused ticket is redeemed", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE tickets SET usado = 1").
			WithArgs(int64(5), at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkUsed(context.Background(), 5, at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row updated means already used", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE tickets SET usado = 1").
			WithArgs(int64(5), at).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.MarkUsed(context.Background(), 5, at), ErrTicketAlreadyUsed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver error is wrapped", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		dbErr := errors.New("connection reset")
		mock.ExpectExec("UPDATE tickets SET usado = 1").
			WithArgs(int64(5), at).
			WillReturnError(dbErr)

		err := repo.MarkUsed(context.Background(), 5, at)
		assert.ErrorIs(t, err, dbErr)
		assert.NotErrorIs(t, err, ErrTicketAlreadyUsed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTicketRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Now()

	mock.ExpectQuery("INSERT INTO tickets").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	ticket := &model.Ticket{
		TicketNumber:  7,
		UnitID:        2,
		Type:          "ADULT",
		PaymentMethod: "CARD",
		Value:         1200,
		Token:         "TICKET_ABC",
		CreatedAt:     created,
	}

	require.NoError(t, repo.Create(context.Background(), ticket))
	assert.Equal(t, int64(42), ticket.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_Create_DuplicateToken(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO tickets").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := repo.Create(context.Background(), &model.Ticket{Token: "TICKET_ABC"})
	assert.ErrorIs(t, err, ErrDuplicateToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_List(t *testing.T) {
	repo, mock := newMockRepo(t)
	used := true
	created := time.Now()

	mock.ExpectQuery("SELECT COUNT.* FROM tickets WHERE usado = 1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT .* FROM tickets WHERE usado = 1 ORDER BY id DESC").
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(9, 1, 1, nil, "CHILD", "CASH", 500, 1, nil, "QR_9", nil, nil, nil, created, created))

	tickets, total, err := repo.List(context.Background(), &TicketFilter{Used: &used, Page: 1, PerPage: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, tickets, 1)
	assert.True(t, tickets[0].IsUsed())
	assert.NotNil(t, tickets[0].UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
