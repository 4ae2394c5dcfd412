package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ticket-service/internal/config"
	"ticket-service/internal/journal"
	"ticket-service/internal/model"
	"ticket-service/internal/repository"
)

// flakyRepo wraps a repository, counting calls and failing while err is set
type flakyRepo struct {
	repository.TicketRepository

	mutex     sync.Mutex
	err       error
	finds     atomic.Int32
	markUseds atomic.Int32
}

func (r *flakyRepo) setErr(err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.err = err
}

func (r *flakyRepo) currentErr() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.err
}

func (r *flakyRepo) FindByToken(ctx context.Context, token string) (*model.Ticket, error) {
	r.finds.Add(1)
	if err := r.currentErr(); err != nil {
		return nil, err
	}
	return r.TicketRepository.FindByToken(ctx, token)
}

func (r *flakyRepo) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	r.markUseds.Add(1)
	if err := r.currentErr(); err != nil {
		return err
	}
	return r.TicketRepository.MarkUsed(ctx, id, at)
}

type recordingPublisher struct {
	mutex  sync.Mutex
	events []*model.RedemptionEvent
}

func (p *recordingPublisher) Publish(event *model.RedemptionEvent) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) outcomes() []model.RedemptionOutcome {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var out []model.RedemptionOutcome
	for _, e := range p.events {
		out = append(out, e.Outcome)
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Redemption: config.RedemptionConfig{
			Timeout:       time.Second,
			RetryAttempts: 2,
			RetryDelay:    time.Millisecond,
			MaxRetryDelay: 4 * time.Millisecond,
		},
		Journal: config.JournalConfig{
			Enabled:     true,
			InMemory:    true,
			MaxAttempts: 3,
			BatchSize:   10,
			Retention:   time.Hour,
		},
	}
}

type fixture struct {
	repo      *flakyRepo
	journal   *journal.Journal
	publisher *recordingPublisher
	service   *RedemptionService
}

func newFixture(t *testing.T, tokens ...string) *fixture {
	t.Helper()
	cfg := testConfig()

	memory := repository.NewMemoryTicketRepository(zap.NewNop())
	for i, token := range tokens {
		require.NoError(t, memory.Create(context.Background(), &model.Ticket{
			TicketNumber:  i + 1,
			UnitID:        1,
			Type:          "ADULT",
			PaymentMethod: "CASH",
			Token:         token,
			CreatedAt:     time.Now(),
		}))
	}

	j, err := journal.Open(&cfg.Journal, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	f := &fixture{
		repo:      &flakyRepo{TicketRepository: memory},
		journal:   j,
		publisher: &recordingPublisher{},
	}
	f.service = NewRedemptionService(f.repo, j, f.publisher, cfg, zap.NewNop())
	return f
}

func TestRedeem_UnusedTicket(t *testing.T) {
	f := newFixture(t, "TICKET_1")

	result, err := f.service.Redeem(context.Background(), "TICKET_1\r\n", model.SourceSerial)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRedeemed, result.Outcome)
	assert.Equal(t, "TICKET_1", result.Code)
	require.NotNil(t, result.Ticket)
	assert.True(t, result.Ticket.IsUsed())

	stored, err := f.repo.FindByToken(context.Background(), "TICKET_1")
	require.NoError(t, err)
	assert.True(t, stored.IsUsed())
	assert.NotNil(t, stored.UpdatedAt)

	assert.Equal(t, []model.RedemptionOutcome{model.OutcomeRedeemed}, f.publisher.outcomes())
}

func TestRedeem_ConcurrentAttemptsRedeemOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		repo := repository.NewMemoryTicketRepository(zap.NewNop())
		require.NoError(t, repo.Create(context.Background(), &model.Ticket{Token: "TICKET_RACE", Type: "ADULT"}))
		service := NewRedemptionService(repo, nil, nil, testConfig(), zap.NewNop())

		var wg sync.WaitGroup
		results := make([]*model.RedemptionResult, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				result, err := service.Redeem(context.Background(), "TICKET_RACE", model.SourceSerial)
				assert.NoError(t, err)
				results[i] = result
			}(i)
		}
		wg.Wait()

		outcomes := []model.RedemptionOutcome{results[0].Outcome, results[1].Outcome}
		assert.ElementsMatch(t, []model.RedemptionOutcome{model.OutcomeRedeemed, model.OutcomeAlreadyUsed}, outcomes)

		stored, err := repo.FindByToken(context.Background(), "TICKET_RACE")
		require.NoError(t, err)
		assert.True(t, stored.IsUsed())
	}
}

func TestRedeem_AlreadyUsedIsNotRestamped(t *testing.T) {
	f := newFixture(t, "QR_ABC123")
	ctx := context.Background()

	_, err := f.service.Redeem(ctx, "QR_ABC123", model.SourceSerial)
	require.NoError(t, err)
	first, err := f.repo.FindByToken(ctx, "QR_ABC123")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	result, err := f.service.Redeem(ctx, "QR_ABC123", model.SourceSerial)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAlreadyUsed, result.Outcome)

	second, err := f.repo.FindByToken(ctx, "QR_ABC123")
	require.NoError(t, err)
	assert.Equal(t, *first.UpdatedAt, *second.UpdatedAt)
	assert.Equal(t, int32(1), f.repo.markUseds.Load())
}

func TestRedeem_NotFoundDoesNotMutate(t *testing.T) {
	f := newFixture(t, "TICKET_1")

	result, err := f.service.Redeem(context.Background(), "TICKET_404", model.SourceHTTP)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNotFound, result.Outcome)
	assert.Nil(t, result.Ticket)
	assert.Zero(t, f.repo.markUseds.Load())

	stats, err := f.repo.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Used)
}

func TestRedeem_EmptyCodeIsRejected(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Redeem(context.Background(), "\r\n", model.SourceHTTP)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, result.Outcome)
	assert.Zero(t, f.repo.finds.Load())
}

func TestRedeem_TransientStoreErrorIsRetried(t *testing.T) {
	f := newFixture(t, "TICKET_1")
	f.repo.setErr(errors.New("connection reset"))

	go func() {
		time.Sleep(time.Millisecond)
		f.repo.setErr(nil)
	}()

	// the backoff schedule outlasts the outage
	f.service.redemption.RetryAttempts = 5
	f.service.redemption.RetryDelay = 5 * time.Millisecond
	f.service.redemption.MaxRetryDelay = 20 * time.Millisecond

	result, err := f.service.Redeem(context.Background(), "TICKET_1", model.SourceSerial)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRedeemed, result.Outcome)
}

func TestRedeem_StoreFailureIsJournaledAndReplayed(t *testing.T) {
	f := newFixture(t, "TICKET_1")
	ctx := context.Background()
	f.repo.setErr(errors.New("connection refused"))

	result, err := f.service.Redeem(ctx, "TICKET_1", model.SourceSerial)
	assert.ErrorIs(t, err, ErrStorePersistence)
	assert.Equal(t, model.OutcomeFailed, result.Outcome)
	assert.True(t, result.Journaled)
	assert.Equal(t, int32(3), f.repo.finds.Load())

	pending, err := f.journal.Pending(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "TICKET_1", pending[0].Code)
	assert.Equal(t, result.ScanID, pending[0].ScanID)

	// replay while the store is still down keeps the entry
	replayed, err := f.service.ReplayJournal(ctx)
	assert.ErrorIs(t, err, ErrStorePersistence)
	assert.Zero(t, replayed)

	f.repo.setErr(nil)
	replayed, err = f.service.ReplayJournal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)

	pending, err = f.journal.Pending(0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := f.repo.FindByToken(ctx, "TICKET_1")
	require.NoError(t, err)
	assert.True(t, stored.IsUsed())

	assert.Equal(t, []model.RedemptionOutcome{
		model.OutcomeFailed, model.OutcomeFailed, model.OutcomeRedeemed,
	}, f.publisher.outcomes())
}

func TestRedeem_ReplayParksEntryAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, "TICKET_1")
	ctx := context.Background()
	f.repo.setErr(errors.New("connection refused"))

	_, err := f.service.Redeem(ctx, "TICKET_1", model.SourceSerial)
	require.Error(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.service.ReplayJournal(ctx)
		require.Error(t, err)
	}

	pending, failed, err := f.journal.Counts()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, 1, failed)
}

func TestReject_PublishesOutcome(t *testing.T) {
	f := newFixture(t)

	result := f.service.Reject("!!", model.SourceSerial)
	assert.Equal(t, model.OutcomeRejected, result.Outcome)
	assert.Equal(t, []model.RedemptionOutcome{model.OutcomeRejected}, f.publisher.outcomes())
}
