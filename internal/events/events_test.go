package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ticket-service/internal/model"
)

func testEvent(outcome model.RedemptionOutcome) *model.RedemptionEvent {
	ticketID := int64(7)
	return &model.RedemptionEvent{
		ID:         uuid.New(),
		ScanID:     uuid.New(),
		Code:       "TICKET_7",
		Outcome:    outcome,
		Source:     model.SourceSerial,
		TicketID:   &ticketID,
		OccurredAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

type recordingSink struct {
	mutex  sync.Mutex
	events []*model.RedemptionEvent
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, event *model.RedemptionEvent) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.events)
}

func TestBus_DeliversToEverySink(t *testing.T) {
	bus := NewBus(10, time.Second, zap.NewNop())
	first := &recordingSink{}
	failing := &recordingSink{err: errors.New("sink down")}
	bus.AddSink(failing)
	bus.AddSink(first)
	go bus.Start()

	bus.Publish(testEvent(model.OutcomeRedeemed))
	bus.Publish(testEvent(model.OutcomeAlreadyUsed))
	bus.Close()

	assert.Equal(t, 2, first.count())
	assert.Equal(t, 2, failing.count())

	// publishing after close is a no-op
	bus.Publish(testEvent(model.OutcomeNotFound))
	assert.Equal(t, 2, first.count())
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(1, time.Second, zap.NewNop())

	bus.Publish(testEvent(model.OutcomeRedeemed))
	bus.Publish(testEvent(model.OutcomeRedeemed))

	assert.Equal(t, int64(1), bus.Dropped())

	go bus.Start()
	bus.Close()
}

func TestRedisPublisher_Send(t *testing.T) {
	client, mock := redismock.NewClientMock()
	publisher := NewRedisPublisher(client, "ticket.redemptions", 1000)
	event := testEvent(model.OutcomeRedeemed)

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "ticket.redemptions",
		MaxLen: 1000,
		Approx: true,
		Values: []interface{}{
			"event_id", event.ID.String(),
			"scan_id", event.ScanID.String(),
			"outcome", "REDEEMED",
			"source", "SERIAL",
			"payload", string(payload),
		},
	}).SetVal("1-0")

	require.NoError(t, publisher.Send(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPublisher_SendError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	publisher := NewRedisPublisher(client, "ticket.redemptions", 0)
	event := testEvent(model.OutcomeNotFound)

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "ticket.redemptions",
		Values: []interface{}{
			"event_id", event.ID.String(),
			"scan_id", event.ScanID.String(),
			"outcome", "NOT_FOUND",
			"source", "SERIAL",
			"payload", string(payload),
		},
	}).SetErr(errors.New("READONLY"))

	err = publisher.Send(context.Background(), event)
	assert.ErrorContains(t, err, "READONLY")
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	closed    bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisher_Send(t *testing.T) {
	ch := &fakeChannel{}
	publisher, err := newAMQPPublisher(ch, "ticket.redemptions")
	require.NoError(t, err)
	assert.Equal(t, []string{"ticket.redemptions:fanout"}, ch.declared)

	event := testEvent(model.OutcomeRedeemed)
	require.NoError(t, publisher.Send(context.Background(), event))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, event.ID.String(), msg.MessageId)

	var decoded model.RedemptionEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, event.ScanID, decoded.ScanID)
	assert.Equal(t, model.OutcomeRedeemed, decoded.Outcome)

	require.NoError(t, publisher.Close())
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_CancelledContext(t *testing.T) {
	ch := &fakeChannel{}
	publisher, err := newAMQPPublisher(ch, "ticket.redemptions")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, publisher.Send(ctx, testEvent(model.OutcomeRedeemed)), context.Canceled)
	assert.Empty(t, ch.published)
}
