// internal/events/bus.go
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ticket-service/internal/model"
)

// Sink receives redemption events from the bus
type Sink interface {
	Name() string
	Send(ctx context.Context, event *model.RedemptionEvent) error
}

// Bus fans redemption events out to sinks on its own goroutine so that
// publishing never blocks a redemption
type Bus struct {
	events  chan *model.RedemptionEvent
	timeout time.Duration
	logger  *zap.Logger

	mutex  sync.RWMutex
	sinks  []Sink
	closed bool

	done    chan struct{}
	dropped atomic.Int64
}

// NewBus creates a new event bus
func NewBus(bufferSize int, timeout time.Duration, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bus{
		events:  make(chan *model.RedemptionEvent, bufferSize),
		timeout: timeout,
		logger:  logger.With(zap.String("component", "event-bus")),
		done:    make(chan struct{}),
	}
}

// AddSink registers a sink
func (b *Bus) AddSink(sink Sink) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.sinks = append(b.sinks, sink)
	b.logger.Info("Event sink registered", zap.String("sink", sink.Name()))
}

// Start distributes events until Close is called
func (b *Bus) Start() {
	defer close(b.done)
	for event := range b.events {
		b.distribute(event)
	}
}

// Publish queues an event, dropping it when the buffer is full
func (b *Bus) Publish(event *model.RedemptionEvent) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed {
		return
	}

	select {
	case b.events <- event:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event bus full, dropping event",
			zap.String("scan_id", event.ScanID.String()),
			zap.String("outcome", string(event.Outcome)),
		)
	}
}

// Close stops accepting events and waits for queued ones to be delivered
func (b *Bus) Close() {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mutex.Unlock()

	<-b.done
}

// Dropped returns the number of events dropped because the buffer was full
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) distribute(event *model.RedemptionEvent) {
	b.mutex.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mutex.RUnlock()

	for _, sink := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := sink.Send(ctx, event); err != nil {
			b.logger.Error("Failed to deliver event",
				zap.String("sink", sink.Name()),
				zap.String("scan_id", event.ScanID.String()),
				zap.Error(err),
			)
		}
		cancel()
	}
}
