// internal/scanner/service.go
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ticket-service/internal/config"
	discovery "ticket-service/internal/discovery/serial"
	"ticket-service/internal/model"
)

const burstQueueSize = 64

// Source is an open character stream, usually a serial connection
type Source interface {
	Open(ctx context.Context) error
	Listen(ctx context.Context, onBurst func([]rune)) error
	Close() error
	Name() string
}

// SourceFactory builds a source for a discovered port
type SourceFactory func(port string) (Source, error)

// Discoverer selects the port to listen on
type Discoverer interface {
	Discover(ctx context.Context) (*discovery.PortHandle, error)
}

// Redeemer redeems classified codes
type Redeemer interface {
	Redeem(ctx context.Context, code string, source model.ScanSource) (*model.RedemptionResult, error)
	Reject(code string, source model.ScanSource) *model.RedemptionResult
}

type decodeErrorCounter interface {
	DecodeErrors() int64
}

type burst struct {
	chars []rune
	at    time.Time
}

type counters struct {
	bursts      atomic.Int64
	sessions    atomic.Int64
	overflows   atomic.Int64
	rejected    atomic.Int64
	redeemed    atomic.Int64
	alreadyUsed atomic.Int64
	notFound    atomic.Int64
	failed      atomic.Int64
}

// Service runs the serial scan pipeline: discovery, framing, classification
// and dispatch of redemptions. Failures here never stop the HTTP server.
type Service struct {
	config        *config.ScannerConfig
	redeemTimeout time.Duration
	classifier    *Classifier
	redeemer      Redeemer
	discoverer    Discoverer
	newSource     SourceFactory
	newTicker     func(d time.Duration) (<-chan time.Time, func())
	logger        *zap.Logger

	inflight sync.WaitGroup
	counters counters

	mutex     sync.RWMutex
	state     model.ScannerState
	port      string
	source    Source
	lastError string
	startedAt *time.Time
	lastScan  *time.Time
}

// NewService creates a new scanner service
func NewService(
	cfg *config.ScannerConfig,
	redeemTimeout time.Duration,
	classifier *Classifier,
	redeemer Redeemer,
	discoverer Discoverer,
	newSource SourceFactory,
	logger *zap.Logger,
) *Service {
	return &Service{
		config:        cfg,
		redeemTimeout: redeemTimeout,
		classifier:    classifier,
		redeemer:      redeemer,
		discoverer:    discoverer,
		newSource:     newSource,
		newTicker:     newTicker,
		logger:        logger.With(zap.String("component", "scanner")),
		state:         model.ScannerStopped,
	}
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(d)
	return ticker.C, ticker.Stop
}

// Run discovers the port and frames scans until ctx is cancelled or the
// port fails. On return no redemption started by Run is still running,
// unless the shutdown timeout expired.
func (s *Service) Run(ctx context.Context) error {
	s.setState(model.ScannerDiscovering, "", nil)

	handle, err := s.discoverer.Discover(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	source, err := s.newSource(handle.Name)
	if err != nil {
		s.fail(err)
		return err
	}
	if err := source.Open(ctx); err != nil {
		s.fail(err)
		return err
	}

	s.mutex.Lock()
	s.source = source
	s.mutex.Unlock()
	s.setState(model.ScannerListening, handle.Name, nil)
	s.logger.Info("Scanner listening",
		zap.String("port", handle.Name),
		zap.String("reason", handle.Reason),
		zap.Duration("threshold", s.config.InactivityThreshold),
	)

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()

	bursts := make(chan burst, burstQueueSize)
	listenDone := make(chan error, 1)
	go func() {
		listenDone <- source.Listen(listenCtx, func(chars []rune) {
			select {
			case bursts <- burst{chars: chars, at: time.Now()}:
			case <-listenCtx.Done():
			}
		})
	}()

	framer := NewFramer(s.config.InactivityThreshold, s.config.MaxCodeLength)
	ticks, stopTicks := s.newTicker(s.config.TickInterval)
	defer stopTicks()

	feed := func(b burst) {
		s.counters.bursts.Add(1)
		framer.Feed(b.chars, b.at)
	}

	var runErr error
	listening := true
	for listening {
		select {
		case <-ctx.Done():
			if framer.State() == StateAccumulating {
				s.logger.Debug("Discarding partial scan on shutdown", zap.Int("pending", framer.Pending()))
			}
			framer.Reset()
			listening = false

		case b := <-bursts:
			feed(b)

		case now := <-ticks:
			// no new scan once shutdown is signalled; the Done case ends the loop
			if ctx.Err() != nil {
				continue
			}
			// queued bursts count as activity before the gap is measured
		drain:
			for {
				select {
				case b := <-bursts:
					feed(b)
				default:
					break drain
				}
			}
			if session, ok := framer.Tick(now); ok {
				s.handleSession(ctx, session)
			}

		case err := <-listenDone:
			listenDone = nil
			if err == nil {
				err = errors.New("serial source stopped")
			}
			runErr = fmt.Errorf("scanner source failed: %w", err)
			framer.Reset()
			listening = false
		}
	}

	stopListening()
	s.shutdown(source, listenDone)

	if runErr != nil {
		s.fail(runErr)
		return runErr
	}
	s.setState(model.ScannerStopped, handle.Name, nil)
	return nil
}

// shutdown waits for the listener and in-flight redemptions, then closes the source
func (s *Service) shutdown(source Source, listenDone <-chan error) {
	deadline := time.NewTimer(s.config.ShutdownTimeout)
	defer deadline.Stop()

	if listenDone != nil {
		select {
		case <-listenDone:
		case <-deadline.C:
			s.logger.Warn("Timed out waiting for serial listener")
		}
	}

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-deadline.C:
		s.logger.Warn("Timed out waiting for in-flight redemptions")
	}

	if err := source.Close(); err != nil {
		s.logger.Error("Failed to close scanner source", zap.Error(err))
	}
}

func (s *Service) handleSession(ctx context.Context, session *Session) {
	if session.Overflowed {
		s.counters.overflows.Add(1)
		s.logger.Warn("Dropping oversized scan",
			zap.Int("max_code_length", s.config.MaxCodeLength),
			zap.Time("started_at", session.StartedAt),
		)
		return
	}
	if session.Code == "" {
		return
	}

	s.counters.sessions.Add(1)
	s.mutex.Lock()
	at := session.EndedAt
	s.lastScan = &at
	s.mutex.Unlock()

	if !s.classifier.Classify(session.Code) {
		s.counters.rejected.Add(1)
		s.redeemer.Reject(session.Code, model.SourceSerial)
		return
	}

	s.inflight.Add(1)
	go func(code string) {
		defer s.inflight.Done()

		// the redemption outlives a shutdown signal, bounded by its own timeout
		redeemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.redeemTimeout)
		defer cancel()

		result, _ := s.redeemer.Redeem(redeemCtx, code, model.SourceSerial)
		s.count(result)
	}(session.Code)
}

func (s *Service) count(result *model.RedemptionResult) {
	if result == nil {
		s.counters.failed.Add(1)
		return
	}
	switch result.Outcome {
	case model.OutcomeRedeemed:
		s.counters.redeemed.Add(1)
	case model.OutcomeAlreadyUsed:
		s.counters.alreadyUsed.Add(1)
	case model.OutcomeNotFound:
		s.counters.notFound.Add(1)
	default:
		s.counters.failed.Add(1)
	}
}

// MarkDisabled records that the scanner was turned off by configuration
func (s *Service) MarkDisabled() {
	s.setState(model.ScannerDisabled, "", nil)
}

// Status returns a snapshot of the scanner state
func (s *Service) Status() *model.ScannerStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	status := &model.ScannerStatus{
		State:     s.state,
		Port:      s.port,
		LastError: s.lastError,
		StartedAt: s.startedAt,
		LastScan:  s.lastScan,
		Threshold: s.config.InactivityThreshold,
		Counters: model.ScanCounters{
			Bursts:      s.counters.bursts.Load(),
			Sessions:    s.counters.sessions.Load(),
			Overflows:   s.counters.overflows.Load(),
			Rejected:    s.counters.rejected.Load(),
			Redeemed:    s.counters.redeemed.Load(),
			AlreadyUsed: s.counters.alreadyUsed.Load(),
			NotFound:    s.counters.notFound.Load(),
			Failed:      s.counters.failed.Load(),
		},
	}
	if counter, ok := s.source.(decodeErrorCounter); ok {
		status.Counters.DecodeErrors = counter.DecodeErrors()
	}
	return status
}

// IsHealthy reports whether the scanner is listening or intentionally off
func (s *Service) IsHealthy() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state == model.ScannerListening || s.state == model.ScannerDisabled
}

func (s *Service) setState(state model.ScannerState, port string, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.state = state
	if port != "" {
		s.port = port
	}
	if err != nil {
		s.lastError = err.Error()
	}
	if state == model.ScannerListening {
		now := time.Now()
		s.startedAt = &now
		s.lastError = ""
	}
}

func (s *Service) fail(err error) {
	s.logger.Error("Scanner subsystem stopped", zap.Error(err))
	s.setState(model.ScannerFailed, "", err)
}
