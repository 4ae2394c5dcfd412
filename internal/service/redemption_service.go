// internal/service/redemption_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ticket-service/internal/config"
	"ticket-service/internal/model"
	"ticket-service/internal/repository"
	"ticket-service/internal/utils"
)

// ErrStorePersistence is returned when the ticket store stayed unreachable after retries
var ErrStorePersistence = errors.New("ticket store persistence failed")

// EventPublisher receives one event per redemption outcome
type EventPublisher interface {
	Publish(event *model.RedemptionEvent)
}

// Journal stores codes that could not be redeemed for later replay
type Journal interface {
	Append(entry *model.JournalEntry) error
	Pending(limit int) ([]*model.JournalEntry, error)
	Remove(entry *model.JournalEntry) error
	MarkFailed(entry *model.JournalEntry, cause error, maxAttempts int) error
}

// RedemptionService redeems scanned codes against the ticket store
type RedemptionService struct {
	ticketRepo repository.TicketRepository
	journal    Journal
	publisher  EventPublisher
	redemption config.RedemptionConfig
	journalCfg config.JournalConfig
	logger     *utils.ServiceLogger
	scanLogger *utils.ScanLogger
	now        func() time.Time
}

// NewRedemptionService creates a new redemption service.
// journal and publisher may be nil.
func NewRedemptionService(
	ticketRepo repository.TicketRepository,
	journal Journal,
	publisher EventPublisher,
	config *config.Config,
	logger *zap.Logger,
) *RedemptionService {
	return &RedemptionService{
		ticketRepo: ticketRepo,
		journal:    journal,
		publisher:  publisher,
		redemption: config.Redemption,
		journalCfg: config.Journal,
		logger:     utils.NewServiceLogger(logger, "redemption-service"),
		scanLogger: utils.NewScanLogger(logger),
		now:        time.Now,
	}
}

// Redeem looks the code up and marks its ticket used at most once.
// Business outcomes return a nil error; only store failures return
// ErrStorePersistence, in which case the code is journaled when possible.
func (s *RedemptionService) Redeem(ctx context.Context, code string, source model.ScanSource) (*model.RedemptionResult, error) {
	return s.process(ctx, uuid.New(), code, source)
}

// Reject records a scan the classifier refused
func (s *RedemptionService) Reject(code string, source model.ScanSource) *model.RedemptionResult {
	result := &model.RedemptionResult{
		ScanID:     uuid.New(),
		Code:       code,
		Outcome:    model.OutcomeRejected,
		Source:     source,
		OccurredAt: s.now(),
	}
	s.report(result, nil)
	return result
}

func (s *RedemptionService) process(ctx context.Context, scanID uuid.UUID, code string, source model.ScanSource) (*model.RedemptionResult, error) {
	start := s.now()
	result := &model.RedemptionResult{
		ScanID: scanID,
		Code:   strings.TrimRight(code, "\r\n"),
		Source: source,
	}

	if result.Code == "" {
		result.Outcome = model.OutcomeRejected
		result.OccurredAt = s.now()
		s.report(result, nil)
		return result, nil
	}

	err := s.redeem(ctx, result)
	if err != nil {
		result.Outcome = model.OutcomeFailed
		err = fmt.Errorf("%w: %v", ErrStorePersistence, err)
		if source != model.SourceReplay {
			result.Journaled = s.journalCode(result, err)
		}
	}

	result.OccurredAt = s.now()
	result.Duration = result.OccurredAt.Sub(start)
	s.report(result, err)
	return result, err
}

// redeem sets result.Outcome; it only returns store errors
func (s *RedemptionService) redeem(ctx context.Context, result *model.RedemptionResult) error {
	var ticket *model.Ticket
	err := s.withRetry(ctx, "find_by_token", func(ctx context.Context) error {
		var err error
		ticket, err = s.ticketRepo.FindByToken(ctx, result.Code)
		return err
	})
	if errors.Is(err, repository.ErrTicketNotFound) {
		result.Outcome = model.OutcomeNotFound
		return nil
	}
	if err != nil {
		return err
	}

	result.Ticket = ticket
	if ticket.IsUsed() {
		result.Outcome = model.OutcomeAlreadyUsed
		return nil
	}

	usedAt := s.now()
	err = s.withRetry(ctx, "mark_used", func(ctx context.Context) error {
		return s.ticketRepo.MarkUsed(ctx, ticket.ID, usedAt)
	})
	switch {
	case errors.Is(err, repository.ErrTicketAlreadyUsed):
		// another redemption won the conditional update
		result.Outcome = model.OutcomeAlreadyUsed
		return nil
	case err != nil:
		return err
	}

	redeemed := ticket.Clone()
	redeemed.MarkUsed(usedAt)
	result.Ticket = redeemed
	result.Outcome = model.OutcomeRedeemed
	return nil
}

// withRetry retries store errors with exponential backoff. Not found and
// conflict are answers, not failures, and are returned immediately.
func (s *RedemptionService) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := s.redemption.RetryDelay
	var err error

	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil ||
			errors.Is(err, repository.ErrTicketNotFound) ||
			errors.Is(err, repository.ErrTicketAlreadyUsed) {
			return err
		}
		if attempt >= s.redemption.RetryAttempts || ctx.Err() != nil {
			return err
		}

		s.logger.Warn("Ticket store operation failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}

		delay *= 2
		if s.redemption.MaxRetryDelay > 0 && delay > s.redemption.MaxRetryDelay {
			delay = s.redemption.MaxRetryDelay
		}
	}
}

func (s *RedemptionService) journalCode(result *model.RedemptionResult, cause error) bool {
	if s.journal == nil {
		return false
	}

	entry := &model.JournalEntry{
		ID:        uuid.New(),
		ScanID:    result.ScanID,
		Code:      result.Code,
		Source:    result.Source,
		CreatedAt: s.now(),
		LastError: cause.Error(),
	}
	if err := s.journal.Append(entry); err != nil {
		s.logger.Error("Failed to journal code, redemption lost",
			zap.String("scan_id", result.ScanID.String()),
			zap.String("code", result.Code),
			zap.Error(err),
		)
		return false
	}
	return true
}

// ReplayJournal re-runs pending journal entries. Any business outcome removes
// the entry; the batch stops at the first store failure.
func (s *RedemptionService) ReplayJournal(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}

	entries, err := s.journal.Pending(s.journalCfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	s.logger.Info("Replaying journaled codes", zap.Int("count", len(entries)))

	replayed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}

		result, err := s.process(ctx, entry.ScanID, entry.Code, model.SourceReplay)
		if err != nil {
			if markErr := s.journal.MarkFailed(entry, err, s.journalCfg.MaxAttempts); markErr != nil {
				s.logger.Error("Failed to update journal entry", zap.Error(markErr))
			}
			return replayed, err
		}

		if err := s.journal.Remove(entry); err != nil {
			s.logger.Error("Failed to remove replayed journal entry",
				zap.String("entry_id", entry.ID.String()),
				zap.Error(err),
			)
			continue
		}

		replayed++
		s.logger.Info("Journal entry replayed",
			zap.String("scan_id", entry.ScanID.String()),
			zap.String("outcome", string(result.Outcome)),
		)
	}

	return replayed, nil
}

func (s *RedemptionService) report(result *model.RedemptionResult, err error) {
	s.scanLogger.LogResult(result, err)
	if s.publisher != nil {
		s.publisher.Publish(model.NewRedemptionEvent(result, err))
	}
}
