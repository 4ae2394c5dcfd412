// internal/journal/journal.go
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"ticket-service/internal/config"
	"ticket-service/internal/model"
)

const keyPrefix = "journal/"

// ErrEntryNotFound is returned when an entry has already been removed or expired
var ErrEntryNotFound = errors.New("journal entry not found")

// Journal keeps codes whose redemption could not be persisted so they can be
// replayed once the ticket store is reachable again. Entries expire after the
// configured retention.
type Journal struct {
	db        *badger.DB
	retention time.Duration
	logger    *zap.Logger
}

// Open opens the journal at cfg.Path, or in memory when cfg.InMemory is set
func Open(cfg *config.JournalConfig, logger *zap.Logger) (*Journal, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(&badgerLogger{logger.Sugar().With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	logger.Info("Journal opened",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory),
		zap.Duration("retention", cfg.Retention),
	)

	return &Journal{
		db:        db,
		retention: cfg.Retention,
		logger:    logger.With(zap.String("component", "journal")),
	}, nil
}

// Append stores a new entry
func (j *Journal) Append(entry *model.JournalEntry) error {
	if entry.SyncStatus == "" {
		entry.SyncStatus = model.JournalPending
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := j.put(entry); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	j.logger.Warn("Code journaled for replay",
		zap.String("entry_id", entry.ID.String()),
		zap.String("scan_id", entry.ScanID.String()),
		zap.String("code", entry.Code),
	)
	return nil
}

// Pending returns up to limit pending entries, oldest first
func (j *Journal) Pending(limit int) ([]*model.JournalEntry, error) {
	var entries []*model.JournalEntry

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}

			var entry model.JournalEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				j.logger.Error("Skipping unreadable journal entry",
					zap.ByteString("key", it.Item().KeyCopy(nil)),
					zap.Error(err),
				)
				continue
			}

			if entry.SyncStatus == model.JournalPending {
				entries = append(entries, &entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	return entries, nil
}

// Remove deletes an entry
func (j *Journal) Remove(entry *model.JournalEntry) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(entry))
	})
	if err != nil {
		return fmt.Errorf("failed to remove journal entry: %w", err)
	}
	return nil
}

// MarkFailed records a failed replay. After maxAttempts the entry is parked
// as failed and no longer returned by Pending.
func (j *Journal) MarkFailed(entry *model.JournalEntry, cause error, maxAttempts int) error {
	now := time.Now()
	entry.SyncAttempts++
	entry.LastSyncAttempt = &now
	if cause != nil {
		entry.LastError = cause.Error()
	}
	if maxAttempts > 0 && entry.SyncAttempts >= maxAttempts {
		entry.SyncStatus = model.JournalFailed
		j.logger.Error("Journal entry exceeded replay attempts",
			zap.String("entry_id", entry.ID.String()),
			zap.String("code", entry.Code),
			zap.Int("attempts", entry.SyncAttempts),
		)
	}

	if err := j.put(entry); err != nil {
		return fmt.Errorf("failed to update journal entry: %w", err)
	}
	return nil
}

// Get returns a single entry
func (j *Journal) Get(entry *model.JournalEntry) (*model.JournalEntry, error) {
	var stored model.JournalEntry
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(entry))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Counts returns the number of pending and failed entries
func (j *Journal) Counts() (pending, failed int, err error) {
	err = j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry model.JournalEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue
			}
			switch entry.SyncStatus {
			case model.JournalPending:
				pending++
			case model.JournalFailed:
				failed++
			}
		}
		return nil
	})
	return pending, failed, err
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) put(entry *model.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return j.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(entryKey(entry), data)
		if j.retention > 0 {
			ttl := j.retention - time.Since(entry.CreatedAt)
			if ttl <= 0 {
				return txn.Delete(e.Key)
			}
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// entryKey orders entries by creation time
func entryKey(entry *model.JournalEntry) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", keyPrefix, entry.CreatedAt.UnixNano(), entry.ID))
}

// badgerLogger routes badger's logs through zap
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.Debugf(format, args...)
}
