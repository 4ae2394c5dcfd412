package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ticket-service/internal/config"
	"ticket-service/internal/model"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(&config.JournalConfig{InMemory: true, Retention: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func newEntry(code string, createdAt time.Time) *model.JournalEntry {
	return &model.JournalEntry{
		ID:        uuid.New(),
		ScanID:    uuid.New(),
		Code:      code,
		Source:    model.SourceSerial,
		CreatedAt: createdAt,
	}
}

func TestJournal_AppendAndPendingInOrder(t *testing.T) {
	j := openTestJournal(t)
	base := time.Now()

	require.NoError(t, j.Append(newEntry("TICKET_2", base.Add(time.Second))))
	require.NoError(t, j.Append(newEntry("TICKET_1", base)))
	require.NoError(t, j.Append(newEntry("TICKET_3", base.Add(2*time.Second))))

	entries, err := j.Pending(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "TICKET_1", entries[0].Code)
	assert.Equal(t, "TICKET_2", entries[1].Code)
	assert.Equal(t, "TICKET_3", entries[2].Code)
	assert.Equal(t, model.JournalPending, entries[0].SyncStatus)

	limited, err := j.Pending(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestJournal_Remove(t *testing.T) {
	j := openTestJournal(t)
	entry := newEntry("QR_1", time.Now())
	require.NoError(t, j.Append(entry))

	require.NoError(t, j.Remove(entry))

	entries, err := j.Pending(0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = j.Get(entry)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestJournal_MarkFailedParksAfterMaxAttempts(t *testing.T) {
	j := openTestJournal(t)
	entry := newEntry("TICKET_9", time.Now())
	require.NoError(t, j.Append(entry))

	cause := errors.New("connection refused")
	require.NoError(t, j.MarkFailed(entry, cause, 2))

	stored, err := j.Get(entry)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.SyncAttempts)
	assert.Equal(t, model.JournalPending, stored.SyncStatus)
	assert.Equal(t, "connection refused", stored.LastError)
	assert.NotNil(t, stored.LastSyncAttempt)

	require.NoError(t, j.MarkFailed(entry, cause, 2))

	entries, err := j.Pending(0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	pending, failed, err := j.Counts()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, failed)
}

func TestJournal_ExpiredEntryIsNotStored(t *testing.T) {
	j := openTestJournal(t)
	entry := newEntry("TICKET_OLD", time.Now().Add(-2*time.Hour))
	require.NoError(t, j.Append(entry))

	_, err := j.Get(entry)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}
