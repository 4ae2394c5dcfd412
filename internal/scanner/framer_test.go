package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threshold = time.Second

// drive feeds one character per step and ticks every 50ms in between,
// collecting every emitted code
type drive struct {
	framer *Framer
	now    time.Time
	codes  []string
	ended  []*Session
}

func newDrive() *drive {
	return &drive{
		framer: NewFramer(threshold, 8192),
		now:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (d *drive) wait(gap time.Duration) {
	const tick = 50 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < gap; elapsed += tick {
		step := tick
		if gap-elapsed < tick {
			step = gap - elapsed
		}
		d.now = d.now.Add(step)
		if session, ok := d.framer.Tick(d.now); ok {
			d.ended = append(d.ended, session)
			if session.Code != "" {
				d.codes = append(d.codes, session.Code)
			}
		}
	}
}

func (d *drive) feed(s string) {
	d.framer.Feed([]rune(s), d.now)
}

func TestFramer_GapsShorterThanThresholdMerge(t *testing.T) {
	d := newDrive()

	for _, ch := range []string{"T", "I", "C", "K", "E", "T", "_", "1"} {
		d.feed(ch)
		d.wait(50 * time.Millisecond)
	}
	d.wait(1100 * time.Millisecond)
	d.feed("X")
	d.wait(1100 * time.Millisecond)

	assert.Equal(t, []string{"TICKET_1", "X"}, d.codes)
	assert.Equal(t, StateIdle, d.framer.State())
}

func TestFramer_FiresOncePerSession(t *testing.T) {
	d := newDrive()
	d.feed("QR_ABC123")
	d.wait(5 * time.Second)

	assert.Len(t, d.ended, 1)
	assert.Equal(t, []string{"QR_ABC123"}, d.codes)
}

func TestFramer_ExactThresholdCompletes(t *testing.T) {
	f := NewFramer(threshold, 0)
	start := time.Now()
	f.Feed([]rune("ABC"), start)

	_, ok := f.Tick(start.Add(threshold - time.Millisecond))
	assert.False(t, ok)

	session, ok := f.Tick(start.Add(threshold))
	require.True(t, ok)
	assert.Equal(t, "ABC", session.Code)
}

func TestFramer_ActivityResetsTimer(t *testing.T) {
	f := NewFramer(threshold, 0)
	start := time.Now()
	f.Feed([]rune("A"), start)
	f.Feed([]rune("B"), start.Add(900*time.Millisecond))

	_, ok := f.Tick(start.Add(1500 * time.Millisecond))
	assert.False(t, ok)

	session, ok := f.Tick(start.Add(1900 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, "AB", session.Code)
}

func TestFramer_TrimsLineTerminators(t *testing.T) {
	d := newDrive()
	d.feed("TICKET_42\r\n")
	d.wait(1100 * time.Millisecond)

	assert.Equal(t, []string{"TICKET_42"}, d.codes)
}

func TestFramer_WhitespaceOnlyIsDiscarded(t *testing.T) {
	d := newDrive()
	d.feed(" \r\n\t")
	d.wait(1100 * time.Millisecond)

	require.Len(t, d.ended, 1)
	assert.Empty(t, d.ended[0].Code)
	assert.False(t, d.ended[0].Overflowed)
	assert.Empty(t, d.codes)
}

func TestFramer_OverflowDropsSession(t *testing.T) {
	f := NewFramer(threshold, 4)
	start := time.Now()
	f.Feed([]rune("ABC"), start)
	f.Feed([]rune("DEF"), start.Add(10*time.Millisecond))
	f.Feed([]rune("GHI"), start.Add(20*time.Millisecond))

	session, ok := f.Tick(start.Add(2 * time.Second))
	require.True(t, ok)
	assert.True(t, session.Overflowed)
	assert.Empty(t, session.Code)

	// the next session starts clean
	f.Feed([]rune("OK"), start.Add(3*time.Second))
	session, ok = f.Tick(start.Add(5 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "OK", session.Code)
}

func TestFramer_IdleTickIsNoop(t *testing.T) {
	f := NewFramer(threshold, 0)
	_, ok := f.Tick(time.Now())
	assert.False(t, ok)

	f.Feed(nil, time.Now())
	assert.Equal(t, StateIdle, f.State())
}

func TestFramer_Reset(t *testing.T) {
	f := NewFramer(threshold, 0)
	start := time.Now()
	f.Feed([]rune("PARTIAL"), start)
	f.Reset()

	assert.Equal(t, StateIdle, f.State())
	assert.Zero(t, f.Pending())
	_, ok := f.Tick(start.Add(time.Hour))
	assert.False(t, ok)
}
