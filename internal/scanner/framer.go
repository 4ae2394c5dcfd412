// internal/scanner/framer.go
package scanner

import (
	"strings"
	"time"
)

// FramerState is the state of the scan framer
type FramerState int

const (
	StateIdle FramerState = iota
	StateAccumulating
)

func (s FramerState) String() string {
	if s == StateAccumulating {
		return "accumulating"
	}
	return "idle"
}

// Session is a completed scan session.
// Code is empty when the session was discarded.
type Session struct {
	Code       string
	Length     int
	Overflowed bool
	StartedAt  time.Time
	EndedAt    time.Time
}

// Framer groups characters into scans by inactivity alone.
// It is not safe for concurrent use; one goroutine owns it.
type Framer struct {
	threshold time.Duration
	maxLength int

	state        FramerState
	buffer       []rune
	startedAt    time.Time
	lastActivity time.Time
	overflowed   bool
}

// NewFramer creates a framer. A maxLength of zero disables the overflow guard.
func NewFramer(threshold time.Duration, maxLength int) *Framer {
	return &Framer{
		threshold: threshold,
		maxLength: maxLength,
		state:     StateIdle,
	}
}

// Feed appends a burst of characters received at now
func (f *Framer) Feed(chars []rune, now time.Time) {
	if len(chars) == 0 {
		return
	}

	if f.state == StateIdle {
		f.state = StateAccumulating
		f.startedAt = now
		f.buffer = f.buffer[:0]
		f.overflowed = false
	}
	f.lastActivity = now

	if f.overflowed {
		return
	}
	if f.maxLength > 0 && len(f.buffer)+len(chars) > f.maxLength {
		// keep the session open so the rest of the oversized scan is swallowed
		f.overflowed = true
		f.buffer = f.buffer[:0]
		return
	}
	f.buffer = append(f.buffer, chars...)
}

// Tick closes the current session once now is at least threshold past the
// last character. It returns false while idle or still accumulating.
func (f *Framer) Tick(now time.Time) (*Session, bool) {
	if f.state != StateAccumulating || now.Sub(f.lastActivity) < f.threshold {
		return nil, false
	}

	session := &Session{
		Length:     len(f.buffer),
		Overflowed: f.overflowed,
		StartedAt:  f.startedAt,
		EndedAt:    now,
	}
	if !f.overflowed {
		session.Code = strings.TrimSpace(string(f.buffer))
	}

	f.Reset()
	return session, true
}

// Reset discards any partial session
func (f *Framer) Reset() {
	f.state = StateIdle
	f.buffer = f.buffer[:0]
	f.overflowed = false
}

// State returns the current state
func (f *Framer) State() FramerState {
	return f.state
}

// Pending returns the number of buffered characters
func (f *Framer) Pending() int {
	return len(f.buffer)
}
