package serial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"

	protoserial "ticket-service/internal/protocol/serial"
)

type probePort struct {
	pending []byte
	closed  bool
}

func (p *probePort) Read(buf []byte) (int, error) {
	n := copy(buf, p.pending)
	p.pending = nil
	return n, nil
}

func (p *probePort) Close() error {
	p.closed = true
	return nil
}

func (p *probePort) SetReadTimeout(time.Duration) error { return nil }

// fakeBus hands out probe ports and remembers every one it opened
type fakeBus struct {
	mutex  sync.Mutex
	data   map[string]string
	broken map[string]bool
	opened []*probePort
}

func (b *fakeBus) open(name string, mode *serial.Mode) (protoserial.Port, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.broken[name] {
		return nil, errors.New("port busy")
	}
	port := &probePort{pending: []byte(b.data[name])}
	b.opened = append(b.opened, port)
	return port, nil
}

func newTestScanner(cfg *Config, ports []string, bus *fakeBus) *Scanner {
	s := NewScanner(cfg, zap.NewNop())
	s.listPorts = func() ([]string, error) { return ports, nil }
	s.opener = bus.open
	return s
}

func TestDiscover_Override(t *testing.T) {
	bus := &fakeBus{}
	s := newTestScanner(&Config{DeviceName: "COM7"}, []string{"COM1"}, bus)

	handle, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "COM7", handle.Name)
	assert.Equal(t, ReasonOverride, handle.Reason)
	assert.Empty(t, bus.opened)
}

func TestDiscover_FirstRespondingPort(t *testing.T) {
	bus := &fakeBus{
		data:   map[string]string{"/dev/ttyUSB1": "TICKET_1"},
		broken: map[string]bool{"/dev/ttyS0": true},
	}
	s := newTestScanner(&Config{}, []string{"/dev/ttyS0", "/dev/ttyUSB0", "/dev/ttyUSB1"}, bus)

	handle, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", handle.Name)
	assert.Equal(t, ReasonProbe, handle.Reason)

	require.Len(t, bus.opened, 2)
	for _, port := range bus.opened {
		assert.True(t, port.closed)
	}
}

func TestNewScanner_DoesNotModifyConfig(t *testing.T) {
	cfg := &Config{DefaultPort: "COM1"}
	s := NewScanner(cfg, zap.NewNop())

	assert.Zero(t, cfg.ProbeTimeout)
	assert.Equal(t, time.Second, s.config.ProbeTimeout)
	assert.Equal(t, "COM1", s.config.DefaultPort)
}

func TestDiscover_FallsBackToFirstEnumerated(t *testing.T) {
	bus := &fakeBus{}
	s := newTestScanner(&Config{}, []string{"COM3", "COM4"}, bus)

	handle, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "COM3", handle.Name)
	assert.Equal(t, ReasonFirst, handle.Reason)
	assert.Equal(t, []string{"COM3", "COM4"}, handle.Candidates)
	for _, port := range bus.opened {
		assert.True(t, port.closed)
	}
}

func TestDiscover_DefaultWhenNothingEnumerated(t *testing.T) {
	s := newTestScanner(&Config{DefaultPort: "COM1"}, nil, &fakeBus{})

	handle, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "COM1", handle.Name)
	assert.Equal(t, ReasonDefault, handle.Reason)
}

func TestDiscover_EnumerationErrorUsesDefault(t *testing.T) {
	s := newTestScanner(&Config{DefaultPort: "/dev/ttyUSB0"}, nil, &fakeBus{})
	s.listPorts = func() ([]string, error) { return nil, errors.New("enumeration failed") }

	handle, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", handle.Name)
}

func TestDiscover_NoPortAvailable(t *testing.T) {
	s := newTestScanner(&Config{}, nil, &fakeBus{})

	handle, err := s.Discover(context.Background())
	assert.Nil(t, handle)
	assert.ErrorIs(t, err, ErrNoPortAvailable)
}

func TestDiscover_Cancelled(t *testing.T) {
	s := newTestScanner(&Config{}, []string{"COM3"}, &fakeBus{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
