// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	protoserial "ticket-service/internal/protocol/serial"
)

// ErrNoPortAvailable is returned when nothing is enumerated and no default is configured
var ErrNoPortAvailable = errors.New("no serial port available")

// Selection reasons reported in PortHandle.Reason
const (
	ReasonOverride = "override"
	ReasonProbe    = "probe"
	ReasonFirst    = "first_enumerated"
	ReasonDefault  = "default"
)

// PortHandle names the port chosen by discovery
type PortHandle struct {
	Name       string   `json:"name"`
	Reason     string   `json:"reason"`
	Candidates []string `json:"candidates,omitempty"`
}

// Config for serial port discovery
type Config struct {
	DeviceName   string
	DefaultPort  string
	ProbeTimeout time.Duration
	Mode         *serial.Mode
}

// Scanner selects the serial port the barcode reader is attached to
type Scanner struct {
	config    *Config
	logger    *zap.Logger
	listPorts func() ([]string, error)
	opener    protoserial.PortOpener
}

// NewScanner creates a new serial port scanner
func NewScanner(config *Config, logger *zap.Logger) *Scanner {
	cfg := *config
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = time.Second
	}
	return &Scanner{
		config:    &cfg,
		logger:    logger.With(zap.String("scanner", "serial")),
		listPorts: serial.GetPortsList,
		opener:    protoserial.OpenPort,
	}
}

// Discover picks a port: the configured override, else the first enumerated
// port that yields data within the probe timeout, else the first enumerated
// port, else the configured default.
func (s *Scanner) Discover(ctx context.Context) (*PortHandle, error) {
	if s.config.DeviceName != "" {
		s.logger.Info("Using configured serial device", zap.String("port", s.config.DeviceName))
		return &PortHandle{Name: s.config.DeviceName, Reason: ReasonOverride}, nil
	}

	ports, err := s.listPorts()
	if err != nil {
		s.logger.Warn("Failed to enumerate serial ports", zap.Error(err))
		ports = nil
	}

	if len(ports) == 0 {
		if s.config.DefaultPort == "" {
			return nil, ErrNoPortAvailable
		}
		s.logger.Warn("No serial ports found, using default", zap.String("port", s.config.DefaultPort))
		return &PortHandle{Name: s.config.DefaultPort, Reason: ReasonDefault}, nil
	}

	s.logger.Info("Found serial ports", zap.Strings("ports", ports))

	for _, name := range ports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.probe(name) {
			s.logger.Info("Serial port responded to probe", zap.String("port", name))
			return &PortHandle{Name: name, Reason: ReasonProbe, Candidates: ports}, nil
		}
	}

	s.logger.Info("No port responded to probe, using first enumerated", zap.String("port", ports[0]))
	return &PortHandle{Name: ports[0], Reason: ReasonFirst, Candidates: ports}, nil
}

// probe opens the port transiently and reports whether any bytes were pending.
// The port is always closed again; the source reopens the selected one.
func (s *Scanner) probe(name string) bool {
	port, err := s.opener(name, s.mode())
	if err != nil {
		s.logger.Debug("Failed to open port for probe", zap.String("port", name), zap.Error(err))
		return false
	}
	defer func() {
		if closeErr := port.Close(); closeErr != nil {
			s.logger.Debug("Failed to close port after probe", zap.String("port", name), zap.Error(closeErr))
		}
	}()

	if err := port.SetReadTimeout(s.config.ProbeTimeout); err != nil {
		s.logger.Debug("Failed to set probe timeout", zap.String("port", name), zap.Error(err))
		return false
	}

	buf := make([]byte, 256)
	n, err := port.Read(buf)
	if err != nil {
		s.logger.Debug("Probe read failed", zap.String("port", name), zap.Error(err))
		return false
	}
	return n > 0
}

func (s *Scanner) mode() *serial.Mode {
	if s.config.Mode != nil {
		return s.config.Mode
	}
	return (&protoserial.Config{}).Mode()
}

// String describes the handle for logs
func (h *PortHandle) String() string {
	return fmt.Sprintf("%s (%s)", h.Name, h.Reason)
}
