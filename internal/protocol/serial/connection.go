// internal/protocol/serial/connection.go
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const readBufferSize = 1024

var (
	// ErrPortOpen is returned when the serial port cannot be opened
	ErrPortOpen = errors.New("failed to open serial port")
	// ErrReadDecode marks serial data that could not be decoded; that data is dropped
	ErrReadDecode = errors.New("failed to decode serial data")
	// ErrNotOpen is returned by Listen before Open
	ErrNotOpen = errors.New("serial port not open")
)

// Port is the subset of serial.Port the connection needs
type Port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

// PortOpener opens a port by name
type PortOpener func(name string, mode *serial.Mode) (Port, error)

// OpenPort opens a real serial port
func OpenPort(name string, mode *serial.Mode) (Port, error) {
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Config represents serial port configuration
type Config struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	Encoding    string        `json:"encoding"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Mode builds the serial mode. Unset fields default to 8N1.
// go.bug.st/serial has no flow control by default.
func (c *Config) Mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate <= 0 {
		mode.BaudRate = 9600
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch strings.ToLower(c.Parity) {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	}

	if c.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	return mode
}

// Connection owns one open serial port and pushes decoded bursts
type Connection struct {
	config  *Config
	opener  PortOpener
	decoder Decoder
	logger  *zap.Logger

	mutex  sync.Mutex
	port   Port
	isOpen bool

	bursts       atomic.Int64
	decodeErrors atomic.Int64
}

// NewConnection creates a connection; opener defaults to OpenPort
func NewConnection(config *Config, opener PortOpener, logger *zap.Logger) (*Connection, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("port is required")
	}

	decoder, err := NewDecoder(config.Encoding)
	if err != nil {
		return nil, err
	}

	if opener == nil {
		opener = OpenPort
	}

	return &Connection{
		config:  config,
		opener:  opener,
		decoder: decoder,
		logger:  logger.With(zap.String("port", config.Port)),
	}, nil
}

// Open opens the serial port
func (c *Connection) Open(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mode := c.config.Mode()
	port, err := c.opener(c.config.Port, mode)
	if err != nil {
		c.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("%w %s: %v", ErrPortOpen, c.config.Port, err)
	}

	readTimeout := c.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 100 * time.Millisecond
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("%w %s: failed to set read timeout: %v", ErrPortOpen, c.config.Port, err)
	}

	c.port = port
	c.isOpen = true

	c.logger.Info("Serial port opened successfully",
		zap.Int("baud_rate", mode.BaudRate),
		zap.Int("data_bits", mode.DataBits),
	)
	return nil
}

// Listen reads until ctx is done or the port fails, calling onBurst once per
// decoded burst in arrival order. Undecodable bursts are logged and dropped.
func (c *Connection) Listen(ctx context.Context, onBurst func([]rune)) error {
	c.mutex.Lock()
	port, open := c.port, c.isOpen
	c.mutex.Unlock()
	if !open {
		return ErrNotOpen
	}

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(buf)

		// bytes read before an error are still delivered
		if n > 0 {
			c.bursts.Add(1)
			chars, decodeErr := c.decoder.Decode(buf[:n])
			if decodeErr != nil {
				c.decodeErrors.Add(1)
				c.logger.Warn("Dropping undecodable serial data",
					zap.Error(decodeErr),
					zap.Int("bytes", n),
				)
			}
			if len(chars) > 0 {
				onBurst(chars)
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if IsDisconnect(err) {
				c.logger.Warn("Serial device disconnected", zap.Error(err))
			}
			return fmt.Errorf("failed to read from serial port %s: %w", c.config.Port, err)
		}
	}
}

// Close closes the serial port. Safe to call more than once.
func (c *Connection) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isOpen || c.port == nil {
		return nil
	}

	err := c.port.Close()
	c.port = nil
	c.isOpen = false
	if err != nil {
		c.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	c.logger.Info("Serial port closed")
	return nil
}

// IsOpen returns whether the connection is open
func (c *Connection) IsOpen() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.isOpen
}

// Name returns the port name
func (c *Connection) Name() string {
	return c.config.Port
}

// Bursts returns the number of non-empty reads
func (c *Connection) Bursts() int64 {
	return c.bursts.Load()
}

// DecodeErrors returns the number of dropped bursts
func (c *Connection) DecodeErrors() int64 {
	return c.decodeErrors.Load()
}

// IsDisconnect reports whether err means the device went away
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "input/output error") ||
		strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "device not configured") ||
		strings.Contains(msg, "broken pipe")
}
