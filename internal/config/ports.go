// internal/config/ports.go
package config

import "runtime"

// defaultPortName is the serial device tried when enumeration yields nothing
func defaultPortName() string {
	switch runtime.GOOS {
	case "windows":
		return "COM1"
	case "darwin":
		return "/dev/tty.usbserial"
	default:
		return "/dev/ttyUSB0"
	}
}
