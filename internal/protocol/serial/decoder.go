// internal/protocol/serial/decoder.go
package serial

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Decoder turns one raw burst into characters.
// Implementations may keep state between bursts. An error returned together
// with characters means only bytes carried over from an earlier burst were lost.
type Decoder interface {
	Decode(burst []byte) ([]rune, error)
}

// NewDecoder returns the decoder for a configured encoding name
func NewDecoder(name string) (Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return &utf8Decoder{}, nil
	case "iso-8859-1", "latin1":
		return &charmapDecoder{enc: charmap.ISO8859_1}, nil
	case "windows-1252", "cp1252":
		return &charmapDecoder{enc: charmap.Windows1252}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", name)
	}
}

// utf8Decoder carries an incomplete trailing sequence over to the next burst only.
// When the carried bytes do not complete into valid text they are dropped with
// an error and the new burst is decoded on its own.
type utf8Decoder struct {
	pending []byte
}

func (d *utf8Decoder) Decode(burst []byte) ([]rune, error) {
	var carryErr error
	if len(d.pending) > 0 {
		carried := d.pending
		d.pending = nil

		joined := make([]byte, 0, len(carried)+len(burst))
		joined = append(joined, carried...)
		joined = append(joined, burst...)
		if chars, ok := d.decode(joined); ok {
			return chars, nil
		}
		carryErr = fmt.Errorf("%w: dropped %d incomplete bytes from previous burst", ErrReadDecode, len(carried))
	}

	chars, ok := d.decode(burst)
	if !ok {
		return nil, fmt.Errorf("%w: invalid utf-8 in %d bytes", ErrReadDecode, len(burst))
	}
	return chars, carryErr
}

// decode converts data, holding back a trailing partial rune; pending is only set on success
func (d *utf8Decoder) decode(data []byte) ([]rune, bool) {
	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}

	if !utf8.Valid(data[:cut]) {
		return nil, false
	}

	if cut < len(data) {
		d.pending = append([]byte(nil), data[cut:]...)
	}
	return []rune(string(data[:cut])), true
}

// charmapDecoder handles single byte code pages
type charmapDecoder struct {
	enc encoding.Encoding
}

func (d *charmapDecoder) Decode(burst []byte) ([]rune, error) {
	out, err := d.enc.NewDecoder().Bytes(burst)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadDecode, err)
	}
	return []rune(string(out)), nil
}
