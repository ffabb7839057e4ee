// Package canbus holds the CAN frame shape shared by the emulators, the
// decoders and the wire protocols.
package canbus

import (
	"errors"
	"time"
)

// Identifier and payload limits for classical CAN.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDLC        = 8
)

// OBD-II response identifiers (one per responding ECU).
const (
	OBDResponseFirst = 0x7E8
	OBDResponseLast  = 0x7EF
)

var (
	ErrInvalidID        = errors.New("canbus: invalid identifier")
	ErrInvalidDLC       = errors.New("canbus: invalid data length")
	ErrInvalidTimestamp = errors.New("canbus: negative timestamp")
)

// Frame is a single bus message as it travels through this service.
//
// Data always has 8 slots; only the first DLC bytes are meaningful. Frames
// produced here are zero padded.
type Frame struct {
	Timestamp int64   `json:"ts"` // unix milliseconds
	ID        uint32  `json:"id"`
	DLC       uint8   `json:"dlc"`
	Data      [8]byte `json:"data"`
	Source    string  `json:"source,omitempty"`
}

// New builds a padded frame with DLC 8 stamped with ts.
func New(ts time.Time, id uint32, payload ...byte) Frame {
	f := Frame{
		Timestamp: ts.UnixMilli(),
		ID:        id,
		DLC:       MaxDLC,
	}
	copy(f.Data[:], payload)
	return f
}

// Validate reports whether the frame respects the classical CAN limits.
func (f Frame) Validate() error {
	if f.DLC > MaxDLC {
		return ErrInvalidDLC
	}
	if f.ID > MaxExtendedID {
		return ErrInvalidID
	}
	if f.Timestamp < 0 {
		return ErrInvalidTimestamp
	}
	return nil
}

// Payload returns the meaningful bytes of the frame.
func (f Frame) Payload() []byte {
	n := int(f.DLC)
	if n > MaxDLC {
		n = MaxDLC
	}
	return f.Data[:n]
}

// Time converts the millisecond timestamp back to a time.Time.
func (f Frame) Time() time.Time {
	return time.UnixMilli(f.Timestamp)
}

// WithSource returns a copy of f tagged with the given logical channel.
func (f Frame) WithSource(source string) Frame {
	f.Source = source
	return f
}

// IsOBDResponse reports whether the identifier is in the OBD-II ECU response range.
func (f Frame) IsOBDResponse() bool {
	return f.ID >= OBDResponseFirst && f.ID <= OBDResponseLast
}
