// Package stream pushes emulated CAN frames to connected peers and accepts
// start/stop/set_baud control messages from them.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command is the type of a control message.
type Command string

const (
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandSetBaud Command = "set_baud"
)

var (
	ErrInvalidMessage = errors.New("stream: invalid control message")
	ErrUnknownCommand = errors.New("stream: unknown command")
	ErrMissingValue   = errors.New("stream: set_baud needs a positive value")
)

// Control is one peer-to-emulator message.
type Control struct {
	Type  Command `json:"type"`
	Value int     `json:"value,omitempty"`
}

// ParseControl decodes and validates a control message.
func ParseControl(raw []byte) (Control, error) {
	var msg struct {
		Type  Command `json:"type"`
		Value *int    `json:"value"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Control{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch msg.Type {
	case CommandStart, CommandStop:
		return Control{Type: msg.Type}, nil
	case CommandSetBaud:
		if msg.Value == nil || *msg.Value <= 0 {
			return Control{}, ErrMissingValue
		}
		return Control{Type: msg.Type, Value: *msg.Value}, nil
	default:
		return Control{}, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Type)
	}
}
