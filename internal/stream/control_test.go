package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseControl(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Control
		wantErr error
	}{
		{name: "start", raw: `{"type":"start"}`, want: Control{Type: CommandStart}},
		{name: "stop", raw: `{"type":"stop"}`, want: Control{Type: CommandStop}},
		{name: "stop ignores value", raw: `{"type":"stop","value":5}`, want: Control{Type: CommandStop}},
		{name: "set baud", raw: `{"type":"set_baud","value":250000}`, want: Control{Type: CommandSetBaud, Value: 250000}},
		{name: "set baud without value", raw: `{"type":"set_baud"}`, wantErr: ErrMissingValue},
		{name: "set baud zero", raw: `{"type":"set_baud","value":0}`, wantErr: ErrMissingValue},
		{name: "set baud fractional", raw: `{"type":"set_baud","value":1.5}`, wantErr: ErrInvalidMessage},
		{name: "unknown", raw: `{"type":"reset"}`, wantErr: ErrUnknownCommand},
		{name: "missing type", raw: `{}`, wantErr: ErrUnknownCommand},
		{name: "not json", raw: `start`, wantErr: ErrInvalidMessage},
		{name: "wrong shape", raw: `["start"]`, wantErr: ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseControl([]byte(tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
