package obd

import (
	"testing"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(id uint32, payload ...byte) canbus.Frame {
	return canbus.New(time.UnixMilli(0), id, payload...)
}

func TestParseResponseFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame canbus.Frame
		want  Result
		ok    bool
	}{
		{
			name:  "engine speed",
			frame: response(0x7E8, 0x04, 0x41, 0x0C, 0x1A, 0xF8),
			want:  Result{PID: 0x0C, Name: "Engine speed", Value: 1726.0, Unit: "rpm"},
			ok:    true,
		},
		{
			name:  "coolant from last responder",
			frame: response(0x7EF, 0x03, 0x41, 0x05, 0x7D),
			want:  Result{PID: 0x05, Name: "Engine coolant temperature", Value: 85, Unit: "°C"},
			ok:    true,
		},
		{name: "id above range", frame: response(0x7F0, 0x04, 0x41, 0x0C, 0x1A, 0xF8)},
		{name: "id below range", frame: response(0x7E7, 0x04, 0x41, 0x0C, 0x1A, 0xF8)},
		{name: "request marker", frame: response(0x7E8, 0x04, 0x40, 0x0C, 0x1A, 0xF8)},
		{name: "unknown pid", frame: response(0x7E8, 0x03, 0x41, 0x5C, 0x7D)},
		{name: "empty frame", frame: canbus.Frame{ID: 0x7E8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseResponseFrame(tt.frame)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResponseFrame_EveryPID(t *testing.T) {
	for _, def := range DefaultRegistry().Definitions() {
		f := response(0x7E8, byte(2+def.Bytes), 0x41, def.PID, 0x12, 0x34, 0x56, 0x78)
		got, ok := ParseResponseFrame(f)
		require.True(t, ok, "pid 0x%02X", def.PID)
		assert.Equal(t, def.Decode(0x12, 0x34, 0x56, 0x78), got.Value)
		assert.Equal(t, def.Name, got.Name)
		assert.Equal(t, def.Unit, got.Unit)
	}
}

func TestDecoder_ShortDLC(t *testing.T) {
	// a 2-byte PID on a frame that only declares the A byte
	f := canbus.Frame{ID: 0x7E8, DLC: 4, Data: [8]byte{0x03, 0x41, 0x0C, 0x1A}}

	lenient := NewDecoder(nil)
	got, ok := lenient.ParseResponseFrame(f)
	require.True(t, ok)
	assert.Equal(t, float64(0x1A00)/4, got.Value, "missing B byte reads as zero padding")

	strict := NewDecoder(nil, WithStrictDLC(true))
	_, ok = strict.ParseResponseFrame(f)
	assert.False(t, ok)

	f.DLC = 8
	_, ok = strict.ParseResponseFrame(f)
	assert.False(t, ok, "length byte 0x03 still too short for two data bytes")

	f.Data[0] = 0x04
	got, ok = strict.ParseResponseFrame(f)
	require.True(t, ok)
	assert.Equal(t, float64(0x1A00)/4, got.Value)
}

func TestDecoder_CustomRegistry(t *testing.T) {
	reg := NewRegistry(PIDDefinition{
		PID: 0x5C, Name: "Engine oil temperature", Unit: "°C", Bytes: 1,
		Decode: func(a, _, _, _ uint8) float64 { return float64(a) - 40 },
	})
	dec := NewDecoder(reg)

	got, ok := dec.ParseResponseFrame(response(0x7E8, 0x03, 0x41, 0x5C, 0x8C))
	require.True(t, ok)
	assert.Equal(t, 100.0, got.Value)

	_, ok = dec.ParseResponseFrame(response(0x7E8, 0x04, 0x41, 0x0C, 0x1A, 0xF8))
	assert.False(t, ok)
	assert.Same(t, reg, dec.Registry())
}
