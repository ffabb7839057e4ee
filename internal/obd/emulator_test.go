package obd

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmulateResponse_RPM(t *testing.T) {
	for ms := int64(0); ms < 5000; ms += 37 {
		now := time.UnixMilli(ms)
		f, ok := EmulateResponse(PIDEngineRPM, now)
		require.True(t, ok)

		assert.Equal(t, uint32(0x7E8), f.ID)
		assert.Equal(t, []byte{0x04, 0x41, 0x0C}, f.Data[:3])
		assert.Equal(t, []byte{0, 0, 0}, f.Data[5:])

		want := math.Max(700, 800+math.Sin(float64(ms)/300)*2000)
		raw := uint16(f.Data[3])<<8 | uint16(f.Data[4])
		assert.Equal(t, uint16(math.Floor(want*4)), raw)

		res, ok := ParseResponseFrame(f)
		require.True(t, ok)
		assert.GreaterOrEqual(t, res.Value, 700.0)
		assert.LessOrEqual(t, res.Value, 2800.0)
	}
}

func TestEmulateResponse_Speed(t *testing.T) {
	for ms := int64(0); ms < 7000; ms += 53 {
		f, ok := EmulateResponse(PIDVehicleSpeed, time.UnixMilli(ms))
		require.True(t, ok)

		assert.Equal(t, []byte{0x03, 0x41, 0x0D}, f.Data[:3])
		want := math.Floor(math.Abs(math.Sin(float64(ms)/1000)) * 120)
		assert.Equal(t, byte(want), f.Data[3])

		res, ok := ParseResponseFrame(f)
		require.True(t, ok)
		assert.LessOrEqual(t, res.Value, 120.0)
	}
}

func TestEmulateResponse_Unsupported(t *testing.T) {
	for _, pid := range []uint8{0x00, 0x05, 0x10, 0xFF} {
		_, ok := EmulateResponse(pid, time.Now())
		assert.False(t, ok, "pid 0x%02X", pid)
	}
}
