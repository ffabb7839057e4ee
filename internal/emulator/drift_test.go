package emulator

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrift_FansOutPerSource(t *testing.T) {
	d := NewDrift([]string{"A", "B"}, rand.New(rand.NewPCG(3, 4)))
	frames := d.Step(time.UnixMilli(99))

	require.Len(t, frames, 8)
	wantIDs := []uint32{0x100, 0x100, 0x200, 0x200, 0x300, 0x300, 0x400, 0x400}
	for i, f := range frames {
		assert.Equal(t, wantIDs[i], f.ID)
		assert.Equal(t, []string{"A", "B"}[i%2], f.Source)
		assert.Equal(t, int64(99), f.Timestamp)
	}
	// both copies of a template carry the same payload
	assert.Equal(t, frames[0].Data, frames[1].Data)
	assert.Equal(t, frames[6].Data, frames[7].Data)
}

func TestDrift_RandomWalkBounds(t *testing.T) {
	d := NewDrift([]string{"A"}, rand.New(rand.NewPCG(5, 6)))
	prev := d.Templates()

	for i := 0; i < 3000; i++ {
		frames := d.Step(time.UnixMilli(int64(i)))
		cur := d.Templates()

		for ti, tpl := range cur {
			assert.Equal(t, tpl.Data, frames[ti].Data)
			for b := 0; b < 8; b++ {
				delta := int(tpl.Data[b]) - int(prev[ti].Data[b])
				if b >= int(tpl.DLC) {
					require.Zero(t, tpl.Data[b], "byte %d beyond dlc of 0x%X", b, tpl.ID)
					continue
				}
				require.LessOrEqual(t, delta, 2)
				require.GreaterOrEqual(t, delta, -2)
			}
		}
		prev = cur
	}
}

func TestDrift_IndependentInstances(t *testing.T) {
	a := NewDrift([]string{"A"}, rand.New(rand.NewPCG(7, 8)))
	b := NewDrift([]string{"A"}, rand.New(rand.NewPCG(9, 10)))
	for i := 0; i < 50; i++ {
		a.Step(time.UnixMilli(int64(i)))
	}
	for _, tpl := range b.Templates() {
		assert.Equal(t, [8]byte{}, tpl.Data)
	}
}

func TestDecodeTelemetry(t *testing.T) {
	tests := []struct {
		id   uint32
		data [8]byte
		want Signal
		ok   bool
	}{
		{IDSpeed, [8]byte{0x10, 0x27}, Signal{Name: "Vehicle speed", Value: 100, Unit: "km/h"}, true},
		{IDRPM, [8]byte{0xB8, 0x0B}, Signal{Name: "Engine speed", Value: 3000, Unit: "rpm"}, true},
		{IDTemperature, [8]byte{90}, Signal{Name: "Coolant temperature", Value: 90, Unit: "°C"}, true},
		{IDStatus, [8]byte{0x81}, Signal{Name: "Status bits", Value: 129, Unit: "bitfield"}, true},
		{0x7E8, [8]byte{0x03, 0x41}, Signal{}, false},
	}
	for _, tt := range tests {
		got, ok := DecodeTelemetry(canbus.Frame{ID: tt.id, DLC: 8, Data: tt.data})
		assert.Equal(t, tt.ok, ok, "id 0x%X", tt.id)
		assert.Equal(t, tt.want, got, "id 0x%X", tt.id)
	}
}
