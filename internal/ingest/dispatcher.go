// Package ingest routes received CAN frames to the decoder bound to their
// arbitration ID and serves the result over a line-oriented TCP port.
package ingest

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/chuanjin/obdbridge/internal/emulator"
	"github.com/chuanjin/obdbridge/internal/obd"
)

// Reading is one decoded value together with where it came from.
type Reading struct {
	Protocol string  `json:"protocol"`
	ID       uint32  `json:"id"`
	Source   string  `json:"source,omitempty"`
	PID      *uint8  `json:"pid,omitempty"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
}

// Decoder turns a frame into a reading. ok is false when the frame is not
// something the decoder understands.
type Decoder func(f canbus.Frame) (r Reading, ok bool)

var (
	ErrUnbound      = errors.New("no decoder bound to frame ID")
	ErrUndecodable  = errors.New("frame not decodable")
	ErrInvalidRange = errors.New("invalid ID range")
)

// Binding ties an inclusive ID range to a named decoder.
type Binding struct {
	Low      uint32 `json:"low"`
	High     uint32 `json:"high"`
	Protocol string `json:"protocol"`

	decode Decoder
}

func (b Binding) width() uint32 { return b.High - b.Low }

// Dispatcher picks the decoder for a frame. When ranges overlap the
// narrowest one wins, so a single ID can be carved out of a wider block.
type Dispatcher struct {
	mu       sync.RWMutex
	bindings []Binding
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Bind routes IDs low..high to decode under the given protocol name.
// Binding the same range again replaces the earlier binding.
func (d *Dispatcher) Bind(low, high uint32, protocol string, decode Decoder) error {
	if low > high || high > canbus.MaxExtendedID || decode == nil {
		return fmt.Errorf("%w: 0x%X-0x%X", ErrInvalidRange, low, high)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	b := Binding{Low: low, High: high, Protocol: protocol, decode: decode}
	for i, existing := range d.bindings {
		if existing.Low == low && existing.High == high {
			d.bindings[i] = b
			return nil
		}
	}
	d.bindings = append(d.bindings, b)
	sort.SliceStable(d.bindings, func(i, j int) bool {
		return d.bindings[i].width() < d.bindings[j].width()
	})
	return nil
}

// Bindings returns a copy of the current bindings ordered by ID.
func (d *Dispatcher) Bindings() []Binding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Binding, len(d.bindings))
	copy(out, d.bindings)
	sort.Slice(out, func(i, j int) bool { return out[i].Low < out[j].Low })
	return out
}

// Ingest decodes f with the narrowest binding covering its ID.
func (d *Dispatcher) Ingest(f canbus.Frame) (Reading, error) {
	d.mu.RLock()
	var match *Binding
	for i := range d.bindings {
		if b := &d.bindings[i]; f.ID >= b.Low && f.ID <= b.High {
			match = b
			break
		}
	}
	var b Binding
	if match != nil {
		b = *match
	}
	d.mu.RUnlock()

	if match == nil {
		return Reading{}, fmt.Errorf("%w: 0x%X", ErrUnbound, f.ID)
	}

	r, ok := b.decode(f)
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s frame 0x%X", ErrUndecodable, b.Protocol, f.ID)
	}
	r.Protocol = b.Protocol
	r.ID = f.ID
	r.Source = f.Source
	return r, nil
}

// OBDDecoder adapts an OBD-II decoder.
func OBDDecoder(dec *obd.Decoder) Decoder {
	return func(f canbus.Frame) (Reading, bool) {
		res, ok := dec.ParseResponseFrame(f)
		if !ok {
			return Reading{}, false
		}
		pid := res.PID
		return Reading{PID: &pid, Name: res.Name, Value: res.Value, Unit: res.Unit}, true
	}
}

// TelemetryDecoder decodes the emulator's broadcast frames.
func TelemetryDecoder(f canbus.Frame) (Reading, bool) {
	s, ok := emulator.DecodeTelemetry(f)
	if !ok {
		return Reading{}, false
	}
	return Reading{Name: s.Name, Value: s.Value, Unit: s.Unit}, true
}

// NewDefaultDispatcher binds the OBD-II response range and the telemetry
// broadcast IDs.
func NewDefaultDispatcher(dec *obd.Decoder) *Dispatcher {
	d := NewDispatcher()
	_ = d.Bind(canbus.OBDResponseFirst, canbus.OBDResponseLast, "obd", OBDDecoder(dec))
	for _, id := range []uint32{emulator.IDSpeed, emulator.IDRPM, emulator.IDTemperature, emulator.IDStatus} {
		_ = d.Bind(id, id, "telemetry", TelemetryDecoder)
	}
	return d
}
