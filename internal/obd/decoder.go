package obd

import (
	"github.com/chuanjin/obdbridge/internal/canbus"
)

// Service 01 framing.
const (
	ServiceCurrentData  = 0x01
	ResponseCurrentData = ServiceCurrentData + 0x40

	offsetLength = 0
	offsetMarker = 1
	offsetPID    = 2
	offsetA      = 3
)

// Result is one decoded reading.
type Result struct {
	PID   uint8   `json:"pid"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Decoder turns response frames into readings using a registry.
type Decoder struct {
	registry *Registry
	strict   bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithStrictDLC makes the decoder reject frames whose DLC or length byte is
// too short for the bytes the PID needs. By default such frames are decoded
// from the zero padding.
func WithStrictDLC(strict bool) DecoderOption {
	return func(d *Decoder) {
		d.strict = strict
	}
}

// NewDecoder returns a decoder over reg, or over the built-in registry when
// reg is nil.
func NewDecoder(reg *Registry, opts ...DecoderOption) *Decoder {
	if reg == nil {
		reg = DefaultRegistry()
	}
	d := &Decoder{registry: reg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry the decoder resolves PIDs against.
func (d *Decoder) Registry() *Registry {
	return d.registry
}

// ParseResponseFrame decodes a single-frame service 01 response. The boolean
// is false for anything that is not a decodable response; no other error is
// reported.
func (d *Decoder) ParseResponseFrame(f canbus.Frame) (Result, bool) {
	if !f.IsOBDResponse() {
		return Result{}, false
	}
	if f.Data[offsetMarker] != ResponseCurrentData {
		return Result{}, false
	}

	pid := f.Data[offsetPID]
	def, ok := d.registry.Lookup(pid)
	if !ok {
		return Result{}, false
	}

	if d.strict {
		need := offsetA + def.Bytes
		if int(f.DLC) < need || int(f.Data[offsetLength]) < need-1 {
			return Result{}, false
		}
	}

	a, b, c, dd := f.Data[offsetA], f.Data[offsetA+1], f.Data[offsetA+2], f.Data[offsetA+3]
	return Result{
		PID:   pid,
		Name:  def.Name,
		Value: def.Decode(a, b, c, dd),
		Unit:  def.Unit,
	}, true
}

var defaultDecoder = NewDecoder(nil)

// ParseResponseFrame decodes f with the built-in registry in lenient mode.
func ParseResponseFrame(f canbus.Frame) (Result, bool) {
	return defaultDecoder.ParseResponseFrame(f)
}
