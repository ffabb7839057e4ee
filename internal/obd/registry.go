// Package obd decodes and synthesizes OBD-II service 01 ("show current data")
// responses carried in single CAN frames.
package obd

import (
	"sort"
)

// PIDDefinition describes how one service 01 PID is decoded.
type PIDDefinition struct {
	PID  uint8  `json:"pid"`
	Name string `json:"name"`
	Unit string `json:"unit"`

	// Bytes is the number of data bytes (A, optionally B) Decode consumes.
	Bytes int `json:"bytes"`

	Decode func(a, b, c, d uint8) float64 `json:"-"`
}

// linear is the decode strategy of every built-in PID:
// ((raw + pre) * mul) / div + post, where raw is A or A<<8|B.
// The evaluation order is fixed so results match the J1979 formulas exactly.
type linear struct {
	bytes int
	pre   float64
	mul   float64
	div   float64
	post  float64
}

func (l linear) decode(a, b, _, _ uint8) float64 {
	raw := float64(a)
	if l.bytes == 2 {
		raw = float64(uint16(a)<<8 | uint16(b))
	}
	return ((raw+l.pre)*l.mul)/l.div + l.post
}

func define(pid uint8, name, unit string, l linear) PIDDefinition {
	return PIDDefinition{
		PID:    pid,
		Name:   name,
		Unit:   unit,
		Bytes:  l.bytes,
		Decode: l.decode,
	}
}

var (
	percent     = linear{bytes: 1, mul: 100, div: 255}
	temperature = linear{bytes: 1, mul: 1, div: 1, post: -40}
	fuelTrim    = linear{bytes: 1, pre: -128, mul: 100, div: 128}
	direct1     = linear{bytes: 1, mul: 1, div: 1}
	direct2     = linear{bytes: 2, mul: 1, div: 1}
)

var builtins = []PIDDefinition{
	define(0x04, "Calculated engine load", "%", percent),
	define(0x05, "Engine coolant temperature", "°C", temperature),
	define(0x06, "Short term fuel trim, bank 1", "%", fuelTrim),
	define(0x07, "Long term fuel trim, bank 1", "%", fuelTrim),
	define(0x0A, "Fuel pressure", "kPa", linear{bytes: 1, mul: 3, div: 1}),
	define(0x0B, "Intake manifold absolute pressure", "kPa", direct1),
	define(0x0C, "Engine speed", "rpm", linear{bytes: 2, mul: 1, div: 4}),
	define(0x0D, "Vehicle speed", "km/h", direct1),
	define(0x0F, "Intake air temperature", "°C", temperature),
	define(0x10, "MAF air flow rate", "g/s", linear{bytes: 2, mul: 1, div: 100}),
	define(0x11, "Throttle position", "%", percent),
	define(0x1F, "Run time since engine start", "s", direct2),
	define(0x21, "Distance traveled with MIL on", "km", direct2),
	define(0x2F, "Fuel tank level input", "%", percent),
	define(0x31, "Distance traveled since codes cleared", "km", direct2),
	define(0x33, "Absolute barometric pressure", "kPa", direct1),
	define(0x3C, "Catalyst temperature, bank 1 sensor 1", "°C", linear{bytes: 2, mul: 1, div: 10, post: -40}),
	define(0x42, "Control module voltage", "V", linear{bytes: 2, mul: 1, div: 1000}),
	define(0x44, "Commanded air-fuel equivalence ratio", "λ", linear{bytes: 2, mul: 1, div: 32768}),
	define(0x46, "Ambient air temperature", "°C", temperature),
	define(0x4C, "Commanded throttle actuator", "%", percent),
	define(0x52, "Ethanol fuel percentage", "%", percent),
	define(0x5E, "Engine fuel rate", "L/h", linear{bytes: 2, mul: 1, div: 20}),
}

// Registry maps PID codes to their definitions. It is never mutated after
// construction and is safe for concurrent use.
type Registry struct {
	defs map[uint8]PIDDefinition
}

var defaultRegistry = NewRegistry(builtins...)

// DefaultRegistry returns the registry of built-in PIDs.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry builds a registry from defs. Later definitions replace earlier
// ones with the same PID.
func NewRegistry(defs ...PIDDefinition) *Registry {
	r := &Registry{defs: make(map[uint8]PIDDefinition, len(defs))}
	for _, d := range defs {
		r.defs[d.PID] = d
	}
	return r
}

// With returns a new registry holding r's definitions plus defs. PIDs already
// present in r are kept and the conflicting entries of defs are reported back.
func (r *Registry) With(defs ...PIDDefinition) (*Registry, []PIDDefinition) {
	out := &Registry{defs: make(map[uint8]PIDDefinition, len(r.defs)+len(defs))}
	for pid, d := range r.defs {
		out.defs[pid] = d
	}
	var rejected []PIDDefinition
	for _, d := range defs {
		if _, exists := out.defs[d.PID]; exists {
			rejected = append(rejected, d)
			continue
		}
		out.defs[d.PID] = d
	}
	return out, rejected
}

// Lookup returns the definition for pid.
func (r *Registry) Lookup(pid uint8) (PIDDefinition, bool) {
	d, ok := r.defs[pid]
	return d, ok
}

// PIDs returns the registered codes in ascending order.
func (r *Registry) PIDs() []uint8 {
	pids := make([]uint8, 0, len(r.defs))
	for pid := range r.defs {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Definitions returns every definition ordered by PID.
func (r *Registry) Definitions() []PIDDefinition {
	pids := r.PIDs()
	out := make([]PIDDefinition, 0, len(pids))
	for _, pid := range pids {
		out = append(out, r.defs[pid])
	}
	return out
}

// Len returns the number of registered PIDs.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Lookup queries the built-in registry.
func Lookup(pid uint8) (PIDDefinition, bool) {
	return defaultRegistry.Lookup(pid)
}
