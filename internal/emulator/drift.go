package emulator

import (
	"math/rand/v2"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
)

// Template is a frame whose payload wanders between ticks.
type Template struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
}

// DefaultTemplates are the frames a streaming session starts from.
func DefaultTemplates() []Template {
	return []Template{
		{ID: 0x100, DLC: 8},
		{ID: 0x200, DLC: 8},
		{ID: 0x300, DLC: 4},
		{ID: 0x400, DLC: 2},
	}
}

// Drift perturbs a fixed set of template frames with a bounded random walk
// and fans every frame out once per source. A Drift belongs to one session.
type Drift struct {
	templates []Template
	sources   []string
	rnd       *rand.Rand
}

// NewDrift returns a generator over DefaultTemplates. A nil rnd seeds from
// the clock.
func NewDrift(sources []string, rnd *rand.Rand) *Drift {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xD21F7))
	}
	return &Drift{
		templates: DefaultTemplates(),
		sources:   append([]string(nil), sources...),
		rnd:       rnd,
	}
}

// Step moves each meaningful byte by -2..+2 (clamped to 0..255) and returns
// one frame per template per source, template-major.
func (d *Drift) Step(now time.Time) []canbus.Frame {
	out := make([]canbus.Frame, 0, len(d.templates)*len(d.sources))
	for i := range d.templates {
		tpl := &d.templates[i]
		for b := 0; b < int(tpl.DLC); b++ {
			v := int(tpl.Data[b]) + d.rnd.IntN(5) - 2
			tpl.Data[b] = byte(max(0, min(255, v)))
		}

		f := canbus.Frame{
			Timestamp: now.UnixMilli(),
			ID:        tpl.ID,
			DLC:       tpl.DLC,
			Data:      tpl.Data,
		}
		for _, src := range d.sources {
			out = append(out, f.WithSource(src))
		}
	}
	return out
}

// Templates returns a copy of the current template state.
func (d *Drift) Templates() []Template {
	return append([]Template(nil), d.templates...)
}
