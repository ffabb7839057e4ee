// Package emulator generates synthetic CAN traffic: a vehicle telemetry model
// and free-running template frames for streaming sessions.
package emulator

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/chuanjin/obdbridge/internal/logger"
	"github.com/chuanjin/obdbridge/internal/ticker"
	"go.uber.org/zap"
)

// Telemetry frame identifiers.
const (
	IDSpeed       = 0x200
	IDRPM         = 0x201
	IDTemperature = 0x350
	IDStatus      = 0x420
)

// Signal model limits.
const (
	DefaultInterval = 200 * time.Millisecond

	speedTurnaround = 160.0
	speedMax        = 180.0
	rpmIdle         = 800.0
	rpmPerKmh       = 25.0
	rpmRipple       = 50.0
	rpmMax          = 4500.0
	tempCeiling     = 95.0
	tempStep        = 0.02
	statusFlipOdds  = 0.05
)

// State is a snapshot of the simulated signals.
type State struct {
	Speed       float64 `json:"speed"`
	RPM         float64 `json:"rpm"`
	Temperature float64 `json:"temperature"`
	Status      uint8   `json:"status"`
	Direction   int     `json:"direction"`
}

// Telemetry simulates a vehicle and emits speed, RPM, coolant temperature and
// a status bitfield every tick.
type Telemetry struct {
	emit       func(canbus.Frame)
	interval   time.Duration
	powertrain string
	body       string
	log        *zap.Logger
	loop       ticker.Loop

	// guarded by mu; only the tick path writes
	mu        sync.Mutex
	rnd       *rand.Rand
	speed     float64
	rpm       float64
	temp      float64
	accel     float64
	direction float64
	status    uint8
}

// Option configures a Telemetry emulator.
type Option func(*Telemetry)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(t *Telemetry) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithSources sets the source tags of the powertrain (speed, RPM) and body
// (temperature, status) frame groups.
func WithSources(powertrain, body string) Option {
	return func(t *Telemetry) {
		t.powertrain = powertrain
		t.body = body
	}
}

// WithRand sets the random source used for status bit flips.
func WithRand(r *rand.Rand) Option {
	return func(t *Telemetry) {
		if r != nil {
			t.rnd = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Telemetry) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTelemetry returns an idle emulator delivering frames to emit. emit may
// be nil when the caller only uses Step.
func NewTelemetry(emit func(canbus.Frame), opts ...Option) *Telemetry {
	t := &Telemetry{
		emit:       emit,
		interval:   DefaultInterval,
		powertrain: "A",
		body:       "B",
		rnd:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x0BD2)),
		speed:      0,
		rpm:        2000,
		temp:       20,
		accel:      0.5,
		direction:  1,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Named("telemetry")
	}
	return t
}

// Start begins ticking. It is a no-op while already running.
func (t *Telemetry) Start() {
	if t.loop.Start(t.interval, t.Tick) {
		t.log.Debug("Telemetry started", zap.Duration("interval", t.interval))
	}
}

// Stop cancels the timer. It is a no-op while idle. No frame is emitted
// after Stop returns.
func (t *Telemetry) Stop() {
	if t.loop.Stop() {
		t.log.Debug("Telemetry stopped")
	}
}

// Running reports whether the timer is active.
func (t *Telemetry) Running() bool {
	return t.loop.Running()
}

// Tick advances the model once and emits its frames.
func (t *Telemetry) Tick(now time.Time) {
	frames := t.Step(now)
	if t.emit == nil {
		return
	}
	for _, f := range frames {
		t.emit(f)
	}
}

// Step advances the model once and returns the frames in emission order:
// speed, RPM, temperature, status.
func (t *Telemetry) Step(now time.Time) []canbus.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	ms := float64(now.UnixMilli())

	t.speed += t.accel * t.direction
	if t.speed > speedTurnaround {
		t.direction = -1
	}
	if t.speed <= 0 {
		t.direction = 1
	}
	t.speed = math.Max(0, math.Min(speedMax, t.speed))
	speedRaw := uint16(math.Floor(t.speed * 100))

	t.rpm = math.Min(rpmMax, rpmIdle+t.speed*rpmPerKmh+math.Sin(ms/200)*rpmRipple)
	rpmRaw := uint16(math.Floor(t.rpm))

	if t.temp < tempCeiling {
		t.temp = math.Min(tempCeiling, t.temp+tempStep)
	}

	if t.rnd.Float64() < statusFlipOdds {
		t.status ^= 1 << t.rnd.IntN(8)
	}

	return []canbus.Frame{
		canbus.New(now, IDSpeed, byte(speedRaw), byte(speedRaw>>8)).WithSource(t.powertrain),
		canbus.New(now, IDRPM, byte(rpmRaw), byte(rpmRaw>>8)).WithSource(t.powertrain),
		canbus.New(now, IDTemperature, byte(math.Floor(t.temp))).WithSource(t.body),
		canbus.New(now, IDStatus, t.status).WithSource(t.body),
	}
}

// Snapshot returns the current signal values.
func (t *Telemetry) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Speed:       t.speed,
		RPM:         t.rpm,
		Temperature: t.temp,
		Status:      t.status,
		Direction:   int(t.direction),
	}
}
