package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/chuanjin/obdbridge/internal/ticker"
	"go.uber.org/zap"
)

// Generator produces the frames of one tick. A generator is owned by a
// single session and is only called from its tick goroutine.
type Generator interface {
	Step(now time.Time) []canbus.Frame
}

// Sink delivers frames to the peer.
type Sink interface {
	WriteFrame(f canbus.Frame) error
}

// SessionConfig holds per-session settings.
type SessionConfig struct {
	Interval time.Duration
	Baud     int
}

// Session is the per-peer streaming state: one timer, one generator, a
// running flag and the advisory baud rate.
type Session struct {
	id       string
	gen      Generator
	sink     Sink
	interval time.Duration
	log      *zap.Logger
	loop     ticker.Loop
	sent     atomic.Uint64

	// ctl serializes Start, Stop and Close so the running flag and the
	// timer change together. tick only takes mu.
	ctl sync.Mutex

	mu      sync.Mutex
	running bool
	closed  bool
	baud    int
}

// NewSession returns an idle session.
func NewSession(id string, gen Generator, sink Sink, cfg SessionConfig, log *zap.Logger) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		id:       id,
		gen:      gen,
		sink:     sink,
		interval: cfg.Interval,
		baud:     cfg.Baud,
		log:      log.With(zap.String("session", id)),
	}
}

// Handle applies one raw control message. Malformed and unknown messages are
// logged and dropped.
func (s *Session) Handle(raw []byte) {
	msg, err := ParseControl(raw)
	if err != nil {
		s.log.Warn("Ignoring control message", zap.Error(err), zap.ByteString("raw", raw))
		return
	}

	switch msg.Type {
	case CommandStart:
		s.Start()
	case CommandStop:
		s.Stop()
	case CommandSetBaud:
		s.SetBaud(msg.Value)
	}
}

// Start begins streaming. Repeated calls keep the single existing timer.
func (s *Session) Start() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.running = true
	}
	s.mu.Unlock()
	if closed {
		return
	}

	if s.loop.Start(s.interval, s.tick) {
		s.log.Info("Streaming started", zap.Duration("interval", s.interval))
	}
}

// Stop halts streaming and cancels the timer.
func (s *Session) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if s.loop.Stop() {
		s.log.Info("Streaming stopped", zap.Uint64("frames_sent", s.sent.Load()))
	}
}

// SetBaud records the peer's nominal bitrate. Emission is not affected.
func (s *Session) SetBaud(baud int) {
	s.mu.Lock()
	s.baud = baud
	s.mu.Unlock()
	s.log.Info("Baud rate set", zap.Int("baud", baud))
}

// Close stops the session for good. No frame is written after Close returns.
func (s *Session) Close() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	s.closed = true
	s.running = false
	s.mu.Unlock()

	s.loop.Stop()
}

// Running reports whether frames are being streamed.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.loop.Running()
}

// Baud returns the advisory bitrate.
func (s *Session) Baud() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baud
}

// Sent returns the number of frames written so far.
func (s *Session) Sent() uint64 {
	return s.sent.Load()
}

func (s *Session) tick(now time.Time) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}

	for _, f := range s.gen.Step(now) {
		if err := s.sink.WriteFrame(f); err != nil {
			// the read side notices the broken peer and closes the session
			s.log.Debug("Frame write failed", zap.Error(err))
			return
		}
		s.sent.Add(1)
	}
}
