// Package ticker runs a callback on a fixed period with at most one timer per
// owner.
package ticker

import (
	"sync"
	"time"
)

// clock abstracts time.Ticker so tests can drive ticks by hand.
type clock interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{ t *time.Ticker }

func (r realClock) C() <-chan time.Time { return r.t.C }
func (r realClock) Stop()               { r.t.Stop() }

var newClock = func(d time.Duration) clock {
	return realClock{t: time.NewTicker(d)}
}

// Loop owns a single periodic goroutine. The zero value is idle and ready
// to use.
type Loop struct {
	// ctl serializes Start and Stop, and is held by Stop until the old
	// goroutine has exited.
	ctl sync.Mutex

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Start begins calling fn every interval. It returns false, without creating
// another timer, when the loop is already running.
//
// fn runs on the loop goroutine, one call at a time. It must not call Start
// or Stop on the same Loop.
func (l *Loop) Start(interval time.Duration, fn func(now time.Time)) bool {
	l.ctl.Lock()
	defer l.ctl.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stop != nil {
		return false
	}

	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go run(newClock(interval), fn, l.stop, l.done)
	return true
}

// Stop cancels the timer and waits for an in-flight fn call to return. No fn
// call starts after Stop returns. It returns false if the loop was idle.
func (l *Loop) Stop() bool {
	l.ctl.Lock()
	defer l.ctl.Unlock()

	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()

	if stop == nil {
		return false
	}
	close(stop)
	<-done
	return true
}

// Running reports whether a timer is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}

func run(c clock, fn func(time.Time), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer c.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-c.C():
			// a pending stop wins over a tick that fired at the same time
			select {
			case <-stop:
				return
			default:
			}
			fn(now)
		}
	}
}
