// Package clock wraps time and timer scheduling so components that arm
// flush, throttle, or jitter timers can be driven by a fake in tests.
package clock

import "time"

// Clock provides the current time and one-shot timer scheduling.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending one-shot callback. Stop reports whether the timer was
// cancelled before it fired.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

type systemTimer struct {
	t *time.Timer
}

// System returns a Clock backed by the runtime timers.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

func (s systemTimer) Stop() bool {
	return s.t.Stop()
}
