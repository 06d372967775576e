package app

import "time"

// Clock is the time source sessions use for their timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// timerSet owns every timer a session armed so teardown can cancel them in one place.
type timerSet struct {
	clock  Clock
	timers map[string]Timer
}

func newTimerSet(clock Clock) *timerSet {
	return &timerSet{clock: clock, timers: make(map[string]Timer)}
}

// arm replaces any timer registered under name.
func (t *timerSet) arm(name string, d time.Duration, f func()) {
	t.cancel(name)
	t.timers[name] = t.clock.AfterFunc(d, f)
}

func (t *timerSet) cancel(name string) {
	if timer, ok := t.timers[name]; ok {
		timer.Stop()
		delete(t.timers, name)
	}
}

func (t *timerSet) cancelAll() {
	for name, timer := range t.timers {
		timer.Stop()
		delete(t.timers, name)
	}
}
