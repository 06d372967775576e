package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ad-engagement-service/internal/app"
	"ad-engagement-service/internal/domain"
)

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) app.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, pending := range t.clock.timers {
		if pending == t {
			t.clock.timers = append(t.clock.timers[:i], t.clock.timers[i+1:]...)
			t.stopped = true
			return true
		}
	}
	return false
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		idx := -1
		for i, t := range c.timers {
			if t.when.After(target) {
				continue
			}
			if idx == -1 || t.when.Before(c.timers[idx].when) {
				idx = i
			}
		}
		if idx == -1 {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.timers[idx]
		c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
		c.now = next.when
		c.mu.Unlock()
		next.f()
	}
}

type recordingTracker struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recordingTracker) Track(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingTracker) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type recordingLedger struct {
	mu       sync.Mutex
	amounts  []int
	claimIDs []string
	err      error
}

func (l *recordingLedger) CreditReward(_ context.Context, claim domain.RewardClaim) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.amounts = append(l.amounts, claim.Amount)
	l.claimIDs = append(l.claimIDs, claim.ID)
	return nil
}

func (l *recordingLedger) claims() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.claimIDs...)
}

func (l *recordingLedger) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *recordingLedger) credited() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.amounts...)
}

// drain closes the session and waits for its queued events to be delivered.
func drain(t *testing.T, session *app.Session) {
	t.Helper()
	session.Close()
	select {
	case <-session.Drained():
	case <-time.After(2 * time.Second):
		t.Fatalf("events not drained")
	}
}

func assertKinds(t *testing.T, got []domain.EventKind, want ...domain.EventKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}
