package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ad-engagement-service/internal/domain"
)

// Tracker records engagement events. Calls are fire-and-forget from the session's view.
type Tracker interface {
	Track(ctx context.Context, event domain.Event) error
}

// MultiTracker fans an event out to every tracker and joins their errors.
type MultiTracker []Tracker

func (m MultiTracker) Track(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, t := range m {
		if err := t.Track(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopTracker drops every event.
type NopTracker struct{}

func (NopTracker) Track(context.Context, domain.Event) error { return nil }

// eventQueue delivers a session's events in order on a single goroutine.
// Events accepted before close are still delivered; nothing is accepted after.
type eventQueue struct {
	tracker Tracker
	timeout time.Duration
	ch      chan domain.Event
	done    chan struct{}
}

func newEventQueue(tracker Tracker, timeout time.Duration) *eventQueue {
	q := &eventQueue{
		tracker: tracker,
		timeout: timeout,
		ch:      make(chan domain.Event, 16),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) run() {
	defer close(q.done)
	for event := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.tracker.Track(ctx, event); err != nil {
			err = fmt.Errorf("%w: %s for ad %s: %v", domain.ErrEventEmitFailed, event.Kind, event.AdID, err)
			log.Printf("%v", err)
		}
		cancel()
	}
}

// push must be called with the owning session locked and before close.
func (q *eventQueue) push(event domain.Event) {
	q.ch <- event
}

func (q *eventQueue) close() {
	close(q.ch)
}
