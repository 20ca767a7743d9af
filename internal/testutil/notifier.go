package testutil

import (
	"context"
	"sync"

	"github.com/engagehub/backend/internal/notify"
)

// RecordingNotifier keeps every event it receives.
type RecordingNotifier struct {
	mu     sync.Mutex
	Events []notify.Event
}

func (r *RecordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
	return nil
}

// Count returns how many events of type t were received.
func (r *RecordingNotifier) Count(t notify.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.Events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// Last returns the most recent event of type t.
func (r *RecordingNotifier) Last(t notify.EventType) (notify.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Events) - 1; i >= 0; i-- {
		if r.Events[i].Type == t {
			return r.Events[i], true
		}
	}
	return notify.Event{}, false
}
