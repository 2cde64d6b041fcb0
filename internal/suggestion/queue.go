package suggestion

import (
	"sync"
	"time"

	"github.com/MrWong99/vocaledge/internal/clock"
)

const (
	// DismissGap is the pause between hiding one suggestion and showing the next.
	DismissGap = 500 * time.Millisecond

	// DefaultMaxAge is the staleness threshold used by CleanupOld when called
	// with a non-positive age.
	DefaultMaxAge = 30 * time.Second

	// AutoDismissAfter is how long a display layer should leave a suggestion
	// up before calling DismissCurrent on the user's behalf.
	AutoDismissAfter = 4 * time.Second
)

// DisplayCallbacks are invoked when the displayed suggestion changes. They are
// called without the queue lock held, so they may call back into the queue.
type DisplayCallbacks struct {
	OnShow func(Suggestion)
	OnHide func()
}

// Queue serialises suggestion presentation: at most one suggestion is
// displayed at any time; the rest wait ordered by priority, FIFO within the
// same priority. Safe for concurrent use.
type Queue struct {
	clock clock.Clock

	mu         sync.Mutex
	items      []Suggestion
	current    *Suggestion
	callbacks  DisplayCallbacks
	gapTimer   clock.Timer
	displaying bool
}

// NewQueue returns an empty queue. A nil clock uses the system clock.
func NewQueue(clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Queue{clock: clk}
}

// SetDisplayCallbacks replaces the show/hide callbacks.
func (q *Queue) SetDisplayCallbacks(cb DisplayCallbacks) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callbacks = cb
}

// Add enqueues s unless a suggestion with the same ID is already queued or
// displayed. If nothing is displayed, the head of the queue is shown at once.
func (q *Queue) Add(s Suggestion) {
	q.mu.Lock()
	if !q.containsLocked(s.ID) {
		q.insertLocked(s)
	}
	show := q.promoteLocked()
	cb := q.callbacks.OnShow
	q.mu.Unlock()

	if show != nil && cb != nil {
		cb(*show)
	}
}

// DismissCurrent hides the displayed suggestion and schedules the next one to
// be shown after [DismissGap]. It is a no-op when nothing is displayed.
func (q *Queue) DismissCurrent() {
	q.mu.Lock()
	if q.current == nil {
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.displaying = false
	if q.gapTimer != nil {
		q.gapTimer.Stop()
	}
	q.gapTimer = q.clock.AfterFunc(DismissGap, q.displayNext)
	cb := q.callbacks.OnHide
	q.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Clear drops every queued suggestion and dismisses the displayed one, if any.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	displaying := q.displaying
	q.mu.Unlock()

	if displaying {
		q.DismissCurrent()
	}
}

// CleanupOld drops queued (not displayed) suggestions whose age is at least
// maxAge. A non-positive maxAge uses [DefaultMaxAge].
func (q *Queue) CleanupOld(maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, s := range q.items {
		if now.Sub(s.Timestamp) < maxAge {
			kept = append(kept, s)
		}
	}
	clear(q.items[len(kept):])
	q.items = kept
}

// Current returns the displayed suggestion.
func (q *Queue) Current() (Suggestion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Suggestion{}, false
	}
	return *q.current, true
}

// Len returns the number of queued, not yet displayed, suggestions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsDisplaying reports whether a suggestion is currently shown.
func (q *Queue) IsDisplaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.displaying
}

func (q *Queue) displayNext() {
	q.mu.Lock()
	q.gapTimer = nil
	show := q.promoteLocked()
	cb := q.callbacks.OnShow
	q.mu.Unlock()

	if show != nil && cb != nil {
		cb(*show)
	}
}

// promoteLocked moves the head of the queue into the display slot if the slot
// is free, returning the promoted suggestion.
func (q *Queue) promoteLocked() *Suggestion {
	if q.displaying || len(q.items) == 0 {
		return nil
	}
	s := q.items[0]
	q.items = q.items[1:]
	q.current = &s
	q.displaying = true
	return &s
}

func (q *Queue) containsLocked(id string) bool {
	if q.current != nil && q.current.ID == id {
		return true
	}
	for _, s := range q.items {
		if s.ID == id {
			return true
		}
	}
	return false
}

// insertLocked places s after every queued item of equal or higher priority.
func (q *Queue) insertLocked(s Suggestion) {
	idx := len(q.items)
	for i, queued := range q.items {
		if s.Priority.rank() < queued.Priority.rank() {
			idx = i
			break
		}
	}
	q.items = append(q.items, Suggestion{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = s
}
