package app

import (
	"sync"
	"time"

	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/internal/suggestion"
)

// AutoDismisser hides each displayed suggestion after a fixed delay, the way
// a display layer would if the learner never dismissed it by hand.
type AutoDismisser struct {
	clock clock.Clock
	queue *suggestion.Queue
	after time.Duration

	mu      sync.Mutex
	timer   clock.Timer
	shownID string
	stopped bool
}

// NewAutoDismisser creates an AutoDismisser for q. A non-positive after uses
// [suggestion.AutoDismissAfter].
func NewAutoDismisser(clk clock.Clock, q *suggestion.Queue, after time.Duration) *AutoDismisser {
	if after <= 0 {
		after = suggestion.AutoDismissAfter
	}
	return &AutoDismisser{clock: clk, queue: q, after: after}
}

// Wrap returns display callbacks that arm the dismiss timer before calling
// next.
func (d *AutoDismisser) Wrap(next suggestion.DisplayCallbacks) suggestion.DisplayCallbacks {
	return suggestion.DisplayCallbacks{
		OnShow: func(s suggestion.Suggestion) {
			d.arm(s.ID)
			if next.OnShow != nil {
				next.OnShow(s)
			}
		},
		OnHide: func() {
			d.disarm()
			if next.OnHide != nil {
				next.OnHide()
			}
		},
	}
}

func (d *AutoDismisser) arm(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.shownID = id
	d.timer = d.clock.AfterFunc(d.after, func() { d.fire(id) })
}

func (d *AutoDismisser) fire(id string) {
	d.mu.Lock()
	if d.stopped || d.shownID != id {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	// The learner may have dismissed it already.
	if cur, ok := d.queue.Current(); ok && cur.ID == id {
		d.queue.DismissCurrent()
	}
}

func (d *AutoDismisser) disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.shownID = ""
}

// Stop cancels a pending dismissal and ignores later shows.
func (d *AutoDismisser) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
