package suggestion_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/internal/suggestion"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	shown []string
	hides int
}

func (r *recorder) callbacks() suggestion.DisplayCallbacks {
	return suggestion.DisplayCallbacks{
		OnShow: func(s suggestion.Suggestion) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.shown = append(r.shown, s.ID)
		},
		OnHide: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.hides++
		},
	}
}

func newQueue(t *testing.T) (*suggestion.Queue, *clock.Fake, *recorder) {
	t.Helper()
	clk := clock.NewFake(epoch)
	q := suggestion.NewQueue(clk)
	rec := &recorder{}
	q.SetDisplayCallbacks(rec.callbacks())
	return q, clk, rec
}

func sug(id string, p suggestion.Priority, ts time.Time) suggestion.Suggestion {
	return suggestion.Suggestion{ID: id, Type: suggestion.TypeEnergy, Priority: p, Timestamp: ts}
}

func TestAdd_ShowsImmediatelyWhenIdle(t *testing.T) {
	q, _, rec := newQueue(t)
	q.Add(sug("a", suggestion.PriorityLow, epoch))

	cur, ok := q.Current()
	if !ok || cur.ID != "a" {
		t.Fatalf("Current = %+v, %v; want a", cur, ok)
	}
	if !q.IsDisplaying() {
		t.Error("expected IsDisplaying")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
	if len(rec.shown) != 1 || rec.shown[0] != "a" {
		t.Errorf("shown = %v", rec.shown)
	}
}

func TestAdd_PriorityOrderFIFOWithinPriority(t *testing.T) {
	q, clk, rec := newQueue(t)
	q.Add(sug("shown", suggestion.PriorityLow, epoch))
	q.Add(sug("low1", suggestion.PriorityLow, epoch))
	q.Add(sug("med1", suggestion.PriorityMedium, epoch))
	q.Add(sug("high1", suggestion.PriorityHigh, epoch))
	q.Add(sug("med2", suggestion.PriorityMedium, epoch))
	q.Add(sug("high2", suggestion.PriorityHigh, epoch))

	want := []string{"shown", "high1", "high2", "med1", "med2", "low1"}
	for range want[1:] {
		q.DismissCurrent()
		clk.Advance(suggestion.DismissGap)
	}
	if len(rec.shown) != len(want) {
		t.Fatalf("shown = %v, want %v", rec.shown, want)
	}
	for i := range want {
		if rec.shown[i] != want[i] {
			t.Errorf("shown[%d] = %s, want %s", i, rec.shown[i], want[i])
		}
	}
}

func TestAdd_Duplicates(t *testing.T) {
	q, _, _ := newQueue(t)
	q.Add(sug("a", suggestion.PriorityHigh, epoch))
	q.Add(sug("b", suggestion.PriorityHigh, epoch))
	q.Add(sug("b", suggestion.PriorityHigh, epoch))
	q.Add(sug("a", suggestion.PriorityHigh, epoch))
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1 (duplicates ignored)", q.Len())
	}
}

func TestDismissCurrent_WaitsGap(t *testing.T) {
	q, clk, rec := newQueue(t)
	q.Add(sug("a", suggestion.PriorityHigh, epoch))
	q.Add(sug("b", suggestion.PriorityHigh, epoch))

	q.DismissCurrent()
	if rec.hides != 1 {
		t.Errorf("hides = %d, want 1", rec.hides)
	}
	if q.IsDisplaying() {
		t.Error("nothing should be displayed during the gap")
	}

	clk.Advance(suggestion.DismissGap - time.Millisecond)
	if q.IsDisplaying() {
		t.Error("next suggestion shown before the gap elapsed")
	}
	clk.Advance(time.Millisecond)
	cur, ok := q.Current()
	if !ok || cur.ID != "b" {
		t.Errorf("Current after gap = %+v, %v; want b", cur, ok)
	}
}

func TestDismissCurrent_NoopWhenIdle(t *testing.T) {
	q, clk, rec := newQueue(t)
	q.DismissCurrent()
	if rec.hides != 0 || clk.Pending() != 0 {
		t.Errorf("hides=%d pending=%d, want 0/0", rec.hides, clk.Pending())
	}
}

func TestClear(t *testing.T) {
	q, clk, rec := newQueue(t)
	q.Add(sug("a", suggestion.PriorityHigh, epoch))
	q.Add(sug("b", suggestion.PriorityHigh, epoch))
	q.Clear()

	if q.Len() != 0 || q.IsDisplaying() {
		t.Errorf("after Clear: Len=%d displaying=%v", q.Len(), q.IsDisplaying())
	}
	if rec.hides != 1 {
		t.Errorf("hides = %d, want 1", rec.hides)
	}
	clk.Advance(time.Second)
	if q.IsDisplaying() {
		t.Error("cleared suggestion resurfaced")
	}
}

func TestCleanupOld(t *testing.T) {
	q, clk, _ := newQueue(t)
	q.Add(sug("displayed", suggestion.PriorityHigh, epoch))
	q.Add(sug("old", suggestion.PriorityHigh, epoch))
	q.Add(sug("fresh", suggestion.PriorityHigh, epoch.Add(20*time.Second)))

	clk.Set(epoch.Add(30 * time.Second))
	q.CleanupOld(0)

	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
	if cur, _ := q.Current(); cur.ID != "displayed" {
		t.Errorf("CleanupOld must not touch the displayed item, got %s", cur.ID)
	}
	q.DismissCurrent()
	clk.Advance(suggestion.DismissGap)
	if cur, _ := q.Current(); cur.ID != "fresh" {
		t.Errorf("Current = %s, want fresh", cur.ID)
	}
}

func TestAtMostOneDisplayed(t *testing.T) {
	q, clk, _ := newQueue(t)
	var mu sync.Mutex
	displayed := 0
	maxDisplayed := 0
	q.SetDisplayCallbacks(suggestion.DisplayCallbacks{
		OnShow: func(suggestion.Suggestion) {
			mu.Lock()
			displayed++
			if displayed > maxDisplayed {
				maxDisplayed = displayed
			}
			mu.Unlock()
		},
		OnHide: func() {
			mu.Lock()
			displayed--
			mu.Unlock()
		},
	})

	for i := range 20 {
		q.Add(sug(string(rune('a'+i)), suggestion.PriorityMedium, epoch))
		if i%3 == 0 {
			q.DismissCurrent()
		}
		clk.Advance(200 * time.Millisecond)
	}
	if maxDisplayed != 1 {
		t.Errorf("max simultaneously displayed = %d, want 1", maxDisplayed)
	}
}
