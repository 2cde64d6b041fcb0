package coaching

import "github.com/MrWong99/vocaledge/internal/suggestion"

// TrendCapacity is the number of points each analytics trend retains.
const TrendCapacity = 50

// ring is a fixed-capacity FIFO that evicts its oldest entry when full.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// slice returns the contents oldest first.
func (r *ring[T]) slice() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Analytics is a snapshot of per-session coaching data.
type Analytics struct {
	SessionID            string
	SuggestionsShown     []suggestion.Suggestion
	SuggestionsActedUpon []string

	// EnergyTrend, PaceTrend, and PauseQuality hold at most TrendCapacity
	// points each, oldest first. PauseQuality is 1 for a tick without a long
	// pause and 0 otherwise.
	EnergyTrend  []float64
	PaceTrend    []float64
	PauseQuality []float64
}

// ActedUponRate is the share of shown suggestions the learner acted upon.
func (a Analytics) ActedUponRate() float64 {
	if len(a.SuggestionsShown) == 0 {
		return 0
	}
	return float64(len(a.SuggestionsActedUpon)) / float64(len(a.SuggestionsShown))
}

type analytics struct {
	sessionID string
	shown     []suggestion.Suggestion
	actedUpon []string
	energy    ring[float64]
	pace      ring[float64]
	pause     ring[float64]
}

func newAnalytics(sessionID string) *analytics {
	return &analytics{
		sessionID: sessionID,
		energy:    newRing[float64](TrendCapacity),
		pace:      newRing[float64](TrendCapacity),
		pause:     newRing[float64](TrendCapacity),
	}
}

func (a *analytics) snapshot() Analytics {
	return Analytics{
		SessionID:            a.sessionID,
		SuggestionsShown:     append([]suggestion.Suggestion(nil), a.shown...),
		SuggestionsActedUpon: append([]string(nil), a.actedUpon...),
		EnergyTrend:          a.energy.slice(),
		PaceTrend:            a.pace.slice(),
		PauseQuality:         a.pause.slice(),
	}
}
