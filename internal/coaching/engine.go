// Package coaching implements the rule engine that turns streaming speech
// metrics into throttled, prioritised coaching suggestions.
//
// The engine evaluates one [analyzer.EnhancedMetrics] per tick. It emits at
// most one suggestion per [Cooldown], pushes every suggestion it emits onto a
// [suggestion.Queue], and keeps rolling per-session analytics regardless of
// whether a suggestion is produced.
//
// Faults inside suggestion generation (catalog errors, panics) are absorbed:
// after [MaxFaults] of them the engine's circuit breaker opens and stays open
// until [BreakerResetAfter] has passed since the most recent fault. The
// breaker has no half-open probing and successful ticks do not reset the
// fault count; only the timed reset and [Engine.ResetSession] do.
package coaching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vocaledge/internal/analyzer"
	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/internal/observe"
	"github.com/MrWong99/vocaledge/internal/suggestion"
	"github.com/MrWong99/vocaledge/pkg/types"
)

const (
	// Cooldown is the minimum interval between two emitted suggestions.
	Cooldown = 30 * time.Second

	// MaxFaults is the number of faults that opens the circuit breaker.
	MaxFaults = 5

	// BreakerResetAfter is how long after the last fault an open breaker
	// closes again.
	BreakerResetAfter = 60 * time.Second

	// LongPause is the silence duration that counts as a long pause, both as
	// a trigger and for the pause-quality trend.
	LongPause = 3000 * time.Millisecond
)

// Trigger thresholds.
const (
	lowEnergy      = 0.3
	highPace       = 8
	lowClarity     = 0.7
	fillerLimit    = 3
	veryLowEnergy  = 0.1
	veryHighPace   = 12
	veryLongPause  = 5000 * time.Millisecond
	veryLowClarity = 0.5
	manyFillers    = 5
)

// ErrEngineFault wraps every fault absorbed by the circuit breaker.
var ErrEngineFault = errors.New("coaching: engine fault")

// ErrBreakerOpen is returned by [Engine.Check] while the breaker is open.
var ErrBreakerOpen = errors.New("coaching: circuit breaker open")

// Health is a point-in-time view of the engine's fault state.
type Health struct {
	Healthy     bool
	ErrorCount  int
	BreakerOpen bool
}

type breakerState struct {
	errorCount int
	open       bool
	lastError  time.Time
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithCatalog overrides the message catalog. Defaults to [DefaultCatalog].
func WithCatalog(c Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithQueue sets the queue suggestions are pushed onto. Defaults to a new
// queue on the engine's clock.
func WithQueue(q *suggestion.Queue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLanguage sets the initial language. Defaults to English.
func WithLanguage(l types.Language) Option {
	return func(e *Engine) { e.lang = l }
}

// WithScenario sets the initial scenario. Defaults to NORMAL.
func WithScenario(s types.ScenarioType) Option {
	return func(e *Engine) { e.scenario = s }
}

// WithIDFunc overrides suggestion and session ID generation.
func WithIDFunc(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// Engine is the coaching rule engine. Safe for concurrent use.
type Engine struct {
	clock   clock.Clock
	catalog Catalog
	queue   *suggestion.Queue
	metrics *observe.Metrics
	newID   func() string

	mu             sync.Mutex
	lang           types.Language
	scenario       types.ScenarioType
	enabled        bool
	lastSuggestion time.Time
	analytics      *analytics
	breaker        breakerState
}

// New creates an Engine with suggestions enabled.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:    clock.Real{},
		catalog:  DefaultCatalog{},
		newID:    uuid.NewString,
		lang:     types.LanguageEnglish,
		scenario: types.ScenarioNormal,
		enabled:  true,
	}
	for _, o := range opts {
		o(e)
	}
	if e.queue == nil {
		e.queue = suggestion.NewQueue(e.clock)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.analytics = newAnalytics(e.newID())
	return e
}

// Queue returns the queue the engine pushes suggestions onto.
func (e *Engine) Queue() *suggestion.Queue { return e.queue }

// AnalyzeSpeechPattern evaluates one tick of metrics and returns the
// suggestion it produced, or nil. Analytics are recorded on every call.
func (e *Engine) AnalyzeSpeechPattern(m analyzer.EnhancedMetrics) *suggestion.Suggestion {
	now := e.clock.Now()

	e.mu.Lock()
	e.recordLocked(m)

	if !e.enabled {
		e.mu.Unlock()
		return nil
	}

	if e.breaker.open {
		if now.Sub(e.breaker.lastError) <= BreakerResetAfter {
			e.mu.Unlock()
			return nil
		}
		e.breaker = breakerState{}
		slog.Info("coaching: circuit breaker reset")
	}

	if !e.lastSuggestion.IsZero() && now.Sub(e.lastSuggestion) < Cooldown {
		e.mu.Unlock()
		return nil
	}

	s, err := e.generateLocked(m, now)
	if err != nil {
		opened := e.faultLocked(now)
		count := e.breaker.errorCount
		e.mu.Unlock()

		slog.Warn("coaching: suggestion generation failed", "err", err, "error_count", count)
		e.metrics.EngineFaults.Add(context.Background(), 1)
		if opened {
			slog.Warn("coaching: circuit breaker opened", "error_count", count)
			e.metrics.BreakerOpens.Add(context.Background(), 1)
		}
		return nil
	}
	if s == nil {
		e.mu.Unlock()
		return nil
	}

	e.lastSuggestion = now
	e.analytics.shown = append(e.analytics.shown, *s)
	e.mu.Unlock()

	// The queue may call display callbacks synchronously; keep the engine
	// lock released so they can call back into the engine.
	e.queue.Add(*s)
	e.metrics.RecordSuggestion(context.Background(), string(s.Type), string(s.Priority))
	return s
}

// generateLocked picks the first matching trigger and builds its suggestion.
// Panics from the catalog are converted into errors.
func (e *Engine) generateLocked(m analyzer.EnhancedMetrics, now time.Time) (s *suggestion.Suggestion, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("%w: panic: %v", ErrEngineFault, r)
		}
	}()

	typ, ok := trigger(m)
	if !ok {
		return nil, nil
	}

	msg, err := e.catalog.Message(typ, e.lang, e.scenario)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineFault, err)
	}
	tip, err := e.catalog.Tip(typ, e.lang)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineFault, err)
	}

	return &suggestion.Suggestion{
		ID:          e.newID(),
		Type:        typ,
		Message:     msg,
		DetailedTip: tip,
		Priority:    priority(typ, m),
		Timestamp:   now,
	}, nil
}

// trigger evaluates the rules in order: energy, pace, pause, clarity, filler.
func trigger(m analyzer.EnhancedMetrics) (suggestion.Type, bool) {
	switch {
	case m.Energy < lowEnergy:
		return suggestion.TypeEnergy, true
	case m.Pace > highPace:
		return suggestion.TypePace, true
	case m.SilenceDuration > LongPause:
		return suggestion.TypePause, true
	case m.SpeechClarity < lowClarity:
		return suggestion.TypeClarity, true
	case m.FillerWordCount > fillerLimit:
		return suggestion.TypeFiller, true
	}
	return "", false
}

func priority(t suggestion.Type, m analyzer.EnhancedMetrics) suggestion.Priority {
	switch t {
	case suggestion.TypeEnergy:
		if m.Energy < veryLowEnergy {
			return suggestion.PriorityHigh
		}
		return suggestion.PriorityMedium
	case suggestion.TypePace:
		if m.Pace > veryHighPace {
			return suggestion.PriorityHigh
		}
		return suggestion.PriorityMedium
	case suggestion.TypePause:
		if m.SilenceDuration > veryLongPause {
			return suggestion.PriorityHigh
		}
		return suggestion.PriorityLow
	case suggestion.TypeClarity:
		if m.SpeechClarity < veryLowClarity {
			return suggestion.PriorityHigh
		}
		return suggestion.PriorityMedium
	case suggestion.TypeFiller:
		if m.FillerWordCount > manyFillers {
			return suggestion.PriorityMedium
		}
		return suggestion.PriorityLow
	}
	return suggestion.PriorityLow
}

// faultLocked counts a fault and reports whether it opened the breaker.
func (e *Engine) faultLocked(now time.Time) bool {
	e.breaker.errorCount++
	e.breaker.lastError = now
	if e.breaker.errorCount >= MaxFaults && !e.breaker.open {
		e.breaker.open = true
		return true
	}
	return false
}

func (e *Engine) recordLocked(m analyzer.EnhancedMetrics) {
	e.analytics.energy.push(m.Energy)
	e.analytics.pace.push(m.Pace)
	quality := 1.0
	if m.SilenceDuration > LongPause {
		quality = 0
	}
	e.analytics.pause.push(quality)
}

// SetLanguage changes the language of subsequent suggestions.
func (e *Engine) SetLanguage(l types.Language) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lang = l
}

// SetScenario changes the scenario used for message overrides.
func (e *Engine) SetScenario(s types.ScenarioType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scenario = s
}

// SetSuggestionsEnabled toggles advisory output. Disabling also clears the
// queue. Analytics keep being recorded either way.
func (e *Engine) SetSuggestionsEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	if !enabled {
		e.queue.Clear()
	}
}

// SuggestionsEnabled reports whether advisory output is on.
func (e *Engine) SuggestionsEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// MarkSuggestionActedUpon records that the learner acted on suggestion id.
// Repeated marks of the same id are ignored.
func (e *Engine) MarkSuggestionActedUpon(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.analytics.actedUpon {
		if existing == id {
			return
		}
	}
	e.analytics.actedUpon = append(e.analytics.actedUpon, id)
}

// Analytics returns a snapshot of the current session's analytics.
func (e *Engine) Analytics() Analytics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.analytics.snapshot()
}

// ResetSession starts a fresh session: new analytics, no cooldown, an empty
// queue, and a closed breaker.
func (e *Engine) ResetSession() {
	e.mu.Lock()
	e.analytics = newAnalytics(e.newID())
	e.lastSuggestion = time.Time{}
	e.breaker = breakerState{}
	e.mu.Unlock()
	e.queue.Clear()
}

// Health returns the engine's fault state.
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Health{
		Healthy:     !e.breaker.open && e.breaker.errorCount < MaxFaults,
		ErrorCount:  e.breaker.errorCount,
		BreakerOpen: e.breaker.open,
	}
}

// Check reports the breaker state as an error, for use as a readiness probe.
func (e *Engine) Check(context.Context) error {
	h := e.Health()
	if h.BreakerOpen {
		return fmt.Errorf("%w after %d faults", ErrBreakerOpen, h.ErrorCount)
	}
	return nil
}
