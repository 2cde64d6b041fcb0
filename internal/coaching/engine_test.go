package coaching_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/vocaledge/internal/analyzer"
	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/internal/coaching"
	"github.com/MrWong99/vocaledge/internal/observe"
	"github.com/MrWong99/vocaledge/internal/suggestion"
	"github.com/MrWong99/vocaledge/pkg/types"
)

var epoch = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

// faultyCatalog fails (or panics) while failing is set, and otherwise defers
// to the default catalog.
type faultyCatalog struct {
	failing atomic.Bool
	panics  bool
}

func (c *faultyCatalog) Message(t suggestion.Type, l types.Language, s types.ScenarioType) (string, error) {
	if c.failing.Load() {
		if c.panics {
			panic("catalog exploded")
		}
		return "", errors.New("catalog unavailable")
	}
	return coaching.DefaultCatalog{}.Message(t, l, s)
}

func (c *faultyCatalog) Tip(t suggestion.Type, l types.Language) (string, error) {
	return coaching.DefaultCatalog{}.Tip(t, l)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newEngine(t *testing.T, opts ...coaching.Option) (*coaching.Engine, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	seq := 0
	base := []coaching.Option{
		coaching.WithClock(clk),
		coaching.WithMetrics(testMetrics(t)),
		coaching.WithIDFunc(func() string { seq++; return fmt.Sprintf("id-%d", seq) }),
	}
	return coaching.New(append(base, opts...)...), clk
}

// good returns metrics that fire no trigger.
func good() analyzer.EnhancedMetrics {
	return analyzer.EnhancedMetrics{
		RealtimeMetrics: analyzer.RealtimeMetrics{Energy: 0.6, Pace: 4},
		SpeechClarity:   0.9,
		Flow:            analyzer.FlowSmooth,
	}
}

func TestTriggerOrder(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*analyzer.EnhancedMetrics)
		wantType suggestion.Type
		wantPrio suggestion.Priority
	}{
		{"energy medium", func(m *analyzer.EnhancedMetrics) { m.Energy = 0.2 }, suggestion.TypeEnergy, suggestion.PriorityMedium},
		{"energy high", func(m *analyzer.EnhancedMetrics) { m.Energy = 0.05 }, suggestion.TypeEnergy, suggestion.PriorityHigh},
		{"energy beats everything", func(m *analyzer.EnhancedMetrics) {
			m.Energy, m.Pace, m.SilenceDuration, m.SpeechClarity, m.FillerWordCount = 0.2, 20, 9*time.Second, 0.1, 9
		}, suggestion.TypeEnergy, suggestion.PriorityMedium},
		{"pace medium", func(m *analyzer.EnhancedMetrics) { m.Pace = 9 }, suggestion.TypePace, suggestion.PriorityMedium},
		{"pace high", func(m *analyzer.EnhancedMetrics) { m.Pace = 13 }, suggestion.TypePace, suggestion.PriorityHigh},
		{"pace beats pause", func(m *analyzer.EnhancedMetrics) { m.Pace, m.SilenceDuration = 9, 4*time.Second }, suggestion.TypePace, suggestion.PriorityMedium},
		{"pause low", func(m *analyzer.EnhancedMetrics) { m.SilenceDuration = 3100 * time.Millisecond }, suggestion.TypePause, suggestion.PriorityLow},
		{"pause high", func(m *analyzer.EnhancedMetrics) { m.SilenceDuration = 5100 * time.Millisecond }, suggestion.TypePause, suggestion.PriorityHigh},
		{"clarity medium", func(m *analyzer.EnhancedMetrics) { m.SpeechClarity = 0.6 }, suggestion.TypeClarity, suggestion.PriorityMedium},
		{"clarity high", func(m *analyzer.EnhancedMetrics) { m.SpeechClarity = 0.4 }, suggestion.TypeClarity, suggestion.PriorityHigh},
		{"filler low", func(m *analyzer.EnhancedMetrics) { m.FillerWordCount = 4 }, suggestion.TypeFiller, suggestion.PriorityLow},
		{"filler medium", func(m *analyzer.EnhancedMetrics) { m.FillerWordCount = 6 }, suggestion.TypeFiller, suggestion.PriorityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t)
			m := good()
			tt.mutate(&m)
			s := e.AnalyzeSpeechPattern(m)
			if s == nil {
				t.Fatal("expected a suggestion")
			}
			if s.Type != tt.wantType || s.Priority != tt.wantPrio {
				t.Errorf("got %s/%s, want %s/%s", s.Type, s.Priority, tt.wantType, tt.wantPrio)
			}
			if s.Message == "" || s.DetailedTip == "" {
				t.Errorf("message/tip empty: %+v", s)
			}
		})
	}
}

func TestNoTrigger(t *testing.T) {
	e, _ := newEngine(t)
	if s := e.AnalyzeSpeechPattern(good()); s != nil {
		t.Errorf("unexpected suggestion %+v", s)
	}
}

func TestSilenceScenario_EnergyTakesPrecedence(t *testing.T) {
	// A long quiet stretch with the analyzer in the loop: the low energy
	// readings fire the energy rule before the pause rule is reached.
	e, clk := newEngine(t)
	a := analyzer.New(clk)

	var got *suggestion.Suggestion
	for _, energy := range []float64{0.05, 0.04, 0.02} {
		m := a.Analyze(analyzer.RealtimeMetrics{Energy: energy}, 0)
		if s := e.AnalyzeSpeechPattern(m); s != nil && got == nil {
			got = s
		}
		clk.Advance(1600 * time.Millisecond)
	}
	if got == nil || got.Type != suggestion.TypeEnergy {
		t.Fatalf("got %+v, want energy suggestion", got)
	}
}

func TestSilenceScenario_PauseFiresWhenEnergyIsFine(t *testing.T) {
	e, _ := newEngine(t)
	m := good()
	m.Energy = 0.5
	m.SilenceDuration = 3200 * time.Millisecond
	s := e.AnalyzeSpeechPattern(m)
	if s == nil || s.Type != suggestion.TypePause {
		t.Fatalf("got %+v, want pause suggestion", s)
	}
}

func TestCooldown(t *testing.T) {
	e, clk := newEngine(t)
	bad := good()
	bad.Energy = 0.1

	var emitted []time.Time
	for range 120 {
		if s := e.AnalyzeSpeechPattern(bad); s != nil {
			emitted = append(emitted, s.Timestamp)
		}
		clk.Advance(time.Second)
	}
	if len(emitted) < 2 {
		t.Fatalf("expected several suggestions over 2 minutes, got %d", len(emitted))
	}
	for i := 1; i < len(emitted); i++ {
		if gap := emitted[i].Sub(emitted[i-1]); gap < coaching.Cooldown {
			t.Errorf("suggestions %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestCooldown_StillRecordsAnalytics(t *testing.T) {
	e, _ := newEngine(t)
	bad := good()
	bad.Energy = 0.1
	e.AnalyzeSpeechPattern(bad)
	e.AnalyzeSpeechPattern(bad)
	e.AnalyzeSpeechPattern(bad)
	if got := len(e.Analytics().EnergyTrend); got != 3 {
		t.Errorf("EnergyTrend length = %d, want 3", got)
	}
}

func TestDisabled(t *testing.T) {
	e, _ := newEngine(t)
	bad := good()
	bad.Energy = 0.1

	e.AnalyzeSpeechPattern(bad)
	if !e.Queue().IsDisplaying() {
		t.Fatal("expected suggestion to be displayed")
	}

	e.SetSuggestionsEnabled(false)
	if e.Queue().IsDisplaying() || e.Queue().Len() != 0 {
		t.Error("disabling suggestions should clear the queue")
	}
	if s := e.AnalyzeSpeechPattern(bad); s != nil {
		t.Errorf("disabled engine returned %+v", s)
	}
	if got := len(e.Analytics().EnergyTrend); got != 2 {
		t.Errorf("analytics must keep recording when disabled, got %d points", got)
	}
}

func TestCircuitBreaker(t *testing.T) {
	for _, panics := range []bool{false, true} {
		t.Run(fmt.Sprintf("panics=%v", panics), func(t *testing.T) {
			cat := &faultyCatalog{panics: panics}
			cat.failing.Store(true)
			e, clk := newEngine(t, coaching.WithCatalog(cat))
			bad := good()
			bad.Energy = 0.1

			for i := range coaching.MaxFaults {
				if s := e.AnalyzeSpeechPattern(bad); s != nil {
					t.Fatalf("fault %d produced a suggestion", i)
				}
				clk.Advance(time.Second)
			}
			h := e.Health()
			if !h.BreakerOpen || h.Healthy || h.ErrorCount != coaching.MaxFaults {
				t.Fatalf("Health = %+v, want open breaker", h)
			}
			if err := e.Check(context.Background()); !errors.Is(err, coaching.ErrBreakerOpen) {
				t.Errorf("Check = %v, want ErrBreakerOpen", err)
			}

			// Generation would now succeed, but the breaker suppresses it.
			cat.failing.Store(false)
			clk.Advance(30 * time.Second)
			if s := e.AnalyzeSpeechPattern(bad); s != nil {
				t.Fatalf("breaker open but got %+v", s)
			}

			clk.Advance(31 * time.Second) // 62s after the last fault
			s := e.AnalyzeSpeechPattern(bad)
			if s == nil {
				t.Fatal("breaker should have reset after 60s")
			}
			if h := e.Health(); !h.Healthy || h.ErrorCount != 0 || h.BreakerOpen {
				t.Errorf("Health after reset = %+v", h)
			}
			if got := len(e.Analytics().EnergyTrend); got != coaching.MaxFaults+2 {
				t.Errorf("analytics points = %d, want %d", got, coaching.MaxFaults+2)
			}
		})
	}
}

func TestFaultCountNotResetBySuccess(t *testing.T) {
	cat := &faultyCatalog{}
	e, _ := newEngine(t, coaching.WithCatalog(cat))
	bad := good()
	bad.Energy = 0.1

	cat.failing.Store(true)
	e.AnalyzeSpeechPattern(bad)
	e.AnalyzeSpeechPattern(bad)
	cat.failing.Store(false)
	if s := e.AnalyzeSpeechPattern(bad); s == nil {
		t.Fatal("expected suggestion once catalog recovers")
	}
	if got := e.Health().ErrorCount; got != 2 {
		t.Errorf("ErrorCount = %d, want 2", got)
	}
}

func TestUnknownLanguageIsAFault(t *testing.T) {
	e, _ := newEngine(t, coaching.WithLanguage("fr"))
	bad := good()
	bad.Energy = 0.1
	if s := e.AnalyzeSpeechPattern(bad); s != nil {
		t.Errorf("got %+v, want nil", s)
	}
	if e.Health().ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", e.Health().ErrorCount)
	}
}

func TestScenarioOverrides(t *testing.T) {
	tests := []struct {
		scenario types.ScenarioType
		lang     types.Language
		mutate   func(*analyzer.EnhancedMetrics)
		want     string
	}{
		{types.ScenarioDebate, types.LanguageEnglish, func(m *analyzer.EnhancedMetrics) { m.Energy = 0.2 }, "Project confidence and authority in your voice"},
		{types.ScenarioSales, types.LanguageEnglish, func(m *analyzer.EnhancedMetrics) { m.SilenceDuration = 4 * time.Second }, "Use strategic pauses to let key points sink in"},
		{types.ScenarioConfidence, types.LanguageEnglish, func(m *analyzer.EnhancedMetrics) { m.Pace = 9 }, "Take your time - there's no rush to share"},
		{types.ScenarioSales, types.LanguageEnglish, func(m *analyzer.EnhancedMetrics) { m.Pace = 9 }, "Slow down your speech for better clarity"},
		{types.ScenarioDebate, types.LanguageArabicMSA, func(m *analyzer.EnhancedMetrics) { m.Energy = 0.2 }, "حاول التحدث بطاقة وحماس أكبر"},
	}
	for _, tt := range tests {
		t.Run(string(tt.scenario)+"/"+string(tt.lang), func(t *testing.T) {
			e, _ := newEngine(t, coaching.WithScenario(tt.scenario), coaching.WithLanguage(tt.lang))
			m := good()
			tt.mutate(&m)
			s := e.AnalyzeSpeechPattern(m)
			if s == nil || s.Message != tt.want {
				t.Errorf("got %+v, want message %q", s, tt.want)
			}
		})
	}
}

func TestAnalyticsTrendsCapped(t *testing.T) {
	e, clk := newEngine(t)
	for i := range 120 {
		m := good()
		m.Energy = float64(i) / 1000
		m.SilenceDuration = time.Duration(i%2) * 4 * time.Second
		e.AnalyzeSpeechPattern(m)
		clk.Advance(100 * time.Millisecond)
	}
	a := e.Analytics()
	if len(a.EnergyTrend) != coaching.TrendCapacity || len(a.PaceTrend) != coaching.TrendCapacity || len(a.PauseQuality) != coaching.TrendCapacity {
		t.Fatalf("trend lengths = %d/%d/%d, want %d", len(a.EnergyTrend), len(a.PaceTrend), len(a.PauseQuality), coaching.TrendCapacity)
	}
	if a.EnergyTrend[0] != 0.07 || a.EnergyTrend[49] != 0.119 {
		t.Errorf("oldest/newest = %v/%v, want 0.07/0.119", a.EnergyTrend[0], a.EnergyTrend[49])
	}
	if a.PauseQuality[0] != 1 || a.PauseQuality[1] != 0 {
		t.Errorf("pause quality = %v", a.PauseQuality[:2])
	}
}

func TestMarkSuggestionActedUpon(t *testing.T) {
	e, _ := newEngine(t)
	bad := good()
	bad.Energy = 0.1
	s := e.AnalyzeSpeechPattern(bad)
	e.MarkSuggestionActedUpon(s.ID)
	e.MarkSuggestionActedUpon(s.ID)

	a := e.Analytics()
	if len(a.SuggestionsActedUpon) != 1 || len(a.SuggestionsShown) != 1 {
		t.Errorf("acted=%v shown=%d", a.SuggestionsActedUpon, len(a.SuggestionsShown))
	}
	if a.ActedUponRate() != 1 {
		t.Errorf("ActedUponRate = %v, want 1", a.ActedUponRate())
	}
}

func TestResetSession(t *testing.T) {
	cat := &faultyCatalog{}
	e, _ := newEngine(t, coaching.WithCatalog(cat))
	bad := good()
	bad.Energy = 0.1

	e.AnalyzeSpeechPattern(bad)
	if s := e.AnalyzeSpeechPattern(bad); s != nil {
		t.Fatal("second tick should be in cooldown")
	}
	cat.failing.Store(true)
	e.AnalyzeSpeechPattern(bad) // still cooling down, no fault
	first := e.Analytics().SessionID

	e.ResetSession()
	cat.failing.Store(false)

	a := e.Analytics()
	if a.SessionID == first || len(a.EnergyTrend) != 0 || len(a.SuggestionsShown) != 0 {
		t.Errorf("analytics not reset: %+v", a)
	}
	if e.Queue().IsDisplaying() {
		t.Error("queue not cleared")
	}
	if s := e.AnalyzeSpeechPattern(bad); s == nil {
		t.Error("cooldown should be cleared by ResetSession")
	}
}

func TestQueueReceivesSuggestion(t *testing.T) {
	e, _ := newEngine(t)
	var shown []string
	e.Queue().SetDisplayCallbacks(suggestion.DisplayCallbacks{
		OnShow: func(s suggestion.Suggestion) {
			// Calling back into the engine from a display callback must not deadlock.
			e.MarkSuggestionActedUpon(s.ID)
			shown = append(shown, s.ID)
		},
	})
	bad := good()
	bad.Energy = 0.1
	s := e.AnalyzeSpeechPattern(bad)
	if len(shown) != 1 || shown[0] != s.ID {
		t.Errorf("shown = %v, want [%s]", shown, s.ID)
	}
}
