// Package analyzer turns the raw per-tick speech metrics sampled by the audio
// pipeline into the enhanced metrics consumed by the coaching engine.
//
// The analyzer has no timer of its own: callers drive it once per metrics
// tick. Time comes from an injected clock so silence tracking is testable.
package analyzer

import (
	"math"
	"sync"
	"time"

	"github.com/MrWong99/vocaledge/internal/clock"
)

const (
	// SilenceThreshold is the energy below which the speaker is considered silent.
	SilenceThreshold = 0.05

	// clarityWindow is the number of recent energy readings used for clarity.
	clarityWindow = 10

	rushedPace          = 12
	hesitantSilence     = 2000 * time.Millisecond
	hesitantEnergyFloor = 0.1
)

// Flow classifies the conversational rhythm of the current tick.
type Flow string

const (
	FlowSmooth   Flow = "smooth"
	FlowHesitant Flow = "hesitant"
	FlowRushed   Flow = "rushed"
)

// RealtimeMetrics is the instantaneous reading taken from the audio pipeline.
type RealtimeMetrics struct {
	// Energy is a normalised loudness proxy in [0, 1].
	Energy float64

	// Pace is the number of debounced loudness peaks since the last counter
	// reset.
	Pace float64
}

// EnhancedMetrics is RealtimeMetrics plus analyzer-derived signals.
type EnhancedMetrics struct {
	RealtimeMetrics

	SilenceDuration time.Duration
	FillerWordCount int

	// SpeechClarity is in [0, 1]; steadier energy yields higher clarity.
	SpeechClarity float64

	Flow Flow
}

// Analyzer holds the rolling state needed to derive EnhancedMetrics. Safe for
// concurrent use.
type Analyzer struct {
	clock clock.Clock

	mu           sync.Mutex
	energies     [clarityWindow]float64
	n            int // readings stored, at most clarityWindow
	next         int // ring write position
	silenceStart time.Time
	lastSpeech   time.Time
}

// New returns an Analyzer. A nil clock uses the system clock.
func New(clk clock.Clock) *Analyzer {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Analyzer{clock: clk}
}

// Analyze derives EnhancedMetrics from one tick. fillerCount is passed through
// unchanged.
func (a *Analyzer) Analyze(m RealtimeMetrics, fillerCount int) EnhancedMetrics {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	var silence time.Duration
	if m.Energy < SilenceThreshold {
		if a.silenceStart.IsZero() {
			a.silenceStart = now
		}
		silence = now.Sub(a.silenceStart)
	} else {
		a.silenceStart = time.Time{}
		a.lastSpeech = now
	}

	a.energies[a.next] = m.Energy
	a.next = (a.next + 1) % clarityWindow
	if a.n < clarityWindow {
		a.n++
	}
	clarity := clamp01(1 - 2*stddev(a.energies[:a.n]))

	return EnhancedMetrics{
		RealtimeMetrics: m,
		SilenceDuration: silence,
		FillerWordCount: fillerCount,
		SpeechClarity:   clarity,
		Flow:            classify(m, silence),
	}
}

// LastSpeech returns when energy was last at or above the silence threshold.
// The zero time means no speech has been observed yet.
func (a *Analyzer) LastSpeech() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSpeech
}

// Reset clears all rolling state.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.energies = [clarityWindow]float64{}
	a.n, a.next = 0, 0
	a.silenceStart = time.Time{}
	a.lastSpeech = time.Time{}
}

func classify(m RealtimeMetrics, silence time.Duration) Flow {
	switch {
	case m.Pace > rushedPace:
		return FlowRushed
	case silence > hesitantSilence || m.Energy < hesitantEnergyFloor:
		return FlowHesitant
	default:
		return FlowSmooth
	}
}

// stddev returns the population standard deviation of xs.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
