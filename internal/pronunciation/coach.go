// Package pronunciation drills individual words the learner struggled with.
//
// A [Coach] plays a synthesized reference pronunciation, records the learner's
// attempt from the microphone and sends it to the analysis collaborator for a
// score.
package pronunciation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vocaledge/pkg/audio"
	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	"github.com/MrWong99/vocaledge/pkg/types"
)

var (
	// ErrAlreadyPlaying is returned by [Coach.PlayMaster] while a reference
	// pronunciation is still playing.
	ErrAlreadyPlaying = errors.New("pronunciation: already playing")

	// ErrAlreadyRecording is returned by [Coach.RecordAttempt] while an
	// attempt is being recorded.
	ErrAlreadyRecording = errors.New("pronunciation: already recording")

	// ErrNotRecording is returned by [Coach.StopAndScore] when no attempt was
	// started.
	ErrNotRecording = errors.New("pronunciation: not recording")

	// ErrScoringFailed wraps every failure to obtain a score for a recorded
	// attempt.
	ErrScoringFailed = errors.New("pronunciation: scoring failed")
)

// DefaultMaxAttempt caps the length of a recorded attempt.
const DefaultMaxAttempt = 15 * time.Second

// Option configures a [Coach].
type Option func(*Coach)

// WithMaxAttempt sets the longest attempt that is kept. Audio past the limit
// is discarded.
func WithMaxAttempt(d time.Duration) Option {
	return func(c *Coach) {
		if d > 0 {
			c.maxAttempt = d
		}
	}
}

type recording struct {
	capture audio.Capture
	stop    func() bool // detaches the context watcher
	done    chan struct{}
	pcm     []byte
}

// Coach runs pronunciation drills. It is safe for concurrent use.
type Coach struct {
	device     audio.Device
	provider   analysis.Provider
	maxAttempt time.Duration

	mu      sync.Mutex
	lang    types.Language
	playing bool
	rec     *recording
}

// New creates a Coach for lang.
func New(device audio.Device, provider analysis.Provider, lang types.Language, opts ...Option) *Coach {
	c := &Coach{
		device:     device,
		provider:   provider,
		lang:       lang,
		maxAttempt: DefaultMaxAttempt,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetLanguage switches the drill language for subsequent calls.
func (c *Coach) SetLanguage(lang types.Language) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lang = lang
}

// IsPlaying reports whether a reference pronunciation is playing.
func (c *Coach) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// IsRecording reports whether an attempt is being recorded.
func (c *Coach) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec != nil
}

// PlayMaster synthesizes word and plays it to completion. Only one reference
// plays at a time; a concurrent call returns [ErrAlreadyPlaying].
func (c *Coach) PlayMaster(ctx context.Context, word string) error {
	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return ErrAlreadyPlaying
	}
	c.playing = true
	lang := c.lang
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.playing = false
		c.mu.Unlock()
	}()

	pcm, err := c.provider.SynthesizeSpeech(ctx, word, lang)
	if err != nil {
		return fmt.Errorf("pronunciation: synthesize %q: %w", word, err)
	}
	if len(pcm) == 0 {
		return fmt.Errorf("pronunciation: synthesize %q: empty audio", word)
	}

	out, err := c.device.OpenOutput(ctx, audio.Mono24k)
	if err != nil {
		return fmt.Errorf("pronunciation: open speaker: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			slog.Debug("pronunciation: close speaker", "err", err)
		}
	}()
	if err := out.Play(ctx, pcm); err != nil {
		return fmt.Errorf("pronunciation: play: %w", err)
	}
	return nil
}

// RecordAttempt starts recording the learner from the microphone. Recording
// continues until [Coach.StopAndScore] or until ctx is done.
func (c *Coach) RecordAttempt(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec != nil {
		return ErrAlreadyRecording
	}

	capture, err := c.device.OpenInput(ctx, audio.Mono16k)
	if err != nil {
		return fmt.Errorf("pronunciation: open microphone: %w", err)
	}
	rec := &recording{capture: capture, done: make(chan struct{})}
	rec.stop = context.AfterFunc(ctx, func() { _ = capture.Close() })
	limit := int(int64(c.maxAttempt)*audio.InputSampleRate/int64(time.Second)) * 2

	go func() {
		defer close(rec.done)
		for f := range capture.Frames() {
			pcm := f.Data
			if f.SampleRate != 0 && f.SampleRate != audio.InputSampleRate {
				pcm = audio.ResampleMono16(pcm, f.SampleRate, audio.InputSampleRate)
			}
			if room := limit - len(rec.pcm); room > 0 {
				rec.pcm = append(rec.pcm, pcm[:min(len(pcm), room)]...)
			}
		}
	}()

	c.rec = rec
	return nil
}

// StopAndScore ends the recording and scores it against target. Failures of
// the analysis collaborator, and attempts without audio, wrap
// [ErrScoringFailed].
func (c *Coach) StopAndScore(ctx context.Context, target string) (*analysis.PronunciationScore, error) {
	c.mu.Lock()
	rec := c.rec
	c.rec = nil
	lang := c.lang
	c.mu.Unlock()
	if rec == nil {
		return nil, ErrNotRecording
	}

	rec.stop()
	if err := rec.capture.Close(); err != nil {
		slog.Debug("pronunciation: close microphone", "err", err)
	}
	<-rec.done

	if len(rec.pcm) == 0 {
		return nil, fmt.Errorf("%w: no audio captured", ErrScoringFailed)
	}
	score, err := c.provider.ScorePronunciation(ctx, target, rec.pcm, lang)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScoringFailed, err)
	}
	if score == nil {
		return nil, fmt.Errorf("%w: empty result", ErrScoringFailed)
	}
	slog.Debug("pronunciation: attempt scored", "target", target, "score", score.Score)
	return score, nil
}
