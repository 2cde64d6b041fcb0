// Package pipeline runs the duplex audio session between the learner's
// microphone and speakers and the remote conversational agent.
//
// A [Pipeline] captures 16 kHz microphone audio, streams it to an
// [s2s.SessionHandle], plays the agent's 24 kHz speech back at the configured
// pace, and keeps a turn log of both sides of the conversation. While a session
// is active it exposes live loudness and speaking-pace readings through
// [Pipeline.RealtimeMetrics].
//
// Four goroutines run under an errgroup for the lifetime of a session:
//
//   - capture reads device frames, counts loudness peaks, buffers user audio
//     and forwards frames to the outbound channel without blocking
//   - sender drains the outbound channel into the agent connection
//   - receiver applies agent events in order (audio, transcripts,
//     interruptions, turn boundaries)
//   - playback plays scheduled agent audio strictly sequentially
//
// All exported methods are safe for concurrent use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocaledge/internal/analyzer"
	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/internal/kvstore"
	"github.com/MrWong99/vocaledge/internal/observe"
	"github.com/MrWong99/vocaledge/internal/pace"
	"github.com/MrWong99/vocaledge/internal/prompt"
	"github.com/MrWong99/vocaledge/pkg/audio"
	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
	"github.com/MrWong99/vocaledge/pkg/types"
)

var (
	// ErrDeviceUnavailable is returned by [Pipeline.Start] when the microphone
	// or the speaker cannot be opened. It is the same value as
	// [audio.ErrDeviceUnavailable].
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable

	// ErrConnection is returned by [Pipeline.Start] when the agent cannot be
	// reached, and reported through Callbacks.OnError when an established
	// connection fails.
	ErrConnection = errors.New("pipeline: agent connection failed")

	// errRemoteClosed ends the task group when the agent hangs up.
	errRemoteClosed = errors.New("pipeline: agent closed the session")
)

const (
	// peakThreshold is the absolute sample level, as a fraction of full scale,
	// that counts as a loudness peak.
	peakThreshold = 0.15

	// peakDebounce is the minimum spacing between two counted peaks.
	peakDebounce = 150 * time.Millisecond

	defaultOutboundBuffer = 32
)

// State is the lifecycle phase of a [Pipeline].
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateInterrupted
	StateStopping
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Callbacks receive session notifications. Any field may be nil. Callbacks
// run on pipeline goroutines and must not block for long.
type Callbacks struct {
	// OnTranscriptionUpdate fires for every transcript delta with the speaker
	// and the delta text.
	OnTranscriptionUpdate func(role types.Role, text string)

	// OnInterrupted fires when the agent signals that the learner barged in.
	OnInterrupted func()

	// OnClose fires when the agent ends the session. It does not fire for
	// sessions ended by [Pipeline.Stop]. It is safe to call Stop from OnClose.
	OnClose func()

	// OnError receives start failures and connection errors.
	OnError func(error)
}

// Result is what a finished session leaves behind.
type Result struct {
	// Transcript holds one "User: ..." or "AI: ..." line per transcript delta,
	// in receipt order.
	Transcript string

	// Turns is the turn log in completion order.
	Turns []types.Turn
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithClock sets the time source used for peak debouncing and playback
// scheduling.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithOutboundBuffer sets how many captured frames may wait for the sender
// before new frames are dropped. Default: 32.
func WithOutboundBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.outboundBuf = n
		}
	}
}

// WithIDFunc overrides turn ID generation.
func WithIDFunc(f func() string) Option {
	return func(p *Pipeline) { p.newID = f }
}

// turnBuffer accumulates one side of the conversation until the turn ends.
type turnBuffer struct {
	role types.Role
	rate int
	text strings.Builder
	pcm  []byte
}

func (b *turnBuffer) empty() bool { return b.text.Len() == 0 && len(b.pcm) == 0 }

func (b *turnBuffer) reset() {
	b.text.Reset()
	b.pcm = nil
}

func (b *turnBuffer) finalize(id string) types.Turn {
	t := types.Turn{
		ID:         id,
		Role:       b.role,
		Text:       b.text.String(),
		Audio:      audio.EncodeWAV(b.pcm, b.rate, 1),
		SampleRate: b.rate,
	}
	b.reset()
	return t
}

// run holds the resources of one active session.
type run struct {
	cancel   context.CancelFunc
	group    *errgroup.Group
	handle   s2s.SessionHandle
	capture  audio.Capture
	playback audio.Playback
	sched    *scheduler
	outbound chan []byte
	cb       Callbacks

	// lastPeak is owned by the capture goroutine.
	lastPeak time.Time
}

// Pipeline is the duplex audio session with the conversational agent.
type Pipeline struct {
	device      audio.Device
	provider    s2s.Provider
	pace        *pace.Controller
	clock       clock.Clock
	metrics     *observe.Metrics
	outboundBuf int
	newID       func() string

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	peaks atomic.Int64

	mu      sync.Mutex
	state   State
	run     *run
	user    turnBuffer
	agent   turnBuffer
	history []string
	turns   []types.Turn
	window  []int16 // latest fftSize input samples
}

// New creates an idle Pipeline. A nil pace controller keeps the pace
// preference in memory with the default settings.
func New(device audio.Device, provider s2s.Provider, pc *pace.Controller, opts ...Option) *Pipeline {
	p := &Pipeline{
		device:      device,
		provider:    provider,
		pace:        pc,
		clock:       clock.Real{},
		outboundBuf: defaultOutboundBuffer,
		newID:       uuid.NewString,
		user:        turnBuffer{role: types.RoleUser, rate: audio.InputSampleRate},
		agent:       turnBuffer{role: types.RoleAgent, rate: audio.OutputSampleRate},
	}
	for _, o := range opts {
		o(p)
	}
	if p.pace == nil {
		p.pace = pace.New(context.Background(), kvstore.NewMemory())
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// State returns the current lifecycle phase.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start opens the audio devices, connects the agent with a system instruction
// built from cfg and begins streaming. A session that is already running is
// stopped first and its result discarded.
//
// On failure every resource acquired so far is released, the error is passed
// to cb.OnError and returned. It wraps [ErrDeviceUnavailable] or
// [ErrConnection].
func (p *Pipeline) Start(ctx context.Context, cfg types.SessionConfig, lang types.Language, cb Callbacks) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.State() != StateIdle {
		slog.Info("pipeline: restarting, stopping previous session")
		p.stopLocked()
	}
	p.setState(StateStarting)

	r, err := p.open(ctx, cfg, lang, cb)
	if err != nil {
		p.setState(StateIdle)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err
	}

	p.mu.Lock()
	p.resetLocked()
	p.run = r
	p.state = StateActive
	p.mu.Unlock()
	p.peaks.Store(0)

	// The session outlives the Start call; keep ctx values but not its
	// cancellation.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	r.group = g
	g.Go(func() error { return p.captureLoop(gctx, r) })
	g.Go(func() error { return p.sendLoop(gctx, r) })
	g.Go(func() error { return p.receiveLoop(gctx, r) })
	g.Go(func() error { return r.sched.run(gctx, r.playback) })
	go p.watch(r)

	slog.Info("pipeline: session started", "language", lang, "scenario", cfg.Scenario)
	return nil
}

// open acquires the devices and the agent connection, releasing whatever was
// already acquired when a later step fails.
func (p *Pipeline) open(ctx context.Context, cfg types.SessionConfig, lang types.Language, cb Callbacks) (*run, error) {
	capture, err := p.device.OpenInput(ctx, audio.Mono16k)
	if err != nil {
		return nil, fmt.Errorf("%w: microphone: %w", ErrDeviceUnavailable, err)
	}
	playback, err := p.device.OpenOutput(ctx, audio.Mono24k)
	if err != nil {
		_ = capture.Close()
		return nil, fmt.Errorf("%w: speaker: %w", ErrDeviceUnavailable, err)
	}
	handle, err := p.provider.Connect(ctx, s2s.SessionConfig{
		Instructions: prompt.SystemInstruction(cfg, lang),
		Language:     lang,
	})
	if err != nil {
		_ = capture.Close()
		_ = playback.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return &run{
		handle:   handle,
		capture:  capture,
		playback: playback,
		sched:    newScheduler(p.clock),
		outbound: make(chan []byte, p.outboundBuf),
		cb:       cb,
	}, nil
}

// watch waits for the task group and reports an agent hang-up. It runs
// outside the group so that OnClose may call Stop.
func (p *Pipeline) watch(r *run) {
	err := r.group.Wait()
	if !errors.Is(err, errRemoteClosed) {
		return
	}
	if cause := r.handle.Err(); cause != nil {
		slog.Warn("pipeline: agent connection failed", "err", cause)
		if r.cb.OnError != nil {
			r.cb.OnError(fmt.Errorf("%w: %w", ErrConnection, cause))
		}
	} else {
		slog.Info("pipeline: agent closed the session")
	}
	if r.cb.OnClose != nil {
		r.cb.OnClose()
	}
}

// Stop ends the session and returns its transcript and turn log. Text or
// audio that never reached a turn boundary is flushed into final turns. Stop
// on an idle pipeline returns an empty Result.
func (p *Pipeline) Stop() Result {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	return p.stopLocked()
}

func (p *Pipeline) stopLocked() Result {
	p.mu.Lock()
	r := p.run
	if r == nil {
		p.state = StateIdle
		p.mu.Unlock()
		return Result{}
	}
	p.state = StateStopping
	p.mu.Unlock()

	r.cancel()
	if err := r.handle.Close(); err != nil {
		slog.Debug("pipeline: close agent session", "err", err)
	}
	if err := r.capture.Close(); err != nil {
		slog.Debug("pipeline: close microphone", "err", err)
	}
	r.sched.flush()
	_ = r.group.Wait()
	// Frames captured after the loop exited are discarded.
	audio.Drain(r.capture.Frames())
	if err := r.playback.Close(); err != nil {
		slog.Debug("pipeline: close speaker", "err", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.user.empty() {
		p.appendTurnLocked(p.user.finalize("u-final-" + p.newID()))
	}
	if !p.agent.empty() {
		p.appendTurnLocked(p.agent.finalize("m-final-" + p.newID()))
	}
	res := Result{
		Transcript: strings.Join(p.history, "\n"),
		Turns:      p.turns,
	}
	p.resetLocked()
	p.run = nil
	p.state = StateIdle
	p.peaks.Store(0)
	slog.Info("pipeline: session stopped", "turns", len(res.Turns))
	return res
}

func (p *Pipeline) resetLocked() {
	p.user.reset()
	p.agent.reset()
	p.history = nil
	p.turns = nil
	p.window = nil
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) appendTurnLocked(t types.Turn) {
	p.turns = append(p.turns, t)
	p.metrics.RecordTurn(context.Background(), string(t.Role))
}

// RealtimeMetrics returns the current loudness and the number of peaks since
// the last [Pipeline.ResetPaceCounter]. An idle pipeline reports zeros.
func (p *Pipeline) RealtimeMetrics() analyzer.RealtimeMetrics {
	p.mu.Lock()
	if p.run == nil {
		p.mu.Unlock()
		return analyzer.RealtimeMetrics{}
	}
	window := append([]int16(nil), p.window...)
	p.mu.Unlock()
	return analyzer.RealtimeMetrics{
		Energy: spectrumEnergy(window),
		Pace:   float64(p.peaks.Load()),
	}
}

// ResetPaceCounter zeroes the peak counter.
func (p *Pipeline) ResetPaceCounter() { p.peaks.Store(0) }

// SetPace changes the playback pace. Invalid values are logged and ignored.
func (p *Pipeline) SetPace(ctx context.Context, pc pace.Pace) {
	if err := p.pace.SetPace(ctx, pc); err != nil {
		slog.Warn("pipeline: failed to set pace", "pace", pc, "err", err)
		return
	}
	slog.Info("pipeline: pace changed", "pace", pc)
}

// CurrentPace returns the active playback pace.
func (p *Pipeline) CurrentPace() pace.Pace { return p.pace.CurrentPace() }

// PaceMultiplier returns the active playback-rate factor.
func (p *Pipeline) PaceMultiplier() float64 { return p.pace.Multiplier() }

// AgentSpeakingUntil returns when the agent audio scheduled so far finishes
// playing, with every buffer stretched by the pace in effect when it arrived.
// It is the zero time when nothing has been scheduled since the last
// interruption or when the pipeline is idle.
func (p *Pipeline) AgentSpeakingUntil() time.Time {
	p.mu.Lock()
	r := p.run
	p.mu.Unlock()
	if r == nil {
		return time.Time{}
	}
	return r.sched.nextStart()
}
