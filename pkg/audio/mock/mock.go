// Package mock provides in-memory mock implementations of [audio.Device],
// [audio.Capture], and [audio.Playback] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := mock.NewDevice()
//	p := pipeline.New(dev, provider)
//	...
//	dev.Capture.Push(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocaledge/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock [audio.Capture]. Tests feed frames with [Capture.Push].
type Capture struct {
	frames    chan audio.AudioFrame
	closeOnce sync.Once

	mu sync.Mutex

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCapture returns a Capture with a buffered frame channel.
func NewCapture() *Capture {
	return &Capture{frames: make(chan audio.AudioFrame, 256)}
}

// Push delivers a frame to the consumer. It is a no-op after Close.
func (c *Capture) Push(f audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CallCountClose > 0 {
		return
	}
	c.frames <- f
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Close implements [audio.Capture]. The frame channel is closed on first call.
func (c *Capture) Close() error {
	c.mu.Lock()
	c.CallCountClose++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.frames) })
	return nil
}

// Closed reports whether Close has been called.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountClose > 0
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Playback is a mock [audio.Playback] that records every buffer it is asked
// to play.
type Playback struct {
	mu sync.Mutex

	// PlayFunc, when set, replaces the default behaviour of returning
	// immediately. Use it to simulate a buffer that takes time to drain.
	PlayFunc func(ctx context.Context, pcm []byte) error

	// Played holds every buffer passed to Play, in call order.
	Played [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play implements [audio.Playback].
func (p *Playback) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	p.Played = append(p.Played, pcm)
	fn := p.PlayFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, pcm)
	}
	return ctx.Err()
}

// Close implements [audio.Playback].
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return nil
}

// PlayedBuffers returns a snapshot of the buffers played so far.
func (p *Playback) PlayedBuffers() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.Played))
	copy(out, p.Played)
	return out
}

// Closed reports whether Close has been called.
func (p *Playback) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountClose > 0
}

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single OpenInput or OpenOutput invocation.
type OpenCall struct {
	Format audio.Format
}

// Device is a mock [audio.Device].
type Device struct {
	mu sync.Mutex

	// Capture is returned by OpenInput. NewDevice pre-populates it.
	Capture *Capture

	// Playback is returned by OpenOutput. NewDevice pre-populates it.
	Playback *Playback

	// InputErr, when non-nil, is returned by OpenInput.
	InputErr error

	// OutputErr, when non-nil, is returned by OpenOutput.
	OutputErr error

	InputCalls  []OpenCall
	OutputCalls []OpenCall
}

// NewDevice returns a Device with a fresh Capture and Playback.
func NewDevice() *Device {
	return &Device{Capture: NewCapture(), Playback: &Playback{}}
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(_ context.Context, f audio.Format) (audio.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InputCalls = append(d.InputCalls, OpenCall{Format: f})
	if d.InputErr != nil {
		return nil, d.InputErr
	}
	return d.Capture, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context, f audio.Format) (audio.Playback, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutputCalls = append(d.OutputCalls, OpenCall{Format: f})
	if d.OutputErr != nil {
		return nil, d.OutputErr
	}
	return d.Playback, nil
}
