//go:build portaudio

// Package portaudio implements [audio.Device] on top of the host's default
// PortAudio input and output devices.
//
// Building this package requires the PortAudio C library and the "portaudio"
// build tag. Without the tag, [New] returns a device whose Open methods fail
// with [audio.ErrDeviceUnavailable].
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vocaledge/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// Compile-time assertion that Device satisfies audio.Device.
var _ audio.Device = (*Device)(nil)

// Device opens streams on the default PortAudio devices.
type Device struct {
	frameDuration time.Duration

	mu   sync.Mutex
	refs int
}

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithFrameDuration sets how much audio each capture frame carries.
// Defaults to 100 ms.
func WithFrameDuration(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.frameDuration = d
		}
	}
}

// New returns a PortAudio-backed Device. The library is initialised lazily
// when the first stream is opened and terminated when the last one closes.
func New(opts ...Option) *Device {
	d := &Device{frameDuration: 100 * time.Millisecond}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Device) acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("%w: initialize: %v", audio.ErrDeviceUnavailable, err)
		}
	}
	d.refs++
	return nil
}

func (d *Device) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs--
	if d.refs == 0 {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("portaudio: terminate failed", "err", err)
		}
	}
}

func (d *Device) framesPer(rate int) int {
	return int(int64(rate) * int64(d.frameDuration) / int64(time.Second))
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(ctx context.Context, f audio.Format) (audio.Capture, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	buf := make([]int16, d.framesPer(f.SampleRate)*f.Channels)
	stream, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), d.framesPer(f.SampleRate), buf)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("%w: open input: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		d.release()
		return nil, fmt.Errorf("%w: start input: %v", audio.ErrDeviceUnavailable, err)
	}

	c := &capture{
		dev:    d,
		stream: stream,
		buf:    buf,
		format: f,
		frames: make(chan audio.AudioFrame, 32),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop(ctx)
	return c, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context, f audio.Format) (audio.Playback, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	buf := make([]int16, d.framesPer(f.SampleRate)*f.Channels)
	stream, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), d.framesPer(f.SampleRate), buf)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("%w: open output: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		d.release()
		return nil, fmt.Errorf("%w: start output: %v", audio.ErrDeviceUnavailable, err)
	}
	return &playback{dev: d, stream: stream, buf: buf}, nil
}

// ── capture ────────────────────────────────────────────────────────────────────

type capture struct {
	dev    *Device
	stream *portaudio.Stream
	buf    []int16
	format audio.Format
	frames chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   uint64
}

func (c *capture) loop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.frames)

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			// Input overflow is reported as an error but the stream stays usable.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		frame := audio.AudioFrame{
			Data:       audio.SamplesToBytes(c.buf),
			SampleRate: c.format.SampleRate,
			Channels:   c.format.Channels,
			Timestamp:  time.Since(start),
		}
		select {
		case c.frames <- frame:
		default:
			c.dropped++
			if c.dropped == 1 || c.dropped%100 == 0 {
				slog.Warn("portaudio: capture consumer too slow, dropping frames", "dropped", c.dropped)
			}
		}
	}
}

func (c *capture) Frames() <-chan audio.AudioFrame { return c.frames }

func (c *capture) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.stream.Stop()
		c.stream.Close()
		c.dev.release()
	})
	return nil
}

// ── playback ───────────────────────────────────────────────────────────────────

type playback struct {
	dev    *Device
	stream *portaudio.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

func (p *playback) Play(ctx context.Context, pcm []byte) error {
	samples := audio.BytesToSamples(pcm)
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(p.buf, samples)
		clear(p.buf[n:])
		samples = samples[n:]

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return fmt.Errorf("portaudio: playback closed")
		}
		err := p.stream.Write()
		p.mu.Unlock()
		if err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

func (p *playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.stream.Stop()
	p.stream.Close()
	p.dev.release()
	return nil
}
