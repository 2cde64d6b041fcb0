//go:build !portaudio

package portaudio

import (
	"context"
	"time"

	"github.com/MrWong99/vocaledge/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Device is a placeholder used when the binary was built without the
// "portaudio" tag. Every Open call fails with [audio.ErrDeviceUnavailable].
type Device struct{}

// Option is accepted for signature compatibility and ignored.
type Option func(*Device)

// WithFrameDuration is ignored in builds without PortAudio.
func WithFrameDuration(time.Duration) Option { return func(*Device) {} }

// New returns a Device whose streams cannot be opened.
func New(...Option) *Device { return &Device{} }

// OpenInput implements [audio.Device].
func (*Device) OpenInput(context.Context, audio.Format) (audio.Capture, error) {
	return nil, audio.ErrDeviceUnavailable
}

// OpenOutput implements [audio.Device].
func (*Device) OpenOutput(context.Context, audio.Format) (audio.Playback, error) {
	return nil, audio.ErrDeviceUnavailable
}
