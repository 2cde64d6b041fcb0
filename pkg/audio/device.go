package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned when a capture or playback device cannot be
// opened (missing hardware, permission denied, unsupported format).
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Device opens capture and playback streams on the host's audio hardware.
//
// Implementations are provided by adapter packages (audio/portaudio for real
// hardware, audio/mock for tests).
type Device interface {
	// OpenInput starts capturing in the requested format. The returned
	// Capture delivers frames until it is closed or ctx is cancelled.
	OpenInput(ctx context.Context, format Format) (Capture, error)

	// OpenOutput prepares a playback stream in the requested format.
	OpenOutput(ctx context.Context, format Format) (Playback, error)
}

// Capture is a live microphone stream.
type Capture interface {
	// Frames returns the channel on which captured frames arrive. The channel
	// is closed when the capture stops.
	Frames() <-chan AudioFrame

	// Close stops the capture and releases the device. Idempotent.
	Close() error
}

// Playback is a speaker stream.
type Playback interface {
	// Play writes pcm to the output and blocks until it has been handed to the
	// hardware or ctx is cancelled. Cancelling ctx abandons the remainder of
	// the buffer.
	Play(ctx context.Context, pcm []byte) error

	// Close stops playback and releases the device. Idempotent.
	Close() error
}
