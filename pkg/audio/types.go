// Package audio defines the PCM frame type, the device abstractions used to
// capture microphone input and play synthesized speech, and the sample-level
// helpers (resampling, int16/float conversion, WAV encoding) shared by the
// session pipeline and the pronunciation coach.
//
// All PCM in this package is signed 16-bit little-endian, mono unless stated
// otherwise.
package audio

import "time"

// Standard rates used by a practice session.
const (
	// InputSampleRate is the rate of microphone capture and of the audio
	// streamed to the conversational agent.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of the agent's synthesized speech.
	OutputSampleRate = 24000
)

// AudioFrame represents a single frame of audio data flowing through the pipeline.
type AudioFrame struct {
	// PCM audio data (int16 little-endian).
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for synthesis).
	SampleRate int

	// Channels: always 1 for VocalEdge sessions.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// PCMDuration returns the playback length of n bytes of int16 PCM.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	samples := n / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
