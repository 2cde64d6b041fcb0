// Package s2s defines the Provider interface for speech-to-speech (S2S)
// conversational agents.
//
// An S2S provider wraps a real-time voice AI service that accepts raw
// microphone audio and answers with synthesised speech in a single, stateful
// session. Besides audio the service streams transcription deltas for both
// sides of the conversation and signals turn boundaries and barge-ins.
//
// Everything the agent sends arrives on one ordered [Event] channel so that
// consumers observe audio, transcripts, and turn signals in exactly the order
// the service emitted them.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"fmt"

	"github.com/MrWong99/vocaledge/pkg/types"
)

// EventKind identifies the payload carried by an [Event].
type EventKind int

const (
	// EventAudio carries a chunk of synthesised PCM16LE mono audio in Audio.
	EventAudio EventKind = iota + 1

	// EventInputTranscript carries a transcription delta of the user's speech
	// in Text.
	EventInputTranscript

	// EventOutputTranscript carries a transcription delta of the agent's
	// speech in Text.
	EventOutputTranscript

	// EventTurnComplete marks the end of the current conversational turn.
	EventTurnComplete

	// EventInterrupted signals that the user barged in and any agent audio not
	// yet played must be discarded.
	EventInterrupted
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a single message from the agent.
type Event struct {
	Kind EventKind

	// Audio is set for EventAudio. The sample rate is the provider's output
	// rate (24 kHz for Gemini Live).
	Audio []byte

	// Text is set for the transcript kinds.
	Text string
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Instructions is the system-level prompt that defines the persona the
	// agent role-plays.
	Instructions string

	// Voice is the provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// Language is the session language. Providers may use it to pick a speech
	// recognition locale.
	Language types.Language
}

// SessionHandle represents an open S2S session. It is an interface so that
// test code can supply mock implementations without a live connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM16LE mono chunk at 16 kHz to the agent.
	// Returns an error if the session is closed or the write fails.
	SendAudio(chunk []byte) error

	// Events returns the ordered stream of agent events. The channel is closed
	// when the session ends, either through Close or because the connection
	// failed; call Err afterwards to tell the two apart.
	Events() <-chan Event

	// Err returns the error that ended the session prematurely, or nil.
	Err() error

	// Close terminates the session and closes the Events channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect establishes a new session. The returned SessionHandle is ready
	// to accept audio immediately. The caller owns the handle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
