// Package analysis defines the Provider interface for the post-session and
// pronunciation collaborators: a text/audio model that grades a finished
// practice conversation, scores a single pronunciation attempt, and renders a
// reference pronunciation as speech.
//
// The package also owns the prompts and the JSON response decoding shared by
// all implementations, so that every backend is asked the same questions and
// its answers are normalised the same way.
package analysis

import (
	"context"
	"errors"

	"github.com/MrWong99/vocaledge/pkg/types"
)

// ErrNotSupported is returned by providers that lack a capability, for
// example pronunciation scoring on a text-only backend.
var ErrNotSupported = errors.New("analysis: operation not supported by provider")

// SessionRequest is the input to AnalyzeSession.
type SessionRequest struct {
	// Transcript is the session history, one "User: …" or "AI: …" line per
	// transcription delta.
	Transcript string

	Config   types.SessionConfig
	Language types.Language

	// Profile, if set, lets the model address the learner by name and goal.
	Profile *types.UserProfile
}

// SessionAnalysis is the model's verdict on a practice session. Scores are in
// [0, 100].
type SessionAnalysis struct {
	ConfidenceScore    int
	EffectivenessScore int
	Feedback           string

	// SkillScores maps each focus skill to a score.
	SkillScores map[string]int

	// KeyFailures lists weaknesses, or growth points for a supportive tone.
	KeyFailures []string

	TroubleWords []types.TroubleWord
}

// PronunciationScore grades one pronunciation attempt.
type PronunciationScore struct {
	// Score is in [0, 100].
	Score           int
	Feedback        string
	NeedsCorrection bool
}

// Provider is the abstraction over any analysis backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// AnalyzeSession grades a finished session from its transcript.
	AnalyzeSession(ctx context.Context, req SessionRequest) (*SessionAnalysis, error)

	// ScorePronunciation grades pcm (PCM16LE mono, 16 kHz) as an attempt at
	// saying target. Returns ErrNotSupported if the backend cannot hear audio.
	ScorePronunciation(ctx context.Context, target string, pcm []byte, lang types.Language) (*PronunciationScore, error)

	// SynthesizeSpeech renders text as PCM16LE mono audio at 24 kHz.
	SynthesizeSpeech(ctx context.Context, text string, lang types.Language) ([]byte, error)
}
