// Package types defines the shared types used across all VocalEdge packages.
//
// These types are the lingua franca between the audio pipeline, the coaching
// layer, the analysis providers, and the session orchestrator. Each package
// defines its own domain types; cross-cutting data structures live here to
// avoid circular imports.
package types

import (
	"fmt"
	"time"
)

// Language selects the spoken language of a practice session. It drives the
// agent's voice, the coaching message catalogue, and filler-word detection.
type Language string

const (
	LanguageEnglish    Language = "en"
	LanguageArabicMSA  Language = "ar_msa"
	LanguageArabicGulf Language = "ar_khaleeji"
)

// IsValid reports whether l is one of the supported languages.
func (l Language) IsValid() bool {
	switch l {
	case LanguageEnglish, LanguageArabicMSA, LanguageArabicGulf:
		return true
	}
	return false
}

// ParseLanguage converts s into a Language. An empty string yields English.
func ParseLanguage(s string) (Language, error) {
	if s == "" {
		return LanguageEnglish, nil
	}
	l := Language(s)
	if !l.IsValid() {
		return "", fmt.Errorf("types: unsupported language %q", s)
	}
	return l, nil
}

// ScenarioType is the category of conversation being rehearsed.
type ScenarioType string

const (
	ScenarioNormal     ScenarioType = "NORMAL"
	ScenarioSales      ScenarioType = "SALES"
	ScenarioDebate     ScenarioType = "DEBATE"
	ScenarioConfidence ScenarioType = "CONFIDENCE"
)

// IsValid reports whether s is a known scenario type.
func (s ScenarioType) IsValid() bool {
	switch s {
	case ScenarioNormal, ScenarioSales, ScenarioDebate, ScenarioConfidence:
		return true
	}
	return false
}

// Tone is the coaching register used in post-session feedback.
type Tone string

const (
	ToneSupportive Tone = "supportive"
	ToneBrutal     Tone = "brutal"
)

// Persona is the conversational partner the remote agent role-plays.
type Persona struct {
	Name        string
	Role        string
	Description string

	// Behavior is optional persona-specific guidance appended to the
	// tough-persona prompt, for example a debating style.
	Behavior string

	// Warm selects the encouraging variant of the system prompt. A cold
	// persona pushes back and interrupts.
	Warm bool
}

// SessionConfig describes one practice session.
type SessionConfig struct {
	Scenario    ScenarioType
	Persona     Persona
	Topic       string
	Outcome     string
	FocusSkills []string
	Tone        Tone
}

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one completed utterance in a session. Turns are immutable once
// created and are appended to the session turn log in completion order.
type Turn struct {
	// ID is unique within a session.
	ID string

	Role Role

	// Text is the concatenation of all transcript deltas received for the turn.
	Text string

	// Audio is a WAV-encoded (RIFF, PCM16 mono) rendition of the turn. May be
	// empty if no audio was captured for the turn.
	Audio []byte

	// SampleRate of Audio in Hz: 16000 for user turns, 24000 for agent turns.
	SampleRate int
}

// TroubleWord is a word the speaker struggled with, plus guidance for it.
type TroubleWord struct {
	Word     string `json:"word"`
	Phonetic string `json:"phonetic"`
	Tips     string `json:"tips"`
}

// SessionResult is the persisted outcome of a finished practice session.
type SessionResult struct {
	ID                 string            `json:"id"`
	Date               time.Time         `json:"date"`
	Scenario           ScenarioType      `json:"scenarioType"`
	ConfidenceScore    int               `json:"confidenceScore"`
	EffectivenessScore int               `json:"effectivenessScore"`
	Feedback           string            `json:"feedback"`
	Duration           time.Duration     `json:"duration"`
	PersonaName        string            `json:"personaName"`
	SkillScores        map[string]int    `json:"skillScores,omitempty"`
	KeyFailures        []string          `json:"keyFailures,omitempty"`
	TroubleWords       []TroubleWord     `json:"troubleWords,omitempty"`
	Turns              []Turn            `json:"-"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// UserProfile is the learner's self-description, used to personalise
// post-session feedback.
type UserProfile struct {
	Name          string    `yaml:"name" json:"name"`
	Bio           string    `yaml:"bio" json:"bio"`
	Goal          string    `yaml:"goal" json:"goal"`
	PreferredTone Tone      `yaml:"preferred_tone" json:"preferredTone"`
	JoinedDate    time.Time `yaml:"-" json:"joinedDate"`
}
