// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It opens a WebSocket to the Realtime endpoint and exchanges JSON events.
// Microphone audio arrives at 16 kHz and is resampled to the 24 kHz PCM16 the
// API expects; speech detection runs on the server. Synthesised audio,
// transcripts for both speakers, barge-ins and response boundaries are
// surfaced in arrival order on the session's event channel.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MrWong99/vocaledge/internal/wsconn"
	"github.com/MrWong99/vocaledge/pkg/audio"
	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
	"github.com/MrWong99/vocaledge/pkg/types"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*session)(nil)
)

const (
	defaultModel              = "gpt-4o-realtime-preview"
	defaultBaseURL            = "wss://api.openai.com/v1/realtime"
	defaultTranscriptionModel = "whisper-1"

	// apiSampleRate is the only PCM16 rate the Realtime API accepts.
	apiSampleRate = 24000
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("openai: session closed")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithTranscriptionModel sets the model that transcribes the learner's speech.
func WithTranscriptionModel(model string) Option {
	return func(p *Provider) { p.transcriptionModel = model }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey             string
	model              string
	baseURL            string
	transcriptionModel string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:             apiKey,
		model:              defaultModel,
		baseURL:            defaultBaseURL,
		transcriptionModel: defaultTranscriptionModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Realtime endpoint and configures the session. Audio may
// be sent as soon as it returns.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	sess := &session{}
	st, err := wsconn.Dial(ctx, wsconn.Options{
		Name: "openai",
		URL:  p.baseURL + "?model=" + url.QueryEscape(p.model),
		Header: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
		Hello:  sessionUpdate(cfg, p.transcriptionModel),
		Decode: sess.decode,
	})
	if err != nil {
		return nil, err
	}
	sess.Stream = st
	return sess, nil
}

// transcriptionLanguage maps a session language to the ISO-639-1 hint the
// transcription model accepts. Both Arabic variants transcribe as "ar".
func transcriptionLanguage(lang types.Language) string {
	switch lang {
	case types.LanguageEnglish:
		return "en"
	case types.LanguageArabicMSA, types.LanguageArabicGulf:
		return "ar"
	}
	return ""
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 at 24 kHz
}

func sessionUpdate(cfg s2s.SessionConfig, transcriptionModel string) sessionUpdateMessage {
	return sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Modalities:        []string{"audio", "text"},
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: &transcriptionParams{
				Model:    transcriptionModel,
				Language: transcriptionLanguage(cfg.Language),
			},
			TurnDetection: &turnDetection{Type: "server_vad"},
		},
	}
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object of an "error" event.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

// session adds Realtime audio framing and barge-in tracking to a wsconn
// stream.
type session struct {
	*wsconn.Stream

	// responding is true between response.created and response.done. Only
	// learner speech that starts while the agent is answering is a barge-in.
	// Touched only by decode.
	responding bool
}

// decode converts one server event into at most one agent event.
func (s *session) decode(frame []byte) ([]s2s.Event, error) {
	var evt serverEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		slog.Debug("openai: skipping malformed event", "err", err)
		return nil, nil
	}

	switch evt.Type {
	case "response.created":
		s.responding = true

	case "response.audio.delta":
		if pcm, err := base64.StdEncoding.DecodeString(evt.Delta); err == nil && len(pcm) > 0 {
			return []s2s.Event{{Kind: s2s.EventAudio, Audio: pcm}}, nil
		}

	case "response.audio_transcript.delta":
		if evt.Delta != "" {
			return []s2s.Event{{Kind: s2s.EventOutputTranscript, Text: evt.Delta}}, nil
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" {
			return []s2s.Event{{Kind: s2s.EventInputTranscript, Text: evt.Transcript}}, nil
		}

	case "input_audio_buffer.speech_started":
		if s.responding {
			s.responding = false
			return []s2s.Event{{Kind: s2s.EventInterrupted}}, nil
		}

	case "response.done":
		s.responding = false
		return []s2s.Event{{Kind: s2s.EventTurnComplete}}, nil

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		// Error events reject a single client event; the session stays up.
		slog.Warn("openai: server rejected event", "message", msg)
	}
	return nil, nil
}

// SendAudio resamples a 16 kHz PCM16 mono chunk to 24 kHz and appends it to
// the server's input buffer.
func (s *session) SendAudio(chunk []byte) error {
	pcm := audio.ResampleMono16(chunk, audio.InputSampleRate, apiSampleRate)
	err := s.Send(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
	if errors.Is(err, wsconn.ErrClosed) {
		return ErrSessionClosed
	}
	return err
}
