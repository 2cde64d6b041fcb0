// Package gemini implements s2s.Provider on Google's Gemini Live API.
//
// A session is one BidiGenerateContent WebSocket. The client sends a setup
// frame naming the model, persona instructions and voice, then streams
// microphone audio as base64 PCM chunks. Each serverContent frame may carry
// agent audio, an interruption flag, transcript deltas for both speakers and
// a turn-complete flag; they are surfaced in that order.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/vocaledge/internal/wsconn"
	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
	"github.com/MrWong99/vocaledge/pkg/types"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*session)(nil)
)

const (
	defaultModel    = "gemini-2.5-flash-native-audio-preview-12-2025"
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws"
	bidiPath        = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	micMIME = "audio/pcm;rate=16000"

	pingEvery = 20 * time.Second
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("gemini: session closed")

// DefaultVoice is the prebuilt voice for lang when the session names none.
func DefaultVoice(lang types.Language) string {
	if lang == types.LanguageEnglish {
		return "Zephyr"
	}
	return "Kore"
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the Live model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL points the provider at another endpoint, such as a test server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// Provider opens Gemini Live sessions.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel, endpoint: defaultEndpoint}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials Live and sends the setup frame. Audio may be sent as soon as
// it returns.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	st, err := wsconn.Dial(ctx, wsconn.Options{
		Name:      "gemini",
		URL:       p.endpoint + bidiPath + "?key=" + url.QueryEscape(p.apiKey),
		Header:    http.Header{"Content-Type": []string{"application/json"}},
		Hello:     setupFor(p.model, cfg),
		Decode:    decode,
		KeepAlive: pingEvery,
	})
	if err != nil {
		return nil, err
	}
	return &session{Stream: st}, nil
}

// ── wire format ──────────────────────────────────────────────────────────────

type setupFrame struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model             string     `json:"model"`
	GenerationConfig  generation `json:"generationConfig"`
	SystemInstruction *content   `json:"systemInstruction,omitempty"`

	// Present-but-empty objects switch transcription on.
	InputAudioTranscription  *struct{} `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{} `json:"outputAudioTranscription,omitempty"`
}

type generation struct {
	ResponseModalities []string `json:"responseModalities"`
	SpeechConfig       *speech  `json:"speechConfig,omitempty"`
}

type speech struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type audioFrame struct {
	RealtimeInput struct {
		MediaChunks []blob `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type serverFrame struct {
	SetupComplete json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent  `json:"serverContent,omitempty"`
	GoAway        json.RawMessage `json:"goAway,omitempty"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content `json:"modelTurn,omitempty"`
	Interrupted         bool     `json:"interrupted,omitempty"`
	InputTranscription  *text    `json:"inputTranscription,omitempty"`
	OutputTranscription *text    `json:"outputTranscription,omitempty"`
	TurnComplete        bool     `json:"turnComplete,omitempty"`
}

type text struct {
	Text string `json:"text"`
}

func setupFor(model string, cfg s2s.SessionConfig) setupFrame {
	f := setupFrame{Setup: setup{
		Model:                    "models/" + model,
		GenerationConfig:         generation{ResponseModalities: []string{"AUDIO"}},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}}
	if cfg.Instructions != "" {
		f.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	voice := cfg.Voice
	if voice == "" && cfg.Language != "" {
		voice = DefaultVoice(cfg.Language)
	}
	if voice != "" {
		sp := &speech{}
		sp.VoiceConfig.PrebuiltVoiceConfig.VoiceName = voice
		f.Setup.GenerationConfig.SpeechConfig = sp
	}
	return f
}

// decode maps one server frame to events. A server error frame ends the
// session; malformed frames are skipped.
func decode(frame []byte) ([]s2s.Event, error) {
	var msg serverFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		slog.Debug("gemini: skipping malformed frame", "err", err)
		return nil, nil
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("gemini: server error %d: %s", msg.Error.Code, msg.Error.Message)
	}
	if msg.GoAway != nil {
		slog.Warn("gemini: server announced disconnect")
	}
	sc := msg.ServerContent
	if sc == nil {
		return nil, nil
	}

	var evs []s2s.Event
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			if pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data); err == nil && len(pcm) > 0 {
				evs = append(evs, s2s.Event{Kind: s2s.EventAudio, Audio: pcm})
			}
		}
	}
	if sc.Interrupted {
		evs = append(evs, s2s.Event{Kind: s2s.EventInterrupted})
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		evs = append(evs, s2s.Event{Kind: s2s.EventInputTranscript, Text: t.Text})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		evs = append(evs, s2s.Event{Kind: s2s.EventOutputTranscript, Text: t.Text})
	}
	if sc.TurnComplete {
		evs = append(evs, s2s.Event{Kind: s2s.EventTurnComplete})
	}
	return evs, nil
}

// session adds the Live audio framing to a wsconn stream.
type session struct {
	*wsconn.Stream
}

// SendAudio sends one 16 kHz PCM16 mono microphone chunk.
func (s *session) SendAudio(chunk []byte) error {
	var f audioFrame
	f.RealtimeInput.MediaChunks = []blob{{MIMEType: micMIME, Data: base64.StdEncoding.EncodeToString(chunk)}}
	err := s.Send(f)
	if errors.Is(err, wsconn.ErrClosed) {
		return ErrSessionClosed
	}
	return err
}
