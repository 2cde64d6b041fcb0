// Package openai implements analysis.Provider backed by the OpenAI API.
//
// Session grading uses Chat Completions in JSON-object mode and speech
// synthesis uses the audio speech endpoint with raw PCM output. Pronunciation
// scoring needs a model that listens to audio and is not offered here;
// ScorePronunciation returns analysis.ErrNotSupported.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/vocaledge/internal/observe"
	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	"github.com/MrWong99/vocaledge/pkg/types"
)

var _ analysis.Provider = (*Provider)(nil)

const (
	defaultModel = "gpt-4o-mini"
	providerName = "openai"

	systemPrompt = "You are a communication coach. Always answer with a single JSON object."
)

var voices = map[types.Language]oai.AudioSpeechNewParamsVoice{
	types.LanguageEnglish:    oai.AudioSpeechNewParamsVoiceAlloy,
	types.LanguageArabicMSA:  oai.AudioSpeechNewParamsVoice("onyx"),
	types.LanguageArabicGulf: oai.AudioSpeechNewParamsVoice("nova"),
}

// Provider implements analysis.Provider using the OpenAI API.
type Provider struct {
	client  oai.Client
	model   string
	metrics *observe.Metrics
}

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
	retries int
	metrics *observe.Metrics
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the chat model used for grading.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.retries = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// New constructs a new OpenAI analysis Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel, retries: -1}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.retries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.retries))
	}

	return &Provider{
		client:  oai.NewClient(reqOpts...),
		model:   cfg.model,
		metrics: cfg.metrics,
	}, nil
}

// AnalyzeSession implements analysis.Provider.
func (p *Provider) AnalyzeSession(ctx context.Context, req analysis.SessionRequest) (*analysis.SessionAnalysis, error) {
	ctx, span := observe.StartSpan(ctx, "openai.AnalyzeSession")
	defer span.End()
	start := time.Now()

	prompt, err := analysis.SessionPrompt(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(prompt),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		p.fail(ctx, "analyze")
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		p.fail(ctx, "analyze")
		return nil, errors.New("openai: empty choices in response")
	}

	out, err := analysis.ParseSessionAnalysis([]byte(resp.Choices[0].Message.Content), req.Language)
	if err != nil {
		p.fail(ctx, "analyze")
		return nil, fmt.Errorf("openai: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, providerName, "analyze", "ok")
	p.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
	return out, nil
}

// ScorePronunciation always returns analysis.ErrNotSupported.
func (p *Provider) ScorePronunciation(context.Context, string, []byte, types.Language) (*analysis.PronunciationScore, error) {
	return nil, fmt.Errorf("openai: score pronunciation: %w", analysis.ErrNotSupported)
}

// SynthesizeSpeech implements analysis.Provider. The speech endpoint's pcm
// format is 24 kHz 16-bit mono, which matches the playback format.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text string, lang types.Language) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "openai.SynthesizeSpeech")
	defer span.End()
	start := time.Now()

	voice, ok := voices[lang]
	if !ok {
		voice = voices[types.LanguageEnglish]
	}
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModelTTS1,
		Input:          text,
		Voice:          voice,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		p.fail(ctx, "synthesize")
		return nil, fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		p.fail(ctx, "synthesize")
		return nil, fmt.Errorf("openai: read speech: %w", err)
	}
	if len(pcm) == 0 {
		p.fail(ctx, "synthesize")
		return nil, errors.New("openai: speech response was empty")
	}
	p.metrics.RecordProviderRequest(ctx, providerName, "synthesize", "ok")
	p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	return pcm, nil
}

func (p *Provider) fail(ctx context.Context, kind string) {
	p.metrics.RecordProviderRequest(ctx, providerName, kind, "error")
	p.metrics.RecordProviderError(ctx, providerName, kind)
}
