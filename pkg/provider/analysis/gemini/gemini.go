// Package gemini implements analysis.Provider on top of the Gemini API via the
// official google.golang.org/genai SDK.
//
// Session grading and pronunciation scoring use JSON-mode generation with a
// response schema; speech synthesis uses a TTS-capable model with audio
// response modality.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/vocaledge/internal/observe"
	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	"github.com/MrWong99/vocaledge/pkg/types"
)

var _ analysis.Provider = (*Provider)(nil)

const (
	defaultModel       = "gemini-2.5-flash"
	defaultSpeechModel = "gemini-2.5-flash-preview-tts"

	providerName = "gemini"
)

// voices maps each language to the prebuilt voice used for reference
// pronunciations.
var voices = map[types.Language]string{
	types.LanguageEnglish:    "Kore",
	types.LanguageArabicMSA:  "Puck",
	types.LanguageArabicGulf: "Zephyr",
}

var sessionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"confidenceScore":    {Type: genai.TypeNumber},
		"effectivenessScore": {Type: genai.TypeNumber},
		"feedback":           {Type: genai.TypeString},
		"skillScores": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"skill": {Type: genai.TypeString},
					"score": {Type: genai.TypeNumber},
				},
			},
		},
		"keyFailures": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"troubleWords": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"word":     {Type: genai.TypeString},
					"phonetic": {Type: genai.TypeString},
					"tips":     {Type: genai.TypeString},
				},
			},
		},
	},
}

var pronunciationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"score":           {Type: genai.TypeNumber},
		"feedback":        {Type: genai.TypeString},
		"needsCorrection": {Type: genai.TypeBoolean},
	},
}

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	model       string
	speechModel string
	baseURL     string
	metrics     *observe.Metrics
}

// WithModel sets the model used for grading and scoring.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithSpeechModel sets the model used for speech synthesis.
func WithSpeechModel(model string) Option {
	return func(c *config) { c.speechModel = model }
}

// WithBaseURL overrides the API endpoint. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// Provider implements analysis.Provider using Gemini.
type Provider struct {
	client      *genai.Client
	model       string
	speechModel string
	metrics     *observe.Metrics
}

// New constructs a Provider. The context is only used while creating the
// underlying client.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, speechModel: defaultSpeechModel}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Provider{
		client:      client,
		model:       cfg.model,
		speechModel: cfg.speechModel,
		metrics:     cfg.metrics,
	}, nil
}

// AnalyzeSession implements analysis.Provider.
func (p *Provider) AnalyzeSession(ctx context.Context, req analysis.SessionRequest) (*analysis.SessionAnalysis, error) {
	ctx, span := observe.StartSpan(ctx, "gemini.AnalyzeSession")
	defer span.End()
	start := time.Now()

	prompt, err := analysis.SessionPrompt(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   sessionSchema,
	})
	if err != nil {
		p.fail(ctx, "analyze")
		return nil, fmt.Errorf("gemini: analyze session: %w", err)
	}
	out, err := analysis.ParseSessionAnalysis([]byte(resp.Text()), req.Language)
	if err != nil {
		p.fail(ctx, "analyze")
		return nil, fmt.Errorf("gemini: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, providerName, "analyze", "ok")
	p.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
	return out, nil
}

// ScorePronunciation implements analysis.Provider.
func (p *Provider) ScorePronunciation(ctx context.Context, target string, pcm []byte, _ types.Language) (*analysis.PronunciationScore, error) {
	ctx, span := observe.StartSpan(ctx, "gemini.ScorePronunciation")
	defer span.End()
	start := time.Now()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(analysis.PronunciationPrompt(target)),
			genai.NewPartFromBytes(pcm, "audio/pcm;rate=16000"),
		}, genai.RoleUser),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   pronunciationSchema,
	})
	if err != nil {
		p.fail(ctx, "score")
		return nil, fmt.Errorf("gemini: score pronunciation: %w", err)
	}
	out, err := analysis.ParsePronunciationScore([]byte(resp.Text()))
	if err != nil {
		p.fail(ctx, "score")
		return nil, fmt.Errorf("gemini: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, providerName, "score", "ok")
	p.metrics.ScoringDuration.Record(ctx, time.Since(start).Seconds())
	return out, nil
}

// SynthesizeSpeech implements analysis.Provider.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text string, lang types.Language) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "gemini.SynthesizeSpeech")
	defer span.End()
	start := time.Now()

	voice, ok := voices[lang]
	if !ok {
		voice = voices[types.LanguageEnglish]
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.speechModel, genai.Text(analysis.SpeechPrompt(text)), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	})
	if err != nil {
		p.fail(ctx, "synthesize")
		return nil, fmt.Errorf("gemini: synthesize speech: %w", err)
	}
	pcm := firstInlineData(resp)
	if len(pcm) == 0 {
		p.fail(ctx, "synthesize")
		return nil, errors.New("gemini: synthesize speech: response carried no audio")
	}
	p.metrics.RecordProviderRequest(ctx, providerName, "synthesize", "ok")
	p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	return pcm, nil
}

func (p *Provider) fail(ctx context.Context, kind string) {
	p.metrics.RecordProviderRequest(ctx, providerName, kind, "error")
	p.metrics.RecordProviderError(ctx, providerName, kind)
}

func firstInlineData(resp *genai.GenerateContentResponse) []byte {
	if resp == nil {
		return nil
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data
			}
		}
	}
	return nil
}
