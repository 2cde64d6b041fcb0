package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/vocaledge/internal/app"
	"github.com/MrWong99/vocaledge/internal/config"
	"github.com/MrWong99/vocaledge/internal/observe"
	"github.com/MrWong99/vocaledge/internal/resilience"
	"github.com/MrWong99/vocaledge/pkg/audio"
	"github.com/MrWong99/vocaledge/pkg/audio/portaudio"
	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	geminianalysis "github.com/MrWong99/vocaledge/pkg/provider/analysis/gemini"
	oaanalysis "github.com/MrWong99/vocaledge/pkg/provider/analysis/openai"
	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
	geminilive "github.com/MrWong99/vocaledge/pkg/provider/s2s/gemini"
	oarealtime "github.com/MrWong99/vocaledge/pkg/provider/s2s/openai"
)

// envKeys names the environment variables consulted when a provider entry
// carries no api_key.
var envKeys = map[string]string{
	"gemini-live":     "GEMINI_API_KEY",
	"gemini":          "GEMINI_API_KEY",
	"openai":          "OPENAI_API_KEY",
	"openai-realtime": "OPENAI_API_KEY",
}

// applyEnvKeys fills empty provider API keys from the environment.
func applyEnvKeys(cfg *config.Config) {
	fill := func(e *config.ProviderEntry) {
		if e.APIKey != "" {
			return
		}
		if name, ok := envKeys[e.Name]; ok {
			e.APIKey = os.Getenv(name)
		}
	}
	fill(&cfg.Providers.S2S)
	fill(&cfg.Providers.Analysis)
	for i := range cfg.Providers.Fallback {
		fill(&cfg.Providers.Fallback[i])
	}
}

// registerBuiltinProviders wires the provider factories that ship with
// VocalEdge into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	metrics := observe.DefaultMetrics()

	// ── Conversational agent ──────────────────────────────────────────────────
	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oarealtime.Option
		if entry.Model != "" {
			opts = append(opts, oarealtime.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oarealtime.WithBaseURL(entry.BaseURL))
		}
		if m := optString(entry.Options, "transcription_model"); m != "" {
			opts = append(opts, oarealtime.WithTranscriptionModel(m))
		}
		return oarealtime.New(entry.APIKey, opts...), nil
	})

	// ── Analysis ──────────────────────────────────────────────────────────────
	reg.RegisterAnalysis("gemini", func(entry config.ProviderEntry) (analysis.Provider, error) {
		opts := []geminianalysis.Option{geminianalysis.WithMetrics(metrics)}
		if entry.Model != "" {
			opts = append(opts, geminianalysis.WithModel(entry.Model))
		}
		if m := optString(entry.Options, "speech_model"); m != "" {
			opts = append(opts, geminianalysis.WithSpeechModel(m))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminianalysis.WithBaseURL(entry.BaseURL))
		}
		return geminianalysis.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterAnalysis("openai", func(entry config.ProviderEntry) (analysis.Provider, error) {
		opts := []oaanalysis.Option{oaanalysis.WithMetrics(metrics)}
		if entry.Model != "" {
			opts = append(opts, oaanalysis.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaanalysis.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaanalysis.WithTimeout(d))
		}
		if n, ok := entry.Options["max_retries"].(int); ok {
			opts = append(opts, oaanalysis.WithMaxRetries(n))
		}
		return oaanalysis.New(entry.APIKey, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterAudio("portaudio", func(cfg config.AudioConfig) (audio.Device, error) {
		var opts []portaudio.Option
		if cfg.FramesPerBuffer > 0 {
			frame := time.Duration(cfg.FramesPerBuffer) * time.Second / audio.InputSampleRate
			opts = append(opts, portaudio.WithFrameDuration(frame))
		}
		return portaudio.New(opts...), nil
	})
}

// buildProviders instantiates the providers named in cfg using the registry.
// Fallback analysis entries are chained behind the primary with a circuit
// breaker each.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateS2S(cfg.Providers.S2S)
	if err != nil {
		return nil, fmt.Errorf("create agent provider %q: %w", cfg.Providers.S2S.Name, err)
	}
	ps.S2S = p
	slog.Info("provider created", "kind", "s2s", "name", cfg.Providers.S2S.Name)

	dev, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio device %q: %w", cfg.Audio.Device, err)
	}
	ps.Device = dev
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Device)

	if name := cfg.Providers.Analysis.Name; name != "" {
		primary, err := reg.CreateAnalysis(cfg.Providers.Analysis)
		if err != nil {
			return nil, fmt.Errorf("create analysis provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "analysis", "name", name)
		ps.Analysis = primary

		if len(cfg.Providers.Fallback) > 0 {
			chain := resilience.NewAnalysisFallback(primary, name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.Fallback {
				fb, err := reg.CreateAnalysis(entry)
				if errors.Is(err, config.ErrProviderNotRegistered) {
					slog.Warn("unknown fallback provider, skipping", "name", entry.Name)
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("create fallback provider %q: %w", entry.Name, err)
				}
				chain.AddFallback(entry.Name, fb)
				slog.Info("provider created", "kind", "analysis-fallback", "name", entry.Name)
			}
			ps.Analysis = chain
		}
	}
	return ps, nil
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "30s" from a provider Options
// map. Malformed values are logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring malformed provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
