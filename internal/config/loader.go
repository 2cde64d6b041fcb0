package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/vocaledge/pkg/types"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":      {"gemini-live", "openai-realtime"},
	"analysis": {"gemini", "openai"},
	"audio":    {"portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = "portaudio"
	}
	if cfg.Audio.FramesPerBuffer == 0 {
		cfg.Audio.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if cfg.Audio.OutboundBuffer == 0 {
		cfg.Audio.OutboundBuffer = DefaultOutboundBuffer
	}
	if cfg.Coaching.MetricsTick == 0 {
		cfg.Coaching.MetricsTick = DefaultMetricsTick
	}
	if cfg.Coaching.PaceReset == 0 {
		cfg.Coaching.PaceReset = DefaultPaceReset
	}
	if cfg.PaceStore.Backend == "" {
		cfg.PaceStore.Backend = StoreMemory
	}
	if cfg.PaceStore.Backend == StoreFile && cfg.PaceStore.Path == "" {
		cfg.PaceStore.Path = DefaultPaceStorePath
	}
	if cfg.Results.Backend == "" {
		cfg.Results.Backend = StoreFile
	}
	if cfg.Results.Backend == StoreFile && cfg.Results.Path == "" {
		cfg.Results.Path = DefaultResultsPath
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = types.LanguageEnglish
	}
	if cfg.Session.Scenario == "" {
		cfg.Session.Scenario = types.ScenarioNormal
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %g must be between 0 and 1", r))
	}

	// Providers
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("analysis", cfg.Providers.Analysis.Name)
	validateProviderName("audio", cfg.Audio.Device)
	if cfg.Providers.S2S.Name == "" {
		errs = append(errs, errors.New("providers.s2s.name is required"))
	}
	if cfg.Providers.Analysis.Name == "" {
		if len(cfg.Providers.Fallback) > 0 {
			errs = append(errs, errors.New("providers.fallback requires providers.analysis"))
		} else {
			slog.Warn("no analysis provider configured; sessions will not be scored")
		}
	}
	for i, fb := range cfg.Providers.Fallback {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallback[%d].name is required", i))
		}
		validateProviderName("analysis", fb.Name)
	}

	// Audio
	if cfg.Audio.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must be positive", cfg.Audio.FramesPerBuffer))
	}
	if cfg.Audio.OutboundBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.outbound_buffer %d must be positive", cfg.Audio.OutboundBuffer))
	}

	// Coaching
	if cfg.Coaching.MetricsTick < 0 {
		errs = append(errs, fmt.Errorf("coaching.metrics_tick %s must be positive", cfg.Coaching.MetricsTick))
	}
	if cfg.Coaching.PaceReset < 0 {
		errs = append(errs, fmt.Errorf("coaching.pace_reset %s must be positive", cfg.Coaching.PaceReset))
	}

	// Pace store
	switch cfg.PaceStore.Backend {
	case "", StoreMemory, StoreFile:
	case StoreRedis:
		if cfg.PaceStore.RedisAddr == "" {
			errs = append(errs, errors.New("pace_store.redis_addr is required when backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("pace_store.backend %q is invalid; valid values: memory, file, redis", cfg.PaceStore.Backend))
	}

	// Results
	switch cfg.Results.Backend {
	case "", StoreNone, StoreFile:
	case StorePostgres:
		if cfg.Results.PostgresDSN == "" {
			errs = append(errs, errors.New("results.postgres_dsn is required when backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("results.backend %q is invalid; valid values: none, file, postgres", cfg.Results.Backend))
	}

	// Session
	s := cfg.Session
	if s.Language != "" && !s.Language.IsValid() {
		errs = append(errs, fmt.Errorf("session.language %q is invalid; valid values: en, ar_msa, ar_khaleeji", s.Language))
	}
	if s.Scenario != "" && !s.Scenario.IsValid() {
		errs = append(errs, fmt.Errorf("session.scenario %q is invalid; valid values: NORMAL, SALES, DEBATE, CONFIDENCE", s.Scenario))
	}
	if s.Tone != "" && s.Tone != types.ToneSupportive && s.Tone != types.ToneBrutal {
		errs = append(errs, fmt.Errorf("session.tone %q is invalid; valid values: supportive, brutal", s.Tone))
	}
	seen := make(map[string]int, len(s.FocusSkills))
	for i, skill := range s.FocusSkills {
		if skill == "" {
			errs = append(errs, fmt.Errorf("session.focus_skills[%d] is empty", i))
			continue
		}
		if prev, ok := seen[skill]; ok {
			errs = append(errs, fmt.Errorf("session.focus_skills[%d] %q is a duplicate of focus_skills[%d]", i, skill, prev))
		}
		seen[skill] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
