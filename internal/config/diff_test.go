package config_test

import (
	"testing"

	"github.com/MrWong99/vocaledge/internal/config"
	"github.com/MrWong99/vocaledge/pkg/types"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{S2S: config.ProviderEntry{Name: "gemini-live"}},
		Session: config.SessionConfig{
			Language:    types.LanguageEnglish,
			Scenario:    types.ScenarioNormal,
			FocusSkills: []string{"clarity"},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, baseConfig())
	if d.Changed() || d.RestartRequired {
		t.Errorf("Diff of identical configs = %+v", d)
	}
}

func TestDiff_LiveChanges(t *testing.T) {
	t.Parallel()
	off := false
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(t *testing.T, d config.ConfigDiff)
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "suggestions disabled",
			mutate: func(c *config.Config) { c.Coaching.Enabled = &off },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.SuggestionsChanged || d.SuggestionsEnabled {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "language",
			mutate: func(c *config.Config) { c.Session.Language = types.LanguageArabicMSA },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LanguageChanged || d.NewLanguage != types.LanguageArabicMSA {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "scenario",
			mutate: func(c *config.Config) { c.Session.Scenario = types.ScenarioDebate },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.ScenarioChanged || d.NewScenario != types.ScenarioDebate {
					t.Errorf("diff = %+v", d)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			tt.check(t, d)
			if d.RestartRequired {
				t.Error("live change marked as requiring a restart")
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"agent model", func(c *config.Config) { c.Providers.S2S.Model = "other" }},
		{"fallback added", func(c *config.Config) {
			c.Providers.Fallback = []config.ProviderEntry{{Name: "openai"}}
		}},
		{"device", func(c *config.Config) { c.Audio.OutboundBuffer = 8 }},
		{"persona", func(c *config.Config) { c.Session.Persona.Warm = true }},
		{"focus skills", func(c *config.Config) { c.Session.FocusSkills = append(c.Session.FocusSkills, "pace") }},
		{"results", func(c *config.Config) { c.Results.Backend = config.StoreNone }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !d.RestartRequired {
				t.Errorf("diff = %+v, want RestartRequired", d)
			}
			if d.Changed() {
				t.Errorf("restart-only change reported as live: %+v", d)
			}
		})
	}
}
