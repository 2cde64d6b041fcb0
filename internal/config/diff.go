package config

import (
	"slices"

	"github.com/MrWong99/vocaledge/pkg/types"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied to a running session are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SuggestionsChanged bool
	SuggestionsEnabled bool

	LanguageChanged bool
	NewLanguage     types.Language

	ScenarioChanged bool
	NewScenario     types.ScenarioType

	// RestartRequired is set when a field changed that only takes effect
	// for the next session, such as providers, devices or the persona.
	RestartRequired bool
}

// Changed reports whether any live-applicable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SuggestionsChanged || d.LanguageChanged || d.ScenarioChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if oe, ne := old.Coaching.SuggestionsEnabled(), new.Coaching.SuggestionsEnabled(); oe != ne {
		d.SuggestionsChanged = true
		d.SuggestionsEnabled = ne
	}
	if old.Session.Language != new.Session.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Session.Language
	}
	if old.Session.Scenario != new.Session.Scenario {
		d.ScenarioChanged = true
		d.NewScenario = new.Session.Scenario
	}

	d.RestartRequired = !sameProviders(old.Providers, new.Providers) ||
		old.Audio != new.Audio ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		old.PaceStore != new.PaceStore ||
		old.Results != new.Results ||
		old.Coaching.MetricsTick != new.Coaching.MetricsTick ||
		old.Coaching.PaceReset != new.Coaching.PaceReset ||
		!sameSession(old.Session, new.Session)

	return d
}

func sameProviders(a, b ProvidersConfig) bool {
	eq := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	return eq(a.S2S, b.S2S) && eq(a.Analysis, b.Analysis) && slices.EqualFunc(a.Fallback, b.Fallback, eq)
}

// sameSession ignores language and scenario, which are applied live.
func sameSession(a, b SessionConfig) bool {
	return a.Persona == b.Persona &&
		a.Topic == b.Topic &&
		a.Outcome == b.Outcome &&
		a.Tone == b.Tone &&
		a.Profile.Name == b.Profile.Name &&
		a.Profile.Goal == b.Profile.Goal &&
		a.Profile.Bio == b.Profile.Bio &&
		a.Profile.PreferredTone == b.Profile.PreferredTone &&
		slices.Equal(a.FocusSkills, b.FocusSkills)
}
