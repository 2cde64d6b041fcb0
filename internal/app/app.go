// Package app wires the VocalEdge subsystems into a running coaching client.
//
// The App owns everything that outlives a single practice session: the
// providers, the pace preference store, the results sink and the health
// handler. [App.StartSession] builds a [Session] that connects the audio
// pipeline, the signal analyzer, the coaching engine and the suggestion queue
// for one conversation, and [Session.Finish] scores and saves it.
//
// For testing, inject stores and a fake clock via functional options. When an
// option is not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/internal/config"
	"github.com/MrWong99/vocaledge/internal/health"
	"github.com/MrWong99/vocaledge/internal/kvstore"
	"github.com/MrWong99/vocaledge/internal/observe"
	"github.com/MrWong99/vocaledge/internal/pace"
	"github.com/MrWong99/vocaledge/internal/pronunciation"
	"github.com/MrWong99/vocaledge/internal/results"
	"github.com/MrWong99/vocaledge/pkg/audio"
	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
	"github.com/MrWong99/vocaledge/pkg/types"
)

// ErrNoAnalysisProvider is returned by [App.Coach] when no analysis provider
// is configured.
var ErrNoAnalysisProvider = errors.New("app: no analysis provider configured")

// Providers holds the external collaborators. Analysis may be nil, in which
// case sessions cannot be scored. Populated by main.go via the config
// registry.
type Providers struct {
	S2S      s2s.Provider
	Analysis analysis.Provider
	Device   audio.Device
}

// App owns the long-lived subsystems. It runs at most one practice session
// at a time.
type App struct {
	cfg       *config.Config
	providers *Providers

	clock     clock.Clock
	metrics   *observe.Metrics
	health    *health.Handler
	newID     func() string
	paceStore kvstore.Store
	results   results.Store
	pace      *pace.Controller

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once

	mu     sync.Mutex
	active *Session
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClock sets the time source for session timers.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHealth registers per-session readiness checks on h.
func WithHealth(h *health.Handler) Option {
	return func(a *App) { a.health = h }
}

// WithPaceStore injects the pace preference store instead of creating one
// from config.
func WithPaceStore(s kvstore.Store) Option {
	return func(a *App) { a.paceStore = s }
}

// WithResults injects the results sink instead of creating one from config.
func WithResults(s results.Store) Option {
	return func(a *App) { a.results = s }
}

// WithIDFunc overrides session, turn and suggestion ID generation.
func WithIDFunc(f func() string) Option {
	return func(a *App) { a.newID = f }
}

// New creates an App. It connects the configured pace store and results sink
// synchronously so that misconfiguration surfaces at startup.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.S2S == nil {
		return nil, errors.New("app: a conversational agent provider is required")
	}
	if providers.Device == nil {
		return nil, errors.New("app: an audio device is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		clock:     clock.Real{},
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.health == nil {
		a.health = health.New()
	}

	if err := a.initPaceStore(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init pace store: %w", err)
	}
	a.pace = pace.New(ctx, a.paceStore)

	if err := a.initResults(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init results: %w", err)
	}

	slog.Info("app ready",
		"pace_store", cfg.PaceStore.Backend,
		"results", cfg.Results.Backend,
		"analysis", providers.Analysis != nil,
		"pace", a.pace.CurrentPace(),
	)
	return a, nil
}

func (a *App) initPaceStore(ctx context.Context) error {
	if a.paceStore != nil {
		return nil
	}
	ps := a.cfg.PaceStore
	switch ps.Backend {
	case config.StoreFile:
		a.paceStore = kvstore.NewFile(ps.Path)
	case config.StoreRedis:
		r, err := kvstore.DialRedis(ctx, ps.RedisAddr, ps.RedisPassword, ps.RedisDB)
		if err != nil {
			return err
		}
		a.paceStore = r
		a.closers = append(a.closers, r.Close)
	default:
		a.paceStore = kvstore.NewMemory()
	}
	return nil
}

func (a *App) initResults(ctx context.Context) error {
	if a.results != nil {
		return nil
	}
	rc := a.cfg.Results
	switch rc.Backend {
	case config.StoreNone:
		a.results = results.Discard{}
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, rc.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		store := results.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		a.results = store
		a.health.Set("results", pool.Ping)
	default:
		a.results = results.NewFileStore(rc.Path)
	}
	return nil
}

// Pace returns the playback pace controller shared by all sessions.
func (a *App) Pace() *pace.Controller { return a.pace }

// Results returns the session results sink.
func (a *App) Results() results.Store { return a.results }

// Health returns the readiness handler sessions register checks on.
func (a *App) Health() *health.Handler { return a.health }

// Active returns the running session, or nil.
func (a *App) Active() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Coach returns a pronunciation coach for lang backed by the analysis
// provider.
func (a *App) Coach(lang types.Language) (*pronunciation.Coach, error) {
	if a.providers.Analysis == nil {
		return nil, ErrNoAnalysisProvider
	}
	return pronunciation.New(a.providers.Device, a.providers.Analysis, lang), nil
}

// ApplyConfig applies the live-reloadable parts of a config change to the
// running session, if any.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	s := a.Active()
	if s == nil || !d.Changed() {
		return
	}
	if d.SuggestionsChanged {
		s.SetSuggestionsEnabled(d.SuggestionsEnabled)
	}
	if d.LanguageChanged {
		s.SetLanguage(d.NewLanguage)
	}
	if d.ScenarioChanged {
		s.SetScenario(d.NewScenario)
	}
}

func (a *App) release(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == s {
		a.active = nil
	}
}

// Shutdown abandons the running session without scoring it and closes the
// stores. It respects the context deadline: if ctx expires before all
// closers finish, the remaining ones are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if s := a.Active(); s != nil {
			s.Abort()
		}
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs closers after a failed New.
func (a *App) close() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
