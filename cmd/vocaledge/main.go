// Command vocaledge runs a live speech-coaching session against a
// conversational agent and prints the post-session feedback.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/vocaledge/internal/app"
	"github.com/MrWong99/vocaledge/internal/config"
	"github.com/MrWong99/vocaledge/internal/observe"
	"github.com/MrWong99/vocaledge/internal/suggestion"
	"github.com/MrWong99/vocaledge/pkg/types"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file with provider API keys")
	watch := flag.Bool("watch", true, "reload live-tunable settings when the config file changes")
	history := flag.Int("history", 0, "print the N most recent session results and exit")
	drill := flag.String("drill", "", "run a pronunciation drill for the given word instead of a session")
	flag.Parse()

	// A missing dotenv file is normal; keys may come from the environment.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "vocaledge: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocaledge: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocaledge: %v\n", err)
		}
		return 1
	}
	applyEnvKeys(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("vocaledge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	// ── Observability listener ────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		srv := newObservabilityServer(cfg.Server.ListenAddr, application)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability listener failed", "err", err)
			}
		}()
		defer srv.Close()
	}

	switch {
	case *history > 0:
		return printHistory(ctx, application, *history)
	case *drill != "":
		return runDrill(ctx, application, cfg.Session.Language, *drill)
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	return runSession(ctx, application, cfg)
}

func newObservabilityServer(addr string, application *app.App) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	application.Health().Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runSession runs one practice conversation until the learner presses Ctrl+C
// or the agent hangs up, then prints the graded result.
func runSession(ctx context.Context, application *app.App, cfg *config.Config) int {
	hungUp := make(chan struct{}, 1)
	opts := app.SessionOptions{
		Config:   cfg.Session.Types(),
		Language: cfg.Session.Language,
		Callbacks: app.Callbacks{
			OnTranscription: func(role types.Role, text string) {
				fmt.Printf("[%s] %s\n", role, text)
			},
			OnSuggestionShown: func(s suggestion.Suggestion) {
				fmt.Printf(">> %s (%s)\n", s.Message, s.Priority)
			},
			OnInterrupted: func() { slog.Debug("agent interrupted") },
			OnClose: func() {
				select {
				case hungUp <- struct{}{}:
				default:
				}
			},
			OnError: func(err error) { slog.Warn("session error", "err", err) },
		},
	}
	if cfg.Session.Profile != (types.UserProfile{}) {
		profile := cfg.Session.Profile
		opts.Profile = &profile
	}

	s, err := application.StartSession(ctx, opts)
	if err != nil {
		slog.Error("failed to start session", "err", err)
		return 1
	}
	slog.Info("session running, press Ctrl+C to finish", "session_id", s.ID())

	select {
	case <-ctx.Done():
	case <-hungUp:
	}

	fctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := s.Finish(fctx)
	switch {
	case errors.Is(err, app.ErrEmptySession):
		fmt.Println("Nothing was said, so there is nothing to grade.")
		return 0
	case err != nil:
		slog.Error("failed to grade session", "err", err)
		return 1
	}
	printResult(res)
	return 0
}

func printResult(r *types.SessionResult) {
	fmt.Println()
	fmt.Printf("Session %s with %s (%s, %s)\n", r.ID, r.PersonaName, r.Scenario, r.Duration)
	fmt.Printf("  Confidence    : %d/100\n", r.ConfidenceScore)
	fmt.Printf("  Effectiveness : %d/100\n", r.EffectivenessScore)
	for skill, score := range r.SkillScores {
		fmt.Printf("  %-14s: %d/100\n", skill, score)
	}
	fmt.Printf("\n%s\n", r.Feedback)
	if len(r.KeyFailures) > 0 {
		fmt.Println("\nWork on:")
		for _, f := range r.KeyFailures {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(r.TroubleWords) > 0 {
		fmt.Println("\nTrouble words:")
		for _, w := range r.TroubleWords {
			fmt.Printf("  - %s [%s] %s\n", w.Word, w.Phonetic, w.Tips)
		}
	}
}

func printHistory(ctx context.Context, application *app.App, n int) int {
	recent, err := application.Results().Recent(ctx, n)
	if err != nil {
		slog.Error("failed to list results", "err", err)
		return 1
	}
	if len(recent) == 0 {
		fmt.Println("No sessions recorded yet.")
	}
	for _, r := range recent {
		fmt.Printf("%s  %-10s  %-16s  confidence %3d  effectiveness %3d  %s\n",
			r.Date.Local().Format(time.DateTime), r.Scenario, r.PersonaName,
			r.ConfidenceScore, r.EffectivenessScore, r.Duration)
	}
	return 0
}

// runDrill plays the reference pronunciation of word, records one attempt
// until Enter is pressed and prints the score.
func runDrill(ctx context.Context, application *app.App, lang types.Language, word string) int {
	coach, err := application.Coach(lang)
	if err != nil {
		slog.Error("pronunciation drill unavailable", "err", err)
		return 1
	}
	if err := coach.PlayMaster(ctx, word); err != nil {
		slog.Error("failed to play reference", "word", word, "err", err)
		return 1
	}
	if err := coach.RecordAttempt(ctx); err != nil {
		slog.Error("failed to start recording", "err", err)
		return 1
	}
	fmt.Printf("Say %q now, then press Enter.\n", word)
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')

	score, err := coach.StopAndScore(ctx, word)
	if err != nil {
		slog.Error("failed to score attempt", "err", err)
		return 1
	}
	fmt.Printf("Score: %d/100\n%s\n", score.Score, score.Feedback)
	if score.NeedsCorrection {
		fmt.Println("Try again after listening to the reference once more.")
	}
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
