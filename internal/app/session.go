package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/vocaledge/internal/analyzer"
	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/internal/coaching"
	"github.com/MrWong99/vocaledge/internal/config"
	"github.com/MrWong99/vocaledge/internal/observe"
	"github.com/MrWong99/vocaledge/internal/pipeline"
	"github.com/MrWong99/vocaledge/internal/suggestion"
	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	"github.com/MrWong99/vocaledge/pkg/types"
)

var (
	// ErrSessionActive is returned by [App.StartSession] while another
	// session is running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrSessionFinished is returned when a finished session is used again.
	ErrSessionFinished = errors.New("app: session already finished")

	// ErrEmptySession is returned by [Session.Finish] when nothing was said,
	// so there is nothing to analyse. No result is saved.
	ErrEmptySession = errors.New("app: session has no transcript")

	// ErrAnalysisFailed wraps every failure to obtain a session analysis.
	ErrAnalysisFailed = errors.New("app: session analysis failed")
)

// Used when a session leaves the outcome or the focus skills empty.
const (
	defaultOutcome    = "Growth"
	defaultFocusSkill = "clarity"
)

const coachingCheck = "coaching"

// Callbacks receive session events. Every field is optional. They are called
// from the session's timers and the pipeline's tasks and must not block.
type Callbacks struct {
	// OnTranscription receives each transcript delta.
	OnTranscription func(role types.Role, text string)

	// OnMetrics receives the analysed metrics on every tick.
	OnMetrics func(analyzer.EnhancedMetrics)

	// OnSuggestionShown and OnSuggestionHidden follow the display slot.
	OnSuggestionShown  func(suggestion.Suggestion)
	OnSuggestionHidden func()

	OnInterrupted func()

	// OnClose fires when the agent ends the conversation. Call
	// [Session.Finish] from it or later.
	OnClose func()

	OnError func(error)
}

// SessionOptions describes the session to start.
type SessionOptions struct {
	Config   types.SessionConfig
	Language types.Language

	// Profile personalises the post-session feedback. May be nil.
	Profile *types.UserProfile

	Callbacks Callbacks
}

// Session is one running practice conversation. Its methods are safe for
// concurrent use.
type Session struct {
	app     *App
	id      string
	cfg     types.SessionConfig
	profile *types.UserProfile
	started time.Time
	cb      Callbacks

	pipeline  *pipeline.Pipeline
	engine    *coaching.Engine
	analyzer  *analyzer.Analyzer
	fillers   *analyzer.FillerTracker
	dismisser *AutoDismisser

	tick      time.Duration
	paceReset time.Duration

	mu         sync.Mutex
	lang       types.Language
	finished   bool
	tickTimer  clock.Timer
	paceTimer  clock.Timer
	lastMetric analyzer.EnhancedMetrics
}

// StartSession opens the devices, connects the agent and starts live
// coaching. Only one session may run at a time.
func (a *App) StartSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	a.mu.Lock()
	if a.active != nil {
		a.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := a.newSession(opts)
	a.active = s
	a.mu.Unlock()

	if err := s.start(ctx); err != nil {
		a.release(s)
		return nil, err
	}
	return s, nil
}

func (a *App) newSession(opts SessionOptions) *Session {
	cfg := opts.Config
	if !cfg.Scenario.IsValid() {
		cfg.Scenario = types.ScenarioNormal
	}
	if cfg.Outcome == "" {
		cfg.Outcome = defaultOutcome
	}
	if len(cfg.FocusSkills) == 0 {
		cfg.FocusSkills = []string{defaultFocusSkill}
	}
	lang := opts.Language
	if !lang.IsValid() {
		lang = types.LanguageEnglish
	}

	queue := suggestion.NewQueue(a.clock)
	s := &Session{
		app:       a,
		id:        a.newID(),
		cfg:       cfg,
		profile:   opts.Profile,
		cb:        opts.Callbacks,
		lang:      lang,
		tick:      a.cfg.Coaching.MetricsTick,
		paceReset: a.cfg.Coaching.PaceReset,
		analyzer:  analyzer.New(a.clock),
		fillers:   analyzer.NewFillerTracker(a.clock, lang, analyzer.DefaultFillerWindow),
		dismisser: NewAutoDismisser(a.clock, queue, suggestion.AutoDismissAfter),
		pipeline: pipeline.New(a.providers.Device, a.providers.S2S, a.pace,
			pipeline.WithClock(a.clock),
			pipeline.WithMetrics(a.metrics),
			pipeline.WithOutboundBuffer(a.cfg.Audio.OutboundBuffer),
			pipeline.WithIDFunc(a.newID),
		),
		engine: coaching.New(
			coaching.WithClock(a.clock),
			coaching.WithQueue(queue),
			coaching.WithMetrics(a.metrics),
			coaching.WithLanguage(lang),
			coaching.WithScenario(cfg.Scenario),
			coaching.WithIDFunc(a.newID),
		),
	}
	if s.tick <= 0 {
		s.tick = 250 * time.Millisecond
	}
	if s.paceReset <= 0 {
		s.paceReset = config.DefaultPaceReset
	}
	s.engine.SetSuggestionsEnabled(a.cfg.Coaching.SuggestionsEnabled())
	queue.SetDisplayCallbacks(s.dismisser.Wrap(suggestion.DisplayCallbacks{
		OnShow: s.cb.OnSuggestionShown,
		OnHide: s.cb.OnSuggestionHidden,
	}))
	return s
}

func (s *Session) start(ctx context.Context) error {
	err := s.pipeline.Start(ctx, s.cfg, s.lang, pipeline.Callbacks{
		OnTranscriptionUpdate: s.onTranscription,
		OnInterrupted:         s.cb.OnInterrupted,
		OnClose:               s.cb.OnClose,
		OnError:               s.cb.OnError,
	})
	if err != nil {
		s.dismisser.Stop()
		return fmt.Errorf("app: start session: %w", err)
	}

	s.started = s.app.clock.Now()
	s.app.metrics.ActiveSessions.Add(ctx, 1)
	s.app.health.Set(coachingCheck, s.engine.Check)

	s.mu.Lock()
	s.tickTimer = s.app.clock.AfterFunc(s.tick, s.onTick)
	s.paceTimer = s.app.clock.AfterFunc(s.paceReset, s.onPaceReset)
	s.mu.Unlock()

	observe.Logger(ctx).Info("session started",
		"session_id", s.id,
		"scenario", s.cfg.Scenario,
		"persona", s.cfg.Persona.Name,
		"language", s.lang,
	)
	return nil
}

func (s *Session) onTranscription(role types.Role, text string) {
	switch role {
	case types.RoleUser:
		s.fillers.Observe(text)
	case types.RoleAgent:
		// The learner's next words start a new utterance.
		s.fillers.Break()
	}
	if s.cb.OnTranscription != nil {
		s.cb.OnTranscription(role, text)
	}
}

// onTick analyses the latest live metrics and feeds the coaching engine.
func (s *Session) onTick() {
	s.mu.Lock()
	done := s.finished
	s.mu.Unlock()
	if done {
		return
	}

	m := s.analyzer.Analyze(s.pipeline.RealtimeMetrics(), s.fillers.Count())
	s.engine.AnalyzeSpeechPattern(m)

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.lastMetric = m
	s.tickTimer = s.app.clock.AfterFunc(s.tick, s.onTick)
	s.mu.Unlock()

	if s.cb.OnMetrics != nil {
		s.cb.OnMetrics(m)
	}
}

func (s *Session) onPaceReset() {
	s.pipeline.ResetPaceCounter()
	s.engine.Queue().CleanupOld(suggestion.DefaultMaxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.paceTimer = s.app.clock.AfterFunc(s.paceReset, s.onPaceReset)
	}
}

// ID returns the session identifier, also used as the result ID.
func (s *Session) ID() string { return s.id }

// AgentSpeaking reports whether scheduled agent audio is still playing.
func (s *Session) AgentSpeaking() bool {
	return s.app.clock.Now().Before(s.pipeline.AgentSpeakingUntil())
}

// Metrics returns the most recently analysed metrics.
func (s *Session) Metrics() analyzer.EnhancedMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMetric
}

// Analytics returns a snapshot of the coaching analytics.
func (s *Session) Analytics() coaching.Analytics { return s.engine.Analytics() }

// Queue returns the suggestion display queue, for manual dismissal.
func (s *Session) Queue() *suggestion.Queue { return s.engine.Queue() }

// ActOnSuggestion records that the learner followed suggestion id and hides
// it.
func (s *Session) ActOnSuggestion(id string) {
	s.engine.MarkSuggestionActedUpon(id)
	if cur, ok := s.Queue().Current(); ok && cur.ID == id {
		s.Queue().DismissCurrent()
	}
}

// SetLanguage switches coaching messages and filler detection. The agent
// keeps the language it was started with.
func (s *Session) SetLanguage(lang types.Language) {
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()
	s.engine.SetLanguage(lang)
	s.fillers.SetLanguage(lang)
}

// SetScenario switches the scenario used for coaching messages.
func (s *Session) SetScenario(sc types.ScenarioType) { s.engine.SetScenario(sc) }

// SetSuggestionsEnabled turns live suggestions on or off. Disabling clears
// the queue.
func (s *Session) SetSuggestionsEnabled(on bool) { s.engine.SetSuggestionsEnabled(on) }

// Pipeline returns the audio pipeline, for pace changes and state queries.
func (s *Session) Pipeline() *pipeline.Pipeline { return s.pipeline }

// stop ends live coaching and the pipeline. It reports false if the session
// was already stopped.
func (s *Session) stop(ctx context.Context) (pipeline.Result, time.Duration, bool) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return pipeline.Result{}, 0, false
	}
	s.finished = true
	for _, t := range []clock.Timer{s.tickTimer, s.paceTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.mu.Unlock()

	s.dismisser.Stop()
	s.engine.Queue().Clear()
	res := s.pipeline.Stop()
	elapsed := s.app.clock.Now().Sub(s.started)

	s.app.health.Remove(coachingCheck)
	s.app.metrics.ActiveSessions.Add(ctx, -1)
	s.app.release(s)
	return res, elapsed, true
}

// Abort ends the session without scoring or saving it.
func (s *Session) Abort() pipeline.Result {
	res, _, _ := s.stop(context.Background())
	return res
}

// Finish ends the session, asks the analysis provider to grade the
// transcript and saves the result. Failing to save is logged, not returned.
// A session with no transcript returns [ErrEmptySession]; analysis failures
// wrap [ErrAnalysisFailed].
func (s *Session) Finish(ctx context.Context) (*types.SessionResult, error) {
	res, elapsed, ok := s.stop(ctx)
	if !ok {
		return nil, ErrSessionFinished
	}
	log := observe.Logger(ctx, "session_id", s.id)
	log.Info("session stopped", "turns", len(res.Turns), "duration", elapsed.Round(time.Second))

	if strings.TrimSpace(res.Transcript) == "" {
		return nil, ErrEmptySession
	}

	s.mu.Lock()
	lang := s.lang
	s.mu.Unlock()

	verdict, err := s.analyze(ctx, res.Transcript, lang)
	if err != nil {
		log.Warn("session analysis failed", "err", err)
		return nil, err
	}

	result := s.result(verdict, res, elapsed, lang)
	if err := s.app.results.Save(ctx, result); err != nil {
		log.Warn("failed to save session result", "err", err)
	}
	return result, nil
}

func (s *Session) analyze(ctx context.Context, transcript string, lang types.Language) (*analysis.SessionAnalysis, error) {
	provider := s.app.providers.Analysis
	if provider == nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, ErrNoAnalysisProvider)
	}

	ctx, span := observe.StartSpan(ctx, "app.analyze_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", s.id),
		attribute.String("session.scenario", string(s.cfg.Scenario)),
		attribute.String("session.language", string(lang)),
	)

	verdict, err := provider.AnalyzeSession(ctx, analysis.SessionRequest{
		Transcript: transcript,
		Config:     s.cfg,
		Language:   lang,
		Profile:    s.profile,
	})
	if err == nil && verdict == nil {
		err = errors.New("empty analysis")
	}
	if err != nil {
		observe.FailSpan(span, err)
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	return verdict, nil
}

func (s *Session) result(v *analysis.SessionAnalysis, res pipeline.Result, elapsed time.Duration, lang types.Language) *types.SessionResult {
	an := s.engine.Analytics()
	return &types.SessionResult{
		ID:                 s.id,
		Date:               s.started,
		Scenario:           s.cfg.Scenario,
		ConfidenceScore:    v.ConfidenceScore,
		EffectivenessScore: v.EffectivenessScore,
		Feedback:           v.Feedback,
		Duration:           elapsed.Truncate(time.Second),
		PersonaName:        s.cfg.Persona.Name,
		SkillScores:        v.SkillScores,
		KeyFailures:        v.KeyFailures,
		TroubleWords:       v.TroubleWords,
		Turns:              res.Turns,
		Metadata: map[string]string{
			"language":               string(lang),
			"topic":                  s.cfg.Topic,
			"turns":                  strconv.Itoa(len(res.Turns)),
			"suggestions_shown":      strconv.Itoa(len(an.SuggestionsShown)),
			"suggestions_acted_upon": strconv.Itoa(len(an.SuggestionsActedUpon)),
		},
	}
}
