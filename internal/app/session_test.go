package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vocaledge/internal/analyzer"
	"github.com/MrWong99/vocaledge/internal/app"
	"github.com/MrWong99/vocaledge/internal/config"
	"github.com/MrWong99/vocaledge/internal/suggestion"
	"github.com/MrWong99/vocaledge/pkg/audio"
	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
	"github.com/MrWong99/vocaledge/pkg/types"
)

var salesCall = types.SessionConfig{
	Scenario: types.ScenarioSales,
	Persona:  types.Persona{Name: "Dana", Role: "Procurement lead"},
	Topic:    "renewing the contract",
	Outcome:  "close the deal",
}

// events collects session callbacks.
type events struct {
	mu      sync.Mutex
	deltas  []string
	metrics []analyzer.EnhancedMetrics
	shown   []suggestion.Suggestion
	hidden  int
	closed  int
}

func (e *events) callbacks() app.Callbacks {
	return app.Callbacks{
		OnTranscription: func(role types.Role, text string) {
			e.mu.Lock()
			e.deltas = append(e.deltas, string(role)+":"+text)
			e.mu.Unlock()
		},
		OnMetrics: func(m analyzer.EnhancedMetrics) {
			e.mu.Lock()
			e.metrics = append(e.metrics, m)
			e.mu.Unlock()
		},
		OnSuggestionShown: func(s suggestion.Suggestion) {
			e.mu.Lock()
			e.shown = append(e.shown, s)
			e.mu.Unlock()
		},
		OnSuggestionHidden: func() {
			e.mu.Lock()
			e.hidden++
			e.mu.Unlock()
		},
		OnClose: func() {
			e.mu.Lock()
			e.closed++
			e.mu.Unlock()
		},
	}
}

func (e *events) counts() (deltas, metrics, shown, hidden int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.deltas), len(e.metrics), len(e.shown), e.hidden
}

func (e *events) lastMetrics() analyzer.EnhancedMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics[len(e.metrics)-1]
}

func (e *events) firstShown() suggestion.Suggestion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shown[0]
}

func (f *fixture) start(t *testing.T, ev *events) *app.Session {
	t.Helper()
	s, err := f.app.StartSession(context.Background(), app.SessionOptions{
		Config:    salesCall,
		Language:  types.LanguageEnglish,
		Callbacks: ev.callbacks(),
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return s
}

// say emits user and agent transcript deltas and waits until the session
// has seen them.
func (f *fixture) say(t *testing.T, ev *events, user, agent string) {
	t.Helper()
	before, _, _, _ := ev.counts()
	f.sess.Emit(s2s.Event{Kind: s2s.EventInputTranscript, Text: user})
	f.sess.Emit(s2s.Event{Kind: s2s.EventOutputTranscript, Text: agent})
	f.sess.Emit(s2s.Event{Kind: s2s.EventTurnComplete})
	waitFor(t, "transcript deltas", func() bool {
		n, _, _, _ := ev.counts()
		return n == before+2
	})
}

func TestStartSession_OnlyOneActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.start(t, &events{})
	if f.app.Active() != s {
		t.Error("Active() does not return the running session")
	}
	if _, err := f.app.StartSession(context.Background(), app.SessionOptions{}); !errors.Is(err, app.ErrSessionActive) {
		t.Errorf("second StartSession = %v, want ErrSessionActive", err)
	}
	s.Abort()
	if f.app.Active() != nil {
		t.Error("session still active after Abort")
	}
}

func TestStartSession_ConnectFailureReleasesSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.prov.ConnectErr = errors.New("quota exceeded")
	var got error
	_, err := f.app.StartSession(context.Background(), app.SessionOptions{
		Callbacks: app.Callbacks{OnError: func(err error) { got = err }},
	})
	if err == nil {
		t.Fatal("StartSession succeeded, want error")
	}
	if got == nil {
		t.Error("OnError not called")
	}
	if f.app.Active() != nil {
		t.Error("failed session left active")
	}
}

func TestStartSession_ConnectsWithPersona(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.start(t, &events{})

	calls := f.prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("Connect calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].Cfg.Instructions, "Dana") {
		t.Errorf("system instruction does not name the persona: %q", calls[0].Cfg.Instructions)
	}
	s.Abort()
}

func TestSession_TickRaisesAndAutoDismissesSuggestion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ev := &events{}
	f.start(t, ev)

	f.clk.Advance(249 * time.Millisecond)
	if _, n, _, _ := ev.counts(); n != 0 {
		t.Fatalf("metrics before first tick = %d, want 0", n)
	}

	// Nothing is captured, so the first tick sees silence and low energy.
	f.clk.Advance(time.Millisecond)
	_, metrics, shown, _ := ev.counts()
	if metrics != 1 || shown != 1 {
		t.Fatalf("after one tick: metrics=%d shown=%d, want 1 and 1", metrics, shown)
	}
	if got := ev.firstShown().Type; got != suggestion.TypeEnergy {
		t.Errorf("suggestion type = %q, want energy", got)
	}

	f.clk.Advance(suggestion.AutoDismissAfter - time.Millisecond)
	if _, _, _, hidden := ev.counts(); hidden != 0 {
		t.Fatalf("hidden before auto-dismiss = %d", hidden)
	}
	f.clk.Advance(time.Millisecond)
	_, metrics, shown, hidden := ev.counts()
	if hidden != 1 {
		t.Errorf("hidden after %v = %d, want 1", suggestion.AutoDismissAfter, hidden)
	}
	// The engine's cooldown holds back a second suggestion.
	if shown != 1 {
		t.Errorf("shown = %d, want 1 within the cooldown", shown)
	}
	if metrics != 17 {
		t.Errorf("metrics ticks = %d, want 17 over 4.25s", metrics)
	}
}

func TestSession_FillerWordsReachMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ev := &events{}
	f.start(t, ev)

	f.say(t, ev, "um so uh we could like renew", "Um, go on.")
	f.clk.Advance(250 * time.Millisecond)
	if got := ev.lastMetrics().FillerWordCount; got != 3 {
		t.Errorf("FillerWordCount = %d, want 3", got)
	}

	// Fillers said by the agent are not counted, and old ones age out.
	f.clk.Advance(analyzer.DefaultFillerWindow)
	if got := ev.lastMetrics().FillerWordCount; got != 0 {
		t.Errorf("FillerWordCount after the window = %d, want 0", got)
	}
}

func TestSession_ActOnSuggestion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ev := &events{}
	s := f.start(t, ev)
	f.clk.Advance(250 * time.Millisecond)
	sg := ev.firstShown()

	s.ActOnSuggestion(sg.ID)
	if _, _, _, hidden := ev.counts(); hidden != 1 {
		t.Errorf("hidden = %d, want 1", hidden)
	}
	an := s.Analytics()
	if len(an.SuggestionsActedUpon) != 1 || an.SuggestionsActedUpon[0] != sg.ID {
		t.Errorf("acted upon = %v, want [%s]", an.SuggestionsActedUpon, sg.ID)
	}
}

func TestSession_FinishScoresAndSaves(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ev := &events{}
	s := f.start(t, ev)

	f.say(t, ev, "Hello Dana", "Hi, what can you offer?")
	f.clk.Advance(90 * time.Second)

	res, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if f.app.Active() != nil {
		t.Error("session still active after Finish")
	}

	if len(f.analysis.AnalyzeCalls) != 1 {
		t.Fatalf("AnalyzeSession calls = %d, want 1", len(f.analysis.AnalyzeCalls))
	}
	req := f.analysis.AnalyzeCalls[0]
	if req.Transcript != "User: Hello Dana\nAI: Hi, what can you offer?" {
		t.Errorf("transcript = %q", req.Transcript)
	}
	if len(req.Config.FocusSkills) != 1 || req.Config.FocusSkills[0] != "clarity" {
		t.Errorf("focus skills = %v, want [clarity]", req.Config.FocusSkills)
	}

	if res.ID != s.ID() || !res.Date.Equal(epoch) {
		t.Errorf("id/date = %s %v", res.ID, res.Date)
	}
	if res.Duration != 90*time.Second {
		t.Errorf("duration = %v, want 1m30s", res.Duration)
	}
	if res.ConfidenceScore != 72 || res.EffectivenessScore != 64 || res.PersonaName != "Dana" || res.Scenario != types.ScenarioSales {
		t.Errorf("result = %+v", res)
	}
	if len(res.Turns) != 2 {
		t.Errorf("turns = %d, want 2", len(res.Turns))
	}
	if res.Metadata["language"] != "en" || res.Metadata["topic"] != salesCall.Topic {
		t.Errorf("metadata = %v", res.Metadata)
	}

	saved := f.results.all()
	if len(saved) != 1 || saved[0].ID != res.ID {
		t.Errorf("saved = %+v, want the finished result", saved)
	}

	if _, err := s.Finish(context.Background()); !errors.Is(err, app.ErrSessionFinished) {
		t.Errorf("second Finish = %v, want ErrSessionFinished", err)
	}
}

func TestSession_FinishEmptyTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.start(t, &events{})
	if _, err := s.Finish(context.Background()); !errors.Is(err, app.ErrEmptySession) {
		t.Errorf("Finish = %v, want ErrEmptySession", err)
	}
	if analyze, _, _ := f.analysis.Calls(); analyze != 0 {
		t.Errorf("AnalyzeSession called %d times, want 0", analyze)
	}
	if len(f.results.all()) != 0 {
		t.Error("empty session was saved")
	}
}

func TestSession_FinishAnalysisFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.analysis.AnalyzeErr = errors.New("503 from model")
	ev := &events{}
	s := f.start(t, ev)
	f.say(t, ev, "Hello", "Hi")

	if _, err := s.Finish(context.Background()); !errors.Is(err, app.ErrAnalysisFailed) {
		t.Errorf("Finish = %v, want ErrAnalysisFailed", err)
	}
	if len(f.results.all()) != 0 {
		t.Error("failed session was saved")
	}
}

func TestSession_FinishSaveFailureStillReturnsResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.results.err = errors.New("disk full")
	ev := &events{}
	s := f.start(t, ev)
	f.say(t, ev, "Hello", "Hi")

	res, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res == nil || res.ConfidenceScore != 72 {
		t.Errorf("result = %+v", res)
	}
}

func TestApplyConfig_UpdatesActiveSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ev := &events{}
	f.start(t, ev)

	f.app.ApplyConfig(config.ConfigDiff{SuggestionsChanged: true, SuggestionsEnabled: false})
	f.clk.Advance(time.Second)
	_, metrics, shown, _ := ev.counts()
	if metrics != 4 {
		t.Errorf("metrics ticks = %d, want 4", metrics)
	}
	if shown != 0 {
		t.Errorf("shown = %d with suggestions disabled", shown)
	}

	f.app.ApplyConfig(config.ConfigDiff{SuggestionsChanged: true, SuggestionsEnabled: true})
	f.clk.Advance(250 * time.Millisecond)
	if _, _, shown, _ := ev.counts(); shown != 1 {
		t.Errorf("shown = %d after re-enabling, want 1", shown)
	}
}

func TestSession_RegistersReadinessCheck(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	readyChecks := func() map[string]string {
		mux := http.NewServeMux()
		f.health.Register(mux)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		var body struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body.Checks
	}

	s := f.start(t, &events{})
	if got := readyChecks()["coaching"]; got != "ok" {
		t.Errorf("coaching check = %q, want ok", got)
	}
	s.Abort()
	if _, ok := readyChecks()["coaching"]; ok {
		t.Error("coaching check still registered after the session ended")
	}
}

func TestSession_AgentHangUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ev := &events{}
	s := f.start(t, ev)
	f.say(t, ev, "Hello", "Goodbye")

	f.sess.Close()
	waitFor(t, "OnClose", func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return ev.closed == 1
	})
	if _, err := s.Finish(context.Background()); err != nil {
		t.Errorf("Finish after hang-up: %v", err)
	}
}

// loudFrame is 10 ms of broadband noise at half scale.
func loudFrame(r *rand.Rand) audio.AudioFrame {
	s := make([]int16, audio.InputSampleRate/100)
	for i := range s {
		s[i] = int16((r.Float64()*2 - 1) * 0.5 * 32767)
	}
	return audio.AudioFrame{Data: audio.SamplesToBytes(s), SampleRate: audio.InputSampleRate, Channels: 1}
}

func TestSession_ContinuousSpeechRaisesPaceAndRushedFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ev := &events{}
	f.start(t, ev)

	// One frame per 10 ms of clock time. Debounced peaks land every 160 ms,
	// so the tick at 2250 ms sees 15 of them, well before the pace reset.
	r := rand.New(rand.NewPCG(3, 4))
	for i := range 225 {
		f.dev.Capture.Push(loudFrame(r))
		waitFor(t, "frame sent", func() bool { return len(f.sess.Sent()) == i+1 })
		f.clk.Advance(10 * time.Millisecond)
	}

	_, metrics, shown, _ := ev.counts()
	if metrics != 9 {
		t.Fatalf("metrics ticks = %d, want 9", metrics)
	}
	if shown != 1 {
		t.Fatalf("shown = %d, want 1", shown)
	}
	if got := ev.firstShown().Type; got != suggestion.TypePace {
		t.Errorf("suggestion type = %q, want pace", got)
	}
	m := ev.lastMetrics()
	if m.Pace <= 12 {
		t.Errorf("pace = %v, want more than 12 peaks", m.Pace)
	}
	if m.Flow != analyzer.FlowRushed {
		t.Errorf("flow = %q, want rushed", m.Flow)
	}
}

func TestSession_AgentSpeaking(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.start(t, &events{})
	if s.AgentSpeaking() {
		t.Fatal("agent speaking before any audio")
	}

	// Half a second of 24 kHz agent audio at normal pace.
	f.sess.Emit(s2s.Event{Kind: s2s.EventAudio, Audio: make([]byte, 24000)})
	waitFor(t, "agent audio", s.AgentSpeaking)

	f.clk.Advance(499 * time.Millisecond)
	if !s.AgentSpeaking() {
		t.Error("agent stopped speaking early")
	}
	f.clk.Advance(time.Millisecond)
	if s.AgentSpeaking() {
		t.Error("agent still speaking after its audio ended")
	}
}
