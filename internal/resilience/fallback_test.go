package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	"github.com/MrWong99/vocaledge/pkg/provider/analysis/mock"
	"github.com/MrWong99/vocaledge/pkg/types"
)

func TestFallbackGroup_Order(t *testing.T) {
	tests := []struct {
		name     string
		failing  map[string]bool
		wantCall []string
		wantErr  bool
	}{
		{"primary succeeds", nil, []string{"primary"}, false},
		{"primary fails", map[string]bool{"primary": true}, []string{"primary", "secondary"}, false},
		{"all fail", map[string]bool{"primary": true, "secondary": true}, []string{"primary", "secondary"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
			fg.AddFallback("secondary", "secondary")

			var calls []string
			got, err := ExecuteWithResult(context.Background(), fg, func(v string) (string, error) {
				calls = append(calls, v)
				if tt.failing[v] {
					return "", errTest
				}
				return "answer from " + v, nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Errorf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
			} else if got != "answer from "+calls[len(calls)-1] {
				t.Errorf("result = %q", got)
			}
			if len(calls) != len(tt.wantCall) {
				t.Fatalf("calls = %v, want %v", calls, tt.wantCall)
			}
			for i := range calls {
				if calls[i] != tt.wantCall[i] {
					t.Errorf("calls = %v, want %v", calls, tt.wantCall)
				}
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, Clock: clk},
	})
	fg.AddFallback("secondary", "secondary")

	primaryCalls := 0
	fn := func(v string) error {
		if v == "primary" {
			primaryCalls++
			return errTest
		}
		return nil
	}
	for range 4 {
		if err := fg.Execute(context.Background(), fn); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if primaryCalls != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", primaryCalls)
	}
	st := fg.Status()
	if st[0].Name != "primary" || st[0].State != StateOpen || st[1].State != StateClosed {
		t.Errorf("Status = %+v", st)
	}
}

func TestFallbackGroup_StopsOnCancelledContext(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := fg.Execute(ctx, func(string) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}

func TestAnalysisFallback(t *testing.T) {
	primary := &mock.Provider{
		AnalyzeErr: errTest,
		ScoreErr:   analysis.ErrNotSupported,
		Speech:     []byte{1, 2},
	}
	secondary := &mock.Provider{
		Analysis: &analysis.SessionAnalysis{ConfidenceScore: 77},
		Score:    &analysis.PronunciationScore{Score: 90},
	}
	f := NewAnalysisFallback(primary, "gemini", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	f.AddFallback("openai", secondary)
	ctx := context.Background()

	// Unsupported answers fall through without opening the primary's breaker.
	for range 3 {
		s, err := f.ScorePronunciation(ctx, "hello", []byte{0, 0}, types.LanguageEnglish)
		if err != nil || s.Score != 90 {
			t.Fatalf("ScorePronunciation = %+v, %v", s, err)
		}
	}
	if _, score, _ := primary.Calls(); score != 3 {
		t.Errorf("primary scored %d times, want 3", score)
	}
	if f.Status()[0].State != StateClosed {
		t.Errorf("primary state = %v, want closed", f.Status()[0].State)
	}

	a, err := f.AnalyzeSession(ctx, analysis.SessionRequest{Transcript: "User: hi"})
	if err != nil || a.ConfidenceScore != 77 {
		t.Fatalf("AnalyzeSession = %+v, %v", a, err)
	}

	// The analyze failure opened the primary's breaker, so speech goes to the
	// secondary, which has no audio configured.
	speech, err := f.SynthesizeSpeech(ctx, "hello", types.LanguageEnglish)
	if err != nil || speech != nil {
		t.Errorf("SynthesizeSpeech = %v, %v; want secondary's empty answer", speech, err)
	}
	if f.Status()[0].State != StateOpen {
		t.Errorf("primary state = %v, want open", f.Status()[0].State)
	}
}
