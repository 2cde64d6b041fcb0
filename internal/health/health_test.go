package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func ok(context.Context) error { return nil }

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %+v", code, body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		wantBody map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
		},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "coaching", Check: ok}, {Name: "results", Check: ok}},
			wantCode: http.StatusOK,
			wantBody: map[string]string{"coaching": "ok", "results": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "coaching", Check: func(context.Context) error { return errors.New("circuit breaker open") }},
				{Name: "results", Check: ok},
			},
			wantCode: http.StatusServiceUnavailable,
			wantBody: map[string]string{"coaching": "fail: circuit breaker open", "results": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			wantStatus := "ok"
			if tt.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("body status = %q, want %q", body.Status, wantStatus)
			}
			for k, v := range tt.wantBody {
				if body.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_SetAndRemove(t *testing.T) {
	t.Parallel()
	h := New()
	h.Set("coaching", func(context.Context) error { return errors.New("degraded") })
	if code, _ := serve(t, h, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("status after Set = %d, want 503", code)
	}
	h.Set("coaching", ok)
	if code, _ := serve(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("status after replacing = %d, want 200", code)
	}
	h.Set("results", func(context.Context) error { return errors.New("unreachable") })
	h.Remove("results")
	h.Remove("unknown")
	code, body := serve(t, h, "/readyz")
	if code != http.StatusOK || len(body.Checks) != 1 {
		t.Errorf("after Remove = %d %+v", code, body)
	}
}

func TestReadyz_CheckSeesDeadline(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		dl, ok := ctx.Deadline()
		if !ok || time.Until(dl) > checkTimeout {
			return errors.New("no deadline")
		}
		return nil
	}})
	code, body := serve(t, h, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, checks = %v", code, body.Checks)
	}
}

func TestReadyz_RunsChecksConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var started = make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: wait}, Checker{Name: "b", Check: wait})

	done := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		done <- rec.Code
	}()
	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not start concurrently")
		}
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("status = %d", code)
	}
}

func TestRegister_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New().Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", strings.NewReader("")))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d, want 405", rec.Code)
	}
}
