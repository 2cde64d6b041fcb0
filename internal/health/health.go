// Package health serves liveness and readiness probes for the VocalEdge
// client's observability listener.
//
//   - /healthz: liveness, 200 while the process can serve HTTP.
//   - /readyz: readiness, 200 only when every registered [Checker] passes.
//
// Checkers can be added and removed at runtime, so a practice session can
// register its coaching engine while it runs and remove it when it ends.
// Responses are JSON objects with a "status" field ("ok" or "fail") and a
// "checks" map keyed by checker name.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// CheckFunc probes one dependency. It returns nil when healthy and must
// respect context cancellation.
type CheckFunc func(ctx context.Context) error

// Checker is a named [CheckFunc].
type Checker struct {
	// Name labels the check in the JSON response (e.g. "coaching", "results").
	Name  string
	Check CheckFunc
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]CheckFunc
}

// New creates a [Handler] with an initial set of checkers.
func New(checkers ...Checker) *Handler {
	h := &Handler{checkers: make(map[string]CheckFunc, len(checkers))}
	for _, c := range checkers {
		h.checkers[c.Name] = c.Check
	}
	return h
}

// Set registers check under name, replacing any checker with that name.
func (h *Handler) Set(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = check
}

// Remove unregisters the checker called name. Unknown names are ignored.
func (h *Handler) Remove(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checkers, name)
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every registered checker concurrently, each with a
// [checkTimeout] deadline derived from the request, and returns 503 if any
// of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	snapshot := make(map[string]CheckFunc, len(h.checkers))
	for name, fn := range h.checkers {
		snapshot[name] = fn
	}
	h.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(snapshot))
		allOK  = true
	)
	for name, fn := range snapshot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := fn(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[name] = "fail: " + err.Error()
				allOK = false
				return
			}
			checks[name] = "ok"
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
