package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vocaledge/internal/config"
	"github.com/MrWong99/vocaledge/pkg/types"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  s2s:
    name: gemini-live
session:
  language: en
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  s2s:
    name: gemini-live
session:
  language: ar_msa
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime pushes the file's mtime forward so a rewrite within the
// filesystem's timestamp granularity is still noticed.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	calls int
	old   *config.Config
	new   *config.Config
	diff  config.ConfigDiff
	ch    chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{ch: make(chan struct{}, 1)}
}

func (r *changeRecorder) onChange(old, new *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.calls++
	r.old, r.new, r.diff = old, new, d
	r.mu.Unlock()
	select {
	case r.ch <- struct{}{}:
	default:
	}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if cfg := w.Current(); cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v", cfg)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newChangeRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath, time.Second)

	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.old.Server.LogLevel != config.LogInfo || rec.new.Server.LogLevel != config.LogDebug {
		t.Errorf("callback configs: old %q new %q", rec.old.Server.LogLevel, rec.new.Server.LogLevel)
	}
	if !rec.diff.LanguageChanged || rec.diff.NewLanguage != types.LanguageArabicMSA {
		t.Errorf("diff = %+v", rec.diff)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want debug", cur.Server.LogLevel)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newChangeRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherInvalidYAML)
	bumpMtime(t, cfgPath, time.Second)
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback called %d times for an invalid config", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the previous info", cur.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := newChangeRecorder()
	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	bumpMtime(t, cfgPath, time.Second)
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback fired %d times for a touch-only change", n)
	}
}
