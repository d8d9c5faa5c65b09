package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/chatvoice/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
audio:
  device: "null"
voices:
  overrides_file: voices.txt
`

const watcherUpdatedYAML = `
server:
  log_level: debug
audio:
  device: "null"
voices:
  overrides_file: voices.txt
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

// bump moves path's mtime forward so coarse filesystem clocks still see a
// change.
func bump(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func setup(t *testing.T) (cfgPath, voicesPath string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	voicesPath = filepath.Join(dir, "voices.txt")
	writeFile(t, voicesPath, "alice en-GB-George\n")
	writeFile(t, cfgPath, watcherValidYAML)
	return cfgPath, voicesPath
}

type recorder struct {
	mu       sync.Mutex
	old, new *config.Config
	calls    int
	called   chan struct{}
}

func newRecorder() *recorder { return &recorder{called: make(chan struct{}, 8)} }

func (r *recorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.old, r.new = old, new
	r.calls++
	r.mu.Unlock()
	r.called <- struct{}{}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath, _ := setup(t)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsConfigChange(t *testing.T) {
	t.Parallel()
	cfgPath, _ := setup(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bump(t, cfgPath)

	select {
	case <-rec.called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.old.Server.LogLevel != config.LogInfo || rec.new.Server.LogLevel != config.LogDebug {
		t.Errorf("callback log levels: old %q new %q", rec.old.Server.LogLevel, rec.new.Server.LogLevel)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_DetectsOverridesFileChange(t *testing.T) {
	t.Parallel()
	cfgPath, voicesPath := setup(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, voicesPath, "alice en-GB-George\nbob ru-RU-Pavel\n")
	bump(t, voicesPath)

	select {
	case <-rec.called:
	case <-time.After(2 * time.Second):
		t.Fatal("overrides file edit did not trigger a reload")
	}
	if d := config.Diff(rec.old, rec.new); d.LogLevelChanged {
		t.Errorf("unexpected log level change: %+v", d)
	}
}

func TestWatcher_MissingOverridesFileFailsInitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath, voicesPath := setup(t)
	if err := os.Remove(voicesPath); err != nil {
		t.Fatal(err)
	}
	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for missing overrides file")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath, _ := setup(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherInvalidYAML)
	bump(t, cfgPath)
	time.Sleep(300 * time.Millisecond)

	if calls := rec.count(); calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
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
	cfgPath, _ := setup(t)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath, _ := setup(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	bump(t, cfgPath)
	time.Sleep(300 * time.Millisecond)

	if calls := rec.count(); calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}
