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

	"github.com/MrWong99/chatvoice/internal/resilience"
	"github.com/MrWong99/chatvoice/pkg/audio"
	"github.com/MrWong99/chatvoice/pkg/audio/mock"
)

func ok(context.Context) error { return nil }

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	h := New(nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" || body.Playback != nil {
		t.Errorf("body = %+v", body)
	}
}

func TestHealthz_PlaybackSnapshot(t *testing.T) {
	t.Parallel()

	mx := &mock.Mixer{StatsResult: audio.MixerStats{
		Backlog:      1500 * time.Millisecond,
		TalkActivity: 2,
		DuckedBlocks: 7,
		PlayedBlocks: 9,
	}}
	h := New(nil, WithPlayback(PlaybackSnapshot(mx)))
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	body := decode(t, rec)
	if body.Playback == nil {
		t.Fatal("missing playback snapshot")
	}
	want := Playback{BacklogSeconds: 1.5, TalkActivity: 2, DuckedBlocks: 7, PlayedBlocks: 9}
	if *body.Playback != want {
		t.Errorf("playback = %+v, want %+v", *body.Playback, want)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "audio", Check: ok},
				{Name: "token", Check: ok},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"audio": "ok", "token": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "audio", Check: func(context.Context) error { return errors.New("stream closed") }},
				{Name: "token", Check: ok},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"audio": "fail: stream closed", "token": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tt.checkers).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("check %s = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New([]Checker{{Name: "test", Check: ok}}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestDeviceCheck(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	c := DeviceCheck(dev)
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected failure before Start")
	}
	if err := dev.Start(context.Background(), &mock.Mixer{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("running device: %v", err)
	}
	_ = dev.Close()
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected failure after Close")
	}
}

func TestBreakerCheck(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	c := BreakerCheck("token", cb)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("closed breaker: %v", err)
	}
	_ = cb.Do(context.Background(), func(context.Context) error { return errors.New("denied") })
	err := c.Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "open") {
		t.Errorf("open breaker err = %v", err)
	}
}

func TestBacklogCheck(t *testing.T) {
	t.Parallel()

	mx := &mock.Mixer{StatsResult: audio.MixerStats{Backlog: 10 * time.Second}}
	if err := BacklogCheck(mx, 30*time.Second).Check(context.Background()); err != nil {
		t.Errorf("under limit: %v", err)
	}
	if err := BacklogCheck(mx, 5*time.Second).Check(context.Background()); err == nil {
		t.Error("expected failure over limit")
	}
}
