package azure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/chatvoice/pkg/provider/tts"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New("sub-key", WithBaseURL(srv.URL), WithTokenURL(srv.URL+"/sts/v1.0/issuetoken"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := New("k", WithSampleRate(44100)); err == nil {
		t.Error("expected error for unsupported rate")
	}
	p, err := New("k", WithRegion("westeurope"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.baseURL != "https://westeurope.tts.speech.microsoft.com" {
		t.Errorf("baseURL = %q", p.baseURL)
	}
	if p.tokenURL != "https://westeurope.api.cognitive.microsoft.com/sts/v1.0/issuetoken" {
		t.Errorf("tokenURL = %q", p.tokenURL)
	}
}

func TestOutputFormat(t *testing.T) {
	t.Parallel()

	for rate, want := range map[int]string{
		16000: "raw-16khz-16bit-mono-pcm",
		24000: "raw-24khz-16bit-mono-pcm",
		48000: "raw-48khz-16bit-mono-pcm",
	} {
		got, err := OutputFormat(rate)
		if err != nil || got != want {
			t.Errorf("OutputFormat(%d) = %q, %v; want %q", rate, got, err, want)
		}
	}
}

func TestIssueToken(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sts/v1.0/issuetoken" {
			http.Error(w, "bad route", http.StatusNotFound)
			return
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "sub-key" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "fresh-token\n")
	})

	tok, err := p.IssueToken(context.Background())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if tok != "fresh-token" {
		t.Errorf("token = %q, want fresh-token", tok)
	}
}

func TestIssueToken_Failure(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusForbidden)
	})
	if _, err := p.IssueToken(context.Background()); err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("IssueToken err = %v, want status 403", err)
	}
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	var gotBody string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cognitiveservices/v1" {
			http.Error(w, "bad route", http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/ssml+xml" {
			t.Errorf("Content-Type = %q", got)
		}
		if got := r.Header.Get("X-Microsoft-OutputFormat"); got != "raw-24khz-16bit-mono-pcm" {
			t.Errorf("X-Microsoft-OutputFormat = %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte{0x10, 0x00, 0xf0, 0xff})
	})

	res := p.Synthesize(context.Background(), tts.Request{Token: "tok", Voice: "v", SSML: "<speak/>"})
	if res.Status != tts.StatusOK {
		t.Fatalf("Status = %v, err = %v", res.Status, res.Err)
	}
	if len(res.PCM) != 2 || res.PCM[0] != 16 || res.PCM[1] != -16 {
		t.Errorf("PCM = %v, want [16 -16]", res.PCM)
	}
	if gotBody != "<speak/>" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestSynthesize_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   []byte
		want   tts.Status
	}{
		{"unauthorized", http.StatusUnauthorized, nil, tts.StatusAuthExpired},
		{"bad request", http.StatusBadRequest, []byte("bad ssml"), tts.StatusFailed},
		{"server error", http.StatusInternalServerError, nil, tts.StatusFailed},
		{"throttled", http.StatusTooManyRequests, nil, tts.StatusFailed},
		{"empty audio", http.StatusOK, nil, tts.StatusFailed},
		{"odd bytes", http.StatusOK, []byte{1, 2, 3}, tts.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write(tt.body)
			})
			res := p.Synthesize(context.Background(), tts.Request{Token: "t", SSML: "x"})
			if res.Status != tt.want {
				t.Errorf("Status = %v, want %v", res.Status, tt.want)
			}
			if res.Err == nil {
				t.Error("expected non-nil Err")
			}
			if res.PCM != nil {
				t.Error("expected nil PCM on failure")
			}
		})
	}
}

func TestSynthesize_EmptyAudioSentinel(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {})
	res := p.Synthesize(context.Background(), tts.Request{Token: "t", SSML: "x"})
	if !errors.Is(res.Err, ErrEmptyAudio) {
		t.Errorf("Err = %v, want ErrEmptyAudio", res.Err)
	}
}

func TestSynthesize_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := New("k", WithBaseURL(url))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := p.Synthesize(context.Background(), tts.Request{Token: "t", SSML: "x"})
	if res.Status != tts.StatusFailed {
		t.Errorf("Status = %v, want failed", res.Status)
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Synthesize(ctx, tts.Request{Token: "t", SSML: "x"})
	if res.Status != tts.StatusFailed || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("result = %v / %v, want failed with context.Canceled", res.Status, res.Err)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cognitiveservices/voices/list" {
			http.Error(w, "bad route", http.StatusNotFound)
			return
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "sub-key" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"Name":"Microsoft Server Speech Text to Speech Voice (en-US, AriaRUS)","DisplayName":"Aria","ShortName":"en-US-AriaRUS","Gender":"Female","Locale":"en-US","VoiceType":"Standard","Status":"GA"},
			{"DisplayName":"Pavel","ShortName":"ru-RU-Pavel","Gender":"Male","Locale":"ru-RU"}
		]`)
	})

	voices, err := p.ListVoices(context.Background(), "")
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("len = %d, want 2", len(voices))
	}
	if voices[0].ID != "en-US-AriaRUS" || voices[0].Locale != "en-US" || voices[0].Provider != "azure" {
		t.Errorf("voice[0] = %+v", voices[0])
	}
	if voices[0].Metadata["voice_type"] != "Standard" {
		t.Errorf("metadata = %v", voices[0].Metadata)
	}
	if voices[1].Gender != "Male" {
		t.Errorf("voice[1] = %+v", voices[1])
	}
}

func TestListVoices_BearerToken(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})
	voices, err := p.ListVoices(context.Background(), "tok")
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 0 {
		t.Errorf("len = %d, want 0", len(voices))
	}
}
