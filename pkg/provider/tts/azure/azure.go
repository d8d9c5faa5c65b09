// Package azure provides a Microsoft Azure Cognitive Services speech provider.
// It implements tts.Provider against the REST synthesis endpoint and
// tts.TokenIssuer against the regional token-issuance endpoint.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/chatvoice/pkg/audio"
	"github.com/MrWong99/chatvoice/pkg/provider/tts"
)

const (
	synthesisURLFmt = "https://%s.tts.speech.microsoft.com"
	tokenURLFmt     = "https://%s.api.cognitive.microsoft.com/sts/v1.0/issuetoken"
	synthesisPath   = "/cognitiveservices/v1"
	voicesPath      = "/cognitiveservices/voices/list"
	defaultRegion   = "eastus"
	userAgent       = "chatvoice"

	// maxAudioBytes caps a single synthesis response (about five minutes at
	// 48 kHz).
	maxAudioBytes = 32 << 20
)

// ErrEmptyAudio is wrapped in a failed result when the service returns 200
// with no audio.
var ErrEmptyAudio = errors.New("azure: empty audio response")

// Option is a functional option for configuring the Azure Provider.
type Option func(*Provider)

// WithRegion sets the Azure region (e.g., "eastus", "westeurope"). It
// rewrites both endpoints unless they were set explicitly.
func WithRegion(region string) Option {
	return func(p *Provider) {
		if region != "" {
			p.region = region
		}
	}
}

// WithBaseURL overrides the synthesis host (scheme and host, no path).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTokenURL overrides the full token-issuance URL.
func WithTokenURL(u string) Option {
	return func(p *Provider) {
		p.tokenURL = u
	}
}

// WithSampleRate selects the raw PCM output format. Supported: 16000, 24000,
// 48000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Provider and tts.TokenIssuer backed by Azure.
type Provider struct {
	subscriptionKey string
	region          string
	baseURL         string
	tokenURL        string
	sampleRate      int
	outputFormat    string
	httpClient      *http.Client
}

// Compile-time interface assertions.
var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.TokenIssuer = (*Provider)(nil)
)

// New creates a new Azure Provider. subscriptionKey must be non-empty.
func New(subscriptionKey string, opts ...Option) (*Provider, error) {
	if subscriptionKey == "" {
		return nil, errors.New("azure: subscription key must not be empty")
	}
	p := &Provider{
		subscriptionKey: subscriptionKey,
		region:          defaultRegion,
		sampleRate:      audio.DefaultFormat.SampleRate,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	format, err := OutputFormat(p.sampleRate)
	if err != nil {
		return nil, err
	}
	p.outputFormat = format
	if p.baseURL == "" {
		p.baseURL = fmt.Sprintf(synthesisURLFmt, p.region)
	}
	if p.tokenURL == "" {
		p.tokenURL = fmt.Sprintf(tokenURLFmt, p.region)
	}
	return p, nil
}

// OutputFormat returns the X-Microsoft-OutputFormat value for raw mono s16 PCM
// at rate.
func OutputFormat(rate int) (string, error) {
	switch rate {
	case 16000, 24000, 48000:
		return fmt.Sprintf("raw-%dkhz-16bit-mono-pcm", rate/1000), nil
	default:
		return "", fmt.Errorf("azure: unsupported sample rate %d", rate)
	}
}

// IssueToken exchanges the subscription key for a bearer token.
func (p *Provider) IssueToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("azure: issue token: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.subscriptionKey)
	req.ContentLength = 0

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("azure: issue token HTTP: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("azure: issue token read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("azure: issue token: unexpected status %d: %s", resp.StatusCode, snippet(body))
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", errors.New("azure: issue token: empty token")
	}
	return token, nil
}

// Synthesize posts the SSML document and decodes the raw PCM response.
// HTTP 401 maps to tts.StatusAuthExpired; every other failure to
// tts.StatusFailed.
func (p *Provider) Synthesize(ctx context.Context, r tts.Request) tts.Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+synthesisPath, strings.NewReader(r.SSML))
	if err != nil {
		return failed(fmt.Errorf("azure: synthesize: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+r.Token)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", p.outputFormat)
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return failed(fmt.Errorf("azure: synthesize HTTP: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return tts.Result{
			Status: tts.StatusAuthExpired,
			Err:    fmt.Errorf("azure: synthesize: status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return failed(fmt.Errorf("azure: synthesize read: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return failed(fmt.Errorf("azure: synthesize: unexpected status %d: %s", resp.StatusCode, snippet(body)))
	}
	if len(body) > maxAudioBytes {
		return failed(fmt.Errorf("azure: synthesize: response exceeds %d bytes", maxAudioBytes))
	}
	if len(body) == 0 {
		return failed(ErrEmptyAudio)
	}

	pcm, err := audio.BytesToSamples(body)
	if err != nil {
		return failed(fmt.Errorf("azure: synthesize decode: %w", err))
	}
	return tts.Result{Status: tts.StatusOK, PCM: pcm}
}

// voiceEntry is a single voice from GET /cognitiveservices/voices/list.
type voiceEntry struct {
	Name        string `json:"Name"`
	DisplayName string `json:"DisplayName"`
	ShortName   string `json:"ShortName"`
	Gender      string `json:"Gender"`
	Locale      string `json:"Locale"`
	VoiceType   string `json:"VoiceType"`
	Status      string `json:"Status"`
}

// ListVoices returns all voices offered in the configured region. token may
// be empty, in which case the subscription key authenticates the request.
func (p *Provider) ListVoices(ctx context.Context, token string) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: list voices: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set("Ocp-Apim-Subscription-Key", p.subscriptionKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure: list voices: unexpected status %d", resp.StatusCode)
	}

	var entries []voiceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("azure: list voices decode: %w", err)
	}

	profiles := make([]tts.VoiceProfile, 0, len(entries))
	for _, v := range entries {
		meta := map[string]string{}
		if v.VoiceType != "" {
			meta["voice_type"] = v.VoiceType
		}
		if v.Status != "" {
			meta["status"] = v.Status
		}
		if v.Name != "" {
			meta["full_name"] = v.Name
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.ShortName,
			Name:     v.DisplayName,
			Locale:   v.Locale,
			Gender:   v.Gender,
			Provider: "azure",
			Metadata: meta,
		})
	}
	return profiles, nil
}

// ---- helpers ----

func failed(err error) tts.Result {
	return tts.Result{Status: tts.StatusFailed, Err: err}
}

// snippet trims an error body for inclusion in an error message.
func snippet(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}
