// Package coqui provides a Coqui-backed TTS provider that connects to either a
// standard Coqui TTS server or a Coqui XTTS v2 server via its REST API. It
// implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters; Initialize probes GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body; Initialize probes
//     GET /studio_speakers.
//
// Both servers return complete WAV files, which the provider parses into raw
// PCM before handing the clip to the caller.
//
// Typical usage (standard server):
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithVoice(tts.Voice{ID: "p273", Language: "en"}),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	audio, err := p.Synthesize(ctx, "Welcome, Ada")
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bellhop-bot/bellhop/pkg/audio"
	"github.com/bellhop-bot/bellhop/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithVoice sets the voice the provider synthesises with. Voice.ID maps to
// speaker_id (standard mode) or speaker_wav (XTTS mode); Voice.Language maps
// to language_id. An empty voice works for single-speaker standard models.
func WithVoice(v tts.Voice) Option {
	return func(p *Provider) {
		p.voice = v
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for the
// standard Coqui TTS Docker image or APIModeXTTS for the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server. It is safe
// for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	serverURL  string
	voice      tts.Voice
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode == APIModeXTTS && p.voice.ID == "" {
		return nil, errors.New("coqui: voice ID must not be empty in XTTS mode")
	}
	return p, nil
}

// Name returns "coqui".
func (p *Provider) Name() string { return "coqui" }

// Initialize probes the server so that a missing or misconfigured backend
// surfaces at startup rather than on the first announcement. It calls
// GET /details (standard mode) or GET /studio_speakers (XTTS mode) and
// discards the body.
func (p *Provider) Initialize(ctx context.Context) error {
	endpoint := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		endpoint = studioSpeakersEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create probe request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Synthesize renders text through the configured server mode and returns the
// clip as raw PCM with the sample rate taken from the WAV response.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	var wav []byte
	var err error
	if p.apiMode == APIModeStandard {
		wav, err = p.fetchStandard(ctx, text)
	} else {
		wav, err = p.fetchXTTS(ctx, text)
	}
	if err != nil {
		return tts.Audio{}, err
	}

	info, err := audio.ParseWAV(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: parse WAV response: %w", err)
	}

	pcm := wav[info.DataOffset : info.DataOffset+info.DataLen]
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return tts.Audio{PCM: pcm, SampleRate: info.SampleRate}, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// fetchXTTS performs a single POST /tts_to_audio/ call and returns the raw
// WAV response body.
func (p *Provider) fetchXTTS(ctx context.Context, text string) ([]byte, error) {
	body := ttsRequest{
		Text:       text,
		SpeakerWav: p.voice.ID,
		Language:   p.voice.Language,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	return p.doAudio(req, ttsEndpoint)
}

// fetchStandard performs a single GET /api/tts request using URL query
// parameters and returns the raw WAV response body.
func (p *Provider) fetchStandard(ctx context.Context, text string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if p.voice.ID != "" {
		params.Set("speaker_id", p.voice.ID)
	}
	if p.voice.Language != "" {
		params.Set("language_id", p.voice.Language)
	}

	reqURL := p.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	return p.doAudio(req, apiTTSEndpoint)
}

// doAudio executes the request and returns the response body, mapping non-200
// statuses to errors.
func (p *Provider) doAudio(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, endpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}
