// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs batch HTTP API. It implements the tts.Provider interface.
//
// Each Synthesize call issues one POST /v1/text-to-speech/{voiceID} request
// with output_format=pcm_16000, so the response body is already raw 16-bit
// mono PCM and needs no container parsing.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bellhop-bot/bellhop/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_flash_v2_5"
	defaultTimeout = 30 * time.Second

	// outputFormat requests raw 16 kHz mono PCM so no decoding is needed.
	outputFormat = "pcm_16000"
	sampleRate   = 16000
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the voice the provider synthesises with. Voice.ID is the
// ElevenLabs voice ID and must be non-empty; Voice.Speed maps to the
// voice_settings speed parameter when non-zero.
func WithVoice(v tts.Voice) Option {
	return func(p *Provider) {
		p.voice = v
	}
}

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider backed by the ElevenLabs batch API. It is
// safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	voice      tts.Voice
	httpClient *http.Client
}

// New creates an ElevenLabs Provider. apiKey must be non-empty, and a voice
// with a non-empty ID must be supplied via WithVoice.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}
	return p, nil
}

// Name returns "elevenlabs".
func (p *Provider) Name() string { return "elevenlabs" }

// Initialize verifies the API key by requesting the configured voice's
// metadata. A bad key or unknown voice ID surfaces here instead of on the
// first announcement.
func (p *Provider) Initialize(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices/"+p.voice.ID, nil)
	if err != nil {
		return fmt.Errorf("elevenlabs: create probe request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: probe voice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("elevenlabs: probe voice %q returned status %d", p.voice.ID, resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// speechRequest is the JSON body sent to POST /v1/text-to-speech/{voiceID}.
type speechRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Synthesize issues one batch text-to-speech request and returns the clip as
// 16 kHz mono PCM.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	body := speechRequest{
		Text:    text,
		ModelID: p.model,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           p.voice.Speed,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: marshal speech request: %w", err)
	}

	reqURL := p.baseURL + "/v1/text-to-speech/" + p.voice.ID + "?output_format=" + outputFormat
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: create speech request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: POST text-to-speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tts.Audio{}, fmt.Errorf("elevenlabs: text-to-speech returned status %d: %s",
			resp.StatusCode, strconv.Quote(string(msg)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: read PCM response: %w", err)
	}
	if len(pcm) == 0 {
		return tts.Audio{}, errors.New("elevenlabs: empty PCM response")
	}
	return tts.Audio{PCM: pcm, SampleRate: sampleRate}, nil
}
