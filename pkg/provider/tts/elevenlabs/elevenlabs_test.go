package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bellhop-bot/bellhop/pkg/provider/tts"
)

func mustNew(t *testing.T, apiKey string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(apiKey, opts...)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Run("empty key rejected", func(t *testing.T) {
		if _, err := New("", WithVoice(tts.Voice{ID: "v1"})); err == nil {
			t.Fatal("New with empty key = nil error, want error")
		}
	})

	t.Run("missing voice rejected", func(t *testing.T) {
		if _, err := New("key"); err == nil {
			t.Fatal("New without voice = nil error, want error")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "key", WithVoice(tts.Voice{ID: "v1"}))
		if p.model != defaultModel {
			t.Errorf("model = %q, want %q", p.model, defaultModel)
		}
		if p.baseURL != defaultBaseURL {
			t.Errorf("baseURL = %q, want %q", p.baseURL, defaultBaseURL)
		}
	})
}

func TestSynthesize(t *testing.T) {
	pcm := []byte{0x11, 0x22, 0x33, 0x44}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/text-to-speech/voice-1" {
			t.Errorf("path = %q, want /v1/text-to-speech/voice-1", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != outputFormat {
			t.Errorf("output_format = %q, want %q", got, outputFormat)
		}
		if got := r.Header.Get("xi-api-key"); got != "secret" {
			t.Errorf("xi-api-key = %q, want %q", got, "secret")
		}

		body, _ := io.ReadAll(r.Body)
		var req speechRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		if req.Text != "Welcome, Ada" {
			t.Errorf("text = %q, want %q", req.Text, "Welcome, Ada")
		}
		if req.ModelID != defaultModel {
			t.Errorf("model_id = %q, want %q", req.ModelID, defaultModel)
		}

		w.Write(pcm)
	}))
	defer srv.Close()

	p := mustNew(t, "secret", WithVoice(tts.Voice{ID: "voice-1"}), WithBaseURL(srv.URL))

	got, err := p.Synthesize(context.Background(), "Welcome, Ada")
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if !bytes.Equal(got.PCM, pcm) {
		t.Errorf("PCM = %v, want %v", got.PCM, pcm)
	}
	if got.SampleRate != sampleRate {
		t.Errorf("SampleRate = %d, want %d", got.SampleRate, sampleRate)
	}
}

func TestSynthesize_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := mustNew(t, "secret", WithVoice(tts.Voice{ID: "voice-1"}), WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("Synthesize = nil error, want error for status 429")
	}
}

func TestSynthesize_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := mustNew(t, "secret", WithVoice(tts.Voice{ID: "voice-1"}), WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("Synthesize = nil error, want error for empty body")
	}
}

func TestInitialize(t *testing.T) {
	t.Run("probes configured voice", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Write([]byte(`{"voice_id":"voice-1"}`))
		}))
		defer srv.Close()

		p := mustNew(t, "secret", WithVoice(tts.Voice{ID: "voice-1"}), WithBaseURL(srv.URL))
		if err := p.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: unexpected error: %v", err)
		}
		if gotPath != "/v1/voices/voice-1" {
			t.Errorf("probe path = %q, want /v1/voices/voice-1", gotPath)
		}
	})

	t.Run("bad key", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		defer srv.Close()

		p := mustNew(t, "wrong", WithVoice(tts.Voice{ID: "voice-1"}), WithBaseURL(srv.URL))
		if err := p.Initialize(context.Background()); err == nil {
			t.Fatal("Initialize = nil error, want error for status 401")
		}
	})
}
