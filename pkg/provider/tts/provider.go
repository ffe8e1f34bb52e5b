// Package tts defines the Provider interface for speech-synthesis backends.
//
// Announcement synthesis is batch work: one short utterance in, one complete
// audio clip out. Providers therefore expose a single Synthesize call that
// returns the full clip as raw PCM, plus an idempotent Initialize that performs
// any expensive one-time setup (server probe, model load). The orchestrator
// bounds Initialize with its own timeout and marks the provider unavailable if
// it fails.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"fmt"
)

// Audio is one synthesised clip: 16-bit little-endian mono PCM samples at the
// given sample rate.
type Audio struct {
	// PCM holds the interleaved little-endian int16 samples.
	PCM []byte

	// SampleRate is the sample rate of PCM in Hz (e.g., 16000, 22050).
	SampleRate int
}

// Voice describes the voice configuration a provider synthesises with. It is
// fixed at provider construction; announcements all use one configured voice.
type Voice struct {
	// ID is the provider-specific voice or speaker identifier. May be empty
	// for single-voice backends.
	ID string

	// Language is the language code sent to the backend (e.g., "en", "pt-br").
	Language string

	// Speed adjusts speaking rate where the backend supports it
	// (1.0 = default). Zero means default.
	Speed float64
}

// Key returns a stable textual form of the voice parameters. It participates
// in artifact cache keys, so its format must not change between runs.
func (v Voice) Key() string {
	return fmt.Sprintf("id=%s;lang=%s;speed=%g", v.ID, v.Language, v.Speed)
}

// Provider is the abstraction over any speech-synthesis backend.
type Provider interface {
	// Name returns the stable provider identifier (e.g., "coqui", "piper").
	// It participates in artifact cache keys and must not change between runs.
	Name() string

	// Initialize performs one-time setup. It must be idempotent. A provider
	// that needs no setup returns nil immediately.
	Initialize(ctx context.Context) error

	// Synthesize renders text to a complete audio clip. It must respect ctx
	// cancellation and return promptly when the deadline passes.
	Synthesize(ctx context.Context, text string) (Audio, error)
}
