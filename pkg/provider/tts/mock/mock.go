// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/bellhop-bot/bellhop/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider is a configurable tts.Provider double. The zero value is usable:
// Name returns "mock", Initialize succeeds, and Synthesize returns a short
// fixed clip. All fields must be set before first use; call records are
// guarded and safe to read from other goroutines after the calls return.
type Provider struct {
	// ProviderName overrides the name reported by Name. Empty means "mock".
	ProviderName string

	// InitErr is returned by Initialize.
	InitErr error

	// InitDelay, when set, makes Initialize wait until the channel closes or
	// ctx expires, whichever comes first. Used to exercise init timeouts.
	InitDelay <-chan struct{}

	// SynthesizeResult is returned by Synthesize when SynthesizeFunc and
	// SynthesizeErr are unset. A zero value yields a 4-byte 16 kHz clip.
	SynthesizeResult tts.Audio

	// SynthesizeErr is returned by Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, when set, replaces the canned Synthesize behaviour.
	SynthesizeFunc func(ctx context.Context, text string) (tts.Audio, error)

	mu              sync.Mutex
	initCalls       int
	synthesizeCalls []string
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// Initialize records the call and returns InitErr, optionally waiting on
// InitDelay first.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	p.initCalls++
	p.mu.Unlock()

	if p.InitDelay != nil {
		select {
		case <-p.InitDelay:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.InitErr
}

// Synthesize records the text and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	p.mu.Lock()
	p.synthesizeCalls = append(p.synthesizeCalls, text)
	p.mu.Unlock()

	if p.SynthesizeFunc != nil {
		return p.SynthesizeFunc(ctx, text)
	}
	if p.SynthesizeErr != nil {
		return tts.Audio{}, p.SynthesizeErr
	}
	if len(p.SynthesizeResult.PCM) > 0 {
		return p.SynthesizeResult, nil
	}
	return tts.Audio{PCM: []byte{0, 0, 0, 0}, SampleRate: 16000}, nil
}

// InitCalls returns how many times Initialize has been called.
func (p *Provider) InitCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCalls
}

// SynthesizeCalls returns a copy of the texts passed to Synthesize, in order.
func (p *Provider) SynthesizeCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.synthesizeCalls))
	copy(out, p.synthesizeCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalls = 0
	p.synthesizeCalls = nil
}
