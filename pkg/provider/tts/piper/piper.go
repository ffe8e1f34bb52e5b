// Package piper provides a local Piper-backed TTS provider. It implements the
// tts.Provider interface by spawning the piper binary per request with
// --output-raw, reading raw 16-bit mono PCM from stdout. No network access is
// required, which makes piper a good default for self-hosted deployments.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/bellhop-bot/bellhop/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBinary = "piper"

	// defaultSampleRate matches the medium-quality Piper voices. Override
	// with WithSampleRate for low (16000) or high (22050+) quality models.
	defaultSampleRate = 22050
)

// Option is a functional option for configuring a Piper Provider.
type Option func(*Provider)

// WithBinary sets the path to the piper executable. Defaults to "piper",
// resolved via PATH.
func WithBinary(path string) Option {
	return func(p *Provider) {
		p.binary = path
	}
}

// WithSampleRate declares the native sample rate of the configured model.
// Piper emits raw PCM without a header, so the rate cannot be discovered from
// the output and must match the model.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSpeed adjusts the speaking rate. Piper expresses speed as a length
// scale, where values below 1.0 speak faster; the conversion is handled here
// so callers pass the usual 1.0-is-default factor.
func WithSpeed(speed float64) Option {
	return func(p *Provider) {
		p.speed = speed
	}
}

// Provider implements tts.Provider backed by the piper binary. Each
// Synthesize call runs a fresh process, so the provider is safe for
// concurrent use.
type Provider struct {
	binary     string
	modelPath  string
	sampleRate int
	speed      float64
}

// New creates a Piper Provider for the ONNX voice model at modelPath.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("piper: modelPath must not be empty")
	}
	p := &Provider{
		binary:     defaultBinary,
		modelPath:  modelPath,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns "piper".
func (p *Provider) Name() string { return "piper" }

// Initialize verifies that both the piper binary and the voice model are
// present so misconfiguration surfaces at startup.
func (p *Provider) Initialize(ctx context.Context) error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("piper: binary not found: %w", err)
	}
	if _, err := os.Stat(p.modelPath); err != nil {
		return fmt.Errorf("piper: voice model: %w", err)
	}
	return ctx.Err()
}

// Synthesize runs the piper binary with the text on stdin and returns the raw
// PCM written to stdout. The process is killed if ctx is cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	args := []string{
		"--model", p.modelPath,
		"--output-raw",
	}
	if p.speed > 0 && p.speed != 1.0 {
		// Piper's length scale is the inverse of speaking speed.
		args = append(args, "--length-scale", strconv.FormatFloat(1.0/p.speed, 'f', 3, 64))
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = bytes.NewBufferString(text + "\n")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	pcm, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return tts.Audio{}, fmt.Errorf("piper: %w", ctx.Err())
		}
		return tts.Audio{}, fmt.Errorf("piper: run %s: %w (stderr: %s)", p.binary, err, stderr.String())
	}
	if len(pcm) == 0 {
		return tts.Audio{}, errors.New("piper: no audio generated")
	}
	return tts.Audio{PCM: pcm, SampleRate: p.sampleRate}, nil
}
