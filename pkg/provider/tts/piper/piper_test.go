package piper

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// writeFakePiper writes an executable shell script standing in for the piper
// binary and returns its path.
func writeFakePiper(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake piper script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-piper")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake piper: %v", err)
	}
	return path
}

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.onnx")
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestNew(t *testing.T) {
	t.Run("empty model rejected", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("New(\"\") = nil error, want error")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		p, err := New("voice.onnx")
		if err != nil {
			t.Fatalf("New: unexpected error: %v", err)
		}
		if p.binary != defaultBinary {
			t.Errorf("binary = %q, want %q", p.binary, defaultBinary)
		}
		if p.sampleRate != defaultSampleRate {
			t.Errorf("sampleRate = %d, want %d", p.sampleRate, defaultSampleRate)
		}
	})
}

func TestSynthesize(t *testing.T) {
	bin := writeFakePiper(t, `printf 'ABCD'`)
	p, err := New(writeModel(t), WithBinary(bin), WithSampleRate(16000))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	got, err := p.Synthesize(context.Background(), "Welcome, Ada")
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if !bytes.Equal(got.PCM, []byte("ABCD")) {
		t.Errorf("PCM = %q, want %q", got.PCM, "ABCD")
	}
	if got.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", got.SampleRate)
	}
}

func TestSynthesize_EmptyOutput(t *testing.T) {
	bin := writeFakePiper(t, `exit 0`)
	p, err := New(writeModel(t), WithBinary(bin))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("Synthesize = nil error, want error for empty output")
	}
}

func TestSynthesize_ProcessFailure(t *testing.T) {
	bin := writeFakePiper(t, `echo "bad model" >&2; exit 1`)
	p, err := New(writeModel(t), WithBinary(bin))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("Synthesize = nil error, want error for exit 1")
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	bin := writeFakePiper(t, `sleep 10`)
	p, err := New(writeModel(t), WithBinary(bin))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := p.Synthesize(ctx, "hi"); err == nil {
		t.Fatal("Synthesize = nil error, want error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Synthesize blocked %v after cancellation", elapsed)
	}
}

func TestInitialize(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		bin := writeFakePiper(t, `exit 0`)
		p, err := New(writeModel(t), WithBinary(bin))
		if err != nil {
			t.Fatalf("New: unexpected error: %v", err)
		}
		if err := p.Initialize(context.Background()); err != nil {
			t.Errorf("Initialize: unexpected error: %v", err)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		p, err := New(writeModel(t), WithBinary("/nonexistent/piper"))
		if err != nil {
			t.Fatalf("New: unexpected error: %v", err)
		}
		if err := p.Initialize(context.Background()); err == nil {
			t.Fatal("Initialize = nil error, want error for missing binary")
		}
	})

	t.Run("missing model", func(t *testing.T) {
		bin := writeFakePiper(t, `exit 0`)
		p, err := New("/nonexistent/voice.onnx", WithBinary(bin))
		if err != nil {
			t.Fatalf("New: unexpected error: %v", err)
		}
		if err := p.Initialize(context.Background()); err == nil {
			t.Fatal("Initialize = nil error, want error for missing model")
		}
	})
}
