// Package announce turns presence changes into spoken announcement artifacts.
//
// The Announcer owns the synthesis side of the bot: it initializes the
// configured speech providers in the background, renders the per-event
// message templates, and produces WAV artifacts through the artifact cache so
// repeated announcements for the same member never hit the backend twice.
// Announcements are strictly best-effort; every error the package returns is
// non-fatal and must never block or revert the connection action that
// triggered it.
package announce

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bellhop-bot/bellhop/internal/presence"
	"github.com/bellhop-bot/bellhop/pkg/audio"
	"github.com/bellhop-bot/bellhop/pkg/provider/tts"
)

const (
	// defaultInitTimeout bounds one-time provider initialization. Local
	// backends may download models on first start, so this is generous.
	defaultInitTimeout = 5 * time.Minute

	// defaultSynthesisTimeout bounds a single synthesis request.
	defaultSynthesisTimeout = 30 * time.Second
)

// ErrorKind classifies synthesis failures.
type ErrorKind int

const (
	// ErrKindNotInitialized means the selected provider never became ready.
	ErrKindNotInitialized ErrorKind = iota

	// ErrKindGeneration means the backend failed during synthesis.
	ErrKindGeneration

	// ErrKindConversion means wrapping the synthesised PCM into a WAV
	// container failed.
	ErrKindConversion

	// ErrKindTimeout means synthesis exceeded the per-request bound.
	ErrKindTimeout
)

// String returns the lowercase name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindNotInitialized:
		return "not_initialized"
	case ErrKindGeneration:
		return "generation"
	case ErrKindConversion:
		return "conversion"
	case ErrKindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a classified synthesis failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("announce: %s (provider %s)", e.Kind, e.Provider)
	}
	return fmt.Sprintf("announce: %s (provider %s): %v", e.Kind, e.Provider, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err. Unclassified errors report
// ErrKindGeneration.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ErrKindGeneration
}

// ArtifactRef points at a playable announcement artifact on disk.
type ArtifactRef struct {
	// Path is the filesystem location of the WAV file.
	Path string

	// Key is the content key the artifact is stored under.
	Key string
}

// Templates holds the per-event announcement messages. The literal "{name}"
// is replaced with the member's display name at render time.
type Templates struct {
	Join  string
	Leave string
	Move  string
}

// DefaultTemplates returns the stock announcement messages.
func DefaultTemplates() Templates {
	return Templates{
		Join:  "Welcome, {name}",
		Leave: "Goodbye, {name}",
		Move:  "{name} joined the channel",
	}
}

// Render interpolates the display name into the template for kind. It returns
// an empty string for event kinds without a configured template.
func (t Templates) Render(kind presence.EventKind, displayName string) string {
	var tpl string
	switch kind {
	case presence.EventJoin:
		tpl = t.Join
	case presence.EventLeave:
		tpl = t.Leave
	case presence.EventMove:
		tpl = t.Move
	}
	return strings.ReplaceAll(tpl, "{name}", displayName)
}

// Store is the artifact cache consumed by the Announcer. *cache.Store
// implements it.
type Store interface {
	GetOrCreate(ctx context.Context, key string, produce func(context.Context) ([]byte, error)) (string, error)
}

// Option is a functional option for configuring the Announcer.
type Option func(*Announcer)

// WithStore sets the artifact cache. Without a store the Announcer writes
// artifacts to a scratch directory with no capacity bound or reuse across
// restarts.
func WithStore(s Store) Option {
	return func(a *Announcer) {
		a.store = s
	}
}

// WithTemplates overrides the announcement messages.
func WithTemplates(t Templates) Option {
	return func(a *Announcer) {
		a.templates = t
	}
}

// WithVoiceKey sets the stable voice-parameter string mixed into cache keys.
// Changing the configured voice must change the keys, otherwise stale
// artifacts in a pre-existing cache directory would play with the old voice.
func WithVoiceKey(key string) Option {
	return func(a *Announcer) {
		a.voiceKey = key
	}
}

// WithInitTimeout bounds one-time provider initialization.
func WithInitTimeout(d time.Duration) Option {
	return func(a *Announcer) {
		a.initTimeout = d
	}
}

// WithSynthesisTimeout bounds a single synthesis request.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(a *Announcer) {
		a.synthesisTimeout = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *Announcer) {
		a.log = log
	}
}

// Announcer renders announcement text, drives the selected speech provider
// and hands artifact production to the cache. Safe for concurrent use.
type Announcer struct {
	providers map[string]tts.Provider
	selected  string

	store            Store
	voiceKey         string
	initTimeout      time.Duration
	synthesisTimeout time.Duration
	log              *slog.Logger

	mu        sync.Mutex
	templates Templates
	ready     map[string]bool
	done      chan struct{} // closed when all provider initialization finished

	scratchOnce sync.Once
	scratchDir  string
	scratchErr  error
}

// New creates an Announcer over the given providers. selected names the
// provider used for announcements and must be present in providers.
func New(providers []tts.Provider, selected string, opts ...Option) (*Announcer, error) {
	if len(providers) == 0 {
		return nil, errors.New("announce: at least one provider is required")
	}
	byName := make(map[string]tts.Provider, len(providers))
	for _, p := range providers {
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("announce: duplicate provider %q", p.Name())
		}
		byName[p.Name()] = p
	}
	if _, ok := byName[selected]; !ok {
		return nil, fmt.Errorf("announce: selected provider %q is not registered", selected)
	}

	a := &Announcer{
		providers:        byName,
		selected:         selected,
		templates:        DefaultTemplates(),
		initTimeout:      defaultInitTimeout,
		synthesisTimeout: defaultSynthesisTimeout,
		log:              slog.Default(),
		ready:            make(map[string]bool, len(byName)),
		done:             make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Start launches background initialization of every registered provider.
// Each provider gets its own hard timeout; one provider failing or timing out
// only marks that provider unavailable. Start returns immediately.
func (a *Announcer) Start(ctx context.Context) {
	var g errgroup.Group
	for name, p := range a.providers {
		g.Go(func() error {
			initCtx, cancel := context.WithTimeout(ctx, a.initTimeout)
			defer cancel()

			start := time.Now()
			if err := p.Initialize(initCtx); err != nil {
				a.log.Warn("speech provider initialization failed, announcements via it disabled",
					"provider", name,
					"err", err,
					"elapsed", time.Since(start),
				)
				return nil
			}

			a.mu.Lock()
			a.ready[name] = true
			a.mu.Unlock()

			a.log.Info("speech provider ready",
				"provider", name,
				"elapsed", time.Since(start),
			)
			return nil
		})
	}
	go func() {
		g.Wait()
		close(a.done)
	}()
}

// SetTemplates replaces the announcement templates. Used when the config
// file changes at runtime.
func (a *Announcer) SetTemplates(t Templates) {
	a.mu.Lock()
	a.templates = t
	a.mu.Unlock()
}

// Ready reports whether the selected provider completed initialization.
func (a *Announcer) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready[a.selected]
}

// InitDone returns a channel closed once every provider finished (or failed)
// initialization. Used by tests and the readiness probe.
func (a *Announcer) InitDone() <-chan struct{} { return a.done }

// Announce produces the WAV artifact announcing the given event for a member.
// On a cache hit no synthesis happens. All returned errors are non-fatal; the
// caller logs them and moves on.
func (a *Announcer) Announce(ctx context.Context, tenantID string, kind presence.EventKind, displayName string) (ArtifactRef, error) {
	provider := a.providers[a.selected]
	if !a.Ready() {
		return ArtifactRef{}, &Error{Kind: ErrKindNotInitialized, Provider: a.selected}
	}

	a.mu.Lock()
	templates := a.templates
	a.mu.Unlock()

	text := templates.Render(kind, displayName)
	if text == "" {
		return ArtifactRef{}, &Error{
			Kind:     ErrKindGeneration,
			Provider: a.selected,
			Err:      fmt.Errorf("no template for event kind %q", kind),
		}
	}

	key := cacheKey(text, provider.Name(), a.voiceKey)

	produce := func(ctx context.Context) ([]byte, error) {
		synthCtx, cancel := context.WithTimeout(ctx, a.synthesisTimeout)
		defer cancel()

		clip, err := provider.Synthesize(synthCtx, text)
		if err != nil {
			errKind := ErrKindGeneration
			if errors.Is(err, context.DeadlineExceeded) || synthCtx.Err() != nil {
				errKind = ErrKindTimeout
			}
			return nil, &Error{Kind: errKind, Provider: provider.Name(), Err: err}
		}

		wav, err := audio.EncodeWAV(clip.PCM, clip.SampleRate, 1)
		if err != nil {
			return nil, &Error{Kind: ErrKindConversion, Provider: provider.Name(), Err: err}
		}
		return wav, nil
	}

	var path string
	var err error
	if a.store != nil {
		path, err = a.store.GetOrCreate(ctx, key, produce)
	} else {
		path, err = a.produceUncached(ctx, key, produce)
	}
	if err != nil {
		return ArtifactRef{}, err
	}

	a.log.Debug("announcement artifact ready",
		"tenantID", tenantID,
		"event", kind,
		"provider", provider.Name(),
		"path", path,
	)
	return ArtifactRef{Path: path, Key: key}, nil
}

// produceUncached writes the artifact to a process-scoped scratch directory.
// Identical keys overwrite in place, so playback always sees a complete file
// via the rename.
func (a *Announcer) produceUncached(ctx context.Context, key string, produce func(context.Context) ([]byte, error)) (string, error) {
	a.scratchOnce.Do(func() {
		a.scratchDir, a.scratchErr = os.MkdirTemp("", "announce-*")
	})
	if a.scratchErr != nil {
		return "", &Error{Kind: ErrKindConversion, Provider: a.selected, Err: a.scratchErr}
	}

	wav, err := produce(ctx)
	if err != nil {
		return "", err
	}

	path := filepath.Join(a.scratchDir, key+".wav")
	tmp, err := os.CreateTemp(a.scratchDir, "tmp-*")
	if err != nil {
		return "", &Error{Kind: ErrKindConversion, Provider: a.selected, Err: err}
	}
	if _, err := tmp.Write(wav); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", &Error{Kind: ErrKindConversion, Provider: a.selected, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", &Error{Kind: ErrKindConversion, Provider: a.selected, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", &Error{Kind: ErrKindConversion, Provider: a.selected, Err: err}
	}
	return path, nil
}

// cacheKey derives the deterministic content key for one announcement.
func cacheKey(text, providerName, voiceKey string) string {
	h := sha256.Sum256([]byte(text + "|" + providerName + "|" + voiceKey))
	return hex.EncodeToString(h[:])
}
