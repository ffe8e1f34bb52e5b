// Package app wires all bellhop subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the event loop, and Shutdown tears everything
// down in order.
//
// For testing, inject fakes via functional options (WithGateway,
// WithConnector, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/bellhop-bot/bellhop/internal/activitylog"
	"github.com/bellhop-bot/bellhop/internal/announce"
	"github.com/bellhop-bot/bellhop/internal/cache"
	"github.com/bellhop-bot/bellhop/internal/config"
	"github.com/bellhop-bot/bellhop/internal/connection"
	discordbot "github.com/bellhop-bot/bellhop/internal/discord"
	"github.com/bellhop-bot/bellhop/internal/health"
	"github.com/bellhop-bot/bellhop/internal/observe"
	"github.com/bellhop-bot/bellhop/internal/presence"
	"github.com/bellhop-bot/bellhop/pkg/provider/tts"
	"github.com/bellhop-bot/bellhop/pkg/voice"
	discordvoice "github.com/bellhop-bot/bellhop/pkg/voice/discord"
)

// defaultCacheDir is used when cache.dir is not configured.
const defaultCacheDir = "cache"

// Gateway is the slice of the Discord session the app drives: the event
// feed plus the state reads the decision loop needs.
type Gateway interface {
	Open() error
	Close() error
	Events() <-chan presence.Event
	Snapshot(tenantID string) (presence.Snapshot, error)
	Guilds() []string
	Connected() bool
}

// Connector executes decided actions against the voice transport and owns
// the per-tenant reliability state.
type Connector interface {
	View(tenantID string) presence.View
	Apply(ctx context.Context, tenantID string, action presence.Action) (connection.Outcome, error)
	Run(ctx context.Context)
}

// Announcer produces playable announcement artifacts.
type Announcer interface {
	Start(ctx context.Context)
	Ready() bool
	SetTemplates(t announce.Templates)
	Announce(ctx context.Context, tenantID string, kind presence.EventKind, displayName string) (announce.ArtifactRef, error)
}

// Compile-time checks that the real implementations satisfy the app's view
// of them.
var (
	_ Gateway   = (*discordbot.Bot)(nil)
	_ Connector = (*connection.Manager)(nil)
	_ Announcer = (*announce.Announcer)(nil)
)

// App owns all subsystem lifetimes and runs the event → decision →
// connection → announcement pipeline.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	gateway   Gateway
	conn      Connector
	announcer Announcer // nil when no speech provider is configured
	player    voice.Player
	activity  activitylog.Store

	cacheDir string // "" when the disk cache is disabled
	httpSrv  *http.Server

	// optsMu guards opts, which the config watcher may rewrite at runtime.
	optsMu sync.Mutex
	opts   presence.Options

	// playMu guards playing, the per-tenant playback-in-progress marks.
	playMu  sync.Mutex
	playing map[string]bool

	// wg tracks in-flight announcement goroutines.
	wg sync.WaitGroup

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics injects a metrics set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGateway injects a gateway instead of creating a Discord bot from config.
func WithGateway(g Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithConnector injects a connector instead of creating a reliability manager
// over the real Discord transport.
func WithConnector(c Connector) Option {
	return func(a *App) { a.conn = c }
}

// WithAnnouncer injects an announcer instead of creating one from config.
func WithAnnouncer(an Announcer) Option {
	return func(a *App) { a.announcer = an }
}

// WithPlayer injects an artifact player. A nil player (the default when the
// gateway is injected too) disables playback.
func WithPlayer(p voice.Player) Option {
	return func(a *App) { a.player = p }
}

// WithActivityStore injects an activity store instead of creating one from
// config.
func WithActivityStore(s activitylog.Store) Option {
	return func(a *App) { a.activity = s }
}

// New creates an App by wiring all subsystems together. reg provides the
// speech-provider constructors; it may be nil when an announcer is injected
// or no provider is configured. Use Option functions to inject test doubles
// for any subsystem.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     slog.Default(),
		playing: make(map[string]bool),
		opts: presence.Options{
			AutoJoin:      cfg.Presence.AutoJoinEnabled(),
			AutoLeave:     cfg.Presence.AutoLeaveEnabled(),
			IgnoredRoomID: cfg.Presence.IgnoredRoomID,
		},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initActivity(ctx); err != nil {
		return nil, fmt.Errorf("app: init activity log: %w", err)
	}
	if err := a.initAnnouncer(reg); err != nil {
		return nil, fmt.Errorf("app: init announcer: %w", err)
	}
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}
	a.initHTTP()

	return a, nil
}

// initActivity sets up the Postgres activity log, falling back to the
// in-memory store when no DSN is configured.
func (a *App) initActivity(ctx context.Context) error {
	if a.activity != nil {
		return nil
	}

	dsn := a.cfg.ActivityLog.PostgresDSN
	if dsn == "" {
		a.activity = activitylog.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	store := activitylog.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.activity = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.log.Info("activity log connected", "backend", "postgres")
	return nil
}

// initAnnouncer builds the speech provider, the artifact cache and the
// announcer. With no provider selected the announcer stays nil and the bot
// runs silent.
func (a *App) initAnnouncer(reg *config.Registry) error {
	if a.announcer != nil {
		return nil
	}

	entry, ok := a.cfg.SelectedProvider()
	if !ok {
		a.log.Info("no speech provider configured, announcements disabled")
		return nil
	}
	if reg == nil {
		return fmt.Errorf("provider %q selected but no registry given", entry.Name)
	}

	provider, err := reg.Create(entry)
	if err != nil {
		return err
	}

	annOpts := []announce.Option{
		announce.WithLogger(a.log),
		announce.WithVoiceKey(entry.Voice.Key()),
		announce.WithTemplates(templatesFromConfig(a.cfg.TTS.Templates)),
	}
	if d := a.cfg.TTS.InitTimeout.Std(); d > 0 {
		annOpts = append(annOpts, announce.WithInitTimeout(d))
	}
	if d := a.cfg.TTS.SynthesisTimeout.Std(); d > 0 {
		annOpts = append(annOpts, announce.WithSynthesisTimeout(d))
	}

	if a.cfg.Cache.IsEnabled() {
		dir := a.cfg.Cache.Dir
		if dir == "" {
			dir = defaultCacheDir
		}
		store, err := cache.New(dir, a.cfg.Cache.MaxFiles, cache.WithStats(cacheStats{m: a.metrics}))
		if err != nil {
			return err
		}
		a.cacheDir = store.Dir()
		annOpts = append(annOpts, announce.WithStore(store))
	}

	an, err := announce.New([]tts.Provider{provider}, provider.Name(), annOpts...)
	if err != nil {
		return err
	}
	a.announcer = an
	a.log.Info("speech provider configured", "provider", provider.Name(), "cache", a.cfg.Cache.IsEnabled())
	return nil
}

// initGateway creates the Discord bot, transport, player and reliability
// manager for anything not injected.
func (a *App) initGateway() error {
	if a.gateway == nil {
		bot, err := discordbot.New(discordbot.Config{
			Token:    a.cfg.Discord.Token,
			GuildIDs: a.cfg.Discord.GuildIDs,
		}, discordbot.WithLogger(a.log))
		if err != nil {
			return err
		}
		a.gateway = bot

		if a.conn == nil {
			transport := discordvoice.New(bot.Session(), discordvoice.WithLogger(a.log))
			a.conn = connection.New(transport, a.managerOptions()...)
		}
		if a.player == nil {
			a.player = discordvoice.NewPlayer(bot.Session(), discordvoice.WithPlayerLogger(a.log))
		}
	}

	if a.conn == nil {
		return fmt.Errorf("no connector: inject one alongside the gateway")
	}
	return nil
}

// managerOptions translates the connection config section into manager
// options, leaving the manager defaults in place for unset values.
func (a *App) managerOptions() []connection.Option {
	cc := a.cfg.Connection
	opts := []connection.Option{connection.WithLogger(a.log)}
	if d := cc.StartupGrace.Std(); d > 0 {
		opts = append(opts, connection.WithStartupGrace(d))
	}
	if d := cc.Cooldown.Std(); d > 0 {
		opts = append(opts, connection.WithCooldown(d))
	}
	if cc.MaxRetries != nil {
		opts = append(opts, connection.WithMaxRetries(*cc.MaxRetries))
	}
	if d := cc.BaseBackoff.Std(); d > 0 {
		opts = append(opts, connection.WithBaseBackoff(d))
	}
	if d := cc.ConnectTimeout.Std(); d > 0 {
		opts = append(opts, connection.WithConnectTimeout(d))
	}
	if d := cc.SweepInterval.Std(); d > 0 {
		opts = append(opts, connection.WithSweepInterval(d))
	}
	return opts
}

// initHTTP builds the metrics + health endpoint when a listen address is
// configured.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	checkers := []health.Checker{health.GatewayChecker(a.gateway.Connected)}
	if a.announcer != nil {
		checkers = append(checkers, health.AnnouncerChecker(a.announcer.Ready))
	}
	if a.cacheDir != "" {
		checkers = append(checkers, health.CacheDirChecker(a.cacheDir))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run opens the gateway and processes presence events until ctx is
// cancelled. It returns ctx.Err() on cancellation, or the gateway open error.
func (a *App) Run(ctx context.Context) error {
	if err := a.gateway.Open(); err != nil {
		return fmt.Errorf("app: open gateway: %w", err)
	}
	a.closers = append(a.closers, a.gateway.Close)

	if a.announcer != nil {
		a.announcer.Start(ctx)
	}

	// Stale-connection sweep.
	go a.conn.Run(ctx)

	if a.httpSrv != nil {
		go func() {
			a.log.Info("http server listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Error("http server error", "err", err)
			}
		}()
	}

	// One evaluation of every known guild after the startup grace window, so
	// an occupied channel is joined without waiting for the next event.
	grace := a.cfg.Connection.StartupGrace.Std()
	if grace <= 0 {
		grace = connection.DefaultStartupGrace
	}
	startup := time.NewTimer(grace)
	defer startup.Stop()

	a.log.Info("bellhop running",
		"auto_join", a.presenceOptions().AutoJoin,
		"auto_leave", a.presenceOptions().AutoLeave,
	)

	events := a.gateway.Events()
	for {
		select {
		case <-ctx.Done():
			a.wg.Wait()
			return ctx.Err()
		case <-startup.C:
			a.startupPass(ctx)
		case ev := <-events:
			a.handleEvent(ctx, ev)
		}
	}
}

// startupPass evaluates every tracked guild once.
func (a *App) startupPass(ctx context.Context) {
	guilds := a.gateway.Guilds()
	a.log.Info("startup evaluation", "guilds", len(guilds))
	for _, tenantID := range guilds {
		a.evaluate(ctx, tenantID)
	}
}

// handleEvent runs the full pipeline for one presence event: decide, apply,
// record, and (asynchronously) announce.
func (a *App) handleEvent(ctx context.Context, ev presence.Event) {
	kind := ev.Kind()
	a.metrics.RecordPresenceEvent(ctx, ev.TenantID, kind.String())
	a.log.Info("presence event",
		"guild", ev.TenantID,
		"event", kind.String(),
		"member", ev.Participant.DisplayName,
		"from", ev.FromRoomID,
		"to", ev.ToRoomID,
	)

	action, outcome := a.evaluate(ctx, ev.TenantID)
	a.recordActivity(ctx, ev, action, outcome)

	if !ev.Participant.Human() {
		return
	}
	announceKind, ok := a.announceKind(ev)
	if !ok {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.announce(ctx, ev.TenantID, announceKind, ev.Participant.DisplayName)
	}()
}

// evaluate takes a fresh snapshot, decides, and applies any resulting action.
func (a *App) evaluate(ctx context.Context, tenantID string) (presence.Action, connection.Outcome) {
	snap, err := a.gateway.Snapshot(tenantID)
	if err != nil {
		a.log.Warn("snapshot failed", "guild", tenantID, "err", err)
		return presence.Action{}, connection.Outcome{}
	}

	action := presence.Decide(a.conn.View(tenantID), snap, a.presenceOptions())
	if action.Kind == presence.ActionNoOp {
		a.metrics.RecordDecision(ctx, action.Kind.String(), false)
		return action, connection.Outcome{}
	}

	start := time.Now()
	outcome, err := a.conn.Apply(ctx, tenantID, action)
	a.metrics.RecordDecision(ctx, action.Kind.String(), outcome.Suppressed)

	switch {
	case err != nil:
		a.metrics.RecordConnectAttempt(ctx, action.Kind.String(), "error")
		a.log.Warn("action failed", "guild", tenantID, "action", action.Kind.String(), "room", action.RoomID, "err", err)
	case outcome.Suppressed:
		a.metrics.RecordConnectAttempt(ctx, action.Kind.String(), "suppressed")
		a.log.Debug("action suppressed", "guild", tenantID, "action", action.Kind.String(), "reason", string(outcome.Reason))
	default:
		a.metrics.RecordConnectAttempt(ctx, action.Kind.String(), "ok")
		if action.Kind != presence.ActionLeave {
			a.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(observe.Attr("action", action.Kind.String())))
		}
		if outcome.Changed {
			a.log.Info("connection changed", "guild", tenantID, "action", action.Kind.String(), "room", outcome.RoomID)
			switch action.Kind {
			case presence.ActionJoin:
				a.metrics.ConnectedGuilds.Add(ctx, 1)
			case presence.ActionLeave:
				a.metrics.ConnectedGuilds.Add(ctx, -1)
			}
		}
	}
	return action, outcome
}

// recordActivity persists one event + decision pair. Failures are logged
// and dropped; the activity log never affects presence handling.
func (a *App) recordActivity(ctx context.Context, ev presence.Event, action presence.Action, outcome connection.Outcome) {
	entry := &activitylog.Entry{
		TenantID:      ev.TenantID,
		ParticipantID: ev.Participant.ID,
		DisplayName:   ev.Participant.DisplayName,
		Event:         ev.Kind().String(),
		FromRoomID:    ev.FromRoomID,
		ToRoomID:      ev.ToRoomID,
		Action:        action.Kind.String(),
		ActionRoomID:  action.RoomID,
		Suppressed:    outcome.Suppressed,
	}
	if err := a.activity.Record(ctx, entry); err != nil {
		a.log.Warn("activity record failed", "guild", ev.TenantID, "err", err)
	}
}

// announceKind maps an event onto the announcement to make in the bot's
// current room, if any. A member entering the room gets the join or move
// message, a member leaving it gets the leave message; everything else is
// out of earshot.
func (a *App) announceKind(ev presence.Event) (presence.EventKind, bool) {
	view := a.conn.View(ev.TenantID)
	if !view.Connected {
		return 0, false
	}
	switch {
	case ev.ToRoomID == view.RoomID:
		if ev.Kind() == presence.EventJoin {
			return presence.EventJoin, true
		}
		return presence.EventMove, true
	case ev.FromRoomID == view.RoomID:
		return presence.EventLeave, true
	}
	return 0, false
}

// announce synthesises and plays one announcement. At most one playback runs
// per tenant; overlapping announcements are skipped rather than queued.
func (a *App) announce(ctx context.Context, tenantID string, kind presence.EventKind, displayName string) {
	if a.announcer == nil || !a.announcer.Ready() {
		return
	}

	a.playMu.Lock()
	if a.playing[tenantID] {
		a.playMu.Unlock()
		a.log.Debug("announcement skipped, playback in progress", "guild", tenantID)
		return
	}
	a.playing[tenantID] = true
	a.playMu.Unlock()
	defer func() {
		a.playMu.Lock()
		delete(a.playing, tenantID)
		a.playMu.Unlock()
	}()

	provider := a.cfg.TTS.Provider
	start := time.Now()
	ref, err := a.announcer.Announce(ctx, tenantID, kind, displayName)
	if err != nil {
		a.metrics.RecordAnnouncement(ctx, provider, "error")
		a.log.Warn("announcement failed", "guild", tenantID, "kind", kind.String(), "err", err)
		return
	}
	a.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	a.metrics.RecordAnnouncement(ctx, provider, "ok")

	if a.player == nil {
		return
	}
	playStart := time.Now()
	if err := a.player.Play(ctx, tenantID, ref.Path); err != nil {
		a.log.Warn("playback failed", "guild", tenantID, "artifact", ref.Path, "err", err)
		return
	}
	a.metrics.PlaybackDuration.Record(ctx, time.Since(playStart).Seconds())
}

// presenceOptions returns the current decision options.
func (a *App) presenceOptions() presence.Options {
	a.optsMu.Lock()
	defer a.optsMu.Unlock()
	return a.opts
}

// ApplyConfig applies a runtime configuration change. Only the hot-reloadable
// fields tracked by [config.Diff] take effect; everything else requires a
// restart. Safe to call from the config watcher goroutine.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	a.optsMu.Lock()
	if d.AutoJoinChanged {
		a.opts.AutoJoin = d.NewAutoJoin
	}
	if d.AutoLeaveChanged {
		a.opts.AutoLeave = d.NewAutoLeave
	}
	if d.IgnoredRoomChanged {
		a.opts.IgnoredRoomID = d.NewIgnoredRoomID
	}
	opts := a.opts
	a.optsMu.Unlock()

	if d.TemplatesChanged && a.announcer != nil {
		a.announcer.SetTemplates(templatesFromConfig(d.NewTemplates))
	}

	a.log.Info("configuration reloaded",
		"auto_join", opts.AutoJoin,
		"auto_leave", opts.AutoLeave,
		"ignored_room", opts.IgnoredRoomID,
		"templates_changed", d.TemplatesChanged,
	)
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				a.log.Warn("http shutdown error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// templatesFromConfig overlays configured messages on the defaults.
func templatesFromConfig(tc config.TemplatesConfig) announce.Templates {
	t := announce.DefaultTemplates()
	if tc.Join != "" {
		t.Join = tc.Join
	}
	if tc.Leave != "" {
		t.Leave = tc.Leave
	}
	if tc.Move != "" {
		t.Move = tc.Move
	}
	return t
}

// cacheStats bridges cache activity to the metrics counters.
type cacheStats struct{ m *observe.Metrics }

func (c cacheStats) Hit()      { c.m.CacheHits.Add(context.Background(), 1) }
func (c cacheStats) Miss()     { c.m.CacheMisses.Add(context.Background(), 1) }
func (c cacheStats) Eviction() { c.m.CacheEvictions.Add(context.Background(), 1) }
