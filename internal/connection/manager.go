// Package connection executes presence actions against a flaky voice
// transport. The Manager keeps one state record per tenant, serialises all
// transitions for a tenant behind that tenant's lock, suppresses attempts
// during the startup grace period and the per-tenant cooldown window, retries
// transient failures with exponential backoff, and periodically sweeps
// connected tenants to detect silently dropped sessions.
//
// The decision layer is advisory: the Manager is the authority on whether an
// attempt is actually made now.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bellhop-bot/bellhop/internal/presence"
	"github.com/bellhop-bot/bellhop/pkg/voice"
)

// DefaultStartupGrace is the post-start window during which no connection
// attempts are made. Exported so the startup evaluation pass can align with
// it when nothing is configured.
const DefaultStartupGrace = 10 * time.Second

// Default reliability parameters.
const (
	defaultCooldown       = 15 * time.Second
	defaultMaxRetries     = 3
	defaultBaseBackoff    = 1 * time.Second
	defaultConnectTimeout = 30 * time.Second
	defaultSweepInterval  = 2 * time.Minute
)

// ErrVerificationFailed marks a connect or move call that returned without
// error while the transport still reports a different room. Treated as a
// transient failure for retry purposes.
var ErrVerificationFailed = errors.New("connection: transport state does not match requested room")

// State is the connection lifecycle state of one tenant.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SuppressReason says why an attempt was not made.
type SuppressReason string

const (
	SuppressNone         SuppressReason = ""
	SuppressStartupGrace SuppressReason = "startup-grace"
	SuppressCooldown     SuppressReason = "cooldown"
)

// Outcome reports the tenant's state after an Apply call.
type Outcome struct {
	// State is the tenant's state when Apply returned.
	State State

	// RoomID is the room the tenant is connected to, or "" when disconnected.
	RoomID string

	// Changed reports whether the connection actually changed (joined, moved
	// or left). Announcements are only made for changed outcomes.
	Changed bool

	// Suppressed reports that the attempt was withheld; Reason says why.
	Suppressed bool
	Reason     SuppressReason
}

// tenant is the per-guild state record. All fields are guarded by mu; the
// lock is held for the full duration of any transport operation for the
// tenant, which is what serialises concurrent Apply calls.
type tenant struct {
	mu          sync.Mutex
	state       State
	roomID      string
	lastAttempt time.Time
	retries     int

	// gen is bumped whenever a newer decision takes effect and on every
	// forced disconnect. A scheduled retry captures gen at scheduling time
	// and abandons itself if the tenant has moved on. Suppressed and no-op
	// decisions do not bump gen.
	gen        uint64
	retryTimer *time.Timer
}

// Option is a functional option for configuring the Manager.
type Option func(*Manager)

// WithStartupGrace sets the post-start window during which no connection
// attempt is made, to avoid racing the transport's own session establishment.
func WithStartupGrace(d time.Duration) Option {
	return func(m *Manager) {
		m.grace = d
	}
}

// WithCooldown sets the per-tenant window within which a second connection
// attempt is suppressed, measured from the previous attempt regardless of its
// outcome.
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) {
		m.cooldown = d
	}
}

// WithMaxRetries caps scheduled backoff retries per action.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		m.maxRetries = n
	}
}

// WithBaseBackoff sets the first retry delay. The delay doubles per retry.
func WithBaseBackoff(d time.Duration) Option {
	return func(m *Manager) {
		m.baseBackoff = d
	}
}

// WithConnectTimeout bounds each individual transport operation.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.connectTimeout = d
	}
}

// WithSweepInterval sets how often Run verifies connected tenants.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.sweepInterval = d
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// Manager is the per-tenant connection state machine. Safe for concurrent
// use; operations on the same tenant serialise on the tenant's lock.
type Manager struct {
	transport voice.Transport
	log       *slog.Logger
	now       func() time.Time

	grace          time.Duration
	cooldown       time.Duration
	maxRetries     int
	baseBackoff    time.Duration
	connectTimeout time.Duration
	sweepInterval  time.Duration

	readyAt time.Time

	mu      sync.RWMutex
	tenants map[string]*tenant
}

// New creates a Manager over the given transport. The startup grace period
// begins immediately.
func New(transport voice.Transport, opts ...Option) *Manager {
	m := &Manager{
		transport:      transport,
		log:            slog.Default(),
		now:            time.Now,
		grace:          DefaultStartupGrace,
		cooldown:       defaultCooldown,
		maxRetries:     defaultMaxRetries,
		baseBackoff:    defaultBaseBackoff,
		connectTimeout: defaultConnectTimeout,
		sweepInterval:  defaultSweepInterval,
		tenants:        make(map[string]*tenant),
	}
	for _, o := range opts {
		o(m)
	}
	m.readyAt = m.now().Add(m.grace)
	return m
}

// tenant returns the state record for tenantID, creating it on first use.
// Tenants are never destroyed.
func (m *Manager) tenant(tenantID string) *tenant {
	m.mu.RLock()
	t, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if ok {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok = m.tenants[tenantID]; ok {
		return t
	}
	t = &tenant{}
	m.tenants[tenantID] = t
	return t
}

// TenantCount returns the number of tenants tracked so far.
func (m *Manager) TenantCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tenants)
}

// View returns the tenant's connection state as seen by the decision layer.
func (m *Manager) View(tenantID string) presence.View {
	t := m.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return presence.View{
		Connected: t.state == StateConnected,
		RoomID:    t.roomID,
	}
}

// Apply executes an action for a tenant. It holds the tenant's lock for the
// whole operation, so a concurrent Apply for the same tenant waits rather
// than racing the transport. A retry still pending from an earlier action is
// cancelled only when the newer decision actually takes effect; a suppressed
// or no-op decision leaves the scheduled retry in place, otherwise a decision
// landing inside the cooldown window would strand the tenant in StateBackoff.
//
// Errors from the transport are returned alongside the Outcome so callers can
// log them; a retryable failure also schedules a background retry and leaves
// the tenant in StateBackoff.
func (m *Manager) Apply(ctx context.Context, tenantID string, action presence.Action) (Outcome, error) {
	t := m.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()

	switch action.Kind {
	case presence.ActionNoOp:
		return Outcome{State: t.state, RoomID: t.roomID}, nil

	case presence.ActionLeave:
		t.supersedeLocked()
		return m.leaveLocked(ctx, tenantID, t)

	case presence.ActionJoin, presence.ActionMove:
		now := m.now()
		if now.Before(m.readyAt) {
			m.log.Debug("connection attempt suppressed during startup grace",
				"tenantID", tenantID,
				"action", action.Kind,
				"readyIn", m.readyAt.Sub(now),
			)
			return Outcome{State: t.state, RoomID: t.roomID, Suppressed: true, Reason: SuppressStartupGrace}, nil
		}
		if !t.lastAttempt.IsZero() && now.Sub(t.lastAttempt) < m.cooldown {
			m.log.Debug("connection attempt suppressed by cooldown",
				"tenantID", tenantID,
				"action", action.Kind,
				"sinceLast", now.Sub(t.lastAttempt),
			)
			return Outcome{State: t.state, RoomID: t.roomID, Suppressed: true, Reason: SuppressCooldown}, nil
		}
		t.supersedeLocked()
		return m.attemptLocked(ctx, tenantID, t, action)

	default:
		return Outcome{State: t.state, RoomID: t.roomID}, fmt.Errorf("connection: unknown action kind %v", action.Kind)
	}
}

// leaveLocked disconnects the tenant. Leave is never suppressed and never
// retried; a failed disconnect leaves the state untouched for the sweep to
// reconcile.
func (m *Manager) leaveLocked(ctx context.Context, tenantID string, t *tenant) (Outcome, error) {
	wasConnected := t.state == StateConnected

	opCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	if err := m.transport.Disconnect(opCtx, tenantID); err != nil {
		return Outcome{State: t.state, RoomID: t.roomID}, fmt.Errorf("connection: disconnect %s: %w", tenantID, err)
	}

	t.state = StateDisconnected
	t.roomID = ""
	return Outcome{State: StateDisconnected, Changed: wasConnected}, nil
}

// attemptLocked performs one connect or move attempt including post-call
// verification, and schedules a backoff retry on transient failure. The
// caller holds t.mu.
func (m *Manager) attemptLocked(ctx context.Context, tenantID string, t *tenant, action presence.Action) (Outcome, error) {
	t.lastAttempt = m.now()
	t.state = StateConnecting

	err := m.execute(ctx, tenantID, action)
	if err == nil {
		t.state = StateConnected
		t.roomID = action.RoomID
		t.retries = 0
		return Outcome{State: StateConnected, RoomID: action.RoomID, Changed: true}, nil
	}

	if m.retryable(err) && t.retries < m.maxRetries {
		t.retries++
		delay := m.baseBackoff << (t.retries - 1)
		t.state = StateBackoff

		gen := t.gen
		t.retryTimer = time.AfterFunc(delay, func() {
			m.retry(tenantID, gen, action)
		})

		m.log.Warn("connection attempt failed, retry scheduled",
			"tenantID", tenantID,
			"action", action.Kind,
			"roomID", action.RoomID,
			"attempt", t.retries,
			"maxRetries", m.maxRetries,
			"delay", delay,
			"err", err,
		)
		return Outcome{State: StateBackoff, RoomID: t.roomID}, err
	}

	// The attempt failed for good. Ask the transport where the tenant
	// actually is: a failed move usually leaves the old room's connection
	// intact, and recording it keeps the next decision cycle and the sweep
	// working from the real state instead of orphaning it.
	t.retries = 0
	if got := m.reconcileRoom(ctx, tenantID); got != "" {
		t.state = StateConnected
		t.roomID = got
		return Outcome{State: StateConnected, RoomID: got}, err
	}
	t.state = StateDisconnected
	t.roomID = ""
	return Outcome{State: StateDisconnected}, err
}

// reconcileRoom queries the transport for the tenant's current room after a
// failed attempt. Returns "" when the transport is unreachable or reports no
// connection.
func (m *Manager) reconcileRoom(ctx context.Context, tenantID string) string {
	opCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	got, err := m.transport.ConnectedRoom(opCtx, tenantID)
	if err != nil {
		return ""
	}
	return got
}

// execute issues the transport call for action and verifies the transport
// actually reports the requested room afterwards.
func (m *Manager) execute(ctx context.Context, tenantID string, action presence.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	var err error
	switch action.Kind {
	case presence.ActionJoin:
		err = m.transport.Connect(opCtx, tenantID, action.RoomID)
	case presence.ActionMove:
		err = m.transport.MoveTo(opCtx, tenantID, action.RoomID)
	}
	if err != nil {
		return err
	}

	got, err := m.transport.ConnectedRoom(opCtx, tenantID)
	if err != nil {
		return err
	}
	if got != action.RoomID {
		return fmt.Errorf("%w: connected to %q, want %q", ErrVerificationFailed, got, action.RoomID)
	}
	return nil
}

// retryable reports whether err belongs to the transient class that earns a
// scheduled retry. Timeouts and unclassified transport errors surface
// immediately.
func (m *Manager) retryable(err error) bool {
	if errors.Is(err, ErrVerificationFailed) {
		return true
	}
	return voice.KindOf(err) == voice.ErrKindSessionInvalid
}

// retry re-runs a previously failed action from a timer goroutine. If the
// tenant's generation moved on since scheduling, the retry is abandoned.
func (m *Manager) retry(tenantID string, gen uint64, action presence.Action) {
	t := m.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gen != gen {
		m.log.Debug("scheduled retry superseded",
			"tenantID", tenantID,
			"action", action.Kind,
			"roomID", action.RoomID,
		)
		return
	}

	outcome, err := m.attemptLocked(context.Background(), tenantID, t, action)
	if err != nil && outcome.State == StateDisconnected {
		m.log.Error("connection retries exhausted",
			"tenantID", tenantID,
			"action", action.Kind,
			"roomID", action.RoomID,
			"err", err,
		)
	}
}

// ForceDisconnected resets a tenant to StateDisconnected without touching the
// transport, cancelling any pending retry. Used when the transport reports a
// drop out-of-band.
func (m *Manager) ForceDisconnected(tenantID string) {
	t := m.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.supersedeLocked()
	t.state = StateDisconnected
	t.roomID = ""
}

// Run executes the stale-connection sweep until ctx is cancelled. Each pass
// verifies every tenant in StateConnected against the transport and forces
// any mismatch back to StateDisconnected so the next decision cycle starts
// clean.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep runs one verification pass over all connected tenants.
func (m *Manager) sweep(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.sweepTenant(ctx, id)
	}
}

// sweepTenant verifies one tenant, taking the same lock Apply takes so the
// sweep never races an in-flight operation for the tenant.
func (m *Manager) sweepTenant(ctx context.Context, tenantID string) {
	t := m.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	got, err := m.transport.ConnectedRoom(opCtx, tenantID)
	if err == nil && got == t.roomID {
		return
	}

	m.log.Warn("stale connection detected, resetting tenant",
		"tenantID", tenantID,
		"expectedRoom", t.roomID,
		"reportedRoom", got,
		"err", err,
	)
	t.supersedeLocked()
	t.state = StateDisconnected
	t.roomID = ""
}

// stopRetryLocked cancels a pending retry timer. The caller holds t.mu.
func (t *tenant) stopRetryLocked() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
}

// supersedeLocked marks the tenant as moved on to a newer decision: the
// generation bump makes any in-flight retry abandon itself and the pending
// timer is cancelled. The caller holds t.mu.
func (t *tenant) supersedeLocked() {
	t.gen++
	t.stopRetryLocked()
	t.retries = 0
}
