// Package mock provides test doubles for the voice.Transport and voice.Player
// interfaces.
//
// Use Transport to script connection outcomes per operation and to verify the
// order and arguments of transport calls:
//
//	tr := &mock.Transport{ConnectedRoomResult: "room-1"}
//	_ = mgr.Apply(ctx, "guild-1", action)
//	if len(tr.ConnectCalls) != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/bellhop-bot/bellhop/pkg/voice"
)

// Call records a single transport invocation.
type Call struct {
	// Op is the operation name: "connect", "move", "disconnect" or "query".
	Op string
	// TenantID is the tenant the operation targeted.
	TenantID string
	// RoomID is the room argument, empty for disconnect/query.
	RoomID string
}

// Transport is a mock implementation of voice.Transport.
// The zero value is ready to use and reports success for every operation.
type Transport struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ConnectErr is returned from Connect. May be nil.
	ConnectErr error

	// MoveErr is returned from MoveTo. May be nil.
	MoveErr error

	// DisconnectErr is returned from Disconnect. May be nil.
	DisconnectErr error

	// ConnectedRoomResult is returned from ConnectedRoom when
	// ConnectedRoomFunc is nil.
	ConnectedRoomResult string

	// ConnectedRoomErr is returned from ConnectedRoom. May be nil.
	ConnectedRoomErr error

	// ConnectFunc, when non-nil, replaces the canned ConnectErr behaviour.
	// Useful for scripting different outcomes per attempt.
	ConnectFunc func(ctx context.Context, tenantID, roomID string) error

	// ConnectedRoomFunc, when non-nil, replaces ConnectedRoomResult.
	ConnectedRoomFunc func(ctx context.Context, tenantID string) (string, error)

	// --- Call records ---

	// ConnectCalls records every Connect invocation in order.
	ConnectCalls []Call

	// MoveCalls records every MoveTo invocation in order.
	MoveCalls []Call

	// DisconnectCalls records every Disconnect invocation in order.
	DisconnectCalls []Call

	// QueryCalls records every ConnectedRoom invocation in order.
	QueryCalls []Call
}

// Compile-time interface assertion.
var _ voice.Transport = (*Transport)(nil)

// Connect records the call and returns the scripted result.
func (t *Transport) Connect(ctx context.Context, tenantID, roomID string) error {
	t.mu.Lock()
	t.ConnectCalls = append(t.ConnectCalls, Call{Op: "connect", TenantID: tenantID, RoomID: roomID})
	fn := t.ConnectFunc
	err := t.ConnectErr
	t.mu.Unlock()
	if fn != nil {
		return fn(ctx, tenantID, roomID)
	}
	return err
}

// MoveTo records the call and returns MoveErr.
func (t *Transport) MoveTo(_ context.Context, tenantID, roomID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.MoveCalls = append(t.MoveCalls, Call{Op: "move", TenantID: tenantID, RoomID: roomID})
	return t.MoveErr
}

// Disconnect records the call and returns DisconnectErr.
func (t *Transport) Disconnect(_ context.Context, tenantID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DisconnectCalls = append(t.DisconnectCalls, Call{Op: "disconnect", TenantID: tenantID})
	return t.DisconnectErr
}

// ConnectedRoom records the call and returns the scripted result.
func (t *Transport) ConnectedRoom(ctx context.Context, tenantID string) (string, error) {
	t.mu.Lock()
	t.QueryCalls = append(t.QueryCalls, Call{Op: "query", TenantID: tenantID})
	fn := t.ConnectedRoomFunc
	room, err := t.ConnectedRoomResult, t.ConnectedRoomErr
	t.mu.Unlock()
	if fn != nil {
		return fn(ctx, tenantID)
	}
	return room, err
}

// Calls returns the total number of transport operations recorded.
func (t *Transport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ConnectCalls) + len(t.MoveCalls) + len(t.DisconnectCalls) + len(t.QueryCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ConnectCalls = nil
	t.MoveCalls = nil
	t.DisconnectCalls = nil
	t.QueryCalls = nil
}

// Player is a mock implementation of voice.Player.
type Player struct {
	mu sync.Mutex

	// PlayErr is returned from Play. May be nil.
	PlayErr error

	// PlayCalls records every Play invocation in order, as artifact paths.
	PlayCalls []string
}

// Compile-time interface assertion.
var _ voice.Player = (*Player)(nil)

// Play records the call and returns PlayErr.
func (p *Player) Play(_ context.Context, _ string, artifactPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = append(p.PlayCalls, artifactPath)
	return p.PlayErr
}
