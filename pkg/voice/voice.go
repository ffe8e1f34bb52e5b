// Package voice defines the transport abstraction over a voice-capable chat
// platform. A [Transport] executes connection changes (join, move, leave) for
// one tenant (guild) at a time and reports which room the agent currently
// occupies. The concrete Discord implementation lives in pkg/voice/discord;
// a test double lives in pkg/voice/mock.
//
// Implementations must be safe for concurrent use. Callers are expected to
// serialise operations per tenant themselves — the transport makes no ordering
// guarantees between concurrent calls for the same tenant.
package voice

import (
	"context"
	"errors"
	"fmt"
)

// Room identifies one voice channel within a tenant.
type Room struct {
	// ID is the platform-assigned room identifier.
	ID string

	// Name is the human-readable room name, used only for logging.
	Name string
}

// Participant is a snapshot of one room occupant with its capability flags
// precomputed at event-ingestion time. The decision layer consumes these as
// plain data and never reaches back into the platform.
type Participant struct {
	// ID is the platform-assigned user identifier.
	ID string

	// DisplayName is the name used in announcements.
	DisplayName string

	// Automated marks bot and application accounts.
	Automated bool

	// System marks platform system accounts (webhooks, official announcements).
	System bool

	// Self marks the agent's own account.
	Self bool
}

// Human reports whether the participant counts toward room occupancy.
func (p Participant) Human() bool {
	return !p.Automated && !p.System && !p.Self
}

// Transport executes connection operations against the remote voice platform.
type Transport interface {
	// Connect joins the given room on behalf of the tenant. The agent must not
	// already be connected in that tenant.
	Connect(ctx context.Context, tenantID, roomID string) error

	// MoveTo switches an existing connection to another room in the same tenant.
	MoveTo(ctx context.Context, tenantID, roomID string) error

	// Disconnect leaves the tenant's current room. Disconnecting while not
	// connected is a no-op.
	Disconnect(ctx context.Context, tenantID string) error

	// ConnectedRoom reports the room the agent currently occupies in the
	// tenant, or "" when not connected. Used for post-connect verification and
	// the stale-connection sweep.
	ConnectedRoom(ctx context.Context, tenantID string) (string, error)
}

// Player plays a stored audio artifact into the tenant's current voice
// connection. Playback is best-effort: implementations return an error when
// the artifact cannot be played, and callers treat that as a skipped
// announcement, never as a failed connection action.
type Player interface {
	Play(ctx context.Context, tenantID, artifactPath string) error
}

// ErrorKind classifies transport failures for the retry policy.
type ErrorKind int

const (
	// ErrKindOther covers failures with no known recovery; they are surfaced
	// immediately and not retried.
	ErrKindOther ErrorKind = iota

	// ErrKindSessionInvalid marks the known-transient class of failures where
	// the platform session lagged behind the gateway; retried with backoff.
	ErrKindSessionInvalid

	// ErrKindTimeout marks an operation that exceeded its deadline.
	ErrKindTimeout
)

// String returns the human-readable name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindSessionInvalid:
		return "session-invalid"
	case ErrKindTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// Error is the typed error returned by Transport implementations.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op names the failed operation ("connect", "move", "disconnect", "query").
	Op string

	// TenantID is the tenant the operation was executed for.
	TenantID string

	// Err is the underlying platform error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("voice: %s %s (%s)", e.Op, e.TenantID, e.Kind)
	}
	return fmt.Sprintf("voice: %s %s (%s): %v", e.Op, e.TenantID, e.Kind, e.Err)
}

// Unwrap returns the underlying platform error.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the [ErrorKind] from err. Errors that are not a [*Error]
// are classified as [ErrKindOther]; context deadline errors as [ErrKindTimeout].
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindOther
}
