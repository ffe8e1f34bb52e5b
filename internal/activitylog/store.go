// Package activitylog persists a record of voice-channel activity: every
// presence event the bot observed and the decision it made in response. The
// log is optional; when no database is configured the bot runs with the
// in-memory store and the history is lost on restart.
package activitylog

import (
	"context"
	"time"
)

// Entry is one observed presence event together with the decision outcome.
type Entry struct {
	// ID is assigned by the store on Record.
	ID int64

	// TenantID is the guild the event occurred in.
	TenantID string

	// ParticipantID and DisplayName identify the member who moved.
	ParticipantID string
	DisplayName   string

	// Event is the observed change: "join", "leave" or "move".
	Event string

	// FromRoomID and ToRoomID are the rooms involved; either may be empty.
	FromRoomID string
	ToRoomID   string

	// Action is the decision taken: "noop", "join", "move" or "leave".
	Action string

	// ActionRoomID is the target room of a join/move action.
	ActionRoomID string

	// Suppressed reports that the action was withheld by grace or cooldown.
	Suppressed bool

	// OccurredAt is when the event was processed. The zero value lets the
	// store assign its own timestamp.
	OccurredAt time.Time
}

// Store persists activity entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record appends one entry and fills in its ID (and OccurredAt when the
	// store assigns it).
	Record(ctx context.Context, e *Entry) error

	// RecentByTenant returns up to limit entries for the tenant, newest
	// first.
	RecentByTenant(ctx context.Context, tenantID string, limit int) ([]Entry, error)
}
