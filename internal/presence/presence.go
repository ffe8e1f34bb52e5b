// Package presence turns raw voice-channel occupancy into connection intents.
//
// The package is deliberately free of I/O: the gateway layer condenses its
// events into [Event] and [Snapshot] values, and [Decide] maps a snapshot plus
// the tenant's current connection state to a single [Action]. The reliability
// layer interprets the action; this package never touches the transport.
package presence

import "github.com/bellhop-bot/bellhop/pkg/voice"

// EventKind classifies a presence change.
type EventKind int

const (
	// EventJoin means the participant entered a room from nowhere.
	EventJoin EventKind = iota

	// EventLeave means the participant left voice entirely.
	EventLeave

	// EventMove means the participant switched rooms.
	EventMove
)

// String returns the template key for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventMove:
		return "move"
	default:
		return "unknown"
	}
}

// Event is one presence change delivered by the gateway. Participant
// capability flags are computed once at ingestion time; nothing downstream
// consults the platform again.
type Event struct {
	// TenantID identifies the guild the change happened in.
	TenantID string

	// Participant is the affected occupant with precomputed flags.
	Participant voice.Participant

	// FromRoomID is the room the participant left, or "" if none.
	FromRoomID string

	// ToRoomID is the room the participant entered, or "" if none.
	ToRoomID string
}

// Kind derives the event classification from the room transition.
func (e Event) Kind() EventKind {
	switch {
	case e.FromRoomID == "" && e.ToRoomID != "":
		return EventJoin
	case e.FromRoomID != "" && e.ToRoomID == "":
		return EventLeave
	default:
		return EventMove
	}
}

// RoomOccupancy pairs a room with its current occupants.
type RoomOccupancy struct {
	Room      voice.Room
	Occupants []voice.Participant
}

// Humans returns the number of occupants that count toward occupancy.
func (r RoomOccupancy) Humans() int {
	n := 0
	for _, p := range r.Occupants {
		if p.Human() {
			n++
		}
	}
	return n
}

// Snapshot is the full occupancy picture for one tenant at decision time.
type Snapshot struct {
	// TenantID identifies the guild.
	TenantID string

	// Rooms lists every voice room and its occupants. Order is irrelevant;
	// candidate selection applies its own deterministic tie-break.
	Rooms []RoomOccupancy
}

// ActionKind enumerates the possible connection intents.
type ActionKind int

const (
	// ActionNoOp means the current state is already correct.
	ActionNoOp ActionKind = iota

	// ActionJoin means connect to RoomID from a disconnected state.
	ActionJoin

	// ActionMove means switch the existing connection to RoomID.
	ActionMove

	// ActionLeave means disconnect from the current room.
	ActionLeave
)

// String returns the human-readable action name.
func (k ActionKind) String() string {
	switch k {
	case ActionJoin:
		return "join"
	case ActionMove:
		return "move"
	case ActionLeave:
		return "leave"
	default:
		return "noop"
	}
}

// Action is a single immutable connection intent produced by [Decide].
type Action struct {
	// Kind selects the operation.
	Kind ActionKind

	// RoomID is the target room for Join and Move; empty otherwise.
	RoomID string
}

// View is the engine's read of the tenant's current connection state.
type View struct {
	// Connected reports whether the agent currently occupies a room.
	Connected bool

	// RoomID is the occupied room when Connected, "" otherwise.
	RoomID string
}

// Options hold the configuration switches the engine honours. Both toggles
// default to off in the zero value; callers enable them explicitly.
type Options struct {
	// AutoJoin enables joining the busiest room from a disconnected state.
	AutoJoin bool

	// AutoLeave enables leaving a room once its occupancy drops to zero.
	AutoLeave bool

	// IgnoredRoomID, when non-empty, excludes one room from all occupancy
	// computations and from candidate selection.
	IgnoredRoomID string
}
