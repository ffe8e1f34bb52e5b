package presence

// Decide maps the tenant's connection state and an occupancy snapshot to the
// next connection intent. It is a pure function: same inputs, same Action.
//
// The rules are evaluated in order:
//
//  1. Disconnected and a candidate room exists → Join (when AutoJoin).
//  2. Connected and a candidate room is strictly busier than the current
//     room → Move.
//  3. Connected and the current room has zero human occupancy → Leave
//     (when AutoLeave).
//  4. Otherwise → NoOp.
//
// The candidate is the non-ignored room with the greatest human occupancy
// above zero. When two rooms tie, the one with the lowest room ID (byte-wise)
// wins, keeping the choice independent of snapshot ordering.
func Decide(view View, snap Snapshot, opts Options) Action {
	candidate, candidateCount := busiestRoom(snap, opts.IgnoredRoomID)

	if !view.Connected {
		if opts.AutoJoin && candidate != "" {
			return Action{Kind: ActionJoin, RoomID: candidate}
		}
		return Action{Kind: ActionNoOp}
	}

	current := occupancyOf(snap, view.RoomID, opts.IgnoredRoomID)

	if candidate != "" && candidate != view.RoomID && candidateCount > current {
		return Action{Kind: ActionMove, RoomID: candidate}
	}

	if opts.AutoLeave && current == 0 {
		return Action{Kind: ActionLeave}
	}

	return Action{Kind: ActionNoOp}
}

// busiestRoom returns the ID and human occupancy of the most occupied
// non-ignored room, or ("", 0) when every room is empty.
func busiestRoom(snap Snapshot, ignoredRoomID string) (string, int) {
	best := ""
	bestCount := 0
	for _, r := range snap.Rooms {
		if ignoredRoomID != "" && r.Room.ID == ignoredRoomID {
			continue
		}
		n := r.Humans()
		if n == 0 {
			continue
		}
		if n > bestCount || (n == bestCount && r.Room.ID < best) {
			best = r.Room.ID
			bestCount = n
		}
	}
	return best, bestCount
}

// occupancyOf returns the human occupancy of roomID in the snapshot. An
// ignored or unknown room counts as empty.
func occupancyOf(snap Snapshot, roomID, ignoredRoomID string) int {
	if roomID == "" || roomID == ignoredRoomID {
		return 0
	}
	for _, r := range snap.Rooms {
		if r.Room.ID == roomID {
			return r.Humans()
		}
	}
	return 0
}
