package entity

import "time"

type RoomSummary struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Players   int       `json:"players"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomSnapshot - the full state of a room as pushed to subscribers.
type RoomSnapshot struct {
	RoomID  string       `json:"room_id"`
	Room    *Room        `json:"room,omitempty"`
	Chat    []*ChatEntry `json:"chat"`
	Deleted bool         `json:"deleted,omitempty"`
}

func DeletedSnapshot(roomID string) *RoomSnapshot {
	return &RoomSnapshot{RoomID: roomID, Chat: []*ChatEntry{}, Deleted: true}
}

// Dominates - reports whether the snapshot is at least as new as prev in every component and newer in one.
func (that *RoomSnapshot) Dominates(prev *RoomSnapshot) bool {
	if prev == nil {
		return true
	}

	if prev.Deleted {
		return false
	}

	if that.Deleted {
		return true
	}

	version, prevVersion := that.Room.Version, prev.Room.Version
	chatLen, prevChatLen := len(that.Chat), len(prev.Chat)

	if version < prevVersion || chatLen < prevChatLen {
		return false
	}

	return version > prevVersion || chatLen > prevChatLen
}
