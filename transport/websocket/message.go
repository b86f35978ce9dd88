package websocket

import (
	"encoding/json"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

const (
	actionConnect        = "connect"
	actionRoomsList      = "rooms:list"
	actionRoomsWatch     = "rooms:watch"
	actionRoomsUpdate    = "rooms:update"
	actionRoomCreate     = "room:create"
	actionRoomJoin       = "room:join"
	actionRoomQuickJoin  = "room:quick-join"
	actionRoomSubscribe  = "room:subscribe"
	actionRoomUnsub      = "room:unsubscribe"
	actionRoomMove       = "room:move"
	actionRoomReset      = "room:reset"
	actionRoomLeave      = "room:leave"
	actionRoomChat       = "room:chat"
	actionRoomUpdate     = "room:update"
	actionUnknownRequest = "error"
)

// Message represents a WebSocket message with an action type and a payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload - request and response body shared by every action.
type Payload struct {
	ClientID string      `json:"client_id,omitempty"`
	RoomID   string      `json:"room_id,omitempty"`
	Mark     entity.Mark `json:"mark,omitempty"`
	Cell     *int        `json:"cell,omitempty"`
	Text     string      `json:"text,omitempty"`

	Room     *entity.Room         `json:"room,omitempty"`
	Snapshot *entity.RoomSnapshot `json:"snapshot,omitempty"`
	Rooms    []entity.RoomSummary `json:"rooms,omitempty"`
	Entry    *entity.ChatEntry    `json:"entry,omitempty"`

	Error        string `json:"error,omitempty"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

func encode(action string, payload Payload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Message{Action: action, Payload: body})
}
