package websocket

import (
	"context"
	"errors"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

var (
	errMissingRoomID = errors.New("room_id is required")
	errMissingCell   = errors.New("cell is required")
	errUnknownAction = errors.New("unknown action")
)

// handleConnect - lets a client pick up an identity it already holds.
func (that *Server) handleConnect(_ context.Context, conn *connection, payload *Payload) error {
	if payload.ClientID != "" {
		conn.setClientID(payload.ClientID)
	}

	if conn.ClientID() == "" {
		return apperror.ErrMissingClientID
	}

	conn.sendMessage(actionConnect, Payload{ClientID: conn.ClientID()})

	return nil
}

func (that *Server) handleListRooms(ctx context.Context, conn *connection, _ *Payload) error {
	summaries, err := that.rooms.ListRooms(ctx)
	if err != nil {
		return err
	}

	conn.sendMessage(actionRoomsList, Payload{Rooms: summaries})

	return nil
}

func (that *Server) handleWatchRooms(ctx context.Context, conn *connection, _ *Payload) error {
	return conn.watchRooms(func() (func(), error) {
		return that.rooms.WatchRooms(ctx, func(summaries []entity.RoomSummary) {
			conn.sendMessage(actionRoomsUpdate, Payload{Rooms: summaries})
		})
	})
}

func (that *Server) handleCreateRoom(ctx context.Context, conn *connection, payload *Payload) error {
	room, err := that.rooms.CreateRoom(ctx, conn.ClientID(), payload.Mark)
	if err != nil {
		return err
	}

	conn.sendMessage(actionRoomCreate, Payload{RoomID: room.ID, Mark: room.MarkOf(conn.ClientID()), Room: room})

	return that.subscribe(ctx, conn, room.ID)
}

func (that *Server) handleJoinRoom(ctx context.Context, conn *connection, payload *Payload) error {
	if payload.RoomID == "" {
		return errMissingRoomID
	}

	mark, err := that.rooms.JoinRoom(ctx, conn.ClientID(), payload.RoomID)
	if err != nil {
		return err
	}

	conn.sendMessage(actionRoomJoin, Payload{RoomID: payload.RoomID, Mark: mark})

	return that.subscribe(ctx, conn, payload.RoomID)
}

func (that *Server) handleQuickJoin(ctx context.Context, conn *connection, _ *Payload) error {
	roomID, mark, err := that.rooms.QuickJoin(ctx, conn.ClientID())
	if err != nil {
		return err
	}

	conn.sendMessage(actionRoomQuickJoin, Payload{RoomID: roomID, Mark: mark})

	return that.subscribe(ctx, conn, roomID)
}

func (that *Server) handleSubscribe(ctx context.Context, conn *connection, payload *Payload) error {
	if payload.RoomID == "" {
		return errMissingRoomID
	}

	return that.subscribe(ctx, conn, payload.RoomID)
}

func (that *Server) handleUnsubscribe(_ context.Context, conn *connection, payload *Payload) error {
	if payload.RoomID == "" {
		return errMissingRoomID
	}

	conn.unsubscribeRoom(payload.RoomID)
	conn.sendMessage(actionRoomUnsub, Payload{RoomID: payload.RoomID})

	return nil
}

func (that *Server) handleMove(ctx context.Context, conn *connection, payload *Payload) error {
	if payload.RoomID == "" {
		return errMissingRoomID
	}

	if payload.Cell == nil {
		return errMissingCell
	}

	room, err := that.rooms.MakeMove(ctx, conn.ClientID(), payload.RoomID, *payload.Cell)
	if err != nil {
		return err
	}

	conn.sendMessage(actionRoomMove, Payload{RoomID: room.ID, Room: room})

	return nil
}

func (that *Server) handleReset(ctx context.Context, conn *connection, payload *Payload) error {
	if payload.RoomID == "" {
		return errMissingRoomID
	}

	room, err := that.rooms.ResetRoom(ctx, conn.ClientID(), payload.RoomID)
	if err != nil {
		return err
	}

	conn.sendMessage(actionRoomReset, Payload{RoomID: room.ID, Room: room})

	return nil
}

func (that *Server) handleLeave(ctx context.Context, conn *connection, payload *Payload) error {
	if payload.RoomID == "" {
		return errMissingRoomID
	}

	if err := that.rooms.LeaveRoom(ctx, conn.ClientID(), payload.RoomID); err != nil {
		return err
	}

	conn.unsubscribeRoom(payload.RoomID)
	conn.sendMessage(actionRoomLeave, Payload{RoomID: payload.RoomID})

	return nil
}

func (that *Server) handleChat(ctx context.Context, conn *connection, payload *Payload) error {
	if payload.RoomID == "" {
		return errMissingRoomID
	}

	entry, err := that.rooms.SendChat(ctx, conn.ClientID(), payload.RoomID, payload.Text)
	if err != nil {
		return err
	}

	conn.sendMessage(actionRoomChat, Payload{RoomID: payload.RoomID, Entry: entry})

	return nil
}

// subscribe - pushes room snapshots to the connection until it unsubscribes or the room is gone.
func (that *Server) subscribe(ctx context.Context, conn *connection, roomID string) error {
	return conn.subscribeRoom(roomID, func() (func(), error) {
		return that.rooms.SubscribeRoom(ctx, roomID, func(snapshot *entity.RoomSnapshot) {
			conn.sendMessage(actionRoomUpdate, Payload{RoomID: roomID, Snapshot: snapshot})

			if snapshot.Deleted {
				conn.forgetRoom(roomID)
			}
		})
	})
}
