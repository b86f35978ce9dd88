package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

const lobbyChannel = "rooms:lobby"

func roomChannel(roomID string) string {
	return "room:" + roomID + ":updates"
}

type roomReader interface {
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	List(ctx context.Context) ([]*entity.Room, error)
}

type chatReader interface {
	List(ctx context.Context, roomID string) ([]*entity.ChatEntry, error)
}

// Feed - pushes full room snapshots and the room list to subscribers.
type Feed struct {
	logger *slog.Logger
	bus    Bus
	rooms  roomReader
	chat   chatReader
}

func New(logger *slog.Logger, bus Bus, rooms roomReader, chat chatReader) *Feed {
	return &Feed{
		logger: logger.With("component", "feed"),
		bus:    bus,
		rooms:  rooms,
		chat:   chat,
	}
}

// Snapshot - the current state of the room, or a deletion snapshot if it no longer exists.
func (that *Feed) Snapshot(ctx context.Context, roomID string) (*entity.RoomSnapshot, error) {
	room, err := that.rooms.GetByID(ctx, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		return entity.DeletedSnapshot(roomID), nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}

	chat, err := that.chat.List(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}

	return &entity.RoomSnapshot{RoomID: roomID, Room: room, Chat: chat}, nil
}

// Summaries - the room list, oldest first.
func (that *Feed) Summaries(ctx context.Context) ([]entity.RoomSummary, error) {
	rooms, err := that.rooms.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	summaries := make([]entity.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, room.Summary())
	}

	return summaries, nil
}

// PublishRoom - tells room subscribers and the lobby that the room changed.
func (that *Feed) PublishRoom(ctx context.Context, roomID string) error {
	if err := that.bus.Publish(ctx, roomChannel(roomID), roomID); err != nil {
		return err
	}

	return that.bus.Publish(ctx, lobbyChannel, roomID)
}

// Subscribe - delivers the current snapshot and then every newer one until unsubscribed,
// ctx is done, or the room is deleted. The deletion snapshot is the last one delivered.
//
// A subscriber never receives a snapshot older than one it already got. Calling the
// returned function more than once is fine; once it returns no callback is running and none
// will start. It must not be called from onUpdate, cancel ctx there instead.
func (that *Feed) Subscribe(
	ctx context.Context, roomID string, onUpdate func(*entity.RoomSnapshot),
) (func(), error) {
	sub, err := that.bus.Subscribe(ctx, roomChannel(roomID))
	if err != nil {
		return nil, err
	}

	initial, err := that.Snapshot(ctx, roomID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	if initial.Deleted {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: %s", apperror.ErrRoomNotFound, roomID)
	}

	log := that.logger.With("method", "Subscribe", "room_id", roomID)

	var last *entity.RoomSnapshot
	w := newWatcher(ctx, sub)
	w.run(func() bool {
		if !w.deliver(func() { onUpdate(initial) }) {
			return false
		}
		last = initial

		return true
	}, func(loadCtx context.Context) bool {
		snapshot, loadErr := that.Snapshot(loadCtx, roomID)
		if loadErr != nil {
			log.Error("failed to load snapshot", "error", loadErr)
			return true
		}

		if !snapshot.Dominates(last) {
			return true
		}

		if !w.deliver(func() { onUpdate(snapshot) }) {
			return false
		}
		last = snapshot

		return !snapshot.Deleted
	})

	return w.stop, nil
}

// WatchRooms - delivers the room list now and after every change to any room.
func (that *Feed) WatchRooms(ctx context.Context, onUpdate func([]entity.RoomSummary)) (func(), error) {
	sub, err := that.bus.Subscribe(ctx, lobbyChannel)
	if err != nil {
		return nil, err
	}

	initial, err := that.Summaries(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	log := that.logger.With("method", "WatchRooms")

	w := newWatcher(ctx, sub)
	w.run(func() bool {
		return w.deliver(func() { onUpdate(initial) })
	}, func(loadCtx context.Context) bool {
		summaries, loadErr := that.Summaries(loadCtx)
		if loadErr != nil {
			log.Error("failed to load rooms", "error", loadErr)
			return true
		}

		return w.deliver(func() { onUpdate(summaries) })
	})

	return w.stop, nil
}

// watcher - the delivery loop shared by room and lobby subscriptions.
type watcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	sub    Subscription

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func newWatcher(ctx context.Context, sub Subscription) *watcher {
	ctx, cancel := context.WithCancel(ctx)

	return &watcher{ctx: ctx, cancel: cancel, sub: sub}
}

// run - calls first once, then next on every notification until either returns false.
func (that *watcher) run(first func() bool, next func(ctx context.Context) bool) {
	go func() {
		defer that.stop()

		if !first() {
			return
		}

		for {
			select {
			case <-that.ctx.Done():
				return
			case _, ok := <-that.sub.Notifications():
				if !ok || !next(that.ctx) {
					return
				}
			}
		}
	}()
}

// deliver - runs the callback unless the watcher was stopped. stop waits for a running callback.
func (that *watcher) deliver(callback func()) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return false
	}

	callback()

	return true
}

func (that *watcher) stop() {
	that.once.Do(func() {
		that.mu.Lock()
		that.closed = true
		that.mu.Unlock()

		that.cancel()
		_ = that.sub.Close()
	})
}
