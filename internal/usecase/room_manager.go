package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository"
)

// maxConflictRetries - a conflicting write is re-read and retried this many times.
const maxConflictRetries = 1

const autoResetTimeout = 5 * time.Second

type roomRepoDep interface {
	Create(ctx context.Context, room *entity.Room) error
	List(ctx context.Context) ([]*entity.Room, error)
	Update(ctx context.Context, id string, fn repository.UpdateFunc) (*entity.Room, error)
	DeleteIfEmpty(ctx context.Context, id string) (bool, error)
}

type chatRepoDep interface {
	Append(ctx context.Context, roomID string, entry *entity.ChatEntry, window time.Duration) (*entity.ChatEntry, error)
}

type feedDep interface {
	Snapshot(ctx context.Context, roomID string) (*entity.RoomSnapshot, error)
	PublishRoom(ctx context.Context, roomID string) error
	Subscribe(ctx context.Context, roomID string, onUpdate func(*entity.RoomSnapshot)) (func(), error)
	WatchRooms(ctx context.Context, onUpdate func([]entity.RoomSummary)) (func(), error)
}

type Settings struct {
	RateLimitWindow  time.Duration
	MaxMessageLength int
	AutoResetDelay   time.Duration
}

// RoomManager - the only write path to rooms. Every change goes through a room transition
// committed with compare-and-set, and is then announced on the feed.
type RoomManager struct {
	logger *slog.Logger

	rooms roomRepoDep
	chat  chatRepoDep
	feed  feedDep

	policy   entity.Policy
	settings Settings

	now   func() time.Time
	newID func() string

	scans singleflight.Group

	timersMu sync.Mutex
	timers   map[string]autoResetTimer
	closed   bool
}

type autoResetTimer struct {
	timer   *time.Timer
	version int64
}

func NewRoomManager(
	logger *slog.Logger, rooms roomRepoDep, chat chatRepoDep, feed feedDep, policy entity.Policy, settings Settings,
) *RoomManager {
	return &RoomManager{
		logger:   logger.With("component", "room-manager"),
		rooms:    rooms,
		chat:     chat,
		feed:     feed,
		policy:   policy,
		settings: settings,
		now:      time.Now,
		newID:    pkg.GenerateRoomID,
		timers:   make(map[string]autoResetTimer),
	}
}

// WithClock - replaces the time source.
func (that *RoomManager) WithClock(now func() time.Time) *RoomManager {
	that.now = now
	return that
}

func (that *RoomManager) CreateRoom(ctx context.Context, creatorID string, mark entity.Mark) (*entity.Room, error) {
	log := that.logger.With("method", "CreateRoom", "client_id", creatorID)

	if creatorID == "" {
		return nil, apperror.ErrMissingClientID
	}

	rooms, err := that.listRooms(ctx)
	if err != nil {
		return nil, err
	}

	for _, room := range rooms {
		if room.IsParticipant(creatorID) {
			return nil, fmt.Errorf("%w: %s", apperror.ErrAlreadyInRoom, room.ID)
		}
	}

	room, err := entity.NewRoom(that.newID(), creatorID, mark, that.policy, that.now())
	if err != nil {
		return nil, err
	}

	if err = that.rooms.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	log.Info("room created", "room_id", room.ID, "mark", room.MarkOf(creatorID))
	that.afterCommit(ctx, room)

	return room, nil
}

func (that *RoomManager) JoinRoom(ctx context.Context, clientID, roomID string) (entity.Mark, error) {
	if clientID == "" {
		return entity.MarkNone, apperror.ErrMissingClientID
	}

	var mark entity.Mark
	_, err := that.update(ctx, roomID, func(room *entity.Room) error {
		if mark = room.MarkOf(clientID); mark != entity.MarkNone {
			return repository.ErrNoChange
		}

		var joinErr error
		mark, joinErr = room.Join(clientID, that.policy)
		return joinErr
	})
	if err != nil {
		return entity.MarkNone, err
	}

	that.logger.Info("client joined", "method", "JoinRoom", "room_id", roomID, "client_id", clientID, "mark", mark)

	return mark, nil
}

// QuickJoin - seats the client in the oldest room with a free slot.
func (that *RoomManager) QuickJoin(ctx context.Context, clientID string) (string, entity.Mark, error) {
	if clientID == "" {
		return "", entity.MarkNone, apperror.ErrMissingClientID
	}

	rooms, err := that.listRooms(ctx)
	if err != nil {
		return "", entity.MarkNone, err
	}

	for _, room := range rooms {
		if mark := room.MarkOf(clientID); mark != entity.MarkNone {
			return room.ID, mark, nil
		}
	}

	for _, room := range rooms {
		if !room.HasFreeSlot() {
			continue
		}

		mark, joinErr := that.JoinRoom(ctx, clientID, room.ID)
		switch {
		case joinErr == nil:
			return room.ID, mark, nil
		case errors.Is(joinErr, apperror.ErrRoomFull),
			errors.Is(joinErr, apperror.ErrRoomNotFound),
			errors.Is(joinErr, apperror.ErrTransientFailure):
			// lost the race for this room, try the next one
			continue
		default:
			return "", entity.MarkNone, joinErr
		}
	}

	return "", entity.MarkNone, apperror.ErrNoAvailableRooms
}

func (that *RoomManager) ListRooms(ctx context.Context) ([]entity.RoomSummary, error) {
	rooms, err := that.listRooms(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]entity.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, room.Summary())
	}

	return summaries, nil
}

// WatchRooms - the live room list; see ListRooms.
func (that *RoomManager) WatchRooms(ctx context.Context, onUpdate func([]entity.RoomSummary)) (func(), error) {
	unsubscribe, err := that.feed.WatchRooms(ctx, onUpdate)
	if err != nil {
		return nil, fmt.Errorf("failed to watch rooms: %w", err)
	}

	return unsubscribe, nil
}

func (that *RoomManager) GetRoom(ctx context.Context, roomID string) (*entity.RoomSnapshot, error) {
	snapshot, err := that.feed.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if snapshot.Deleted {
		return nil, fmt.Errorf("%w: %s", apperror.ErrRoomNotFound, roomID)
	}

	return snapshot, nil
}

func (that *RoomManager) MakeMove(ctx context.Context, clientID, roomID string, cell int) (*entity.Room, error) {
	return that.update(ctx, roomID, func(room *entity.Room) error {
		return room.MakeMove(clientID, cell, that.now())
	})
}

func (that *RoomManager) ResetRoom(ctx context.Context, clientID, roomID string) (*entity.Room, error) {
	return that.update(ctx, roomID, func(room *entity.Room) error {
		return room.Reset(clientID, that.policy)
	})
}

func (that *RoomManager) LeaveRoom(ctx context.Context, clientID, roomID string) error {
	room, err := that.update(ctx, roomID, func(room *entity.Room) error {
		return room.Leave(clientID, that.policy)
	})
	if err != nil {
		return err
	}

	if room.IsEmpty() {
		that.logger.Info("room destroyed", "method", "LeaveRoom", "room_id", roomID)
	}

	return nil
}

// SendChat - appends a message to the room's chat. A rate limited message is not retried.
func (that *RoomManager) SendChat(ctx context.Context, clientID, roomID, text string) (*entity.ChatEntry, error) {
	text, err := entity.NormalizeChatText(text, that.settings.MaxMessageLength)
	if err != nil {
		return nil, err
	}

	entry, err := that.chat.Append(ctx, roomID, entity.NewChatEntry(clientID, text, that.now()), that.settings.RateLimitWindow)
	if err != nil {
		return nil, err
	}

	that.publish(ctx, roomID)

	return entry, nil
}

func (that *RoomManager) SubscribeRoom(
	ctx context.Context, roomID string, onUpdate func(*entity.RoomSnapshot),
) (func(), error) {
	unsubscribe, err := that.feed.Subscribe(ctx, roomID, onUpdate)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to room: %w", err)
	}

	return unsubscribe, nil
}

// SweepEmptyRooms - destroys rooms nobody sits in. Concurrent sweeps share one run.
func (that *RoomManager) SweepEmptyRooms(ctx context.Context) (int, error) {
	result, err, _ := that.scans.Do("sweep", func() (any, error) {
		rooms, err := that.rooms.List(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list rooms: %w", err)
		}

		removed := 0
		for _, room := range rooms {
			if !room.IsEmpty() {
				continue
			}

			deleted, err := that.rooms.DeleteIfEmpty(ctx, room.ID)
			if err != nil {
				return removed, err
			}

			if deleted {
				removed++
				that.cancelAutoReset(room.ID)
				that.publish(ctx, room.ID)
			}
		}

		return removed, nil
	})

	removed, _ := result.(int)

	return removed, err
}

// Close - stops pending auto resets. Rounds finished after Close are not restarted.
func (that *RoomManager) Close() {
	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	that.closed = true

	for roomID, pending := range that.timers {
		pending.timer.Stop()
		delete(that.timers, roomID)
	}
}

// listRooms - concurrent scans share one store round trip.
func (that *RoomManager) listRooms(ctx context.Context) ([]*entity.Room, error) {
	result, err, _ := that.scans.Do("list", func() (any, error) {
		return that.rooms.List(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms, _ := result.([]*entity.Room)

	return rooms, nil
}

// update - commits fn with compare-and-set, re-running it against fresh state on conflict.
func (that *RoomManager) update(ctx context.Context, roomID string, fn repository.UpdateFunc) (*entity.Room, error) {
	for attempt := 0; ; attempt++ {
		room, err := that.rooms.Update(ctx, roomID, fn)
		switch {
		case err == nil:
			that.afterCommit(ctx, room)
			return room, nil
		case errors.Is(err, repository.ErrNoChange):
			return room, nil
		}

		if !errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}

		if attempt >= maxConflictRetries {
			that.logger.Warn("giving up after conflicts", "method", "update", "room_id", roomID, "attempts", attempt+1)
			return nil, fmt.Errorf("%w: %w", apperror.ErrTransientFailure, err)
		}
	}
}

func (that *RoomManager) afterCommit(ctx context.Context, room *entity.Room) {
	switch {
	case room.IsEmpty():
		that.cancelAutoReset(room.ID)
	case room.Status.IsTerminal():
		that.scheduleAutoReset(room.ID, room.Version)
	}

	that.publish(ctx, room.ID)
}

func (that *RoomManager) publish(ctx context.Context, roomID string) {
	if err := that.feed.PublishRoom(ctx, roomID); err != nil {
		that.logger.Error("failed to publish room update", "room_id", roomID, "error", err)
	}
}

// scheduleAutoReset - restarts a finished round after the delay unless the room changed meanwhile.
func (that *RoomManager) scheduleAutoReset(roomID string, version int64) {
	delay := that.settings.AutoResetDelay
	if delay <= 0 {
		return
	}

	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	if that.closed {
		return
	}

	if pending, ok := that.timers[roomID]; ok {
		pending.timer.Stop()
	}

	that.timers[roomID] = autoResetTimer{
		timer: time.AfterFunc(delay, func() {
			that.autoReset(roomID, version)
		}),
		version: version,
	}
}

func (that *RoomManager) cancelAutoReset(roomID string) {
	that.timersMu.Lock()
	defer that.timersMu.Unlock()

	if pending, ok := that.timers[roomID]; ok {
		pending.timer.Stop()
		delete(that.timers, roomID)
	}
}

var errRoundChanged = errors.New("round changed since it ended")

func (that *RoomManager) autoReset(roomID string, version int64) {
	log := that.logger.With("method", "autoReset", "room_id", roomID)

	that.timersMu.Lock()
	if pending, ok := that.timers[roomID]; ok && pending.version == version {
		delete(that.timers, roomID)
	}
	that.timersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), autoResetTimeout)
	defer cancel()

	_, err := that.rooms.Update(ctx, roomID, func(room *entity.Room) error {
		if room.Version != version || !room.Status.IsTerminal() {
			return errRoundChanged
		}

		room.Restart(that.policy)

		return nil
	})

	switch {
	case err == nil:
		log.Debug("round restarted")
		that.publish(ctx, roomID)
	case errors.Is(err, errRoundChanged), errors.Is(err, apperror.ErrConflict), errors.Is(err, apperror.ErrRoomNotFound):
		// somebody acted first
	default:
		log.Error("failed to restart round", "error", err)
	}
}
