package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

const roomIndexKey = "rooms"

// ErrNoChange - returned by an UpdateFunc that left the room as it was.
var ErrNoChange = errors.New("nothing to change")

// UpdateFunc - a room transition. Returning an error aborts the write.
type UpdateFunc func(room *entity.Room) error

// RoomRepository - room storage with compare-and-set writes.
//
// Update applies fn to the current room and commits only if nobody else wrote the room in
// between, otherwise it returns apperror.ErrConflict. A room left with both slots empty is
// deleted together with its chat log; Update then returns the empty room. When fn returns
// ErrNoChange nothing is written and Update returns the stored room along with ErrNoChange.
type RoomRepository interface {
	Create(ctx context.Context, room *entity.Room) error
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	List(ctx context.Context) ([]*entity.Room, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*entity.Room, error)
	DeleteIfEmpty(ctx context.Context, id string) (bool, error)
}

type dbRoom struct {
	client *redis.Client
}

func NewRoomRepository(client *redis.Client) RoomRepository {
	return &dbRoom{
		client: client,
	}
}

func roomKey(id string) string {
	return "room:" + id
}

func (that *dbRoom) Create(ctx context.Context, room *entity.Room) error {
	room.Version = 1

	roomJSON, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("could not marshal room: %w", err)
	}

	var created *redis.BoolCmd
	_, err = that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, roomKey(room.ID), roomJSON, 0)
		pipe.SAdd(ctx, roomIndexKey, room.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	if !created.Val() {
		return fmt.Errorf("%w: room %s already exists", apperror.ErrConflict, room.ID)
	}

	return nil
}

func (that *dbRoom) GetByID(ctx context.Context, id string) (*entity.Room, error) {
	return getRoom(ctx, that.client, id)
}

func (that *dbRoom) List(ctx context.Context) ([]*entity.Room, error) {
	ids, err := that.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list room ids: %w", err)
	}

	if len(ids) == 0 {
		return []*entity.Room{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}

	values, err := that.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get rooms: %w", err)
	}

	rooms := make([]*entity.Room, 0, len(values))
	var stale []any

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// index entry outlived its room
			stale = append(stale, ids[i])
			continue
		}

		var room entity.Room
		if err = json.Unmarshal([]byte(raw), &room); err != nil {
			return nil, fmt.Errorf("failed to unmarshal room %s: %w", ids[i], err)
		}

		rooms = append(rooms, &room)
	}

	if len(stale) > 0 {
		if err = that.client.SRem(ctx, roomIndexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune room index: %w", err)
		}
	}

	sortRooms(rooms)

	return rooms, nil
}

func (that *dbRoom) Update(ctx context.Context, id string, fn UpdateFunc) (*entity.Room, error) {
	key := roomKey(id)

	var updated *entity.Room
	err := that.client.Watch(ctx, func(tx *redis.Tx) error {
		room, err := getRoom(ctx, tx, id)
		if err != nil {
			return err
		}

		if err = fn(room); err != nil {
			if errors.Is(err, ErrNoChange) {
				updated = room
			}
			return err
		}

		room.Version++

		roomJSON, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("could not marshal room: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if room.IsEmpty() {
				pipe.Del(ctx, key, chatKey(id), chatRateKey(id))
				pipe.SRem(ctx, roomIndexKey, id)
				return nil
			}

			pipe.Set(ctx, key, roomJSON, 0)
			return nil
		})
		if err != nil {
			return err //nolint: wrapcheck // TxFailedErr is matched below
		}

		updated = room

		return nil
	}, key)

	switch {
	case errors.Is(err, ErrNoChange):
		return updated, err
	case errors.Is(err, redis.TxFailedErr):
		return nil, fmt.Errorf("%w: room %s", apperror.ErrConflict, id)
	case err != nil:
		return nil, err
	}

	return updated, nil
}

func (that *dbRoom) DeleteIfEmpty(ctx context.Context, id string) (bool, error) {
	key := roomKey(id)

	deleted := false
	err := that.client.Watch(ctx, func(tx *redis.Tx) error {
		room, err := getRoom(ctx, tx, id)
		if errors.Is(err, apperror.ErrRoomNotFound) {
			return tx.SRem(ctx, roomIndexKey, id).Err()
		}

		if err != nil {
			return err
		}

		if !room.IsEmpty() {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, chatKey(id), chatRateKey(id))
			pipe.SRem(ctx, roomIndexKey, id)
			return nil
		})
		if err != nil {
			return err //nolint: wrapcheck // TxFailedErr is matched below
		}

		deleted = true

		return nil
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		// someone touched the room, so it is in use again
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to delete room %s: %w", id, err)
	}

	return deleted, nil
}

func getRoom(ctx context.Context, client redis.Cmdable, id string) (*entity.Room, error) {
	response, err := client.Get(ctx, roomKey(id)).Result()

	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", apperror.ErrRoomNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get room by id: %w", err)
	}

	var room entity.Room
	if err = json.Unmarshal([]byte(response), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	return &room, nil
}

// sortRooms - oldest first, so quick join fills the longest waiting room.
func sortRooms(rooms []*entity.Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}

		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
}
