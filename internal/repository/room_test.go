package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/testing/suite"
)

var testNow = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

type backend func(t *testing.T) (context.Context, RoomRepository, ChatRepository)

// backends - every test runs against both storage drivers.
func backends() map[string]backend {
	return map[string]backend{
		"redis": func(t *testing.T) (context.Context, RoomRepository, ChatRepository) {
			ctx, st := suite.NewRedis(t)
			return ctx, NewRoomRepository(st.Storage), NewChatRepository(st.Storage)
		},
		"sqlite": func(t *testing.T) (context.Context, RoomRepository, ChatRepository) {
			ctx, st := suite.NewSQLite(t)
			return ctx, NewSQLiteRoomRepository(st.Storage), NewSQLiteChatRepository(st.Storage)
		},
	}
}

func newTestRoom(t *testing.T, id, creator string, createdAt time.Time) *entity.Room {
	t.Helper()

	room, err := entity.NewRoom(id, creator, entity.MarkX, entity.DefaultPolicy(), createdAt)
	require.NoError(t, err)

	return room
}

func TestRoomRepository_CreateAndGet(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx, rooms, _ := setup(t)

			// Given: a new room
			room := newTestRoom(t, "room-1", "alice", testNow)

			// When: Create is called
			err := rooms.Create(ctx, room)
			require.NoError(t, err)

			// Then: the stored room matches and starts at version 1
			stored, err := rooms.GetByID(ctx, "room-1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), stored.Version)
			assert.Equal(t, "alice", stored.PlayerX)
			assert.Equal(t, entity.StatusWaiting, stored.Status)
			assert.True(t, testNow.Equal(stored.CreatedAt))

			// When: the same id is created twice
			err = rooms.Create(ctx, newTestRoom(t, "room-1", "bob", testNow))

			// Then: the second create conflicts
			require.ErrorIs(t, err, apperror.ErrConflict)
		})
	}
}

func TestRoomRepository_GetByID_NotFound(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx, rooms, _ := setup(t)

			// When: GetByID is called with non-existent ID
			room, err := rooms.GetByID(ctx, "9999999")

			// Then: an ErrRoomNotFound error should be returned
			require.ErrorIs(t, err, apperror.ErrRoomNotFound)
			assert.Nil(t, room)
		})
	}
}

func TestRoomRepository_Update(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name+"/applies transition", func(t *testing.T) {
			ctx, rooms, _ := setup(t)
			require.NoError(t, rooms.Create(ctx, newTestRoom(t, "room-1", "alice", testNow)))

			// When: bob joins through Update
			updated, err := rooms.Update(ctx, "room-1", func(room *entity.Room) error {
				_, joinErr := room.Join("bob", entity.DefaultPolicy())
				return joinErr
			})

			// Then: the new state is stored with a bumped version
			require.NoError(t, err)
			assert.Equal(t, int64(2), updated.Version)

			stored, err := rooms.GetByID(ctx, "room-1")
			require.NoError(t, err)
			assert.Equal(t, "bob", stored.PlayerO)
			assert.Equal(t, entity.StatusPlaying, stored.Status)
			assert.Equal(t, int64(2), stored.Version)
		})

		t.Run(name+"/rejected transition writes nothing", func(t *testing.T) {
			ctx, rooms, _ := setup(t)
			require.NoError(t, rooms.Create(ctx, newTestRoom(t, "room-1", "alice", testNow)))

			// When: the transition fails
			_, err := rooms.Update(ctx, "room-1", func(room *entity.Room) error {
				return room.MakeMove("alice", 0, testNow)
			})

			// Then: the error is returned and the room is untouched
			require.ErrorIs(t, err, apperror.ErrGameNotInProgress)

			stored, err := rooms.GetByID(ctx, "room-1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), stored.Version)
			assert.Equal(t, entity.Board{}, stored.Board)
		})

		t.Run(name+"/unchanged room is not written", func(t *testing.T) {
			ctx, rooms, _ := setup(t)
			require.NoError(t, rooms.Create(ctx, newTestRoom(t, "room-1", "alice", testNow)))

			// When: the transition reports there is nothing to do
			current, err := rooms.Update(ctx, "room-1", func(*entity.Room) error {
				return ErrNoChange
			})

			// Then: the stored room comes back with its version as it was
			require.ErrorIs(t, err, ErrNoChange)
			require.NotNil(t, current)
			assert.Equal(t, int64(1), current.Version)
			assert.Equal(t, "alice", current.PlayerX)

			stored, err := rooms.GetByID(ctx, "room-1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), stored.Version)
		})

		t.Run(name+"/concurrent write conflicts", func(t *testing.T) {
			ctx, rooms, _ := setup(t)
			require.NoError(t, rooms.Create(ctx, newTestRoom(t, "room-1", "alice", testNow)))

			// When: another writer commits while the first one is still deciding
			_, err := rooms.Update(ctx, "room-1", func(room *entity.Room) error {
				_, innerErr := rooms.Update(ctx, "room-1", func(inner *entity.Room) error {
					_, joinErr := inner.Join("carol", entity.DefaultPolicy())
					return joinErr
				})
				require.NoError(t, innerErr)

				_, joinErr := room.Join("bob", entity.DefaultPolicy())
				return joinErr
			})

			// Then: the slower writer gets a conflict and carol keeps the slot
			require.ErrorIs(t, err, apperror.ErrConflict)

			stored, err := rooms.GetByID(ctx, "room-1")
			require.NoError(t, err)
			assert.Equal(t, "carol", stored.PlayerO)
			assert.Equal(t, int64(2), stored.Version)
		})

		t.Run(name+"/last leave destroys the room", func(t *testing.T) {
			ctx, rooms, chat := setup(t)
			require.NoError(t, rooms.Create(ctx, newTestRoom(t, "room-1", "alice", testNow)))

			_, err := chat.Append(ctx, "room-1", entity.NewChatEntry("alice", "anyone?", testNow), 10*time.Second)
			require.NoError(t, err)

			// When: the only player leaves
			updated, err := rooms.Update(ctx, "room-1", func(room *entity.Room) error {
				return room.Leave("alice", entity.DefaultPolicy())
			})

			// Then: the room and its chat are gone
			require.NoError(t, err)
			assert.True(t, updated.IsEmpty())

			_, err = rooms.GetByID(ctx, "room-1")
			require.ErrorIs(t, err, apperror.ErrRoomNotFound)

			list, err := rooms.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			entries, err := chat.List(ctx, "room-1")
			require.NoError(t, err)
			assert.Empty(t, entries)
		})

		t.Run(name+"/missing room", func(t *testing.T) {
			ctx, rooms, _ := setup(t)

			_, err := rooms.Update(ctx, "nope", func(*entity.Room) error { return nil })

			require.ErrorIs(t, err, apperror.ErrRoomNotFound)
		})
	}
}

func TestRoomRepository_List(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx, rooms, _ := setup(t)

			// Given: rooms created out of order
			require.NoError(t, rooms.Create(ctx, newTestRoom(t, "room-b", "bob", testNow.Add(time.Minute))))
			require.NoError(t, rooms.Create(ctx, newTestRoom(t, "room-a", "alice", testNow)))
			require.NoError(t, rooms.Create(ctx, newTestRoom(t, "room-c", "carol", testNow.Add(2*time.Minute))))

			// When: listing rooms
			list, err := rooms.List(ctx)

			// Then: the oldest room comes first
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "room-a", list[0].ID)
			assert.Equal(t, "room-b", list[1].ID)
			assert.Equal(t, "room-c", list[2].ID)
		})
	}
}

func TestRoomRepository_DeleteIfEmpty(t *testing.T) {
	for name, setup := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx, rooms, _ := setup(t)

			// Given: an occupied room and an abandoned one
			require.NoError(t, rooms.Create(ctx, newTestRoom(t, "room-busy", "alice", testNow)))

			abandoned := newTestRoom(t, "room-empty", "bob", testNow)
			abandoned.PlayerX = ""
			require.NoError(t, rooms.Create(ctx, abandoned))

			// When: sweeping both
			busyDeleted, err := rooms.DeleteIfEmpty(ctx, "room-busy")
			require.NoError(t, err)
			emptyDeleted, err := rooms.DeleteIfEmpty(ctx, "room-empty")
			require.NoError(t, err)

			// Then: only the abandoned room is removed
			assert.False(t, busyDeleted)
			assert.True(t, emptyDeleted)

			list, err := rooms.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "room-busy", list[0].ID)

			missingDeleted, err := rooms.DeleteIfEmpty(ctx, "room-empty")
			require.NoError(t, err)
			assert.False(t, missingDeleted)
		})
	}
}
