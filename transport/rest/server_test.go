package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

type mockRooms struct {
	mock.Mock
}

func (that *mockRooms) CreateRoom(ctx context.Context, creatorID string, mark entity.Mark) (*entity.Room, error) {
	args := that.Called(ctx, creatorID, mark)
	room, _ := args.Get(0).(*entity.Room)
	return room, args.Error(1)
}

func (that *mockRooms) JoinRoom(ctx context.Context, clientID, roomID string) (entity.Mark, error) {
	args := that.Called(ctx, clientID, roomID)
	mark, _ := args.Get(0).(entity.Mark)
	return mark, args.Error(1)
}

func (that *mockRooms) QuickJoin(ctx context.Context, clientID string) (string, entity.Mark, error) {
	args := that.Called(ctx, clientID)
	mark, _ := args.Get(1).(entity.Mark)
	return args.String(0), mark, args.Error(2)
}

func (that *mockRooms) ListRooms(ctx context.Context) ([]entity.RoomSummary, error) {
	args := that.Called(ctx)
	summaries, _ := args.Get(0).([]entity.RoomSummary)
	return summaries, args.Error(1)
}

func (that *mockRooms) GetRoom(ctx context.Context, roomID string) (*entity.RoomSnapshot, error) {
	args := that.Called(ctx, roomID)
	snapshot, _ := args.Get(0).(*entity.RoomSnapshot)
	return snapshot, args.Error(1)
}

func (that *mockRooms) MakeMove(ctx context.Context, clientID, roomID string, cell int) (*entity.Room, error) {
	args := that.Called(ctx, clientID, roomID, cell)
	room, _ := args.Get(0).(*entity.Room)
	return room, args.Error(1)
}

func (that *mockRooms) ResetRoom(ctx context.Context, clientID, roomID string) (*entity.Room, error) {
	args := that.Called(ctx, clientID, roomID)
	room, _ := args.Get(0).(*entity.Room)
	return room, args.Error(1)
}

func (that *mockRooms) LeaveRoom(ctx context.Context, clientID, roomID string) error {
	args := that.Called(ctx, clientID, roomID)
	return args.Error(0)
}

func (that *mockRooms) SendChat(ctx context.Context, clientID, roomID, text string) (*entity.ChatEntry, error) {
	args := that.Called(ctx, clientID, roomID, text)
	entry, _ := args.Get(0).(*entity.ChatEntry)
	return entry, args.Error(1)
}

func newTestServer() (*Server, *mockRooms) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rooms := &mockRooms{}
	return New(logger, rooms, "test-secret"), rooms
}

func doRequest(server *Server, method, path, clientID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if clientID != "" {
		req.Header.Set(clientIDHeader, clientID)
	}

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	return rec
}

func TestServer_Ping(t *testing.T) {
	server, _ := newTestServer()

	rec := doRequest(server, http.MethodGet, "/ping", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestServer_ClientIdentity(t *testing.T) {
	t.Run("Header id is passed through", func(t *testing.T) {
		server, rooms := newTestServer()
		rooms.On("ListRooms", mock.Anything).Return([]entity.RoomSummary{}, nil)

		rec := doRequest(server, http.MethodGet, "/rooms", "client-1", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("Cookie session issues and keeps an id", func(t *testing.T) {
		server, rooms := newTestServer()

		var seen []string
		rooms.On("QuickJoin", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { seen = append(seen, args.String(1)) }).
			Return("room-1", entity.MarkX, nil)

		// Given: a first request without identity
		first := doRequest(server, http.MethodPost, "/rooms/quick-join", "", "")
		require.Equal(t, http.StatusOK, first.Code)

		cookies := first.Result().Cookies()
		require.NotEmpty(t, cookies)

		// When: the same cookie comes back
		req := httptest.NewRequest(http.MethodPost, "/rooms/quick-join", nil)
		for _, cookie := range cookies {
			req.AddCookie(cookie)
		}
		second := httptest.NewRecorder()
		server.ServeHTTP(second, req)

		// Then: both requests act as the same client
		require.Equal(t, http.StatusOK, second.Code)
		require.Len(t, seen, 2)
		assert.NotEmpty(t, seen[0])
		assert.Equal(t, seen[0], seen[1])
	})
}

func TestServer_Rooms(t *testing.T) {
	t.Run("Create room", func(t *testing.T) {
		server, rooms := newTestServer()
		room := &entity.Room{ID: "room-1", Status: entity.StatusWaiting, PlayerX: "client-1", Version: 1}
		rooms.On("CreateRoom", mock.Anything, "client-1", entity.MarkX).Return(room, nil)

		rec := doRequest(server, http.MethodPost, "/rooms", "client-1", `{"mark":"X"}`)

		assert.Equal(t, http.StatusCreated, rec.Code)

		var got entity.Room
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "room-1", got.ID)
		assert.Equal(t, "client-1", got.PlayerX)
	})

	t.Run("Join room", func(t *testing.T) {
		server, rooms := newTestServer()
		rooms.On("JoinRoom", mock.Anything, "client-2", "room-1").Return(entity.MarkO, nil)

		rec := doRequest(server, http.MethodPost, "/rooms/room-1/join", "client-2", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"room_id":"room-1","mark":"O"}`, rec.Body.String())
	})

	t.Run("Move without a cell is rejected", func(t *testing.T) {
		server, rooms := newTestServer()

		rec := doRequest(server, http.MethodPost, "/rooms/room-1/moves", "client-1", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rooms.AssertNotCalled(t, "MakeMove", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Move on cell zero", func(t *testing.T) {
		server, rooms := newTestServer()
		rooms.On("MakeMove", mock.Anything, "client-1", "room-1", 0).
			Return(&entity.Room{ID: "room-1", Status: entity.StatusPlaying}, nil)

		rec := doRequest(server, http.MethodPost, "/rooms/room-1/moves", "client-1", `{"cell":0}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		rooms.AssertExpectations(t)
	})

	t.Run("Leave room", func(t *testing.T) {
		server, rooms := newTestServer()
		rooms.On("LeaveRoom", mock.Anything, "client-1", "room-1").Return(nil)

		rec := doRequest(server, http.MethodPost, "/rooms/room-1/leave", "client-1", "")

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("Get room snapshot", func(t *testing.T) {
		server, rooms := newTestServer()
		snapshot := &entity.RoomSnapshot{
			RoomID: "room-1",
			Room:   &entity.Room{ID: "room-1", Status: entity.StatusWaiting},
			Chat:   []*entity.ChatEntry{{ID: "1", SenderTag: "client", Text: "hi"}},
		}
		rooms.On("GetRoom", mock.Anything, "room-1").Return(snapshot, nil)

		rec := doRequest(server, http.MethodGet, "/rooms/room-1", "client-1", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"hi"`)
	})
}

func TestServer_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "Not found", err: apperror.ErrRoomNotFound, status: http.StatusNotFound},
		{name: "Not your turn", err: apperror.ErrNotYourTurn, status: http.StatusConflict},
		{name: "Occupied cell", err: apperror.ErrCellOccupied, status: http.StatusConflict},
		{name: "Invalid cell", err: apperror.ErrInvalidCell, status: http.StatusUnprocessableEntity},
		{name: "Not a participant", err: apperror.ErrNotAParticipant, status: http.StatusForbidden},
		{name: "Transient failure", err: apperror.ErrTransientFailure, status: http.StatusServiceUnavailable},
		{name: "Unknown error", err: assert.AnError, status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, rooms := newTestServer()
			rooms.On("MakeMove", mock.Anything, "client-1", "room-1", 4).Return(nil, tc.err)

			rec := doRequest(server, http.MethodPost, "/rooms/room-1/moves", "client-1", `{"cell":4}`)

			assert.Equal(t, tc.status, rec.Code)
		})
	}

	t.Run("Rate limited chat sets Retry-After", func(t *testing.T) {
		server, rooms := newTestServer()
		rooms.On("SendChat", mock.Anything, "client-1", "room-1", "hello").
			Return(nil, &apperror.RateLimitError{RetryAfter: 6500 * time.Millisecond})

		rec := doRequest(server, http.MethodPost, "/rooms/room-1/chat", "client-1", `{"text":"hello"}`)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "7", rec.Header().Get("Retry-After"))
	})
}
