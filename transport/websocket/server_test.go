package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/feed"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/optimistic"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-rooms/testing/suite"
)

const readTimeout = 2 * time.Second

func newTestServer(t *testing.T) string {
	t.Helper()

	_, st := suite.NewSQLite(t)
	rooms := repository.NewSQLiteRoomRepository(st.Storage)
	chat := repository.NewSQLiteChatRepository(st.Storage)
	roomFeed := feed.New(st.Logger, feed.NewLocalBus(), rooms, chat)

	manager := usecase.NewRoomManager(st.Logger, rooms, chat, roomFeed, entity.DefaultPolicy(), usecase.Settings{
		RateLimitWindow:  10 * time.Second,
		MaxMessageLength: 100,
	})
	t.Cleanup(manager.Close)

	srv := httptest.NewServer(New(st.Logger, manager))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, url string) (*testClient, []string) {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	cookies := make([]string, 0, len(resp.Cookies()))
	for _, cookie := range resp.Cookies() {
		cookies = append(cookies, cookie.Name)
	}

	return &testClient{t: t, conn: conn}, cookies
}

func (that *testClient) send(action string, payload Payload) {
	that.t.Helper()

	body, err := encode(action, payload)
	require.NoError(that.t, err)
	require.NoError(that.t, that.conn.WriteMessage(websocket.TextMessage, body))
}

// expect - reads until a message for action that satisfies match arrives.
func (that *testClient) expect(action string, match func(Payload) bool) Payload {
	that.t.Helper()

	deadline := time.Now().Add(readTimeout)
	require.NoError(that.t, that.conn.SetReadDeadline(deadline))

	for {
		_, data, err := that.conn.ReadMessage()
		require.NoError(that.t, err, "waiting for %s", action)

		var msg Message
		require.NoError(that.t, json.Unmarshal(data, &msg))

		if msg.Action != action {
			continue
		}

		var payload Payload
		require.NoError(that.t, json.Unmarshal(msg.Payload, &payload))

		if match == nil || match(payload) {
			return payload
		}
	}
}

func anyPayload(Payload) bool { return true }

func isError(payload Payload) bool { return payload.Error != "" }

func (that *testClient) connect(clientID string) {
	that.t.Helper()

	that.send(actionConnect, Payload{ClientID: clientID})
	got := that.expect(actionConnect, nil)
	require.Equal(that.t, clientID, got.ClientID)
}

func TestServer_Session(t *testing.T) {
	url := newTestServer(t)

	// Given: a client without a session cookie
	client, cookies := dial(t, url)

	// Then: the handshake issues one
	assert.Contains(t, cookies, sessionCookie)

	// When: it connects without naming itself
	client.send(actionConnect, Payload{})

	// Then: it is told the id it was given
	got := client.expect(actionConnect, nil)
	assert.NotEmpty(t, got.ClientID)
}

func TestServer_Game(t *testing.T) {
	url := newTestServer(t)

	alice, _ := dial(t, url)
	alice.connect("alice")

	bob, _ := dial(t, url)
	bob.connect("bob")

	// Given: alice creates a room and bob joins it
	alice.send(actionRoomCreate, Payload{Mark: entity.MarkX})
	created := alice.expect(actionRoomCreate, nil)
	require.NotEmpty(t, created.RoomID)
	assert.Equal(t, entity.MarkX, created.Mark)
	roomID := created.RoomID

	bob.send(actionRoomJoin, Payload{RoomID: roomID})
	joined := bob.expect(actionRoomJoin, nil)
	assert.Equal(t, entity.MarkO, joined.Mark)

	playing := alice.expect(actionRoomUpdate, func(p Payload) bool {
		return p.Snapshot != nil && p.Snapshot.Room != nil && p.Snapshot.Room.Status == entity.StatusPlaying
	})

	predictor := optimistic.NewPredictor("alice")
	predictor.Reconcile(playing.Snapshot)

	// When: alice plays the center, showing it before the server answers
	cell := 4
	predicted, err := predictor.Predict(cell)
	require.NoError(t, err)
	assert.Equal(t, entity.MarkX, predicted.Board[4])

	alice.send(actionRoomMove, Payload{RoomID: roomID, Cell: &cell})
	moved := alice.expect(actionRoomMove, nil)
	assert.Equal(t, entity.MarkX, moved.Room.Board[4])

	confirmed := alice.expect(actionRoomUpdate, func(p Payload) bool {
		return p.Snapshot != nil && p.Snapshot.Room != nil && p.Snapshot.Room.Board[4] == entity.MarkX
	})
	predictor.Reconcile(confirmed.Snapshot)
	assert.Empty(t, predictor.Pending())

	// Then: bob sees it in a pushed snapshot
	update := bob.expect(actionRoomUpdate, func(p Payload) bool {
		return p.Snapshot != nil && p.Snapshot.Room != nil && p.Snapshot.Room.Board[4] == entity.MarkX
	})
	assert.Equal(t, entity.MarkO, update.Snapshot.Room.Turn)

	// When: alice tries to move again out of turn
	cell = 0
	alice.send(actionRoomMove, Payload{RoomID: roomID, Cell: &cell})

	// Then: alice gets an error for that action
	rejected := alice.expect(actionRoomMove, isError)
	assert.Contains(t, rejected.Error, "not your turn")
}

func TestServer_Chat(t *testing.T) {
	url := newTestServer(t)

	alice, _ := dial(t, url)
	alice.connect("alice")

	alice.send(actionRoomCreate, Payload{})
	roomID := alice.expect(actionRoomCreate, nil).RoomID

	// When: alice writes a message
	alice.send(actionRoomChat, Payload{RoomID: roomID, Text: "  hello  "})
	sent := alice.expect(actionRoomChat, nil)
	require.NotNil(t, sent.Entry)
	assert.Equal(t, "hello", sent.Entry.Text)

	// Then: it reaches subscribers
	alice.expect(actionRoomUpdate, func(p Payload) bool {
		return p.Snapshot != nil && len(p.Snapshot.Chat) == 1
	})

	// When: alice writes again right away
	alice.send(actionRoomChat, Payload{RoomID: roomID, Text: "again"})

	// Then: the second message is rate limited
	limited := alice.expect(actionRoomChat, isError)
	assert.Positive(t, limited.RetryAfterMS)
}

func TestServer_LeaveAndWatch(t *testing.T) {
	url := newTestServer(t)

	alice, _ := dial(t, url)
	alice.connect("alice")

	watcher, _ := dial(t, url)
	watcher.connect("watcher")
	watcher.send(actionRoomsWatch, Payload{})
	watcher.expect(actionRoomsUpdate, anyPayload)

	// Given: a room with a single player
	alice.send(actionRoomCreate, Payload{})
	roomID := alice.expect(actionRoomCreate, nil).RoomID

	watcher.expect(actionRoomsUpdate, func(p Payload) bool { return len(p.Rooms) == 1 })

	// When: the player leaves
	alice.send(actionRoomLeave, Payload{RoomID: roomID})
	alice.expect(actionRoomLeave, nil)

	// Then: the lobby no longer lists the room
	watcher.expect(actionRoomsUpdate, func(p Payload) bool { return len(p.Rooms) == 0 })
}

func TestServer_BadRequests(t *testing.T) {
	url := newTestServer(t)

	client, _ := dial(t, url)
	client.connect("carol")

	// Unknown action
	client.send("room:dance", Payload{})
	got := client.expect(actionUnknownRequest, isError)
	assert.Contains(t, got.Error, "unknown action")

	// Join without a room
	client.send(actionRoomJoin, Payload{})
	got = client.expect(actionRoomJoin, isError)
	assert.Equal(t, errMissingRoomID.Error(), got.Error)

	// Subscribe to a missing room
	client.send(actionRoomSubscribe, Payload{RoomID: "missing"})
	got = client.expect(actionRoomSubscribe, isError)
	assert.Contains(t, got.Error, "room not found")
}
