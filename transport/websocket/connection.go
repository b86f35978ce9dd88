package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
)

const (
	sendBufferSize = 16
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

var errMalformedPayload = errors.New("malformed payload")

// connection - one WebSocket peer. All writes go through send and the write pump.
type connection struct {
	logger *slog.Logger
	ws     *websocket.Conn
	send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	clientID string
	rooms    map[string]func()
	unwatch  func()
}

func newConnection(ctx context.Context, logger *slog.Logger, ws *websocket.Conn, clientID string) *connection {
	ctx, cancel := context.WithCancel(ctx)

	return &connection{
		logger:   logger.With("component", "websocket-connection"),
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		clientID: clientID,
		rooms:    make(map[string]func()),
	}
}

func (that *connection) ClientID() string {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.clientID
}

func (that *connection) setClientID(clientID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.clientID = clientID
}

// readPump - reads requests until the peer goes away, then releases every subscription.
func (that *connection) readPump(dispatch func(ctx context.Context, conn *connection, msg *Message)) {
	log := that.logger.With("method", "readPump")

	defer that.close()

	that.ws.SetReadLimit(maxMessageSize)
	_ = that.ws.SetReadDeadline(time.Now().Add(pongWait))
	that.ws.SetPongHandler(func(string) error {
		return that.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		<-that.ctx.Done()
		_ = that.ws.Close()
	}()

	for {
		_, data, err := that.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("error reading message", "error", err)
			}
			return
		}

		var msg Message
		if err = json.Unmarshal(data, &msg); err != nil {
			log.Debug("failed to unmarshal message", "error", err)
			that.sendError(actionUnknownRequest, errMalformedPayload)
			continue
		}

		dispatch(that.ctx, that, &msg)
	}
}

// writePump - the only writer on the socket.
func (that *connection) writePump() {
	log := that.logger.With("method", "writePump")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-that.ctx.Done():
			_ = that.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closed"), time.Now().Add(writeWait))
			return
		case data := <-that.send:
			_ = that.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := that.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("failed to write message", "error", err)
				that.cancel()
				return
			}
		case <-ticker.C:
			_ = that.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := that.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				that.cancel()
				return
			}
		}
	}
}

// sendMessage - queues a message, waiting while the buffer is full unless the connection is gone.
func (that *connection) sendMessage(action string, payload Payload) {
	data, err := encode(action, payload)
	if err != nil {
		that.logger.Error("failed to marshal message", "action", action, "error", err)
		return
	}

	select {
	case that.send <- data:
	case <-that.ctx.Done():
	}
}

func (that *connection) sendError(action string, err error) {
	payload := Payload{Error: err.Error()}

	var rlErr *apperror.RateLimitError
	if errors.As(err, &rlErr) {
		payload.RetryAfterMS = rlErr.RetryAfter.Milliseconds()
	}

	if !isClientError(err) {
		that.logger.Error("request failed", "action", action, "error", err)
		payload.Error = "internal error"
	}

	that.sendMessage(action, payload)
}

// subscribeRoom - remembers a room subscription. A second subscription to the same room is a no-op.
func (that *connection) subscribeRoom(roomID string, subscribe func() (func(), error)) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.rooms[roomID]; ok {
		return nil
	}

	unsubscribe, err := subscribe()
	if err != nil {
		return err
	}

	that.rooms[roomID] = unsubscribe

	return nil
}

func (that *connection) unsubscribeRoom(roomID string) {
	that.mu.Lock()
	unsubscribe, ok := that.rooms[roomID]
	delete(that.rooms, roomID)
	that.mu.Unlock()

	if ok {
		unsubscribe()
	}
}

// forgetRoom - drops a subscription that already ended on its own.
func (that *connection) forgetRoom(roomID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.rooms, roomID)
}

func (that *connection) watchRooms(watch func() (func(), error)) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.unwatch != nil {
		return nil
	}

	unwatch, err := watch()
	if err != nil {
		return err
	}

	that.unwatch = unwatch

	return nil
}

// close - stops the pumps and every subscription of the connection.
func (that *connection) close() {
	that.cancel()

	that.mu.Lock()
	subscriptions := make([]func(), 0, len(that.rooms)+1)
	for _, unsubscribe := range that.rooms {
		subscriptions = append(subscriptions, unsubscribe)
	}
	if that.unwatch != nil {
		subscriptions = append(subscriptions, that.unwatch)
	}
	that.rooms = make(map[string]func())
	that.unwatch = nil
	that.mu.Unlock()

	for _, unsubscribe := range subscriptions {
		unsubscribe()
	}

	that.logger.Info("WebSocket connection closed", "client_id", that.ClientID())
}

func isClientError(err error) bool {
	for _, target := range []error{
		errMalformedPayload,
		errMissingRoomID,
		errMissingCell,
		errUnknownAction,
		apperror.ErrRoomNotFound,
		apperror.ErrRoomFull,
		apperror.ErrNoAvailableRooms,
		apperror.ErrAlreadyInRoom,
		apperror.ErrNotAParticipant,
		apperror.ErrGameNotInProgress,
		apperror.ErrNotYourTurn,
		apperror.ErrCellOccupied,
		apperror.ErrInvalidCell,
		apperror.ErrInvalidMark,
		apperror.ErrResetNotAllowedYet,
		apperror.ErrEmptyMessage,
		apperror.ErrMessageTooLong,
		apperror.ErrRateLimited,
		apperror.ErrTransientFailure,
		apperror.ErrMissingClientID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
