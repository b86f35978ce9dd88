package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/pkg"
)

const (
	sessionCookie   = "user_session"
	sessionLifetime = 24 * time.Hour
)

type roomUseCase interface {
	CreateRoom(ctx context.Context, creatorID string, mark entity.Mark) (*entity.Room, error)
	JoinRoom(ctx context.Context, clientID, roomID string) (entity.Mark, error)
	QuickJoin(ctx context.Context, clientID string) (string, entity.Mark, error)
	ListRooms(ctx context.Context) ([]entity.RoomSummary, error)
	WatchRooms(ctx context.Context, onUpdate func([]entity.RoomSummary)) (func(), error)
	MakeMove(ctx context.Context, clientID, roomID string, cell int) (*entity.Room, error)
	ResetRoom(ctx context.Context, clientID, roomID string) (*entity.Room, error)
	LeaveRoom(ctx context.Context, clientID, roomID string) error
	SendChat(ctx context.Context, clientID, roomID, text string) (*entity.ChatEntry, error)
	SubscribeRoom(ctx context.Context, roomID string, onUpdate func(*entity.RoomSnapshot)) (func(), error)
}

type handlerFunc func(ctx context.Context, conn *connection, payload *Payload) error

type Server struct {
	logger   *slog.Logger
	rooms    roomUseCase
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu  sync.Mutex
	srv *http.Server

	handlers map[string]handlerFunc
}

func New(logger *slog.Logger, rooms roomUseCase) *Server {
	server := &Server{
		logger: logger.With("component", "websocket"),
		rooms:  rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mux:      http.NewServeMux(),
		handlers: make(map[string]handlerFunc),
	}

	server.handlers[actionConnect] = server.handleConnect
	server.handlers[actionRoomsList] = server.handleListRooms
	server.handlers[actionRoomsWatch] = server.handleWatchRooms
	server.handlers[actionRoomCreate] = server.handleCreateRoom
	server.handlers[actionRoomJoin] = server.handleJoinRoom
	server.handlers[actionRoomQuickJoin] = server.handleQuickJoin
	server.handlers[actionRoomSubscribe] = server.handleSubscribe
	server.handlers[actionRoomUnsub] = server.handleUnsubscribe
	server.handlers[actionRoomMove] = server.handleMove
	server.handlers[actionRoomReset] = server.handleReset
	server.handlers[actionRoomLeave] = server.handleLeave
	server.handlers[actionRoomChat] = server.handleChat

	server.mux.HandleFunc("/ws", server.upgradeToWebSocket)

	return server
}

func (that *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	that.mux.ServeHTTP(w, r)
}

// Start - starts WebSocket server. Connections live until the peer goes away or ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	that.mu.Lock()
	that.srv = srv
	that.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (that *Server) Shutdown(ctx context.Context) error {
	that.mu.Lock()
	srv := that.srv
	that.mu.Unlock()

	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

// upgradeToWebSocket - upgrades the connection and serves it until it closes.
func (that *Server) upgradeToWebSocket(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "upgradeToWebSocket")

	clientID, header := that.sessionClientID(req)

	ws, err := that.upgrader.Upgrade(writer, req, header)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	conn := newConnection(req.Context(), that.logger, ws, clientID)
	log.Info("WebSocket connection established", "client_id", clientID)

	go conn.writePump()
	conn.readPump(that.dispatch)
}

// sessionClientID - the client id from the session cookie, or a new one with the cookie to set.
func (that *Server) sessionClientID(req *http.Request) (string, http.Header) {
	cookie, err := req.Cookie(sessionCookie)
	if err == nil && pkg.IsValidID(cookie.Value) {
		return cookie.Value, nil
	}

	cookie = &http.Cookie{
		Name:     sessionCookie,
		Value:    pkg.GenerateNewSessionID(),
		Expires:  time.Now().Add(sessionLifetime),
		Path:     "/ws",
		HttpOnly: true,
	}

	header := http.Header{}
	header.Add("Set-Cookie", cookie.String())

	that.logger.Debug("session cookie not found, new one created", "client_id", cookie.Value)

	return cookie.Value, header
}

func (that *Server) dispatch(ctx context.Context, conn *connection, msg *Message) {
	log := that.logger.With("method", "dispatch", "action", msg.Action)

	handler, ok := that.handlers[msg.Action]
	if !ok {
		conn.sendError(actionUnknownRequest, fmt.Errorf("%w %q", errUnknownAction, msg.Action))
		return
	}

	var payload Payload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			conn.sendError(msg.Action, errMalformedPayload)
			return
		}
	}

	if err := handler(ctx, conn, &payload); err != nil {
		log.Debug("request rejected", "client_id", conn.ClientID(), "error", err)
		conn.sendError(msg.Action, err)
	}
}
