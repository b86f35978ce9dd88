package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	logger *slog.Logger
	echo   *echo.Echo
}

func New(logger *slog.Logger, rooms roomUseCase, sessionSecret string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(session.Middleware(sessions.NewCookieStore([]byte(sessionSecret))))

	ping := NewPingHandler()
	e.GET("/ping", ping.Ping)

	handler := newRoomHandler(logger, rooms)

	api := e.Group("/rooms", clientIdentity(logger))
	api.GET("", handler.List)
	api.POST("", handler.Create)
	api.POST("/quick-join", handler.QuickJoin)
	api.GET("/:id", handler.Get)
	api.POST("/:id/join", handler.Join)
	api.POST("/:id/moves", handler.Move)
	api.POST("/:id/reset", handler.Reset)
	api.POST("/:id/leave", handler.Leave)
	api.POST("/:id/chat", handler.Chat)

	return &Server{
		logger: logger.With("component", "rest"),
		echo:   e,
	}
}

// ServeHTTP - lets the server be mounted or tested as a plain handler.
func (that *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	that.echo.ServeHTTP(w, r)
}

func (that *Server) Start(port string) error {
	srv := &http.Server{
		Addr:         ":" + port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	if err := that.echo.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (that *Server) Shutdown(ctx context.Context) error {
	if err := that.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
