package rest

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/pkg"
)

const (
	sessionName     = "session"
	clientIDKey     = "client_id"
	clientIDHeader  = "X-Client-ID"
	sessionLifetime = 24 * 60 * 60
)

// clientIdentity - resolves the caller's opaque client id from the X-Client-ID header or,
// failing that, from the cookie session, issuing a new id on first contact.
func clientIdentity(logger *slog.Logger) echo.MiddlewareFunc {
	log := logger.With("method", "clientIdentity")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if clientID := ctx.Request().Header.Get(clientIDHeader); clientID != "" {
				ctx.Set(clientIDKey, clientID)
				return next(ctx)
			}

			userSession, err := session.Get(sessionName, ctx)
			if err != nil {
				log.Error("failed to get session", "error", err)
				return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
			}

			clientID, ok := userSession.Values[clientIDKey].(string)
			if !ok || !pkg.IsValidID(clientID) {
				clientID = pkg.GenerateNewSessionID()
				userSession.Options = &sessions.Options{
					Path:     "/",
					MaxAge:   sessionLifetime,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				}
				userSession.Values[clientIDKey] = clientID

				if err = userSession.Save(ctx.Request(), ctx.Response()); err != nil {
					log.Error("failed to save session", "error", err)
					return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
				}

				log.Debug("new client session", "client_id", clientID)
			}

			ctx.Set(clientIDKey, clientID)

			return next(ctx)
		}
	}
}

func clientID(ctx echo.Context) string {
	id, _ := ctx.Get(clientIDKey).(string)
	return id
}
