// Package suite prepares the stores tests run against: a throwaway redis container and an
// in-memory sqlite database with the room schema.
package suite

import (
	"log/slog"
	"os"
	"time"
)

const maxWaitDuration = 120 * time.Second

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
