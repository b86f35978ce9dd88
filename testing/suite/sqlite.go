package suite

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository/storage/sqlite"
)

type SQLiteSuite struct {
	*testing.T
	Logger *slog.Logger

	Storage *sql.DB
}

// NewSQLite - a fresh in-memory database with the schema applied.
func NewSQLite(t *testing.T) (context.Context, *SQLiteSuite) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), maxWaitDuration)
	t.Cleanup(func() {
		cancel()
	})

	storage, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("could not open sqlite: %v", err)
	}

	if err = storage.Init(ctx); err != nil {
		t.Fatalf("could not init sqlite schema: %v", err)
	}

	t.Cleanup(func() {
		if err = storage.Close(); err != nil {
			t.Errorf("could not close sqlite: %v", err)
		}
	})

	return ctx, &SQLiteSuite{
		T:       t,
		Logger:  newLogger(),
		Storage: storage.Connection,
	}
}
