package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/config"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/feed"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository/storage/sqlite"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-rooms/transport/rest"
	"github.com/rocketscienceinc/tictactoe-rooms/transport/websocket"
)

const shutdownTimeout = 10 * time.Second

var ErrAddrNotFound = errors.New("redis address string is empty")

// backend - the stores and the bus of one storage driver.
type backend struct {
	rooms repository.RoomRepository
	chat  repository.ChatRepository
	bus   feed.Bus
	close func()
}

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := entity.NewPolicy(conf.Room.TurnPolicy, conf.Room.SlotPolicy)
	if err != nil {
		return fmt.Errorf("invalid room policy: %w", err)
	}

	store, err := openBackend(ctx, logger, conf)
	if err != nil {
		return err
	}
	defer store.close()

	roomFeed := feed.New(logger, store.bus, store.rooms, store.chat)
	manager := usecase.NewRoomManager(logger, store.rooms, store.chat, roomFeed, policy, usecase.Settings{
		RateLimitWindow:  conf.Chat.RateLimitWindow,
		MaxMessageLength: conf.Chat.MaxLength,
		AutoResetDelay:   conf.Room.AutoResetDelay,
	})
	defer manager.Close()

	janitor := usecase.NewJanitor(logger, manager, conf.Janitor.Interval, conf.Janitor.MinSpacing)
	restServer := rest.New(logger, manager, conf.SessionSecret)
	wsServer := websocket.New(logger, manager)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		janitor.Run(groupCtx)
		return nil
	})

	// run HTTP server
	group.Go(func() error {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := restServer.Start(conf.HTTPPort); httpErr != nil {
			return fmt.Errorf("HTTP server error: %w", httpErr)
		}
		return nil
	})

	// run Websocket server
	group.Go(func() error {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		if wsErr := wsServer.Start(groupCtx, conf.SocketPort); wsErr != nil {
			return fmt.Errorf("WebSocket server error: %w", wsErr)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("Application context canceled, shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(restServer.Shutdown(shutdownCtx), wsServer.Shutdown(shutdownCtx))
	})

	return group.Wait()
}

func openBackend(ctx context.Context, logger *slog.Logger, conf *config.Config) (*backend, error) {
	log := logger.With("component", "app")

	switch conf.Storage.Driver {
	case config.DriverSQLite:
		sqliteStorage, err := sqlite.New(conf.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("could not open sqlite storage: %w", err)
		}

		if err = sqliteStorage.Init(ctx); err != nil {
			_ = sqliteStorage.Close()
			return nil, fmt.Errorf("could not init sqlite storage: %w", err)
		}

		return &backend{
			rooms: repository.NewSQLiteRoomRepository(sqliteStorage.Connection),
			chat:  repository.NewSQLiteChatRepository(sqliteStorage.Connection),
			bus:   feed.NewLocalBus(),
			close: func() {
				if err := sqliteStorage.Close(); err != nil {
					log.Error("could not close sqlite storage", "error", err)
				}
			},
		}, nil
	default:
		redisAddrString := conf.Redis.GetRedisAddr()
		if redisAddrString == "" {
			return nil, ErrAddrNotFound
		}

		redisStorage, err := storage.NewRedis(ctx, redisAddrString)
		if err != nil {
			return nil, fmt.Errorf("could not connect to redis storage: %w", err)
		}

		return &backend{
			rooms: repository.NewRoomRepository(redisStorage),
			chat:  repository.NewChatRepository(redisStorage),
			bus:   feed.NewRedisBus(logger, redisStorage),
			close: func() {
				if err := redisStorage.Close(); err != nil {
					log.Error("could not close redis storage", "error", err)
				}
			},
		}, nil
	}
}
