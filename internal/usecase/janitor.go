package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

type sweeperDep interface {
	SweepEmptyRooms(ctx context.Context) (int, error)
	WatchRooms(ctx context.Context, onUpdate func([]entity.RoomSummary)) (func(), error)
}

// Janitor - removes rooms nobody sits in. Sweeps run on a timer and whenever the room list
// shows an empty room, but never closer together than minSpacing. A request that comes too
// soon is held and served once the spacing has passed.
type Janitor struct {
	logger  *slog.Logger
	sweeper sweeperDep

	interval   time.Duration
	minSpacing time.Duration

	trigger chan struct{}
	now     func() time.Time
}

func NewJanitor(logger *slog.Logger, sweeper sweeperDep, interval, minSpacing time.Duration) *Janitor {
	return &Janitor{
		logger:     logger.With("component", "janitor"),
		sweeper:    sweeper,
		interval:   interval,
		minSpacing: minSpacing,
		trigger:    make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Trigger - asks for a sweep soon. Never blocks.
func (that *Janitor) Trigger() {
	select {
	case that.trigger <- struct{}{}:
	default:
	}
}

// Run - sweeps until ctx is done.
func (that *Janitor) Run(ctx context.Context) {
	log := that.logger.With("method", "Run")

	unwatch, err := that.sweeper.WatchRooms(ctx, func(summaries []entity.RoomSummary) {
		for _, summary := range summaries {
			if summary.Players == 0 {
				that.Trigger()
				return
			}
		}
	})
	if err != nil {
		log.Error("failed to watch rooms, falling back to the timer", "error", err)
	} else {
		defer unwatch()
	}

	ticker := time.NewTicker(that.interval)
	defer ticker.Stop()

	var (
		lastSweep time.Time
		deferred  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stopped")
			return
		case <-ticker.C:
		case <-that.trigger:
		case <-deferred:
			deferred = nil
		}

		if !lastSweep.IsZero() {
			if wait := that.minSpacing - that.now().Sub(lastSweep); wait > 0 {
				// too soon, sweep once the spacing has passed
				if deferred == nil {
					deferred = time.After(wait)
				}
				continue
			}
		}

		deferred = nil
		lastSweep = that.now()

		removed, err := that.sweeper.SweepEmptyRooms(ctx)
		if err != nil {
			log.Error("sweep failed", "error", err)
			continue
		}

		if removed > 0 {
			log.Info("removed empty rooms", "count", removed)
		}
	}
}
