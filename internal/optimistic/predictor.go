// Package optimistic keeps a client's speculative view of a room.
//
// Moves are applied locally the moment they are sent so the board can be shown without
// waiting for the server. The speculative state is never treated as committed: every
// snapshot from the room feed replaces the confirmed state, and pending moves are replayed
// on top of it. A pending move that no longer applies has either been committed or
// refused, and is dropped.
//
// The server never imports this package. It is meant for Go clients of the room API that
// embed it next to their feed subscription.
package optimistic

import (
	"errors"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

var ErrNoRoom = errors.New("no confirmed room state")

type Predictor struct {
	clientID string
	now      func() time.Time

	mu        sync.Mutex
	confirmed *entity.RoomSnapshot
	pending   []int
}

func NewPredictor(clientID string) *Predictor {
	return &Predictor{clientID: clientID, now: time.Now}
}

// Predict - applies the move to the current view and remembers it until the server answers.
// The move is checked with the same rules the server uses, so a refused prediction is
// refused with the same error.
func (that *Predictor) Predict(cell int) (*entity.Room, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	view := that.view()
	if view == nil {
		return nil, ErrNoRoom
	}

	if err := view.MakeMove(that.clientID, cell, that.now()); err != nil {
		return nil, err
	}

	that.pending = append(that.pending, cell)

	return view, nil
}

// Reconcile - takes a snapshot from the feed as the new confirmed state.
// Snapshots older than the confirmed one are ignored.
func (that *Predictor) Reconcile(snapshot *entity.RoomSnapshot) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.confirmed != nil && !snapshot.Dominates(that.confirmed) {
		return
	}

	that.confirmed = snapshot

	if snapshot.Deleted {
		that.pending = nil
		return
	}

	room := snapshot.Room.Clone()
	kept := that.pending[:0]

	for _, cell := range that.pending {
		if err := room.MakeMove(that.clientID, cell, that.now()); err != nil {
			continue
		}

		kept = append(kept, cell)
	}

	that.pending = kept
}

// Reject - drops a pending move the server refused.
func (that *Predictor) Reject(cell int) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for i, pending := range that.pending {
		if pending == cell {
			that.pending = append(that.pending[:i], that.pending[i+1:]...)
			return
		}
	}
}

// View - the confirmed room with pending moves replayed on top, nil before the first snapshot
// and after the room is deleted.
func (that *Predictor) View() *entity.Room {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.view()
}

// Confirmed - the last snapshot taken from the feed.
func (that *Predictor) Confirmed() *entity.RoomSnapshot {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.confirmed
}

func (that *Predictor) Pending() []int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return append([]int(nil), that.pending...)
}

func (that *Predictor) view() *entity.Room {
	if that.confirmed == nil || that.confirmed.Deleted {
		return nil
	}

	room := that.confirmed.Room.Clone()
	for _, cell := range that.pending {
		_ = room.MakeMove(that.clientID, cell, that.now())
	}

	return room
}
