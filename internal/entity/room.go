package entity

import (
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusDraw    Status = "draw"
	StatusXWon    Status = "X-won"
	StatusOWon    Status = "O-won"
)

func WonBy(mark Mark) Status {
	if mark == MarkO {
		return StatusOWon
	}

	return StatusXWon
}

func (that Status) IsTerminal() bool {
	return that == StatusDraw || that == StatusXWon || that == StatusOWon
}

// Move - the last applied move, kept for display only.
type Move struct {
	By   string    `json:"by"`
	Cell int       `json:"cell"`
	At   time.Time `json:"at"`
}

type Room struct {
	ID        string    `json:"id"`
	Board     Board     `json:"board"`
	Turn      Mark      `json:"turn"`
	Status    Status    `json:"status"`
	PlayerX   string    `json:"player_x,omitempty"`
	PlayerO   string    `json:"player_o,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastMove  *Move     `json:"last_move,omitempty"`

	// Version is bumped by the repository on every committed write.
	Version int64 `json:"version"`
}

// NewRoom - a waiting room with the creator in the slot of the given mark.
func NewRoom(id, creatorID string, mark Mark, policy Policy, now time.Time) (*Room, error) {
	if mark == MarkNone {
		mark = policy.SlotOrder()[0]
	}

	if !mark.IsPlayable() {
		return nil, fmt.Errorf("%w: %q", apperror.ErrInvalidMark, mark)
	}

	room := &Room{
		ID:        id,
		Turn:      policy.FirstTurn(),
		Status:    StatusWaiting,
		CreatedAt: now.UTC(),
	}
	room.setSlot(mark, creatorID)

	return room, nil
}

func (that *Room) Clone() *Room {
	clone := *that
	if that.LastMove != nil {
		lastMove := *that.LastMove
		clone.LastMove = &lastMove
	}

	return &clone
}

func (that *Room) MarkOf(clientID string) Mark {
	switch {
	case clientID == "":
		return MarkNone
	case that.PlayerX == clientID:
		return MarkX
	case that.PlayerO == clientID:
		return MarkO
	default:
		return MarkNone
	}
}

func (that *Room) IsParticipant(clientID string) bool {
	return that.MarkOf(clientID) != MarkNone
}

func (that *Room) Occupied() int {
	occupied := 0
	if that.PlayerX != "" {
		occupied++
	}

	if that.PlayerO != "" {
		occupied++
	}

	return occupied
}

func (that *Room) IsEmpty() bool {
	return that.Occupied() == 0
}

func (that *Room) HasFreeSlot() bool {
	return that.Occupied() < 2
}

func (that *Room) Summary() RoomSummary {
	return RoomSummary{ID: that.ID, Status: that.Status, Players: that.Occupied(), CreatedAt: that.CreatedAt}
}

// Join - seats the client in a free slot. Joining a room the client already sits in returns its mark.
func (that *Room) Join(clientID string, policy Policy) (Mark, error) {
	if mark := that.MarkOf(clientID); mark != MarkNone {
		return mark, nil
	}

	for _, mark := range policy.SlotOrder() {
		if that.slot(mark) != "" {
			continue
		}

		that.setSlot(mark, clientID)

		if that.Status == StatusWaiting && that.Occupied() == 2 {
			that.Status = StatusPlaying
		}

		return mark, nil
	}

	return MarkNone, apperror.ErrRoomFull
}

// MakeMove - applies a move or rejects it leaving the room untouched.
func (that *Room) MakeMove(clientID string, cell int, now time.Time) error {
	if that.Status != StatusPlaying {
		return fmt.Errorf("%w: room is %s", apperror.ErrGameNotInProgress, that.Status)
	}

	mark := that.MarkOf(clientID)
	if mark == MarkNone {
		return apperror.ErrNotAParticipant
	}

	if !that.Board.IsValidCell(cell) {
		return fmt.Errorf("%w: cell %d", apperror.ErrInvalidCell, cell)
	}

	if that.Turn != mark {
		return apperror.ErrNotYourTurn
	}

	if !that.Board.IsEmptyCell(cell) {
		return apperror.ErrCellOccupied
	}

	that.Board[cell] = mark
	that.LastMove = &Move{By: clientID, Cell: cell, At: now.UTC()}
	that.Turn = mark.Opponent()

	switch outcome := Evaluate(that.Board); outcome.Kind {
	case OutcomeWin:
		that.Status = WonBy(outcome.Winner)
	case OutcomeDraw:
		that.Status = StatusDraw
	case OutcomeNone:
	}

	return nil
}

// Reset - starts a new round. Only allowed after the round ended or while waiting for an opponent.
func (that *Room) Reset(clientID string, policy Policy) error {
	if !that.IsParticipant(clientID) {
		return apperror.ErrNotAParticipant
	}

	if !that.Status.IsTerminal() && that.Occupied() != 1 {
		return apperror.ErrResetNotAllowedYet
	}

	that.Restart(policy)

	return nil
}

// Restart - clears the round without any checks; used once a finished round times out.
func (that *Room) Restart(policy Policy) {
	that.clearRound(policy)

	if that.Occupied() == 2 {
		that.Status = StatusPlaying
	} else {
		that.Status = StatusWaiting
	}
}

// Leave - frees the client's slot. A remaining opponent wins by forfeit.
// When nobody is left the room is empty and must be destroyed by the caller.
func (that *Room) Leave(clientID string, policy Policy) error {
	mark := that.MarkOf(clientID)
	if mark == MarkNone {
		return apperror.ErrNotAParticipant
	}

	that.setSlot(mark, "")

	if that.slot(mark.Opponent()) != "" {
		that.clearRound(policy)
		that.Status = WonBy(mark.Opponent())

		return nil
	}

	that.clearRound(policy)
	that.Status = StatusWaiting

	return nil
}

func (that *Room) clearRound(policy Policy) {
	that.Board = Board{}
	that.LastMove = nil
	that.Turn = policy.FirstTurn()
}

func (that *Room) slot(mark Mark) string {
	if mark == MarkO {
		return that.PlayerO
	}

	return that.PlayerX
}

func (that *Room) setSlot(mark Mark, clientID string) {
	if mark == MarkO {
		that.PlayerO = clientID
		return
	}

	that.PlayerX = clientID
}
