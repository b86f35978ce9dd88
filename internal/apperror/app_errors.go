package apperror

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrNoAvailableRooms   = errors.New("no rooms with a free slot")
	ErrAlreadyInRoom      = errors.New("client already occupies a room")
	ErrNotAParticipant    = errors.New("client is not a participant of the room")
	ErrGameNotInProgress  = errors.New("game is not in progress")
	ErrNotYourTurn        = errors.New("it's not your turn")
	ErrCellOccupied       = errors.New("cell is already occupied")
	ErrInvalidCell        = errors.New("invalid cell index")
	ErrInvalidMark        = errors.New("invalid mark")
	ErrResetNotAllowedYet = errors.New("reset is not allowed while the game is in progress")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrMessageTooLong     = errors.New("message is too long")
	ErrRateLimited        = errors.New("rate limited")
	ErrConflict           = errors.New("concurrent modification")
	ErrTransientFailure   = errors.New("operation could not be applied, try again")
	ErrMissingClientID    = errors.New("client id is required")
	ErrUnknownTurnPolicy  = errors.New("unknown turn policy")
	ErrUnknownSlotPolicy  = errors.New("unknown slot policy")
)

// RateLimitError - returned when a chat sender writes again before the window passes.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (that *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, that.RetryAfter)
}

func (that *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
