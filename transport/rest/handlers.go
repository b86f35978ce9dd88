package rest

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

type roomUseCase interface {
	CreateRoom(ctx context.Context, creatorID string, mark entity.Mark) (*entity.Room, error)
	JoinRoom(ctx context.Context, clientID, roomID string) (entity.Mark, error)
	QuickJoin(ctx context.Context, clientID string) (string, entity.Mark, error)
	ListRooms(ctx context.Context) ([]entity.RoomSummary, error)
	GetRoom(ctx context.Context, roomID string) (*entity.RoomSnapshot, error)
	MakeMove(ctx context.Context, clientID, roomID string, cell int) (*entity.Room, error)
	ResetRoom(ctx context.Context, clientID, roomID string) (*entity.Room, error)
	LeaveRoom(ctx context.Context, clientID, roomID string) error
	SendChat(ctx context.Context, clientID, roomID, text string) (*entity.ChatEntry, error)
}

type createRoomRequest struct {
	Mark entity.Mark `json:"mark"`
}

type moveRequest struct {
	Cell *int `json:"cell"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type joinResponse struct {
	RoomID string      `json:"room_id"`
	Mark   entity.Mark `json:"mark"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type roomHandler struct {
	logger *slog.Logger
	rooms  roomUseCase
}

func newRoomHandler(logger *slog.Logger, rooms roomUseCase) *roomHandler {
	return &roomHandler{
		logger: logger.With("component", "rest"),
		rooms:  rooms,
	}
}

func (that *roomHandler) List(ctx echo.Context) error {
	summaries, err := that.rooms.ListRooms(ctx.Request().Context())
	if err != nil {
		return that.fail(ctx, "List", err)
	}

	return ctx.JSON(http.StatusOK, summaries)
}

func (that *roomHandler) Create(ctx echo.Context) error {
	var req createRoomRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	room, err := that.rooms.CreateRoom(ctx.Request().Context(), clientID(ctx), req.Mark)
	if err != nil {
		return that.fail(ctx, "Create", err)
	}

	return ctx.JSON(http.StatusCreated, room)
}

func (that *roomHandler) QuickJoin(ctx echo.Context) error {
	roomID, mark, err := that.rooms.QuickJoin(ctx.Request().Context(), clientID(ctx))
	if err != nil {
		return that.fail(ctx, "QuickJoin", err)
	}

	return ctx.JSON(http.StatusOK, joinResponse{RoomID: roomID, Mark: mark})
}

func (that *roomHandler) Get(ctx echo.Context) error {
	snapshot, err := that.rooms.GetRoom(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return that.fail(ctx, "Get", err)
	}

	return ctx.JSON(http.StatusOK, snapshot)
}

func (that *roomHandler) Join(ctx echo.Context) error {
	roomID := ctx.Param("id")

	mark, err := that.rooms.JoinRoom(ctx.Request().Context(), clientID(ctx), roomID)
	if err != nil {
		return that.fail(ctx, "Join", err)
	}

	return ctx.JSON(http.StatusOK, joinResponse{RoomID: roomID, Mark: mark})
}

func (that *roomHandler) Move(ctx echo.Context) error {
	var req moveRequest
	if err := ctx.Bind(&req); err != nil || req.Cell == nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "cell is required"})
	}

	room, err := that.rooms.MakeMove(ctx.Request().Context(), clientID(ctx), ctx.Param("id"), *req.Cell)
	if err != nil {
		return that.fail(ctx, "Move", err)
	}

	return ctx.JSON(http.StatusOK, room)
}

func (that *roomHandler) Reset(ctx echo.Context) error {
	room, err := that.rooms.ResetRoom(ctx.Request().Context(), clientID(ctx), ctx.Param("id"))
	if err != nil {
		return that.fail(ctx, "Reset", err)
	}

	return ctx.JSON(http.StatusOK, room)
}

func (that *roomHandler) Leave(ctx echo.Context) error {
	if err := that.rooms.LeaveRoom(ctx.Request().Context(), clientID(ctx), ctx.Param("id")); err != nil {
		return that.fail(ctx, "Leave", err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

func (that *roomHandler) Chat(ctx echo.Context) error {
	var req chatRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	entry, err := that.rooms.SendChat(ctx.Request().Context(), clientID(ctx), ctx.Param("id"), req.Text)
	if err != nil {
		return that.fail(ctx, "Chat", err)
	}

	return ctx.JSON(http.StatusCreated, entry)
}

func (that *roomHandler) fail(ctx echo.Context, method string, err error) error {
	status := statusFor(err)

	var rlErr *apperror.RateLimitError
	if errors.As(err, &rlErr) {
		seconds := int(math.Ceil(rlErr.RetryAfter.Seconds()))
		ctx.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	if status == http.StatusInternalServerError {
		that.logger.Error("request failed", "method", method, "error", err)
		return ctx.JSON(status, errorResponse{Error: "Internal Server Error"})
	}

	return ctx.JSON(status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrRoomNotFound),
		errors.Is(err, apperror.ErrNoAvailableRooms):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrRoomFull),
		errors.Is(err, apperror.ErrAlreadyInRoom),
		errors.Is(err, apperror.ErrNotYourTurn),
		errors.Is(err, apperror.ErrCellOccupied),
		errors.Is(err, apperror.ErrGameNotInProgress),
		errors.Is(err, apperror.ErrResetNotAllowedYet):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrNotAParticipant):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrInvalidCell),
		errors.Is(err, apperror.ErrInvalidMark),
		errors.Is(err, apperror.ErrEmptyMessage),
		errors.Is(err, apperror.ErrMessageTooLong),
		errors.Is(err, apperror.ErrMissingClientID):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperror.ErrTransientFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
