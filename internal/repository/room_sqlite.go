package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

type sqliteRoom struct {
	conn *sql.DB
}

// NewSQLiteRoomRepository - rooms in sqlite, the version column is the compare-and-set token.
func NewSQLiteRoomRepository(conn *sql.DB) RoomRepository {
	return &sqliteRoom{
		conn: conn,
	}
}

func (that *sqliteRoom) Create(ctx context.Context, room *entity.Room) error {
	room.Version = 1

	roomJSON, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("could not marshal room: %w", err)
	}

	query := `INSERT INTO rooms (id, data, version, created_at) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`

	result, err := that.conn.ExecContext(ctx, query, room.ID, string(roomJSON), room.Version, room.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("can't save room: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: room %s already exists", apperror.ErrConflict, room.ID)
	}

	return nil
}

func (that *sqliteRoom) GetByID(ctx context.Context, id string) (*entity.Room, error) {
	query := `SELECT data, version FROM rooms WHERE id = ?`

	return scanRoom(that.conn.QueryRowContext(ctx, query, id), id)
}

func (that *sqliteRoom) List(ctx context.Context) ([]*entity.Room, error) {
	query := `SELECT data, version FROM rooms ORDER BY created_at, id`

	rows, err := that.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("can't list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []*entity.Room{}
	for rows.Next() {
		room, err := scanRoom(rows, "")
		if err != nil {
			return nil, err
		}

		rooms = append(rooms, room)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("can't list rooms: %w", err)
	}

	sortRooms(rooms)

	return rooms, nil
}

func (that *sqliteRoom) Update(ctx context.Context, id string, fn UpdateFunc) (*entity.Room, error) {
	room, err := that.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	expected := room.Version

	if err = fn(room); err != nil {
		if errors.Is(err, ErrNoChange) {
			return room, err
		}
		return nil, err
	}

	room.Version = expected + 1

	if room.IsEmpty() {
		if err = that.delete(ctx, id, expected); err != nil {
			return nil, err
		}

		return room, nil
	}

	roomJSON, err := json.Marshal(room)
	if err != nil {
		return nil, fmt.Errorf("could not marshal room: %w", err)
	}

	query := `UPDATE rooms SET data = ?, version = ? WHERE id = ? AND version = ?`

	result, err := that.conn.ExecContext(ctx, query, string(roomJSON), room.Version, id, expected)
	if err != nil {
		return nil, fmt.Errorf("can't update room: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("%w: room %s", apperror.ErrConflict, id)
	}

	return room, nil
}

func (that *sqliteRoom) DeleteIfEmpty(ctx context.Context, id string) (bool, error) {
	room, err := that.GetByID(ctx, id)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !room.IsEmpty() {
		return false, nil
	}

	err = that.delete(ctx, id, room.Version)
	if errors.Is(err, apperror.ErrConflict) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// delete - removes the room if its version is still expected; chat rows go with it.
func (that *sqliteRoom) delete(ctx context.Context, id string, expected int64) error {
	query := `DELETE FROM rooms WHERE id = ? AND version = ?`

	result, err := that.conn.ExecContext(ctx, query, id, expected)
	if err != nil {
		return fmt.Errorf("can't delete room: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: room %s", apperror.ErrConflict, id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner, id string) (*entity.Room, error) {
	var (
		data    string
		version int64
	)

	err := row.Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperror.ErrRoomNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("can't find room: %w", err)
	}

	var room entity.Room
	if err = json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	room.Version = version

	return &room, nil
}
