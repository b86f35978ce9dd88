package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

type sqliteChat struct {
	conn *sql.DB
}

func NewSQLiteChatRepository(conn *sql.DB) ChatRepository {
	return &sqliteChat{
		conn: conn,
	}
}

func (that *sqliteChat) Append(
	ctx context.Context, roomID string, entry *entity.ChatEntry, window time.Duration,
) (*entity.ChatEntry, error) {
	tx, err := that.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("can't begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint: errcheck // no-op after commit

	room, err := scanRoom(tx.QueryRowContext(ctx, `SELECT data, version FROM rooms WHERE id = ?`, roomID), roomID)
	if err != nil {
		return nil, err
	}

	if !room.IsParticipant(entry.SenderID) {
		return nil, apperror.ErrNotAParticipant
	}

	nowMs := entry.At.UnixMilli()

	var lastMs int64
	err = tx.QueryRowContext(ctx,
		`SELECT last_at FROM chat_rate WHERE room_id = ? AND sender_id = ?`, roomID, entry.SenderID,
	).Scan(&lastMs)

	switch {
	case err == nil:
		if retryAfter := lastMs + window.Milliseconds() - nowMs; retryAfter > 0 {
			return nil, &apperror.RateLimitError{RetryAfter: time.Duration(retryAfter) * time.Millisecond}
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("can't read chat rate: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO chat_entries (room_id, sender_id, sender_tag, text, at) VALUES (?, ?, ?, ?, ?)`,
		roomID, entry.SenderID, entry.SenderTag, entry.Text, nowMs,
	)
	if err != nil {
		return nil, fmt.Errorf("can't save chat entry: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("can't read chat entry id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_rate (room_id, sender_id, last_at) VALUES (?, ?, ?)
		ON CONFLICT (room_id, sender_id) DO UPDATE SET last_at = excluded.last_at`,
		roomID, entry.SenderID, nowMs,
	)
	if err != nil {
		return nil, fmt.Errorf("can't save chat rate: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("can't commit chat entry: %w", err)
	}

	appended := *entry
	appended.ID = strconv.FormatInt(seq, 10)
	appended.At = time.UnixMilli(nowMs).UTC()

	return &appended, nil
}

func (that *sqliteChat) List(ctx context.Context, roomID string) ([]*entity.ChatEntry, error) {
	query := `SELECT seq, sender_id, sender_tag, text, at FROM chat_entries WHERE room_id = ? ORDER BY seq`

	rows, err := that.conn.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("can't read chat log: %w", err)
	}
	defer rows.Close()

	entries := []*entity.ChatEntry{}
	for rows.Next() {
		var (
			entry entity.ChatEntry
			seq   int64
			atMs  int64
		)

		if err = rows.Scan(&seq, &entry.SenderID, &entry.SenderTag, &entry.Text, &atMs); err != nil {
			return nil, fmt.Errorf("can't scan chat entry: %w", err)
		}

		entry.ID = strconv.FormatInt(seq, 10)
		entry.At = time.UnixMilli(atMs).UTC()
		entries = append(entries, &entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("can't read chat log: %w", err)
	}

	return entries, nil
}
