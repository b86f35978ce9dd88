package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

const (
	appendRoomMissing    = -1
	appendNotParticipant = -2
	appendRateLimited    = 0
	appendAccepted       = 1
)

// ChatRepository - per-room append-only chat log.
//
// Append checks the room, the sender's seat and the sender's rate limit and appends
// the entry as one atomic step. The entry's At is the time used for rate limiting.
type ChatRepository interface {
	Append(ctx context.Context, roomID string, entry *entity.ChatEntry, window time.Duration) (*entity.ChatEntry, error)
	List(ctx context.Context, roomID string) ([]*entity.ChatEntry, error)
}

// appendScript returns {status, retry_after_ms, entry_id}.
var appendScript = redis.NewScript(`
	local room = redis.call('GET', KEYS[1])
	if not room then
		return {-1, 0, ''}
	end

	local decoded = cjson.decode(room)
	local sender = ARGV[1]
	if decoded.player_x ~= sender and decoded.player_o ~= sender then
		return {-2, 0, ''}
	end

	local now = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])

	local last = redis.call('HGET', KEYS[3], sender)
	if last then
		local retry_after = tonumber(last) + window - now
		if retry_after > 0 then
			return {0, retry_after, ''}
		end
	end

	local id = redis.call('XADD', KEYS[2], '*',
		'sender_id', sender,
		'sender_tag', ARGV[4],
		'text', ARGV[5],
		'at', ARGV[2])
	redis.call('HSET', KEYS[3], sender, now)

	return {1, 0, id}
`)

type dbChat struct {
	client *redis.Client
}

func NewChatRepository(client *redis.Client) ChatRepository {
	return &dbChat{
		client: client,
	}
}

func chatKey(roomID string) string {
	return roomKey(roomID) + ":chat"
}

func chatRateKey(roomID string) string {
	return roomKey(roomID) + ":chat:rl"
}

func (that *dbChat) Append(
	ctx context.Context, roomID string, entry *entity.ChatEntry, window time.Duration,
) (*entity.ChatEntry, error) {
	nowMs := entry.At.UnixMilli()

	result, err := appendScript.Run(ctx, that.client,
		[]string{roomKey(roomID), chatKey(roomID), chatRateKey(roomID)},
		entry.SenderID,
		nowMs,
		window.Milliseconds(),
		entry.SenderTag,
		entry.Text,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to run chat append script: %w", err)
	}

	if len(result) < 3 {
		return nil, fmt.Errorf("unexpected result length: %d", len(result))
	}

	status, ok := result[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected type for status: %T", result[0])
	}

	retryAfterMs, ok := result[1].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected type for retry_after: %T", result[1])
	}

	switch status {
	case appendRoomMissing:
		return nil, fmt.Errorf("%w: %s", apperror.ErrRoomNotFound, roomID)
	case appendNotParticipant:
		return nil, apperror.ErrNotAParticipant
	case appendRateLimited:
		return nil, &apperror.RateLimitError{RetryAfter: time.Duration(retryAfterMs) * time.Millisecond}
	case appendAccepted:
	default:
		return nil, fmt.Errorf("unexpected chat append status: %d", status)
	}

	id, ok := result[2].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type for entry id: %T", result[2])
	}

	appended := *entry
	appended.ID = id
	appended.At = time.UnixMilli(nowMs).UTC()

	return &appended, nil
}

func (that *dbChat) List(ctx context.Context, roomID string) ([]*entity.ChatEntry, error) {
	messages, err := that.client.XRange(ctx, chatKey(roomID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat log: %w", err)
	}

	entries := make([]*entity.ChatEntry, 0, len(messages))
	for _, message := range messages {
		entry, err := chatEntryFromStream(message)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func chatEntryFromStream(message redis.XMessage) (*entity.ChatEntry, error) {
	field := func(name string) string {
		value, _ := message.Values[name].(string)
		return value
	}

	atMs, err := strconv.ParseInt(field("at"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chat entry %s time: %w", message.ID, err)
	}

	return &entity.ChatEntry{
		ID:        message.ID,
		SenderID:  field("sender_id"),
		SenderTag: field("sender_tag"),
		Text:      field("text"),
		At:        time.UnixMilli(atMs).UTC(),
	}, nil
}
