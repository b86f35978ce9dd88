package entity

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
)

const senderTagLength = 6

type ChatEntry struct {
	// ID is assigned by the chat store and follows append order.
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	SenderTag string    `json:"sender_tag"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

func NewChatEntry(senderID, text string, now time.Time) *ChatEntry {
	return &ChatEntry{
		SenderID:  senderID,
		SenderTag: SenderTag(senderID),
		Text:      text,
		At:        now.UTC(),
	}
}

// SenderTag - short public handle derived from the client id.
func SenderTag(senderID string) string {
	if utf8.RuneCountInString(senderID) <= senderTagLength {
		return senderID
	}

	return string([]rune(senderID)[:senderTagLength])
}

// NormalizeChatText - trims the text and checks it against the length limit.
func NormalizeChatText(text string, maxLength int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperror.ErrEmptyMessage
	}

	if maxLength > 0 && utf8.RuneCountInString(text) > maxLength {
		return "", apperror.ErrMessageTooLong
	}

	return text, nil
}
