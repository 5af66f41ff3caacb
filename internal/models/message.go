package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeSystem MessageType = "SYSTEM"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

var (
	ErrEmptyContent    = errors.New("content is empty")
	ErrContentTooLong  = errors.New("content exceeds maximum length")
	ErrUnknownType     = errors.New("unknown message type")
	ErrTargetAmbiguous = errors.New("exactly one of receiverId or chatRoomId is required")
)

// Message is a persisted chat message addressed to a user or to a room.
type Message struct {
	ID         string      `db:"id" json:"id"`
	Content    string      `db:"content" json:"content"`
	Type       MessageType `db:"type" json:"type"`
	SenderID   string      `db:"sender_id" json:"senderId"`
	ReceiverID *string     `db:"receiver_id" json:"receiverId,omitempty"`
	ChatRoomID *string     `db:"chat_room_id" json:"chatRoomId,omitempty"`
	IsRead     bool        `db:"is_read" json:"isRead"`
	CreatedAt  time.Time   `db:"created_at" json:"createdAt"`
	Sender     *User       `db:"-" json:"sender,omitempty"`
}

// NewMessage is a message that has not been persisted yet.
type NewMessage struct {
	Content    string
	Type       MessageType
	SenderID   string
	ReceiverID string
	ChatRoomID string
}

// Validate checks content, type and the receiver/room exclusivity.
func (m NewMessage) Validate(maxLength int) error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if maxLength > 0 && utf8.RuneCountInString(m.Content) > maxLength {
		return ErrContentTooLong
	}
	if !m.Type.Valid() {
		return ErrUnknownType
	}
	if (m.ReceiverID == "") == (m.ChatRoomID == "") {
		return ErrTargetAmbiguous
	}
	return nil
}

const (
	// maxEscapedRuneBytes is the longest JSON spelling of one rune: a
	// surrogate pair written as two \uXXXX escapes.
	maxEscapedRuneBytes    = 12
	sendFrameEnvelopeBytes = 4096
)

// MaxSendFrameBytes bounds the size of a send_message frame whose content
// passes Validate(maxLength), however the client escapes it.
func MaxSendFrameBytes(maxLength int) int64 {
	return int64(maxLength)*maxEscapedRuneBytes + sendFrameEnvelopeBytes
}

// IsDirect reports whether the message targets a single user.
func (m NewMessage) IsDirect() bool {
	return m.ReceiverID != ""
}
