package ws

import (
	"bytes"
	"encoding/json"

	"chat-realtime/internal/models"
)

// Client to server events.
const (
	EventJoinChatRoom     = "join_chat_room"
	EventLeaveChatRoom    = "leave_chat_room"
	EventSendMessage      = "send_message"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventMarkMessagesRead = "mark_messages_read"
)

// Server to client events.
const (
	EventJoinedChatRoom = "joined_chat_room"
	EventLeftChatRoom   = "left_chat_room"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventNewMessage     = "new_message"
	EventMessageSent    = "message_sent"
	EventUserTyping     = "user_typing"
	EventMessagesRead   = "messages_read"
	EventError          = "error"
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type SendMessageRequest struct {
	Content    string             `json:"content"`
	Type       models.MessageType `json:"type"`
	ReceiverID string             `json:"receiverId"`
	ChatRoomID string             `json:"chatRoomId"`
}

// TypingScope addresses a typing indicator to a room or to a single user.
type TypingScope struct {
	ChatRoomID string `json:"chatRoomId"`
	ReceiverID string `json:"receiverId"`
}

func (s TypingScope) validate() error {
	if (s.ChatRoomID == "") == (s.ReceiverID == "") {
		return ErrInvalidTyping
	}
	return nil
}

type MarkReadRequest struct {
	ChatRoomID string `json:"chatRoomId"`
	SenderID   string `json:"senderId"`
}

// inboundEvent is one decoded client frame.
type inboundEvent interface {
	name() string
}

type joinRoomEvent struct {
	ChatRoomID string `json:"chatRoomId"`
}

type leaveRoomEvent struct {
	ChatRoomID string `json:"chatRoomId"`
}

type sendMessageEvent struct {
	SendMessageRequest
}

type typingEvent struct {
	TypingScope
	start bool
}

type markReadEvent struct {
	MarkReadRequest
}

func (joinRoomEvent) name() string    { return EventJoinChatRoom }
func (leaveRoomEvent) name() string   { return EventLeaveChatRoom }
func (sendMessageEvent) name() string { return EventSendMessage }
func (markReadEvent) name() string    { return EventMarkMessagesRead }

func (e typingEvent) name() string {
	if e.start {
		return EventTypingStart
	}
	return EventTypingStop
}

func decodeInbound(raw []byte) (inboundEvent, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, wrapErr(ErrInvalidPayload, err)
	}
	data := bytes.TrimSpace(frame.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}

	switch frame.Event {
	case EventJoinChatRoom:
		var ev joinRoomEvent
		err := decodeData(data, &ev, ErrInvalidRoom)
		return ev, err
	case EventLeaveChatRoom:
		var ev leaveRoomEvent
		err := decodeData(data, &ev, ErrInvalidRoom)
		return ev, err
	case EventSendMessage:
		var ev sendMessageEvent
		err := decodeData(data, &ev.SendMessageRequest, ErrInvalidMessage)
		return ev, err
	case EventTypingStart, EventTypingStop:
		ev := typingEvent{start: frame.Event == EventTypingStart}
		err := decodeData(data, &ev.TypingScope, ErrInvalidTyping)
		return ev, err
	case EventMarkMessagesRead:
		var ev markReadEvent
		err := decodeData(data, &ev.MarkReadRequest, ErrInvalidPayload)
		return ev, err
	default:
		return nil, ErrUnknownEvent
	}
}

func decodeData(data []byte, v interface{}, onErr *Error) error {
	if err := json.Unmarshal(data, v); err != nil {
		return wrapErr(onErr, err)
	}
	return nil
}

func encodeEvent(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: event, Data: payload})
}

type roomPayload struct {
	ChatRoomID string `json:"chatRoomId"`
}

type roomUserPayload struct {
	User       models.User `json:"user"`
	ChatRoomID string      `json:"chatRoomId"`
}

type newMessagePayload struct {
	Message    models.Message `json:"message"`
	ChatRoomID string         `json:"chatRoomId,omitempty"`
	ReceiverID string         `json:"receiverId,omitempty"`
}

type messageSentPayload struct {
	Message models.Message `json:"message"`
}

type typingPayload struct {
	User       models.User `json:"user"`
	IsTyping   bool        `json:"isTyping"`
	ChatRoomID string      `json:"chatRoomId,omitempty"`
	ReceiverID string      `json:"receiverId,omitempty"`
}

type messagesReadPayload struct {
	Reader     models.User `json:"reader"`
	Count      int64       `json:"count"`
	ChatRoomID string      `json:"chatRoomId,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}
