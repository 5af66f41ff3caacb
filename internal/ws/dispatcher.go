package ws

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

// Dispatcher runs the send flow: validate, authorize, persist, then fan out.
type Dispatcher struct {
	registry  *Registry
	users     repositories.UserRepository
	messages  repositories.MessageRepository
	maxLength int
	tracer    trace.Tracer
	logger    *zap.Logger
}

func NewDispatcher(registry *Registry, users repositories.UserRepository, messages repositories.MessageRepository, maxLength int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		users:     users,
		messages:  messages,
		maxLength: maxLength,
		tracer:    otel.Tracer("chat-realtime/ws"),
		logger:    logger,
	}
}

// Send persists a message from c and delivers it. Nothing is delivered unless
// the write succeeded.
func (d *Dispatcher) Send(ctx context.Context, c *Connection, req SendMessageRequest) (models.Message, error) {
	ctx, span := d.tracer.Start(ctx, "message.send")
	defer span.End()

	draft := models.NewMessage{
		Content:    req.Content,
		Type:       req.Type,
		SenderID:   c.user.ID,
		ReceiverID: req.ReceiverID,
		ChatRoomID: req.ChatRoomID,
	}
	if draft.Type == "" {
		draft.Type = models.MessageTypeText
	}
	if err := draft.Validate(d.maxLength); err != nil {
		return models.Message{}, wrapErr(ErrInvalidMessage, err)
	}

	scope := "room"
	if draft.IsDirect() {
		scope = "direct"
	}
	span.SetAttributes(
		attribute.String("chat.scope", scope),
		attribute.String("chat.sender_id", draft.SenderID),
	)

	if !draft.IsDirect() && !d.registry.IsMember(c, draft.ChatRoomID) {
		return models.Message{}, ErrNotMember
	}
	if draft.IsDirect() {
		if _, err := d.users.FindUser(ctx, draft.ReceiverID); err != nil {
			if errors.Is(err, repositories.ErrUserNotFound) {
				return models.Message{}, ErrReceiverNotFound
			}
			span.RecordError(err)
			return models.Message{}, wrapErr(ErrSendFailed, err)
		}
	}

	msg, err := d.messages.CreateMessage(ctx, draft)
	if err != nil {
		observability.IncMessagePersistFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist message")
		d.logger.Error("persist message failed",
			zap.String("conn_id", c.id),
			zap.String("user_id", c.user.ID),
			zap.Error(err),
		)
		return models.Message{}, wrapErr(ErrSendFailed, err)
	}
	if msg.Sender == nil {
		sender := c.user.Summary()
		msg.Sender = &sender
	}
	span.SetAttributes(attribute.String("chat.message_id", msg.ID))

	if draft.IsDirect() {
		d.registry.SendToUser(draft.ReceiverID, EventNewMessage, newMessagePayload{Message: msg, ReceiverID: draft.ReceiverID})
		d.registry.SendTo(c, EventMessageSent, messageSentPayload{Message: msg})
	} else {
		d.registry.Broadcast(draft.ChatRoomID, EventNewMessage, newMessagePayload{Message: msg, ChatRoomID: draft.ChatRoomID}, nil)
	}
	observability.IncMessageSent(scope)
	d.publishCreated(ctx, c, msg, scope, span)

	return msg, nil
}

func (d *Dispatcher) publishCreated(ctx context.Context, c *Connection, msg models.Message, scope string, span trace.Span) {
	headers := observability.BuildHeaders(c.info.RequestID, span.SpanContext().TraceID().String())
	err := observability.PublishEvent(ctx, observability.RoutingMessageCreated, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: "message_created",
		Payload: map[string]interface{}{
			"message_id":   msg.ID,
			"scope":        scope,
			"sender_id":    msg.SenderID,
			"receiver_id":  msg.ReceiverID,
			"chat_room_id": msg.ChatRoomID,
			"type":         msg.Type,
			"created_at":   msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}, headers)
	if err != nil {
		d.logger.Warn("publish message_created failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// MarkRead marks messages addressed to c's user as read and tells the sender.
func (d *Dispatcher) MarkRead(ctx context.Context, c *Connection, req MarkReadRequest) (int64, error) {
	count, err := d.messages.MarkMessagesRead(ctx, c.user.ID, req.ChatRoomID, req.SenderID)
	if err != nil {
		d.logger.Error("mark messages read failed", zap.String("user_id", c.user.ID), zap.Error(err))
		return 0, wrapErr(ErrMarkReadFailed, err)
	}

	if req.SenderID != "" {
		d.registry.SendToUser(req.SenderID, EventMessagesRead, messagesReadPayload{
			Reader:     c.user.Summary(),
			Count:      count,
			ChatRoomID: req.ChatRoomID,
		})
	}
	return count, nil
}
