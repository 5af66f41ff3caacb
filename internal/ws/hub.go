package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

// Options tunes the realtime core.
type Options struct {
	SendBuffer           int
	MaxFrameBytes        int64
	MaxMessageLength     int
	TypingTimeout        time.Duration
	RateLimitPerSecond   float64
	RateLimitBurst       int
	VerifyRoomMembership bool
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = 10000
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 256 * 1024
	}
	if floor := o.maxEventBytes(); o.MaxFrameBytes < floor {
		o.MaxFrameBytes = floor
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 3 * time.Second
	}
	if o.RateLimitPerSecond <= 0 {
		o.RateLimitPerSecond = 10
	}
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = 20
	}
	return o
}

// maxEventBytes is the largest frame handled as an event. Larger frames up to
// MaxFrameBytes are answered with an error; beyond that the socket is closed.
func (o Options) maxEventBytes() int64 {
	return models.MaxSendFrameBytes(o.MaxMessageLength)
}

// Hub wires the registry, presence, typing and dispatch together and turns
// inbound events into calls on them.
type Hub struct {
	registry   *Registry
	presence   *Presence
	typing     *Typing
	dispatcher *Dispatcher
	rooms      repositories.ChatRoomRepository
	opts       Options
	logger     *zap.Logger
}

func NewHub(
	users repositories.UserRepository,
	messages repositories.MessageRepository,
	rooms repositories.ChatRoomRepository,
	presence *Presence,
	opts Options,
	logger *zap.Logger,
) *Hub {
	opts = opts.withDefaults()
	registry := NewRegistry(presence, logger)
	return &Hub{
		registry:   registry,
		presence:   presence,
		typing:     NewTyping(registry, opts.TypingTimeout, logger),
		dispatcher: NewDispatcher(registry, users, messages, opts.MaxMessageLength, logger),
		rooms:      rooms,
		opts:       opts,
		logger:     logger,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Presence() *Presence {
	return h.presence
}

// Stats is a point-in-time view of the realtime state.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	OnlineUsers int `json:"onlineUsers"`
	Typing      int `json:"typing"`
}

func (h *Hub) Stats() Stats {
	s := Stats{
		Connections: h.registry.ConnectionCount(),
		Rooms:       h.registry.RoomCount(),
		Typing:      h.typing.Active(),
	}
	if h.presence != nil {
		s.OnlineUsers = h.presence.OnlineCount()
	}
	return s
}

// Connect registers an admitted user's socket. conn may be nil in tests.
func (h *Hub) Connect(conn *websocket.Conn, user models.User, info ConnInfo) *Connection {
	c := newConnection(conn, user, info, h.opts, h.logger)
	h.registry.Register(c)
	observability.IncWSActive()
	c.logger.Debug("connection registered")
	return c
}

// Disconnect tears down c: registry and presence first, then typing. It
// reports whether this call did the teardown; repeated calls and calls for a
// connection the registry already evicted are safe.
func (h *Hub) Disconnect(c *Connection) bool {
	rooms, _ := h.registry.Disconnect(c)
	done := false
	c.teardown.Do(func() {
		h.typing.ClearConnection(c)
		observability.DecWSActive()
		c.logger.Debug("connection removed", zap.Strings("rooms", rooms))
		done = true
	})
	return done
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() int {
	conns := h.registry.CloseAll()
	for _, c := range conns {
		h.Disconnect(c)
	}
	h.typing.Close()
	return len(conns)
}

// HandleFrame decodes and handles one raw client frame. A panicking handler is
// reported to this connection only.
func (h *Hub) HandleFrame(ctx context.Context, c *Connection, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("event handler panic", zap.Any("panic", rec))
			h.replyError(c, wrapErr(ErrInternal, fmt.Errorf("panic: %v", rec)))
		}
	}()

	ev, err := decodeInbound(raw)
	if err != nil {
		observability.IncWSEvent("unknown", "error")
		h.replyError(c, err)
		return
	}
	h.HandleEvent(ctx, c, ev)
}

// HandleEvent runs one inbound event. Any failure becomes an error event on c.
func (h *Hub) HandleEvent(ctx context.Context, c *Connection, ev inboundEvent) {
	if err := h.dispatch(ctx, c, ev); err != nil {
		observability.IncWSEvent(ev.name(), "error")
		h.replyError(c, err)
		return
	}
	observability.IncWSEvent(ev.name(), "ok")
}

func (h *Hub) dispatch(ctx context.Context, c *Connection, ev inboundEvent) error {
	switch e := ev.(type) {
	case joinRoomEvent:
		return h.join(ctx, c, e.ChatRoomID)
	case leaveRoomEvent:
		return h.leave(c, e.ChatRoomID)
	case sendMessageEvent:
		_, err := h.dispatcher.Send(ctx, c, e.SendMessageRequest)
		return err
	case typingEvent:
		if e.start {
			return h.typing.Start(c, e.TypingScope)
		}
		return h.typing.Stop(c, e.TypingScope)
	case markReadEvent:
		_, err := h.dispatcher.MarkRead(ctx, c, e.MarkReadRequest)
		return err
	default:
		return ErrUnknownEvent
	}
}

func (h *Hub) join(ctx context.Context, c *Connection, roomID string) error {
	if roomID == "" {
		return ErrInvalidRoom
	}
	if h.opts.VerifyRoomMembership && h.rooms != nil {
		member, err := h.rooms.CheckRoomMembership(ctx, c.user.ID, roomID)
		if err != nil {
			return wrapErr(ErrNotMember, err)
		}
		if !member {
			return ErrNotMember
		}
	}

	added, err := h.registry.Join(c, roomID)
	if err != nil {
		return err
	}
	h.registry.SendTo(c, EventJoinedChatRoom, roomPayload{ChatRoomID: roomID})
	if added {
		h.registry.Broadcast(roomID, EventUserJoined, roomUserPayload{User: c.user.Summary(), ChatRoomID: roomID}, c)
	}
	return nil
}

func (h *Hub) leave(c *Connection, roomID string) error {
	if roomID == "" {
		return ErrInvalidRoom
	}
	removed := h.registry.Leave(c, roomID)
	h.registry.SendTo(c, EventLeftChatRoom, roomPayload{ChatRoomID: roomID})
	if removed {
		h.registry.Broadcast(roomID, EventUserLeft, roomUserPayload{User: c.user.Summary(), ChatRoomID: roomID}, c)
	}
	return nil
}

func (h *Hub) replyError(c *Connection, err error) {
	fields := []zap.Field{zap.String("conn_id", c.id), zap.String("user_id", c.user.ID), zap.Error(err)}
	switch errorKind(err) {
	case KindInternal, KindPersistence:
		h.logger.Error("event failed", fields...)
	default:
		h.logger.Debug("event rejected", fields...)
	}
	h.registry.SendTo(c, EventError, errorPayload{Message: clientMessage(err)})
}
