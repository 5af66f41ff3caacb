package ws

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-realtime/internal/observability"
)

type typingKey struct {
	chatRoomID string
	receiverID string
	userID     string
}

func (k typingKey) scope() TypingScope {
	return TypingScope{ChatRoomID: k.chatRoomID, ReceiverID: k.receiverID}
}

type typingEntry struct {
	conn  *Connection
	timer *time.Timer
	gen   uint64
}

// Typing holds the ephemeral "is typing" state per (scope, user). An indicator
// ends on stop, on expiry after the timeout, or when its connection goes away;
// each of those broadcasts isTyping=false.
type Typing struct {
	mu       sync.Mutex
	entries  map[typingKey]*typingEntry
	gen      uint64
	timeout  time.Duration
	registry *Registry
	logger   *zap.Logger
}

func NewTyping(registry *Registry, timeout time.Duration, logger *zap.Logger) *Typing {
	return &Typing{
		entries:  make(map[typingKey]*typingEntry),
		timeout:  timeout,
		registry: registry,
		logger:   logger,
	}
}

// Start broadcasts isTyping=true and arms or re-arms the expiry timer.
func (t *Typing) Start(c *Connection, scope TypingScope) error {
	if err := scope.validate(); err != nil {
		return err
	}
	key := typingKey{chatRoomID: scope.ChatRoomID, receiverID: scope.ReceiverID, userID: c.user.ID}

	t.mu.Lock()
	if prev, ok := t.entries[key]; ok {
		prev.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.entries[key] = &typingEntry{
		conn:  c,
		gen:   gen,
		timer: time.AfterFunc(t.timeout, func() { t.expire(key, gen) }),
	}
	active := len(t.entries)
	t.mu.Unlock()

	observability.SetTypingActive(active)
	t.emit(c, scope, true)
	return nil
}

// Stop clears the indicator and broadcasts isTyping=false.
func (t *Typing) Stop(c *Connection, scope TypingScope) error {
	if err := scope.validate(); err != nil {
		return err
	}
	key := typingKey{chatRoomID: scope.ChatRoomID, receiverID: scope.ReceiverID, userID: c.user.ID}

	t.mu.Lock()
	if e, ok := t.entries[key]; ok {
		e.timer.Stop()
		delete(t.entries, key)
	}
	active := len(t.entries)
	t.mu.Unlock()

	observability.SetTypingActive(active)
	t.emit(c, scope, false)
	return nil
}

func (t *Typing) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	active := len(t.entries)
	t.mu.Unlock()

	observability.SetTypingActive(active)
	t.emit(e.conn, key.scope(), false)
}

// ClearConnection ends every indicator owned by c.
func (t *Typing) ClearConnection(c *Connection) int {
	t.mu.Lock()
	var cleared []typingKey
	for key, e := range t.entries {
		if e.conn != c {
			continue
		}
		e.timer.Stop()
		delete(t.entries, key)
		cleared = append(cleared, key)
	}
	active := len(t.entries)
	t.mu.Unlock()

	observability.SetTypingActive(active)
	for _, key := range cleared {
		t.emit(c, key.scope(), false)
	}
	return len(cleared)
}

// Close stops every timer without broadcasting.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
	observability.SetTypingActive(0)
}

func (t *Typing) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Typing) emit(c *Connection, scope TypingScope, isTyping bool) {
	payload := typingPayload{
		User:       c.user.Summary(),
		IsTyping:   isTyping,
		ChatRoomID: scope.ChatRoomID,
		ReceiverID: scope.ReceiverID,
	}
	if scope.ChatRoomID != "" {
		t.registry.Broadcast(scope.ChatRoomID, EventUserTyping, payload, c)
		return
	}
	t.registry.SendToUser(scope.ReceiverID, EventUserTyping, payload)
}
