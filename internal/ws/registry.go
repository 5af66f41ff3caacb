package ws

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

type connSet map[*Connection]struct{}

// Registry tracks live connections and their room subscriptions. A single
// lock serializes membership changes and deliveries, so a recipient sees the
// broadcasts of a room in the order they were issued and no delivery reaches a
// connection once its removal has started.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	rooms       map[string]connSet
	users       map[string]connSet
	presence    *Presence
	logger      *zap.Logger
}

func NewRegistry(presence *Presence, logger *zap.Logger) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]connSet),
		users:       make(map[string]connSet),
		presence:    presence,
		logger:      logger,
	}
}

// Register adds an admitted connection and acquires presence for its user.
// Presence is taken before the connection becomes visible, so a concurrent
// Disconnect or eviction always releases a count that exists.
func (r *Registry) Register(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.closed {
		return false
	}
	if r.presence != nil {
		r.presence.Connect(c.user.ID)
	}
	r.connections[c.id] = c
	addToSet(r.users, c.user.ID, c)
	return true
}

// Join subscribes c to a room. Joining twice is a no-op and reports added=false.
func (r *Registry) Join(c *Connection, roomID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.closed {
		return false, ErrConnectionClosed
	}
	if _, ok := c.rooms[roomID]; ok {
		return false, nil
	}
	c.rooms[roomID] = struct{}{}
	addToSet(r.rooms, roomID, c)
	return true, nil
}

// Leave unsubscribes c from a room and reports whether it was a member.
func (r *Registry) Leave(c *Connection, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := c.rooms[roomID]; !ok {
		return false
	}
	delete(c.rooms, roomID)
	removeFromSet(r.rooms, roomID, c)
	return true
}

// Disconnect removes c from every room and index, closes its queue and
// releases presence. Only the first call has an effect.
func (r *Registry) Disconnect(c *Connection) ([]string, bool) {
	r.mu.Lock()
	if c.closed {
		r.mu.Unlock()
		return nil, false
	}
	rooms := r.removeLocked(c)
	r.mu.Unlock()

	if r.presence != nil {
		r.presence.Disconnect(c.user.ID)
	}
	return rooms, true
}

// CloseAll disconnects every connection, closes the sockets and returns the
// connections that were removed.
func (r *Registry) CloseAll() []*Connection {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		r.removeLocked(c)
		c.closeSocket()
		conns = append(conns, c)
	}
	r.mu.Unlock()

	if r.presence != nil {
		for _, c := range conns {
			r.presence.Disconnect(c.user.ID)
		}
	}
	return conns
}

func (r *Registry) removeLocked(c *Connection) []string {
	c.closed = true
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		removeFromSet(r.rooms, roomID, c)
		rooms = append(rooms, roomID)
	}
	c.rooms = make(map[string]struct{})
	removeFromSet(r.users, c.user.ID, c)
	delete(r.connections, c.id)
	close(c.send)
	sort.Strings(rooms)
	return rooms
}

// Broadcast delivers an event to every connection in a room except exclude
// and returns the number of connections it was queued for.
func (r *Registry) Broadcast(roomID, event string, payload interface{}, exclude *Connection) int {
	data, ok := r.encode(event, payload)
	if !ok {
		return 0
	}

	r.mu.Lock()
	delivered, evicted := 0, []*Connection(nil)
	for c := range r.rooms[roomID] {
		if c == exclude {
			continue
		}
		if r.enqueueLocked(c, data) {
			delivered++
		} else {
			evicted = append(evicted, c)
		}
	}
	r.mu.Unlock()

	r.releaseEvicted(evicted)
	return delivered
}

// SendToUser delivers an event to every connection of a user.
func (r *Registry) SendToUser(userID, event string, payload interface{}) int {
	data, ok := r.encode(event, payload)
	if !ok {
		return 0
	}

	r.mu.Lock()
	delivered, evicted := 0, []*Connection(nil)
	for c := range r.users[userID] {
		if r.enqueueLocked(c, data) {
			delivered++
		} else {
			evicted = append(evicted, c)
		}
	}
	r.mu.Unlock()

	r.releaseEvicted(evicted)
	return delivered
}

// SendTo delivers an event to a single connection.
func (r *Registry) SendTo(c *Connection, event string, payload interface{}) bool {
	data, ok := r.encode(event, payload)
	if !ok {
		return false
	}

	r.mu.Lock()
	if c.closed {
		r.mu.Unlock()
		return false
	}
	delivered := r.enqueueLocked(c, data)
	r.mu.Unlock()

	if !delivered {
		r.releaseEvicted([]*Connection{c})
	}
	return delivered
}

// enqueueLocked never blocks. A connection whose queue is full cannot keep
// up and is evicted so later events are never silently lost for it.
func (r *Registry) enqueueLocked(c *Connection, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
	}

	r.logger.Warn("evicting slow connection",
		zap.String("conn_id", c.id),
		zap.String("user_id", c.user.ID),
		zap.Int("queued", len(c.send)),
	)
	r.removeLocked(c)
	c.closeSocket()
	observability.IncWSEviction()
	return false
}

func (r *Registry) releaseEvicted(evicted []*Connection) {
	if r.presence == nil {
		return
	}
	for _, c := range evicted {
		r.presence.Disconnect(c.user.ID)
	}
}

func (r *Registry) encode(event string, payload interface{}) ([]byte, bool) {
	data, err := encodeEvent(event, payload)
	if err != nil {
		r.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (r *Registry) IsMember(c *Connection, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c.closed {
		return false
	}
	_, ok := c.rooms[roomID]
	return ok
}

// RoomUsers lists the distinct users with a connection subscribed to a room.
func (r *Registry) RoomUsers(roomID string) []models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	users := make([]models.User, 0, len(r.rooms[roomID]))
	for c := range r.rooms[roomID] {
		if _, ok := seen[c.user.ID]; ok {
			continue
		}
		seen[c.user.ID] = struct{}{}
		users = append(users, c.user.Summary())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (r *Registry) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// RoomCount is the number of rooms with at least one connection.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func addToSet(index map[string]connSet, key string, c *Connection) {
	set, ok := index[key]
	if !ok {
		set = make(connSet)
		index[key] = set
	}
	set[c] = struct{}{}
}

func removeFromSet(index map[string]connSet, key string, c *Connection) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}
