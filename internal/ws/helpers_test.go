package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fixture struct {
	hub      *Hub
	users    *mocks.UserRepositoryMock
	messages *mocks.MessageRepositoryMock
	rooms    *mocks.ChatRoomRepositoryMock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		users:    new(mocks.UserRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		rooms:    new(mocks.ChatRoomRepositoryMock),
	}
	presence := NewPresence(zap.NewNop())
	f.hub = NewHub(f.users, f.messages, f.rooms, presence, opts, zap.NewNop())
	t.Cleanup(func() { f.hub.Shutdown() })
	return f
}

func testUser(id string) models.User {
	return models.User{ID: id, Username: "user-" + id, Email: id + "@example.com"}
}

func (f *fixture) connect(userID string) *Connection {
	return f.hub.Connect(nil, testUser(userID), ConnInfo{ConnectedAt: time.Now()})
}

func (f *fixture) send(t *testing.T, c *Connection, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	require.NoError(t, err)
	f.hub.HandleFrame(context.Background(), c, raw)
}

func (f *fixture) join(t *testing.T, roomID string, conns ...*Connection) {
	t.Helper()
	for _, c := range conns {
		f.send(t, c, EventJoinChatRoom, map[string]string{"chatRoomId": roomID})
	}
	for _, c := range conns {
		drain(t, c)
	}
}

// drain returns every frame currently queued for c without blocking.
func drain(t *testing.T, c *Connection) []received {
	t.Helper()
	var out []received
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var r received
			require.NoError(t, json.Unmarshal(data, &r))
			out = append(out, r)
		default:
			return out
		}
	}
}

// next blocks until c receives a frame or the timeout passes.
func next(t *testing.T, c *Connection, timeout time.Duration) (received, bool) {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			return received{}, false
		}
		var r received
		require.NoError(t, json.Unmarshal(data, &r))
		return r, true
	case <-time.After(timeout):
		return received{}, false
	}
}

func named(frames []received, event string) []received {
	var out []received
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func decode[T any](t *testing.T, r received) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func errorMessages(t *testing.T, frames []received) []string {
	t.Helper()
	var out []string
	for _, f := range named(frames, EventError) {
		out = append(out, decode[errorPayload](t, f).Message)
	}
	return out
}
