package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHubJoinAnnouncesOnce(t *testing.T) {
	f := newFixture(t, Options{})
	a, b := f.connect("a"), f.connect("b")
	f.join(t, "r1", b)

	f.send(t, a, EventJoinChatRoom, map[string]string{"chatRoomId": "r1"})

	joined := drain(t, a)
	require.Len(t, joined, 1)
	assert.Equal(t, EventJoinedChatRoom, joined[0].Event)
	assert.Equal(t, "r1", decode[roomPayload](t, joined[0]).ChatRoomID)

	others := drain(t, b)
	require.Len(t, others, 1)
	assert.Equal(t, EventUserJoined, others[0].Event)
	assert.Equal(t, "a", decode[roomUserPayload](t, others[0]).User.ID)

	f.send(t, a, EventJoinChatRoom, map[string]string{"chatRoomId": "r1"})
	assert.Len(t, drain(t, a), 1)
	assert.Empty(t, drain(t, b))
	assert.Equal(t, 2, f.hub.Registry().RoomSize("r1"))
}

func TestHubLeave(t *testing.T) {
	f := newFixture(t, Options{})
	a, b := f.connect("a"), f.connect("b")
	f.join(t, "r1", a, b)

	f.send(t, a, EventLeaveChatRoom, map[string]string{"chatRoomId": "r1"})

	left := drain(t, a)
	require.Len(t, left, 1)
	assert.Equal(t, EventLeftChatRoom, left[0].Event)
	others := drain(t, b)
	require.Len(t, others, 1)
	assert.Equal(t, EventUserLeft, others[0].Event)

	f.send(t, a, EventLeaveChatRoom, map[string]string{"chatRoomId": "r1"})
	assert.Len(t, drain(t, a), 1)
	assert.Empty(t, drain(t, b))
}

func TestHubJoinWithoutRoomID(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.connect("a")

	f.send(t, a, EventJoinChatRoom, map[string]string{})

	assert.Equal(t, []string{"invalid chat room"}, errorMessages(t, drain(t, a)))
}

func TestHubJoinIsPermissiveByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.connect("a")

	f.send(t, a, EventJoinChatRoom, map[string]string{"chatRoomId": "r1"})

	assert.True(t, f.hub.Registry().IsMember(a, "r1"))
	f.rooms.AssertNotCalled(t, "CheckRoomMembership", mock.Anything, mock.Anything, mock.Anything)
}

func TestHubJoinVerifiesMembershipWhenEnabled(t *testing.T) {
	f := newFixture(t, Options{VerifyRoomMembership: true})
	a := f.connect("a")
	f.rooms.On("CheckRoomMembership", mock.Anything, "a", "r1").Return(true, nil).Once()
	f.rooms.On("CheckRoomMembership", mock.Anything, "a", "r2").Return(false, nil).Once()
	f.rooms.On("CheckRoomMembership", mock.Anything, "a", "r3").Return(false, errors.New("db down")).Once()

	f.send(t, a, EventJoinChatRoom, map[string]string{"chatRoomId": "r1"})
	f.send(t, a, EventJoinChatRoom, map[string]string{"chatRoomId": "r2"})
	f.send(t, a, EventJoinChatRoom, map[string]string{"chatRoomId": "r3"})

	registry := f.hub.Registry()
	assert.True(t, registry.IsMember(a, "r1"))
	assert.False(t, registry.IsMember(a, "r2"))
	assert.False(t, registry.IsMember(a, "r3"))
	assert.Equal(t, []string{"not a member", "not a member"}, errorMessages(t, drain(t, a)))
	f.rooms.AssertExpectations(t)
}

func TestHubReportsBadFrames(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.connect("a")

	f.hub.HandleFrame(context.Background(), a, []byte("{not json"))
	f.send(t, a, "delete_everything", map[string]string{})
	f.hub.HandleFrame(context.Background(), a, []byte(`{"event":"send_message","data":"oops"}`))

	assert.Equal(t,
		[]string{"invalid event payload", "unknown event", "invalid message data"},
		errorMessages(t, drain(t, a)),
	)
}

func TestHubRecoversFromHandlerPanic(t *testing.T) {
	f := newFixture(t, Options{})
	a, b := f.connect("a"), f.connect("b")
	f.join(t, "r1", a, b)
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(nil, nil).Once()

	require.NotPanics(t, func() {
		f.send(t, a, EventSendMessage, map[string]string{"content": "hi", "chatRoomId": "r1"})
	})

	assert.Equal(t, []string{"internal error"}, errorMessages(t, drain(t, a)))
	assert.Empty(t, drain(t, b))
	assert.True(t, f.hub.Registry().IsMember(b, "r1"))
}

func TestHubDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.connect("a")
	f.join(t, "r1", a)

	assert.True(t, f.hub.Disconnect(a))
	assert.False(t, f.hub.Disconnect(a))
	assert.False(t, f.hub.Registry().IsMember(a, "r1"))
	assert.False(t, f.hub.Presence().IsOnline("a"))
}

func TestHubDisconnectAfterEviction(t *testing.T) {
	f := newFixture(t, Options{SendBuffer: 1, TypingTimeout: time.Minute})
	a, b := f.connect("a"), f.connect("b")
	f.send(t, a, EventJoinChatRoom, map[string]string{"chatRoomId": "r1"})
	drain(t, a)
	f.send(t, b, EventJoinChatRoom, map[string]string{"chatRoomId": "r1"})
	drain(t, b)
	f.send(t, a, EventTypingStart, map[string]string{"chatRoomId": "r1"})
	drain(t, b)

	// a still holds the undrained user_joined frame, so the next delivery evicts it.
	f.hub.Registry().Broadcast("r1", "filler", nil, nil)
	drain(t, b)

	require.False(t, f.hub.Registry().IsMember(a, "r1"))
	assert.Equal(t, 1, f.hub.typing.Active())

	assert.True(t, f.hub.Disconnect(a))
	assert.False(t, f.hub.Disconnect(a))
	assert.Equal(t, 0, f.hub.typing.Active())

	frames := drain(t, b)
	require.Len(t, frames, 1)
	assert.False(t, decode[typingPayload](t, frames[0]).IsTyping)
}

func TestHubShutdownClosesEverything(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect("a")
	f.connect("b")

	assert.Equal(t, 2, f.hub.Shutdown())
	assert.Equal(t, 0, f.hub.Registry().ConnectionCount())
	assert.Equal(t, 0, f.hub.Presence().OnlineCount())
}

func TestHubStats(t *testing.T) {
	f := newFixture(t, Options{})
	a1, a2, b := f.connect("a"), f.connect("a"), f.connect("b")
	f.join(t, "r1", a1, b)
	f.join(t, "r2", a2)
	f.send(t, a1, EventTypingStart, map[string]string{"chatRoomId": "r1"})

	assert.Equal(t, Stats{Connections: 3, Rooms: 2, OnlineUsers: 2, Typing: 1}, f.hub.Stats())

	f.hub.Disconnect(a1)
	assert.Equal(t, Stats{Connections: 2, Rooms: 2, OnlineUsers: 2, Typing: 0}, f.hub.Stats())
}
