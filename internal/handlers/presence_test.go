package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/middleware"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
)

type fakePresence map[string]int

func (p fakePresence) IsOnline(userID string) bool       { return p[userID] > 0 }
func (p fakePresence) ConnectionCount(userID string) int { return p[userID] }

type fakeRooms map[string][]models.User

func (r fakeRooms) RoomUsers(roomID string) []models.User { return r[roomID] }

type fakeStatuses map[string]models.UserStatus

func (s fakeStatuses) GetStatus(_ context.Context, userID string) (models.UserStatus, bool, error) {
	status, ok := s[userID]
	return status, ok, nil
}

func setupPresenceRouter(handler *PresenceHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		c.Next()
	})
	r.GET("/users/:user_id/presence", handler.GetUserPresence)
	r.GET("/chat-rooms/:chat_room_id/online", handler.ListOnline)
	return r
}

func TestGetUserPresence(t *testing.T) {
	handler := NewPresenceHandler(fakePresence{"u2": 2}, fakeRooms{}, new(mocks.ChatRoomRepositoryMock), nil, zap.NewNop())
	router := setupPresenceRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/users/u2/presence", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "u2", resp["userId"])
	assert.Equal(t, true, resp["online"])
	assert.Equal(t, float64(2), resp["connections"])
}

func TestGetUserPresenceIncludesLastSeen(t *testing.T) {
	lastSeen := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	statuses := fakeStatuses{"u2": {Online: false, LastSeen: lastSeen}}
	handler := NewPresenceHandler(fakePresence{}, fakeRooms{}, new(mocks.ChatRoomRepositoryMock), statuses, zap.NewNop())
	router := setupPresenceRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/users/u2/presence", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, false, resp["online"])
	assert.Equal(t, "2024-03-01T10:00:00Z", resp["lastSeen"])
}

func TestListOnlineForMember(t *testing.T) {
	members := new(mocks.ChatRoomRepositoryMock)
	rooms := fakeRooms{"r1": {{ID: "u1", Username: "neo"}, {ID: "u3", Username: "trinity"}}}
	handler := NewPresenceHandler(fakePresence{}, rooms, members, nil, zap.NewNop())
	router := setupPresenceRouter(handler)
	members.On("CheckRoomMembership", mock.Anything, "u1", "r1").Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chat-rooms/r1/online", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ChatRoomID string        `json:"chatRoomId"`
		Users      []models.User `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "r1", resp.ChatRoomID)
	assert.Len(t, resp.Users, 2)
	members.AssertExpectations(t)
}

func TestListOnlineForbiddenForNonMember(t *testing.T) {
	members := new(mocks.ChatRoomRepositoryMock)
	handler := NewPresenceHandler(fakePresence{}, fakeRooms{}, members, nil, zap.NewNop())
	router := setupPresenceRouter(handler)
	members.On("CheckRoomMembership", mock.Anything, "u1", "r9").Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chat-rooms/r9/online", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListOnlineMembershipError(t *testing.T) {
	members := new(mocks.ChatRoomRepositoryMock)
	handler := NewPresenceHandler(fakePresence{}, fakeRooms{}, members, nil, zap.NewNop())
	router := setupPresenceRouter(handler)
	members.On("CheckRoomMembership", mock.Anything, "u1", "r1").Return(false, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/chat-rooms/r1/online", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
