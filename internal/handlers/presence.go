package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-realtime/internal/middleware"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type PresenceReader interface {
	IsOnline(userID string) bool
	ConnectionCount(userID string) int
}

type RoomReader interface {
	RoomUsers(roomID string) []models.User
}

// StatusReader returns the last persisted status of a user.
type StatusReader interface {
	GetStatus(ctx context.Context, userID string) (models.UserStatus, bool, error)
}

// PresenceHandler serves read-only presence lookups.
type PresenceHandler struct {
	presence PresenceReader
	rooms    RoomReader
	members  repositories.ChatRoomRepository
	statuses StatusReader
	logger   *zap.Logger
}

// NewPresenceHandler builds the handler. statuses is optional.
func NewPresenceHandler(presence PresenceReader, rooms RoomReader, members repositories.ChatRoomRepository, statuses StatusReader, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, rooms: rooms, members: members, statuses: statuses, logger: logger}
}

// GetUserPresence handles GET /users/:user_id/presence.
func (h *PresenceHandler) GetUserPresence(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	resp := gin.H{
		"userId":      userID,
		"online":      h.presence.IsOnline(userID),
		"connections": h.presence.ConnectionCount(userID),
	}
	if h.statuses != nil {
		status, ok, err := h.statuses.GetStatus(c.Request.Context(), userID)
		if err != nil {
			h.logger.Warn("read mirrored presence", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			resp["lastSeen"] = status.LastSeen
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListOnline handles GET /chat-rooms/:chat_room_id/online. Only durable
// members of the room may list who is connected to it.
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	roomID := c.Param("chat_room_id")
	requester := c.GetString(middleware.UserIDKey)

	member, err := h.members.CheckRoomMembership(c.Request.Context(), requester, roomID)
	if err != nil {
		h.logger.Error("check room membership", zap.String("chat_room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chatRoomId": roomID,
		"users":      h.rooms.RoomUsers(roomID),
	})
}
