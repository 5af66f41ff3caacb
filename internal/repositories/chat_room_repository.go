package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// ChatRoomRepository answers durable membership questions.
type ChatRoomRepository interface {
	CheckRoomMembership(ctx context.Context, userID string, chatRoomID string) (bool, error)
}

// ChatRoomRepo is a sqlx implementation of ChatRoomRepository.
type ChatRoomRepo struct {
	db *sqlx.DB
}

// NewChatRoomRepo constructs a ChatRoomRepo.
func NewChatRoomRepo(db *sqlx.DB) *ChatRoomRepo {
	return &ChatRoomRepo{db: db}
}

// CheckRoomMembership reports whether the user is an active member of the room.
func (r *ChatRoomRepo) CheckRoomMembership(ctx context.Context, userID string, chatRoomID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_room_users WHERE user_id=$1 AND chat_room_id=$2 AND is_active = TRUE)`, userID, chatRoomID)
	return exists, err
}
