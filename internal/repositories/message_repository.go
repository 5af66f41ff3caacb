package repositories

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	MarkMessagesRead(ctx context.Context, readerID string, chatRoomID string, senderID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

type messageRow struct {
	models.Message
	SenderUsername  string `db:"sender_username"`
	SenderFirstName string `db:"sender_first_name"`
	SenderLastName  string `db:"sender_last_name"`
	SenderAvatar    string `db:"sender_avatar"`
}

// CreateMessage stores a message and returns it with the sender summary attached.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	query := `WITH inserted AS (
            INSERT INTO messages (id, content, type, sender_id, receiver_id, chat_room_id, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING id, content, type, sender_id, receiver_id, chat_room_id, is_read, created_at
        )
        SELECT i.id, i.content, i.type, i.sender_id, i.receiver_id, i.chat_room_id, i.is_read, i.created_at,
            u.username AS sender_username, COALESCE(u.first_name, '') AS sender_first_name,
            COALESCE(u.last_name, '') AS sender_last_name, COALESCE(u.avatar, '') AS sender_avatar
        FROM inserted i JOIN users u ON u.id = i.sender_id`

	var row messageRow
	err := r.db.GetContext(ctx, &row, query,
		uuid.NewString(), msg.Content, msg.Type, msg.SenderID,
		nullable(msg.ReceiverID), nullable(msg.ChatRoomID), r.now().UTC())
	if err != nil {
		return models.Message{}, err
	}

	out := row.Message
	out.Sender = &models.User{
		ID:        row.SenderID,
		Username:  row.SenderUsername,
		FirstName: row.SenderFirstName,
		LastName:  row.SenderLastName,
		Avatar:    row.SenderAvatar,
	}
	return out, nil
}

// MarkMessagesRead flags unread messages for the reader and returns how many changed.
// With a room id, room messages from other users are marked; with a sender id, that
// sender's direct messages to the reader; with neither, every direct message to the reader.
func (r *MessageRepo) MarkMessagesRead(ctx context.Context, readerID string, chatRoomID string, senderID string) (int64, error) {
	args := []any{readerID}
	var clauses []string
	if chatRoomID != "" {
		args = append(args, chatRoomID)
		clauses = append(clauses, "(chat_room_id=$"+strconv.Itoa(len(args))+" AND sender_id<>$1)")
	}
	if senderID != "" {
		args = append(args, senderID)
		clauses = append(clauses, "(sender_id=$"+strconv.Itoa(len(args))+" AND receiver_id=$1)")
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "receiver_id=$1")
	}

	query := `UPDATE messages SET is_read = TRUE WHERE is_read = FALSE AND (` + strings.Join(clauses, " OR ") + `)`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
