package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository resolves identities and records presence.
type UserRepository interface {
	FindUser(ctx context.Context, userID string) (models.User, error)
	UpdateUserStatus(ctx context.Context, userID string, status models.UserStatus) error
}

// UserRepo is a sqlx-backed UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// FindUser loads the public identity of a user.
func (r *UserRepo) FindUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, email, username, COALESCE(first_name, '') AS first_name,
        COALESCE(last_name, '') AS last_name, COALESCE(avatar, '') AS avatar
        FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// UpdateUserStatus stores the online flag and last-seen timestamp.
func (r *UserRepo) UpdateUserStatus(ctx context.Context, userID string, status models.UserStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_online=$2, last_seen=$3 WHERE id=$1`, userID, status.Online, status.LastSeen)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
