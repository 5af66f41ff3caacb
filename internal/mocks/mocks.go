package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) FindUser(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) UpdateUserStatus(ctx context.Context, userID string, status models.UserStatus) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) MarkMessagesRead(ctx context.Context, readerID string, chatRoomID string, senderID string) (int64, error) {
	args := m.Called(ctx, readerID, chatRoomID, senderID)
	var count int64
	if val := args.Get(0); val != nil {
		count = val.(int64)
	}
	return count, args.Error(1)
}

type ChatRoomRepositoryMock struct {
	mock.Mock
}

func (m *ChatRoomRepositoryMock) CheckRoomMembership(ctx context.Context, userID string, chatRoomID string) (bool, error) {
	args := m.Called(ctx, userID, chatRoomID)
	return args.Bool(0), args.Error(1)
}

var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ChatRoomRepository = (*ChatRoomRepositoryMock)(nil)
