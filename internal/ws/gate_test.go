package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/repositories"
)

func newTestJWT() *auth.JWTManager {
	return auth.NewJWTManager(auth.JWTConfig{SecretKey: "test-secret", AccessTokenDuration: time.Hour})
}

func TestCredentialFromRequestPriority(t *testing.T) {
	cases := []struct {
		name   string
		query  string
		header string
		cookie string
		want   string
	}{
		{name: "query wins", query: "q", header: "Bearer h", cookie: "c", want: "q"},
		{name: "header before cookie", header: "Bearer h", cookie: "c", want: "h"},
		{name: "lowercase scheme", header: "bearer h", want: "h"},
		{name: "malformed header falls through", header: "Token h", cookie: "c", want: "c"},
		{name: "cookie only", cookie: "c", want: "c"},
		{name: "nothing", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := "/ws"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "accessToken", Value: tc.cookie})
			}

			assert.Equal(t, tc.want, CredentialFromRequest(r, "accessToken"))
		})
	}
}

func TestGateAdmit(t *testing.T) {
	jwt := newTestJWT()
	valid, err := jwt.GenerateAccessToken("u1", "u1@example.com", "neo")
	require.NoError(t, err)
	refresh, err := jwt.GenerateRefreshToken("u1", "u1@example.com", "neo")
	require.NoError(t, err)
	foreign, err := auth.NewJWTManager(auth.JWTConfig{SecretKey: "other"}).GenerateAccessToken("u1", "", "neo")
	require.NoError(t, err)

	cases := []struct {
		name    string
		token   string
		setup   func(users *mocks.UserRepositoryMock)
		wantErr error
	}{
		{name: "missing", token: "", wantErr: ErrNoCredential},
		{name: "garbage", token: "not-a-jwt", wantErr: ErrInvalidCredential},
		{name: "wrong secret", token: foreign, wantErr: ErrInvalidCredential},
		{name: "refresh token", token: refresh, wantErr: ErrInvalidCredential},
		{
			name:  "unknown user",
			token: valid,
			setup: func(users *mocks.UserRepositoryMock) {
				users.On("FindUser", mock.Anything, "u1").Return(nil, repositories.ErrUserNotFound)
			},
			wantErr: ErrUnknownUser,
		},
		{
			name:  "lookup failure",
			token: valid,
			setup: func(users *mocks.UserRepositoryMock) {
				users.On("FindUser", mock.Anything, "u1").Return(nil, errors.New("connection refused"))
			},
			wantErr: ErrUnknownUser,
		},
		{
			name:  "admitted",
			token: valid,
			setup: func(users *mocks.UserRepositoryMock) {
				users.On("FindUser", mock.Anything, "u1").Return(testUser("u1"), nil)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			users := new(mocks.UserRepositoryMock)
			if tc.setup != nil {
				tc.setup(users)
			}
			gate := NewGate(jwt, users, zap.NewNop())

			user, err := gate.Admit(context.Background(), tc.token)

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, user.ID)
				assert.Equal(t, KindRejection, errorKind(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", user.ID)
		})
	}
}

func TestGateSkipsLookupWithoutValidCredential(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	gate := NewGate(newTestJWT(), users, zap.NewNop())

	_, err := gate.Admit(context.Background(), "nope")

	require.Error(t, err)
	users.AssertNotCalled(t, "FindUser", mock.Anything, mock.Anything)
}
