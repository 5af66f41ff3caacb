package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

// TokenVerifier resolves a bearer credential to its claims.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Gate admits or refuses a connection attempt before anything else sees it.
type Gate struct {
	verifier TokenVerifier
	users    repositories.UserRepository
	logger   *zap.Logger
}

func NewGate(verifier TokenVerifier, users repositories.UserRepository, logger *zap.Logger) *Gate {
	return &Gate{verifier: verifier, users: users, logger: logger}
}

// CredentialFromRequest picks the credential from the token query parameter,
// then the Authorization bearer header, then the access token cookie.
func CredentialFromRequest(r *http.Request, cookieName string) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}

// Admit resolves token to a known user.
func (g *Gate) Admit(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, g.reject(ErrNoCredential)
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		return models.User{}, g.reject(wrapErr(ErrInvalidCredential, err))
	}

	user, err := g.users.FindUser(ctx, claims.ID)
	if err != nil {
		if !errors.Is(err, repositories.ErrUserNotFound) {
			g.logger.Error("user lookup failed during admission", zap.String("user_id", claims.ID), zap.Error(err))
		}
		return models.User{}, g.reject(wrapErr(ErrUnknownUser, err))
	}
	return user, nil
}

func (g *Gate) reject(err *Error) error {
	observability.IncWSRejection(string(err.Code))
	g.logger.Info("connection rejected", zap.String("reason", err.Message), zap.Error(err.Wrapped))
	return err
}
