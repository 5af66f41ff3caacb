package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "chat-realtime", "test", zap.NewNop())
	emitter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	userID := "u-1"
	var got AuditEnvelope
	pub.On("Publish", mock.Anything, "audit.chat", mock.AnythingOfType("telemetry.AuditEnvelope")).
		Run(func(args mock.Arguments) { got = args.Get(2).(AuditEnvelope) }).
		Return(nil).Once()

	emitter.Emit(context.Background(), "warn", "connection rejected: invalid credential", "req-1", &userID)

	pub.AssertExpectations(t)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "u-1", *got.UserID)
	assert.Equal(t, "audit_log", got.EventType)
	assert.Equal(t, "2024-05-01T12:00:00Z", got.OccurredAt)
	assert.Equal(t, "warn", got.Payload.Level)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestEmitSwallowsPublishError(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "chat-realtime", "test", nil)
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(errors.New("broker down")).Once()

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "info", "x", "", nil)
	})
	pub.AssertExpectations(t)
}

func TestEmitNilEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "info", "x", "", nil)
	})
}
