package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

const (
	presenceWriteAttempts = 3
	presenceWriteBackoff  = 100 * time.Millisecond
	presenceFlushTimeout  = 5 * time.Second
)

// StatusWriter persists a user's online status.
type StatusWriter interface {
	UpdateUserStatus(ctx context.Context, userID string, status models.UserStatus) error
}

// Presence derives online status from the number of live connections per user.
// Status changes are queued and written by Run, so callers never wait on I/O;
// when a user flips several times before a write, only the latest state is written.
type Presence struct {
	mu      sync.Mutex
	counts  map[string]int
	pending map[string]models.UserStatus
	signal  chan struct{}

	writers []StatusWriter
	logger  *zap.Logger
	now     func() time.Time
	backoff time.Duration
}

func NewPresence(logger *zap.Logger, writers ...StatusWriter) *Presence {
	return &Presence{
		counts:  make(map[string]int),
		pending: make(map[string]models.UserStatus),
		signal:  make(chan struct{}, 1),
		writers: writers,
		logger:  logger,
		now:     time.Now,
		backoff: presenceWriteBackoff,
	}
}

// Connect counts a new connection and reports whether the user came online.
func (p *Presence) Connect(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[userID]++
	if p.counts[userID] != 1 {
		return false
	}
	p.recordLocked(userID, true)
	return true
}

// Disconnect releases a connection and reports whether the user went offline.
func (p *Presence) Disconnect(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.counts[userID]
	if !ok {
		return false
	}
	if n > 1 {
		p.counts[userID] = n - 1
		return false
	}
	delete(p.counts, userID)
	p.recordLocked(userID, false)
	return true
}

func (p *Presence) recordLocked(userID string, online bool) {
	p.pending[userID] = models.UserStatus{Online: online, LastSeen: p.now().UTC()}
	observability.SetPresenceOnline(len(p.counts))
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}

func (p *Presence) ConnectionCount(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID]
}

func (p *Presence) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.counts)
}

// Run writes queued status changes until ctx is done, then flushes what is left.
func (p *Presence) Run(ctx context.Context) {
	for {
		select {
		case <-p.signal:
			p.flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), presenceFlushTimeout)
			p.flush(flushCtx)
			cancel()
			return
		}
	}
}

func (p *Presence) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string]models.UserStatus)
	p.mu.Unlock()

	for userID, status := range batch {
		if err := p.write(ctx, userID, status); err != nil && ctx.Err() != nil {
			p.requeue(userID, status)
		}
	}
}

// requeue puts back a write interrupted by cancellation unless a newer state arrived.
func (p *Presence) requeue(userID string, status models.UserStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[userID]; !ok {
		p.pending[userID] = status
	}
}

func (p *Presence) write(ctx context.Context, userID string, status models.UserStatus) error {
	var firstErr error
	for _, w := range p.writers {
		if err := p.writeWithRetry(ctx, w, userID, status); err != nil {
			observability.IncPresenceWriteError()
			p.logger.Warn("presence write failed",
				zap.String("user_id", userID),
				zap.Bool("online", status.Online),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Presence) writeWithRetry(ctx context.Context, w StatusWriter, userID string, status models.UserStatus) error {
	delay := p.backoff
	var err error
	for attempt := 1; attempt <= presenceWriteAttempts; attempt++ {
		err = w.UpdateUserStatus(ctx, userID, status)
		if err == nil || errors.Is(err, repositories.ErrUserNotFound) {
			return err
		}
		if attempt == presenceWriteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
