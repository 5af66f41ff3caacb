package ws

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-realtime/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Connection is one admitted socket session. The user is fixed at construction.
// rooms and closed are owned by the Registry and only touched under its lock.
type Connection struct {
	id      string
	user    models.User
	info    ConnInfo
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  *zap.Logger

	rooms  map[string]struct{}
	closed bool

	teardown sync.Once
}

func newConnection(conn *websocket.Conn, user models.User, info ConnInfo, opts Options, logger *zap.Logger) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:      id,
		user:    user,
		info:    info,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimitPerSecond), opts.RateLimitBurst),
		logger:  logger.With(zap.String("conn_id", id), zap.String("user_id", user.ID)),
		rooms:   make(map[string]struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) User() models.User {
	return c.user
}

func (c *Connection) Info() ConnInfo {
	return c.info
}

func (c *Connection) closeSocket() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("close socket", zap.Error(err))
	}
}

// readPump processes inbound frames in arrival order until the socket fails,
// then tears the connection down. It returns the close reason.
func (c *Connection) readPump(ctx context.Context, h *Hub) (reason string) {
	defer func() {
		h.Disconnect(c)
		c.closeSocket()
	}()

	c.conn.SetReadLimit(h.opts.MaxFrameBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("set read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		raw, oversized, err := c.readFrame(h.opts.maxEventBytes())
		if err != nil {
			c.logReadError(err, h.opts.MaxFrameBytes)
			return err.Error()
		}

		if !c.limiter.Allow() {
			h.replyError(c, ErrRateLimited)
			continue
		}
		if oversized {
			h.replyError(c, wrapErr(ErrInvalidMessage, errFrameTooLarge))
			continue
		}

		h.HandleFrame(ctx, c, raw)
	}
}

var errFrameTooLarge = errors.New("frame too large")

// readFrame reads the next frame, keeping at most limit bytes. A longer frame
// is discarded and reported as oversized; the socket read limit still closes
// the connection on frames past MaxFrameBytes.
func (c *Connection) readFrame(limit int64) ([]byte, bool, error) {
	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, false, err
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(raw)) <= limit {
		return raw, false, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}

func (c *Connection) logReadError(err error, limit int64) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("frame exceeded maximum size", zap.Int64("limit", limit))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Debug("client disconnected", zap.Error(err))
	default:
		c.logger.Warn("websocket read error", zap.Error(err))
	}
}

// writePump writes one queued event per frame and pings the peer until the
// queue is closed or a write fails.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("websocket write error", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
