package ws

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConnInfo is the handshake metadata attached to a connection for events and logs.
type ConnInfo struct {
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// handshakeRequestID returns the caller's X-Request-ID, or a fresh one.
func handshakeRequestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" {
		return id
	}
	return uuid.NewString()
}

func newConnInfo(r *http.Request, requestID, traceID string) ConnInfo {
	return ConnInfo{
		DeviceID:    strings.TrimSpace(r.Header.Get("X-Device-ID")),
		IP:          clientIP(r),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
