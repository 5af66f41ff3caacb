package ws

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "socket peer", want: "10.0.0.1"},
		{name: "first forwarded hop", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, want: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, want: "198.51.100.2"},
		{name: "empty forwarded hop", headers: map[string]string{"X-Forwarded-For": " , 10.0.0.9", "X-Real-IP": "198.51.100.2"}, want: "198.51.100.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.RemoteAddr = "10.0.0.1:5555"
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}

func TestNewConnInfo(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Device-ID", "phone-1")

	info := newConnInfo(r, "req-1", "trace-1")

	assert.Equal(t, "phone-1", info.DeviceID)
	assert.Equal(t, "10.0.0.1", info.IP)
	assert.Equal(t, "req-1", info.RequestID)
	assert.Equal(t, "trace-1", info.TraceID)
	assert.False(t, info.ConnectedAt.IsZero())
}

func TestHandshakeRequestID(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("X-Request-ID", "req-42")
	assert.Equal(t, "req-42", handshakeRequestID(r))

	r.Header.Del("X-Request-ID")
	first, second := handshakeRequestID(r), handshakeRequestID(r)
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
