package handlers

import (
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendQueueSize bounds the per-client outgoing queue; a client that
	// falls this far behind is evicted rather than blocking the PTY.
	sendQueueSize = 256

	wsWriteTimeout = 10 * time.Second
)

// wsClient owns one WebSocket connection: a single writer goroutine
// drains the send queue so frames stay FIFO per socket.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}

	closeOnce sync.Once

	// initialized flips once init has been replayed; the broadcast path
	// skips clients that are not yet live.
	initialized atomic.Bool
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		quit: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsClient) writePump() {
	for {
		select {
		case <-c.quit:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// enqueue queues a frame for the writer. Returns false when the queue is
// full, which the hub treats as grounds for eviction.
func (c *wsClient) enqueue(frame []byte) bool {
	select {
	case <-c.quit:
		return false
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown sends a close frame and tears the connection down. Safe to
// call from any goroutine, any number of times.
func (c *wsClient) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.quit)
		deadline := time.Now().Add(time.Second)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		c.conn.Close()
	})
}

// checkWSOrigin validates the Origin header against allowed origins.
// No Origin header (non-browser client) or an empty allow-list passes.
func checkWSOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if u, err := url.Parse(o); err == nil {
			allowed[u.Host] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return allowed[u.Host]
	}
}
