package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	pingPeriod  = 30 * time.Second
	readTimeout = 60 * time.Second
	readLimit   = 1 << 20
	sendBuffer  = 128
)

var (
	// ErrConnectionClosed is returned by Send after Close.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when the outbound buffer is full; the
	// connection is closed as a consequence.
	ErrSlowConsumer = errors.New("connection buffer exceeded")
)

// Connection is one authenticated websocket. Writes go through a buffered
// channel drained by a single writer goroutine; it is safe for concurrent
// use.
type Connection struct {
	ID        string
	Principal domain.Principal

	ws      *websocket.Conn
	send    chan []byte
	once    sync.Once
	done    chan struct{}
	limiter *rate.Limiter
}

// NewConnection wraps ws for p. limiter may be nil for unlimited inbound
// events.
func NewConnection(p domain.Principal, ws *websocket.Conn, limiter *rate.Limiter) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		Principal: p,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		limiter:   limiter,
	}
}

// Start launches the write loop. Call it once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A full buffer closes the connection so one slow
// client cannot hold up a room.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrSlowConsumer
	}
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close terminates the connection. The send channel is never closed, so
// concurrent Send calls cannot panic.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.ws == nil {
			return
		}
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// allow reports whether another inbound event fits the rate limit.
func (c *Connection) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
