package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the write side of a websocket connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type ClientConf struct {
	SendQueueSize int           // per-connection outbound buffer
	WriteWait     time.Duration // deadline for a single write
	PingInterval  time.Duration // transport ping period, <=0 disables
}

func (c *ClientConf) norm() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
}

// Client is the outbound half of one connection. All writes go through a
// single writer goroutine (WritePump) so per-connection order is preserved.
// Send never blocks: when the queue is full the new message is dropped, so a
// stalled client cannot stall fan-out to the others.
type Client struct {
	ConnID string

	conn Conn
	conf ClientConf

	send      chan []byte
	closing   chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeCode int
	closeText string

	dropped atomic.Int64
}

func NewClient(connID string, conn Conn, conf ClientConf) *Client {
	conf.norm()
	return &Client{
		ConnID:    connID,
		conn:      conn,
		conf:      conf,
		send:      make(chan []byte, conf.SendQueueSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// Send enqueues payload. It returns false if the client is closing or its queue is full.
func (c *Client) Send(payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

func (c *Client) IsOpen() bool { return !c.closed.Load() }

// Dropped is the number of messages discarded because the queue was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Done is closed once the writer has exited and the connection is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close stops accepting messages; the writer flushes what is queued,
// sends a close frame and closes the connection.
func (c *Client) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

func (c *Client) CloseWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeText = code, text
		c.closed.Store(true)
		close(c.closing)
	})
}

// Shutdown queues a final payload and closes.
func (c *Client) Shutdown(final []byte, code int, text string) {
	if final != nil {
		c.Send(final)
	}
	c.CloseWith(code, text)
}

// WritePump owns every write on the connection until Close or a write error.
func (c *Client) WritePump() {
	defer close(c.done)
	defer func() { _ = c.conn.Close() }()

	var tick <-chan time.Time
	if c.conf.PingInterval > 0 {
		t := time.NewTicker(c.conf.PingInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				c.closed.Store(true)
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.conf.WriteWait)); err != nil {
				c.closed.Store(true)
				return
			}
		case <-c.closing:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeText), time.Now().Add(c.conf.WriteWait))
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.conf.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
