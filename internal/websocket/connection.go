package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pixelgrid/pkg/interfaces"
)

// ConnectionOptions tune one session's outbound side.
type ConnectionOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultConnectionOptions returns the settings used when none are given.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		QueueSize:    256,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Connection is one verified session. All writes to the socket happen on
// the writer goroutine; Send only enqueues. When the queue is full the
// oldest queued frame is dropped so a slow client never blocks a sender.
type Connection struct {
	conn      *websocket.Conn
	sessionID string
	userID    string
	opts      ConnectionOptions

	writeCh   chan []byte
	enqueueMu sync.Mutex
	dropped   atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       *logrus.Entry
}

var _ interfaces.Subscriber = (*Connection)(nil)

// NewConnection wraps an upgraded socket and starts its writer.
func NewConnection(conn *websocket.Conn, sessionID, userID string, opts ConnectionOptions) *Connection {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultConnectionOptions().QueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultConnectionOptions().WriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		opts:      opts,
		writeCh:   make(chan []byte, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		log: logrus.WithFields(logrus.Fields{
			"component":  "websocket",
			"session_id": sessionID,
			"user_id":    userID,
		}),
	}

	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.WithError(err).Debug("Write failed, closing session")
				_ = c.Close()
				return
			}

		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send implements interfaces.Subscriber. v may be pre-encoded JSON
// (json.RawMessage or []byte); anything else is marshaled.
func (c *Connection) Send(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	var data []byte
	switch msg := v.(type) {
	case json.RawMessage:
		data = msg
	case []byte:
		data = msg
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ErrInvalidJSON
		}
		data = encoded
	}

	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()
	for {
		select {
		case c.writeCh <- data:
			return nil
		default:
		}
		// Queue full: discard the oldest frame and try again
		select {
		case <-c.writeCh:
			if c.dropped.Add(1) == 1 {
				c.log.Warn("Outbound queue full, dropping oldest frames")
			}
		default:
		}
	}
}

// Close implements interfaces.Subscriber. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// SessionID implements interfaces.Subscriber.
func (c *Connection) SessionID() string { return c.sessionID }

// UserID implements interfaces.Subscriber.
func (c *Connection) UserID() string { return c.userID }

// Dropped returns how many queued frames were discarded.
func (c *Connection) Dropped() int64 { return c.dropped.Load() }
