package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/gorilla/websocket"
)

// ConnectionOptions represents per-connection transport options
type ConnectionOptions struct {
	WriteTimeout   time.Duration
	MaxMessageSize int64
	SendBufferSize int
}

// DefaultConnectionOptions returns default connection options
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBufferSize: 256,
	}
}

// Connection implements domain.Conn over a gorilla websocket. Writes go
// through a bounded queue drained by a single writer goroutine; pings and
// close frames use control writes, which gorilla allows concurrently.
type Connection struct {
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	options  ConnectionOptions
	sendChan chan []byte

	onMessage func(message []byte)
	onPong    func()

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewConnection wraps conn. Callbacks must be installed before Start.
func NewConnection(conn *websocket.Conn, logger *logging.Logger, options ConnectionOptions) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	if options.SendBufferSize <= 0 {
		options.SendBufferSize = DefaultConnectionOptions().SendBufferSize
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultConnectionOptions().WriteTimeout
	}

	return &Connection{
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		options:  options,
		sendChan: make(chan []byte, options.SendBufferSize),
	}
}

// OnMessage sets the handler for inbound text and binary messages
func (c *Connection) OnMessage(fn func(message []byte)) {
	c.onMessage = fn
}

// OnPong sets the handler for pong frames
func (c *Connection) OnPong(fn func()) {
	c.onPong = fn
}

// Send implements domain.Conn
func (c *Connection) Send(ctx context.Context, message []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return domain.ErrConnectionClosed
	}

	select {
	case c.sendChan <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.ErrSendBufferFull
	}
}

// Ping implements domain.Conn
func (c *Connection) Ping() error {
	if c.isClosed() {
		return domain.ErrConnectionClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.options.WriteTimeout))
}

// Close implements domain.Conn. Only the first call has an effect.
func (c *Connection) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Debug("closing websocket connection", "code", code, "reason", reason)

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.options.WriteTimeout)); err != nil && err != websocket.ErrCloseSent {
		c.logger.Debug("failed to write close frame", "error", err)
	}

	c.cancel()

	return c.conn.Close()
}

// Done is closed once the connection has been closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context is cancelled once the connection has been closed
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Start starts the read and write pumps
func (c *Connection) Start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// Wait blocks until both pumps have exited
func (c *Connection) Wait() {
	c.wg.Wait()
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Connection) readPump() {
	defer c.wg.Done()
	defer c.Close(websocket.CloseNormalClosure, "")

	if c.options.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.options.MaxMessageSize)
	}
	c.conn.SetPongHandler(func(string) error {
		if c.onPong != nil {
			c.onPong()
		}
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

func (c *Connection) writePump() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}
		}
	}
}
