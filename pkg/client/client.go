package client

import (
	"context"
	"net/url"
	"sync"

	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/errors"
	"github.com/HMasataka/beacon/pkg/transport/protocol"
	"github.com/HMasataka/beacon/pkg/transport/websocket"
	gorillaws "github.com/gorilla/websocket"
)

// HandlerFunc handles one envelope pushed by the hub
type HandlerFunc func(ctx context.Context, env domain.Envelope) error

// Options represents subscriber client options
type Options struct {
	Logger       *logging.Logger
	Registration *domain.Registration
	Connection   websocket.ConnectionOptions
}

// DefaultOptions returns default client options
func DefaultOptions() Options {
	return Options{
		Connection: websocket.DefaultConnectionOptions(),
	}
}

// Client subscribes to a hub. It records the id the hub assigns, registers
// its metadata and routes every pushed envelope to the handler for its type.
type Client struct {
	url     url.URL
	options Options
	logger  *logging.Logger
	codec   protocol.Codec
	conn    *websocket.Connection

	handlers   map[domain.MessageType]HandlerFunc
	fallback   HandlerFunc
	handlersMu sync.RWMutex

	id           string
	registered   bool
	connected    chan struct{}
	registeredCh chan struct{}
	mu           sync.RWMutex
}

// NewClient creates a new subscriber client
func NewClient(serverURL url.URL, options Options) *Client {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}

	return &Client{
		url:          serverURL,
		options:      options,
		logger:       options.Logger,
		codec:        protocol.NewJSONCodec(),
		handlers:     make(map[domain.MessageType]HandlerFunc),
		connected:    make(chan struct{}),
		registeredCh: make(chan struct{}),
	}
}

// OnMessage registers a handler for a specific message type
func (c *Client) OnMessage(messageType domain.MessageType, handler HandlerFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[messageType] = handler
}

// OnAny registers a handler for types without a specific handler
func (c *Client) OnAny(handler HandlerFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.fallback = handler
}

// Connect dials the hub and, when Options.Registration is set, registers
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to hub", "url", c.url.String())

	conn, _, err := gorillaws.DefaultDialer.DialContext(ctx, c.url.String(), nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "DIAL_ERROR", "failed to connect to hub")
	}

	wsConn := websocket.NewConnection(conn, c.logger, c.options.Connection)
	wsConn.OnMessage(c.handleMessage)

	c.mu.Lock()
	c.conn = wsConn
	c.mu.Unlock()

	wsConn.Start()

	if c.options.Registration != nil {
		if err := c.send(ctx, *c.options.Registration); err != nil {
			wsConn.Close(domain.CloseNormalClosure, "")
			return err
		}
	}

	return nil
}

// Disconnect unregisters and closes the connection
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil
	}

	if err := c.send(ctx, domain.Unregister{}); err != nil {
		c.logger.Debug("failed to send unregister", "error", err)
	}

	return conn.Close(domain.CloseNormalClosure, "")
}

// SendHeartbeat sends an application-level liveness reply
func (c *Client) SendHeartbeat(ctx context.Context) error {
	return c.send(ctx, domain.Heartbeat{})
}

// ID returns the id assigned by the hub
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// IsRegistered reports whether the hub acknowledged the registration
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

// WaitForConnected blocks until the hub acknowledged the connection
func (c *Client) WaitForConnected(ctx context.Context) error {
	return c.wait(ctx, c.connected)
}

// WaitForRegistration blocks until the hub acknowledged the registration
func (c *Client) WaitForRegistration(ctx context.Context) error {
	return c.wait(ctx, c.registeredCh)
}

// Done is closed once the connection has closed
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.conn.Done()
}

func (c *Client) wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-c.Done():
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "WAIT_TIMEOUT", "hub did not acknowledge")
	}
}

func (c *Client) handleMessage(data []byte) {
	env, err := c.codec.Decode(data)
	if err != nil {
		c.logger.Warn("failed to decode message", "error", err)
		return
	}

	if status, ok := env.Payload.(domain.SystemStatus); ok {
		c.handleStatus(status)
	}

	c.handlersMu.RLock()
	handler, exists := c.handlers[env.Type]
	if !exists {
		handler = c.fallback
	}
	c.handlersMu.RUnlock()

	if handler == nil {
		c.logger.Debug("no handler for message type", "type", env.Type)
		return
	}

	c.mu.RLock()
	ctx := c.conn.Context()
	c.mu.RUnlock()

	if err := handler(ctx, env); err != nil {
		c.logger.Warn("message handler failed",
			"type", env.Type,
			"error", err,
		)
	}
}

func (c *Client) handleStatus(status domain.SystemStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch status.Status {
	case domain.StatusConnected:
		if c.id == "" {
			c.id = status.ClientID
			close(c.connected)
			c.logger.Info("connected to hub", "client_id", c.id)
		}
	case domain.StatusRegistered:
		if !c.registered {
			c.registered = true
			close(c.registeredCh)
			c.logger.Info("registered with hub", "client_id", c.id)
		}
	}
}

func (c *Client) send(ctx context.Context, p domain.Payload) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errors.New(errors.ErrorTypeTransport, "NOT_CONNECTED", "not connected to hub")
	}

	data, err := c.codec.Encode(domain.Envelope{Type: p.MessageType(), Payload: p})
	if err != nil {
		return err
	}

	return conn.Send(ctx, data)
}
