package websocket

import (
	"context"
	"net/http"

	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/gorilla/websocket"
)

// Acceptor takes ownership of upgraded connections
type Acceptor interface {
	// Accept registers conn and returns its client id
	Accept(conn *Connection) (string, error)

	// HandleMessage processes one inbound message
	HandleMessage(ctx context.Context, clientID string, message []byte)

	// Touch records a liveness signal
	Touch(clientID string)

	// Disconnect releases a connection that has closed
	Disconnect(clientID string)
}

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Acceptor        Acceptor
	Logger          *logging.Logger
	Connection      ConnectionOptions
}

// Server upgrades HTTP requests and hands the connections to an Acceptor
type Server struct {
	upgrader websocket.Upgrader
	acceptor Acceptor
	logger   *logging.Logger
	options  ServerOptions
}

// NewServer creates a new WebSocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		Connection: DefaultConnectionOptions(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = logging.Discard()
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		acceptor: options.Acceptor,
		logger:   options.Logger,
		options:  options,
	}
}

// ServeHTTP implements http.Handler. It blocks until the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	logger := s.logger.WithFields(map[string]any{"remote_addr": r.RemoteAddr})
	client := NewConnection(conn, logger, s.options.Connection)

	clientID, err := s.acceptor.Accept(client)
	if err != nil {
		s.logger.Warn("connection rejected",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		client.Close(domain.CloseGoingAway, "hub unavailable")
		return
	}

	client.OnMessage(func(message []byte) {
		s.acceptor.HandleMessage(client.Context(), clientID, message)
	})
	client.OnPong(func() {
		s.acceptor.Touch(clientID)
	})

	client.Start()

	<-client.Done()
	client.Wait()

	s.acceptor.Disconnect(clientID)
}
