package websocket

import (
	"net/http"

	"github.com/HMasataka/beacon/internal/logging"
)

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithAcceptor sets the component that owns accepted connections
func WithAcceptor(acceptor Acceptor) ServerOption {
	return func(o *ServerOptions) {
		o.Acceptor = acceptor
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// WithConnectionOptions sets the options applied to every accepted connection
func WithConnectionOptions(options ConnectionOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Connection = options
	}
}
