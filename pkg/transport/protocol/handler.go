package protocol

import (
	"context"

	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/errors"
)

// Handler defines the interface for handling inbound control messages
type Handler interface {
	// Handle processes a message and returns an optional response
	Handle(ctx context.Context, env domain.Envelope) (*domain.Envelope, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, env domain.Envelope) (*domain.Envelope, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, env domain.Envelope) (*domain.Envelope, error) {
	return f(ctx, env)
}

// HandlerRegistry maps message types to handlers. Registration happens during
// construction; lookups afterwards are read-only.
type HandlerRegistry struct {
	handlers map[domain.MessageType]Handler
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[domain.MessageType]Handler),
	}
}

// Register registers a handler for a message type
func (r *HandlerRegistry) Register(messageType domain.MessageType, handler Handler) {
	r.handlers[messageType] = handler
}

// Get retrieves a handler for a message type
func (r *HandlerRegistry) Get(messageType domain.MessageType) (Handler, bool) {
	handler, ok := r.handlers[messageType]
	return handler, ok
}

// Handle routes a message to the handler registered for its type
func (r *HandlerRegistry) Handle(ctx context.Context, env domain.Envelope) (*domain.Envelope, error) {
	handler, ok := r.Get(env.Type)
	if !ok {
		return nil, errors.Wrap(domain.ErrUnsupportedType, errors.ErrorTypeProtocol, CodeUnsupportedType, "unsupported message type").
			WithDetails(string(env.Type))
	}

	return handler.Handle(ctx, env)
}
