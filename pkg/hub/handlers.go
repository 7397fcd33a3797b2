package hub

import (
	"context"

	"github.com/HMasataka/beacon/internal/eventbus"
	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/errors"
	"github.com/HMasataka/beacon/pkg/transport/protocol"
)

// registerHandlers installs the handlers for client-to-hub control messages.
// Any other inbound type is answered with an unsupported type error.
func (s *Service) registerHandlers() {
	s.handlers.Register(domain.MessageTypeClientRegister, protocol.HandlerFunc(s.handleRegister))
	s.handlers.Register(domain.MessageTypeHeartbeat, protocol.HandlerFunc(s.handleHeartbeat))
	s.handlers.Register(domain.MessageTypeClientUnregister, protocol.HandlerFunc(s.handleUnregister))
}

func (s *Service) handleRegister(ctx context.Context, env domain.Envelope) (*domain.Envelope, error) {
	clientID, ok := protocol.ClientIDFromContext(ctx)
	if !ok {
		return nil, errors.New(errors.ErrorTypeInternal, CodeInternal, "missing client id")
	}

	reg, ok := env.Payload.(domain.Registration)
	if !ok {
		return nil, errors.Wrap(domain.ErrInvalidMessage, errors.ErrorTypeProtocol, protocol.CodeInvalidMessage, "invalid registration")
	}

	if reg.UserType != "" && !reg.UserType.Valid() {
		return nil, errors.New(errors.ErrorTypeValidation, CodeInvalidUserType, "unknown user type").
			WithDetails(string(reg.UserType))
	}

	if !s.registry.UpdateMetadata(clientID, reg) {
		return nil, errors.Wrap(domain.ErrClientNotFound, errors.ErrorTypeNotFound, "CLIENT_NOT_FOUND", "client not found")
	}

	info, _ := s.registry.Get(clientID)

	logging.FromContext(ctx).Info("client registered",
		"user_type", info.UserType,
		"has_location", info.Location != nil,
	)
	s.publish(eventbus.NewEvent(eventbus.EventClientRegistered, eventSource, info).
		WithMetadata("client_id", clientID))

	ack := s.engine.Envelope(domain.SystemStatus{
		Status:   domain.StatusRegistered,
		ClientID: clientID,
	})
	return &ack, nil
}

func (s *Service) handleHeartbeat(ctx context.Context, env domain.Envelope) (*domain.Envelope, error) {
	if clientID, ok := protocol.ClientIDFromContext(ctx); ok {
		s.registry.Touch(clientID)
	}
	return nil, nil
}

func (s *Service) handleUnregister(ctx context.Context, env domain.Envelope) (*domain.Envelope, error) {
	clientID, ok := protocol.ClientIDFromContext(ctx)
	if !ok {
		return nil, errors.New(errors.ErrorTypeInternal, CodeInternal, "missing client id")
	}

	logging.FromContext(ctx).Debug("client asked to unregister")
	s.removeClient(clientID, domain.CloseNormalClosure, "client unregistered")
	return nil, nil
}
