package hub

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/HMasataka/beacon/internal/eventbus"
	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/errors"
	"github.com/HMasataka/beacon/pkg/transport/protocol"
	"github.com/HMasataka/beacon/pkg/transport/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
)

const eventSource = "hub"

// Error codes sent back to clients.
const (
	CodeRateLimited     = "RATE_LIMITED"
	CodeInvalidUserType = "INVALID_USER_TYPE"
	CodeHubNotRunning   = "HUB_NOT_RUNNING"
	CodeInternal        = "INTERNAL_ERROR"
)

// Service owns the registry, replay buffer, heartbeat monitor and broadcast
// engine, and is the single entry point for triggering pushes.
type Service struct {
	config    Config
	registry  *Registry
	queue     *Queue
	engine    *Engine
	heartbeat *HeartbeatMonitor
	handlers  *protocol.HandlerRegistry
	codec     protocol.Codec
	router    chi.Router
	bus       eventbus.Bus
	relay     Relay
	metrics   *Metrics
	errs      errors.Handler
	clock     clockwork.Clock
	logger    *logging.Logger

	mu      sync.RWMutex
	running bool
	addr    net.Addr
	server  *http.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ domain.Broadcaster = (*Service)(nil)
var _ websocket.Acceptor = (*Service)(nil)

// NewService creates a new hub service in the stopped state
func NewService(opts ...Option) *Service {
	options := ServiceOptions{
		Config: DefaultConfig(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.Clock == nil {
		options.Clock = clockwork.NewRealClock()
	}

	s := &Service{
		config:   options.Config,
		codec:    protocol.NewJSONCodec(),
		bus:      options.Bus,
		relay:    options.Relay,
		metrics:  options.Metrics,
		errs:     errors.NewDefaultHandler(options.Logger.Logger),
		clock:    options.Clock,
		logger:   options.Logger,
		handlers: protocol.NewHandlerRegistry(),
	}

	s.registry = NewRegistry(RegistryOptions{
		Clock:        options.Clock,
		InboundRate:  options.Config.InboundRate,
		InboundBurst: options.Config.InboundBurst,
	})
	s.queue = NewQueue(options.Config.MaxQueueSize)
	s.engine = NewEngine(s.registry, s.queue, EngineOptions{
		Clock:     options.Clock,
		Codec:     s.codec,
		Logger:    options.Logger,
		Metrics:   options.Metrics,
		OnRemoved: s.clientRemoved,
	})
	s.heartbeat = NewHeartbeatMonitor(s.registry, HeartbeatOptions{
		Interval: options.Config.HeartbeatInterval,
		Clock:    options.Clock,
		Logger:   options.Logger,
		Metrics:  options.Metrics,
		OnEvict:  s.clientEvicted,
	})

	s.registerHandlers()

	wsOpts := []websocket.ServerOption{
		websocket.WithAcceptor(s),
		websocket.WithLogger(options.Logger),
		websocket.WithConnectionOptions(options.Config.Connection),
	}
	if options.CheckOrigin != nil {
		wsOpts = append(wsOpts, websocket.WithCheckOrigin(options.CheckOrigin))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Handle("/ws", websocket.NewServer(wsOpts...))
	s.router = router

	return s
}

// Router returns the HTTP router served by Start. Routes must be added
// before Start.
func (s *Service) Router() chi.Router {
	return s.router
}

// Start binds port and begins accepting connections. It returns false and
// leaves the service stopped when the port cannot be bound. Port 0 binds an
// ephemeral port; see Addr.
func (s *Service) Start(ctx context.Context, port int) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return true
	}

	address := net.JoinHostPort(s.config.Host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to bind listener",
			"address", address,
			"error", err,
		)
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeat.Run(runCtx)
	}()

	if s.relay != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.relay.Subscribe(runCtx, s.deliverRemote); err != nil && runCtx.Err() == nil {
				s.logger.Error("relay subscription ended", "error", err)
			}
		}()
	}

	s.running = true
	s.addr = listener.Addr()
	s.server = server
	s.cancel = cancel
	s.mu.Unlock()

	addr := listener.Addr().String()
	s.logger.Info("hub started", "address", addr)
	s.publish(eventbus.NewEvent(eventbus.EventHubStarted, eventSource, addr))

	return true
}

// Stop closes every connection with a normal closure and stops accepting
// new ones. Calling Stop on a stopped service does nothing.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	server := s.server
	cancel := s.cancel
	s.server = nil
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	closed := s.registry.Clear(domain.CloseNormalClosure, "server shutting down")
	s.metrics.setConnections(0)

	shutdownCtx, stop := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}

	s.wg.Wait()

	s.logger.Info("hub stopped", "closed_connections", closed)
	s.publish(eventbus.NewEvent(eventbus.EventHubStopped, eventSource, closed))
}

// Addr returns the bound address while running
func (s *Service) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning reports whether the service is accepting connections
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status implements domain.Broadcaster
func (s *Service) Status() domain.HubStatus {
	return domain.HubStatus{
		IsRunning:          s.IsRunning(),
		ConnectedCount:     s.registry.Count(),
		QueuedMessageCount: s.queue.Len(),
	}
}

// ClientInfo implements domain.Broadcaster
func (s *Service) ClientInfo() []domain.ClientInfo {
	return s.registry.Infos()
}

// BroadcastEmergency implements domain.Broadcaster
func (s *Service) BroadcastEmergency(ctx context.Context, alert domain.EmergencyAlert) (domain.DeliveryReport, error) {
	return s.broadcastAll(ctx, alert)
}

// BroadcastWeatherWarning implements domain.Broadcaster
func (s *Service) BroadcastWeatherWarning(ctx context.Context, warning domain.WeatherWarning) (domain.DeliveryReport, error) {
	return s.broadcastAll(ctx, warning)
}

// SendTargetedNotifications implements domain.Broadcaster
func (s *Service) SendTargetedNotifications(ctx context.Context, criteria domain.TargetCriteria, req domain.UrgentRequest) (int, error) {
	report, err := s.NotifyTargeted(ctx, criteria, req)
	if err != nil {
		return 0, err
	}
	return report.Matched, nil
}

// NotifyTargeted sends req to the clients matching criteria and returns the
// full delivery report
func (s *Service) NotifyTargeted(ctx context.Context, criteria domain.TargetCriteria, req domain.UrgentRequest) (domain.DeliveryReport, error) {
	if err := s.checkRunning(); err != nil {
		return domain.DeliveryReport{}, err
	}

	if criteria.Location != nil && criteria.RadiusKm <= 0 {
		criteria.RadiusKm = s.config.DefaultRadiusKm
	}

	env := s.engine.Envelope(req)
	report, err := s.engine.DeliverTargeted(ctx, env, criteria)
	if err != nil {
		return report, err
	}

	s.forward(ctx, env, &criteria)
	s.publish(eventbus.NewEvent(eventbus.EventBroadcastTargeted, eventSource, report))

	return report, nil
}

func (s *Service) broadcastAll(ctx context.Context, p domain.Payload) (domain.DeliveryReport, error) {
	if err := s.checkRunning(); err != nil {
		return domain.DeliveryReport{}, err
	}

	env := s.engine.Envelope(p)
	report, err := s.engine.DeliverAll(ctx, env)
	if err != nil {
		return report, err
	}

	s.forward(ctx, env, nil)
	s.publish(eventbus.NewEvent(eventbus.EventBroadcastSent, eventSource, report))

	return report, nil
}

func (s *Service) checkRunning() error {
	if !s.IsRunning() {
		return errors.Wrap(domain.ErrHubNotRunning, errors.ErrorTypeUnavailable, CodeHubNotRunning, "hub is not running")
	}
	return nil
}

func (s *Service) forward(ctx context.Context, env domain.Envelope, criteria *domain.TargetCriteria) {
	if s.relay == nil {
		return
	}

	if err := s.relay.Publish(ctx, env, criteria); err != nil {
		s.logger.Warn("relay publish failed",
			"type", env.Type,
			"error", err,
		)
	}
}

// deliverRemote fans out a broadcast published by another instance. It is
// never forwarded again.
func (s *Service) deliverRemote(ctx context.Context, env domain.Envelope, criteria *domain.TargetCriteria) {
	var (
		report domain.DeliveryReport
		err    error
	)

	if criteria == nil {
		report, err = s.engine.DeliverAll(ctx, env)
	} else {
		report, err = s.engine.DeliverTargeted(ctx, env, *criteria)
	}

	if err != nil {
		s.errs.Handle(ctx, err)
		return
	}

	s.logger.Debug("relayed broadcast delivered",
		"type", report.Type,
		"delivered", report.Delivered,
	)
}

// Accept implements websocket.Acceptor
func (s *Service) Accept(conn *websocket.Connection) (string, error) {
	return s.Join(conn.Context(), conn)
}

// Join registers conn, sends the connection acknowledgement and replays the
// most recent broadcasts.
func (s *Service) Join(ctx context.Context, conn domain.Conn) (string, error) {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return "", errors.Wrap(domain.ErrHubNotRunning, errors.ErrorTypeUnavailable, CodeHubNotRunning, "hub is not running")
	}
	clientID := s.registry.Register(conn)
	s.mu.RUnlock()

	s.metrics.setConnections(s.registry.Count())

	logger := s.logger.WithClient(clientID)
	logger.Info("client connected", "total_clients", s.registry.Count())

	if info, ok := s.registry.Get(clientID); ok {
		s.publish(eventbus.NewEvent(eventbus.EventClientConnected, eventSource, info).
			WithMetadata("client_id", clientID))
	}

	ack := s.engine.Envelope(domain.SystemStatus{
		Status:   domain.StatusConnected,
		ClientID: clientID,
		Message:  "connected to emergency broadcast hub",
	})
	if err := s.engine.SendTo(ctx, clientID, ack); err != nil {
		return clientID, nil
	}

	if n := s.engine.Replay(ctx, clientID, s.config.ReplayCount); n > 0 {
		logger.Debug("replayed recent broadcasts", "count", n)
	}

	return clientID, nil
}

// HandleMessage implements websocket.Acceptor
func (s *Service) HandleMessage(ctx context.Context, clientID string, message []byte) {
	s.registry.Touch(clientID)

	ctx = logging.WithLogger(protocol.WithClientID(ctx, clientID), s.logger.WithClient(clientID))

	if !s.registry.Allow(clientID) {
		s.reply(ctx, clientID, domain.ErrorMessage{
			Code:    CodeRateLimited,
			Message: "too many messages",
		})
		return
	}

	env, err := s.codec.Decode(message)
	if err != nil {
		s.replyError(ctx, clientID, err)
		return
	}

	resp, err := s.handlers.Handle(ctx, env)
	if err != nil {
		s.replyError(ctx, clientID, err)
		return
	}

	if resp != nil {
		if err := s.engine.SendTo(ctx, clientID, *resp); err != nil {
			logging.FromContext(ctx).Debug("failed to send reply", "error", err)
		}
	}
}

// Touch implements websocket.Acceptor
func (s *Service) Touch(clientID string) {
	s.registry.Touch(clientID)
}

// Disconnect implements websocket.Acceptor
func (s *Service) Disconnect(clientID string) {
	s.removeClient(clientID, domain.CloseNormalClosure, "connection closed")
}

func (s *Service) removeClient(clientID string, code int, reason string) {
	if s.registry.Remove(clientID, code, reason) {
		s.clientRemoved(clientID, reason)
	}
}

func (s *Service) clientRemoved(clientID, reason string) {
	s.metrics.setConnections(s.registry.Count())

	s.logger.Info("client disconnected",
		"client_id", clientID,
		"reason", reason,
		"total_clients", s.registry.Count(),
	)

	s.publish(eventbus.NewEvent(eventbus.EventClientDisconnected, eventSource, nil).
		WithMetadata("client_id", clientID).
		WithMetadata("reason", reason))
}

func (s *Service) clientEvicted(clientID, reason string) {
	s.metrics.setConnections(s.registry.Count())

	s.publish(eventbus.NewEvent(eventbus.EventClientEvicted, eventSource, nil).
		WithMetadata("client_id", clientID).
		WithMetadata("reason", reason))
}

func (s *Service) reply(ctx context.Context, clientID string, p domain.Payload) {
	if err := s.engine.SendTo(ctx, clientID, s.engine.Envelope(p)); err != nil {
		s.logger.Debug("failed to send reply",
			"client_id", clientID,
			"error", err,
		)
	}
}

func (s *Service) replyError(ctx context.Context, clientID string, err error) {
	s.errs.Handle(ctx, err)

	msg := domain.ErrorMessage{Code: CodeInternal, Message: "internal error"}
	if e, ok := errors.As(err); ok {
		msg.Code = e.Code
		msg.Message = e.Message
	}

	s.reply(ctx, clientID, msg)
}

// publish queues event for observers. Delivery happens on the bus worker so
// a slow or re-entrant observer never blocks a fan-out or a lifecycle call.
func (s *Service) publish(event *eventbus.Event) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(event)
}

func (s *Service) shutdownTimeout() time.Duration {
	if s.config.ShutdownTimeout <= 0 {
		return DefaultConfig().ShutdownTimeout
	}
	return s.config.ShutdownTimeout
}
