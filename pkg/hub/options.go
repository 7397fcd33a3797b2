package hub

import (
	"net/http"
	"time"

	"github.com/HMasataka/beacon/internal/eventbus"
	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/transport/websocket"
	"github.com/jonboulle/clockwork"
)

// Config represents hub service tuning
type Config struct {
	Host              string
	HeartbeatInterval time.Duration
	MaxQueueSize      int
	ReplayCount       int
	DefaultRadiusKm   float64
	InboundRate       float64
	InboundBurst      int
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Connection        websocket.ConnectionOptions
}

// DefaultConfig returns the default hub configuration
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		MaxQueueSize:      DefaultMaxQueueSize,
		ReplayCount:       5,
		DefaultRadiusKm:   domain.DefaultRadiusKm,
		InboundRate:       20,
		InboundBurst:      40,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		Connection:        websocket.DefaultConnectionOptions(),
	}
}

// ServiceOptions represents hub service options
type ServiceOptions struct {
	Config      Config
	Logger      *logging.Logger
	Clock       clockwork.Clock
	Bus         eventbus.Bus
	Metrics     *Metrics
	Relay       Relay
	CheckOrigin func(r *http.Request) bool
}

// Option is a function that configures ServiceOptions
type Option func(*ServiceOptions)

// WithConfig sets the service tuning
func WithConfig(cfg Config) Option {
	return func(o *ServiceOptions) {
		o.Config = cfg
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *logging.Logger) Option {
	return func(o *ServiceOptions) {
		o.Logger = logger
	}
}

// WithClock sets the clock used for timestamps and heartbeats
func WithClock(clock clockwork.Clock) Option {
	return func(o *ServiceOptions) {
		o.Clock = clock
	}
}

// WithEventBus sets the bus lifecycle events are published to
func WithEventBus(bus eventbus.Bus) Option {
	return func(o *ServiceOptions) {
		o.Bus = bus
	}
}

// WithMetrics sets the prometheus collectors
func WithMetrics(metrics *Metrics) Option {
	return func(o *ServiceOptions) {
		o.Metrics = metrics
	}
}

// WithRelay enables cross-instance fan-out
func WithRelay(relay Relay) Option {
	return func(o *ServiceOptions) {
		o.Relay = relay
	}
}

// WithCheckOrigin sets the websocket origin check
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) Option {
	return func(o *ServiceOptions) {
		o.CheckOrigin = checkOrigin
	}
}
