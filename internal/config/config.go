package config

import (
	"time"

	"github.com/HMasataka/beacon/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig   `json:"server" yaml:"server"`
	Hub     HubConfig      `json:"hub" yaml:"hub"`
	Relay   RelayConfig    `json:"relay" yaml:"relay"`
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents listener configuration
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host" envconfig:"BIND_HOST"`
	Port            int           `json:"port" yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// HubConfig represents broadcast hub tuning
type HubConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	MaxQueueSize      int           `json:"max_queue_size" yaml:"max_queue_size" envconfig:"MAX_QUEUE_SIZE"`
	ReplayCount       int           `json:"replay_count" yaml:"replay_count" envconfig:"REPLAY_COUNT"`
	DefaultRadiusKm   float64       `json:"default_radius_km" yaml:"default_radius_km" envconfig:"DEFAULT_RADIUS_KM"`
	SendBufferSize    int           `json:"send_buffer_size" yaml:"send_buffer_size" envconfig:"SEND_BUFFER_SIZE"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	MaxMessageSize    int64         `json:"max_message_size" yaml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE"`
	InboundRate       float64       `json:"inbound_rate" yaml:"inbound_rate" envconfig:"INBOUND_RATE"`
	InboundBurst      int           `json:"inbound_burst" yaml:"inbound_burst" envconfig:"INBOUND_BURST"`
}

// RelayConfig represents the optional multi-instance relay
type RelayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" envconfig:"RELAY_ENABLED"`
	RedisURL string `json:"redis_url" yaml:"redis_url" envconfig:"REDIS_URL"`
	Channel  string `json:"channel" yaml:"channel" envconfig:"RELAY_CHANNEL"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Hub: HubConfig{
			HeartbeatInterval: 30 * time.Second,
			MaxQueueSize:      100,
			ReplayCount:       5,
			DefaultRadiusKm:   50,
			SendBufferSize:    256,
			WriteTimeout:      10 * time.Second,
			MaxMessageSize:    64 * 1024,
			InboundRate:       20,
			InboundBurst:      40,
		},
		Relay: RelayConfig{
			Enabled:  false,
			RedisURL: "redis://localhost:6379/0",
			Channel:  "beacon:broadcasts",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return NewConfigError("server.shutdown_timeout", "timeout must be positive")
	}

	if c.Hub.HeartbeatInterval <= 0 {
		return NewConfigError("hub.heartbeat_interval", "interval must be positive")
	}

	if c.Hub.MaxQueueSize <= 0 {
		return NewConfigError("hub.max_queue_size", "queue size must be positive")
	}

	if c.Hub.ReplayCount < 0 || c.Hub.ReplayCount > c.Hub.MaxQueueSize {
		return NewConfigError("hub.replay_count", "replay count must be between 0 and max_queue_size")
	}

	if c.Hub.DefaultRadiusKm <= 0 {
		return NewConfigError("hub.default_radius_km", "radius must be positive")
	}

	if c.Hub.SendBufferSize <= 0 {
		return NewConfigError("hub.send_buffer_size", "buffer size must be positive")
	}

	if c.Hub.InboundRate <= 0 || c.Hub.InboundBurst <= 0 {
		return NewConfigError("hub.inbound_rate", "rate and burst must be positive")
	}

	if c.Relay.Enabled && (c.Relay.RedisURL == "" || c.Relay.Channel == "") {
		return NewConfigError("relay", "redis_url and channel are required when the relay is enabled")
	}

	return nil
}
