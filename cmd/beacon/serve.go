package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/beacon/internal/config"
	"github.com/HMasataka/beacon/internal/eventbus"
	"github.com/HMasataka/beacon/internal/httpapi"
	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/internal/relay"
	"github.com/HMasataka/beacon/pkg/hub"
	"github.com/HMasataka/beacon/pkg/transport/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broadcast hub",
		RunE:  runServe,
	}

	cmd.Flags().StringP("config", "c", "", "config file path (.yaml, .yml or .json)")
	cmd.Flags().Int("port", 0, "listen port (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(config.LoadOptions{Path: configPath})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the bus outlives ctx so hub.stopped still reaches observers
	bus := eventbus.NewInMemoryBus(256)
	bus.Start(context.Background())
	defer bus.Stop()
	bus.SubscribeAll(func(event *eventbus.Event) {
		logger.Debug("hub event",
			"event_id", event.ID,
			"event_type", event.Type,
			"metadata", event.Metadata,
		)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []hub.Option{
		hub.WithConfig(hubConfig(cfg)),
		hub.WithLogger(logger),
		hub.WithEventBus(bus),
		hub.WithMetrics(hub.NewMetrics(registry)),
	}

	if cfg.Relay.Enabled {
		client, err := relay.Dial(ctx, cfg.Relay.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		r := relay.New(client, relay.Options{
			Channel: cfg.Relay.Channel,
			Logger:  logger,
		})
		logger.Info("relay enabled", "channel", cfg.Relay.Channel, "node_id", r.NodeID())
		opts = append(opts, hub.WithRelay(r))
	}

	service := hub.NewService(opts...)
	httpapi.NewHandler(service, registry, logger).Mount(service.Router())

	if !service.Start(ctx, cfg.Server.Port) {
		return fmt.Errorf("failed to listen on port %d", cfg.Server.Port)
	}

	logger.Info("beacon started",
		"version", version,
		"port", cfg.Server.Port,
	)

	<-ctx.Done()

	logger.Info("shutting down")
	service.Stop()

	bus.Stop()
	if dropped := bus.Dropped(); dropped > 0 {
		logger.Warn("hub events dropped on a full event queue", "count", dropped)
	}

	return nil
}

func hubConfig(cfg *config.Config) hub.Config {
	return hub.Config{
		Host:              cfg.Server.Host,
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
		MaxQueueSize:      cfg.Hub.MaxQueueSize,
		ReplayCount:       cfg.Hub.ReplayCount,
		DefaultRadiusKm:   cfg.Hub.DefaultRadiusKm,
		InboundRate:       cfg.Hub.InboundRate,
		InboundBurst:      cfg.Hub.InboundBurst,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Connection: websocket.ConnectionOptions{
			WriteTimeout:   cfg.Hub.WriteTimeout,
			MaxMessageSize: cfg.Hub.MaxMessageSize,
			SendBufferSize: cfg.Hub.SendBufferSize,
		},
	}
}
