package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/client"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/spf13/cobra"
)

type listenedEnvelope struct {
	Type      domain.MessageType `json:"type"`
	Data      domain.Payload     `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
	Historic  bool               `json:"isHistoric,omitempty"`
}

func newListenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to a hub and print every pushed message as a JSON line",
		RunE:  runListen,
	}

	cmd.Flags().String("url", "ws://localhost:8080/ws", "hub websocket URL")
	cmd.Flags().String("user-type", "", "register as guest, donor, hospital or admin")
	cmd.Flags().String("blood-type", "", "preferred blood type")
	cmd.Flags().Float64("lat", 0, "latitude")
	cmd.Flags().Float64("lng", 0, "longitude")
	cmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	return cmd
}

func runListen(cmd *cobra.Command, _ []string) error {
	rawURL, _ := cmd.Flags().GetString("url")
	logLevel, _ := cmd.Flags().GetString("log-level")

	serverURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid hub URL: %w", err)
	}

	reg, err := listenRegistration(cmd)
	if err != nil {
		return err
	}

	options := client.DefaultOptions()
	options.Logger = logging.New(logging.Config{Level: logLevel, Format: "text"})
	options.Registration = reg

	c := client.NewClient(*serverURL, options)

	out := json.NewEncoder(cmd.OutOrStdout())
	c.OnAny(func(_ context.Context, env domain.Envelope) error {
		return out.Encode(listenedEnvelope{
			Type:      env.Type,
			Data:      env.Payload,
			Timestamp: env.Timestamp,
			Historic:  env.IsReplay,
		})
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		disconnectCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return c.Disconnect(disconnectCtx)
	case <-c.Done():
		return fmt.Errorf("connection closed by hub")
	}
}

func listenRegistration(cmd *cobra.Command) (*domain.Registration, error) {
	flags := cmd.Flags()
	if !flags.Changed("user-type") && !flags.Changed("blood-type") && !flags.Changed("lat") && !flags.Changed("lng") {
		return nil, nil
	}

	reg := &domain.Registration{}

	if raw, _ := flags.GetString("user-type"); raw != "" {
		userType, err := domain.ParseUserType(raw)
		if err != nil {
			return nil, err
		}
		reg.UserType = userType
	}

	if bloodType, _ := flags.GetString("blood-type"); bloodType != "" {
		reg.Preferences = &domain.Preferences{BloodType: bloodType}
	}

	if flags.Changed("lat") || flags.Changed("lng") {
		lat, _ := flags.GetFloat64("lat")
		lng, _ := flags.GetFloat64("lng")
		reg.Location = &domain.Location{Lat: lat, Lng: lng}
	}

	return reg, nil
}
