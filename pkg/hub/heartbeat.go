package hub

import (
	"context"
	"time"

	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/jonboulle/clockwork"
)

// DefaultHeartbeatInterval is the probe period used when none is configured.
const DefaultHeartbeatInterval = 30 * time.Second

// Reasons passed to the eviction callback.
const (
	ReasonHeartbeatTimeout = "heartbeat timeout"
	ReasonPingFailed       = "ping failed"
)

// HeartbeatOptions represents heartbeat monitor options
type HeartbeatOptions struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *logging.Logger
	Metrics  *Metrics
	OnEvict  RemovedFunc
}

// SweepResult summarises one heartbeat cycle
type SweepResult struct {
	Probed  int
	Evicted int
}

// HeartbeatMonitor probes every connection once per interval and evicts the
// ones that have been silent for more than two intervals.
type HeartbeatMonitor struct {
	registry *Registry
	interval time.Duration
	clock    clockwork.Clock
	logger   *logging.Logger
	metrics  *Metrics
	onEvict  RemovedFunc
}

// NewHeartbeatMonitor creates a new heartbeat monitor
func NewHeartbeatMonitor(registry *Registry, options HeartbeatOptions) *HeartbeatMonitor {
	if options.Interval <= 0 {
		options.Interval = DefaultHeartbeatInterval
	}
	if options.Clock == nil {
		options.Clock = clockwork.NewRealClock()
	}
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}

	return &HeartbeatMonitor{
		registry: registry,
		interval: options.Interval,
		clock:    options.Clock,
		logger:   options.Logger,
		metrics:  options.Metrics,
		onEvict:  options.OnEvict,
	}
}

// Interval returns the probe period
func (h *HeartbeatMonitor) Interval() time.Duration {
	return h.interval
}

// Run sweeps once per interval until ctx is cancelled
func (h *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			result := h.Sweep(ctx)
			h.logger.Debug("heartbeat sweep",
				"probed", result.Probed,
				"evicted", result.Evicted,
			)
		}
	}
}

// Sweep runs a single heartbeat cycle
func (h *HeartbeatMonitor) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	now := h.clock.Now()
	threshold := 2 * h.interval

	for _, rc := range h.registry.All() {
		if ctx.Err() != nil {
			return result
		}

		if now.Sub(rc.Info.LastSeenAt) > threshold {
			if h.evict(rc.ID, ReasonHeartbeatTimeout) {
				result.Evicted++
			}
			continue
		}

		if err := rc.Conn.Ping(); err != nil {
			h.logger.Debug("ping failed",
				"client_id", rc.ID,
				"error", err,
			)
			if h.evict(rc.ID, ReasonPingFailed) {
				result.Evicted++
			}
			continue
		}
		result.Probed++
	}

	return result
}

func (h *HeartbeatMonitor) evict(clientID, reason string) bool {
	if !h.registry.Remove(clientID, domain.CloseGoingAway, reason) {
		return false
	}

	h.metrics.evicted()
	h.logger.Info("client evicted",
		"client_id", clientID,
		"reason", reason,
	)

	if h.onEvict != nil {
		h.onEvict(clientID, reason)
	}
	return true
}
