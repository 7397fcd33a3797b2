package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 30 * time.Second

func newHeartbeat(t *testing.T) (*HeartbeatMonitor, *Registry, *clockwork.FakeClock, *Metrics) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	metrics := NewMetrics(prometheus.NewRegistry())
	registry := NewRegistry(RegistryOptions{Clock: clock})
	monitor := NewHeartbeatMonitor(registry, HeartbeatOptions{
		Interval: testInterval,
		Clock:    clock,
		Metrics:  metrics,
	})
	return monitor, registry, clock, metrics
}

func TestHeartbeat_ProbesFreshConnections(t *testing.T) {
	monitor, registry, clock, _ := newHeartbeat(t)
	conn := &fakeConn{}
	id := registry.Register(conn)

	clock.Advance(testInterval)
	result := monitor.Sweep(context.Background())

	assert.Equal(t, SweepResult{Probed: 1}, result)
	assert.Equal(t, 1, conn.pingCount())

	info, ok := registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(-testInterval), info.LastSeenAt)
}

func TestHeartbeat_EvictsSilentConnections(t *testing.T) {
	monitor, registry, clock, metrics := newHeartbeat(t)
	silent := &fakeConn{}
	registry.Register(silent)

	clock.Advance(testInterval)
	monitor.Sweep(context.Background())

	clock.Advance(testInterval + time.Second)
	result := monitor.Sweep(context.Background())

	assert.Equal(t, SweepResult{Evicted: 1}, result)
	assert.Empty(t, registry.Infos())

	closes, code, reason := silent.closed()
	assert.Equal(t, 1, closes)
	assert.Equal(t, domain.CloseGoingAway, code)
	assert.Equal(t, ReasonHeartbeatTimeout, reason)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Evictions))
}

func TestHeartbeat_ToleratesOneMissedCycle(t *testing.T) {
	monitor, registry, clock, _ := newHeartbeat(t)
	registry.Register(&fakeConn{})

	clock.Advance(2 * testInterval)
	result := monitor.Sweep(context.Background())

	assert.Equal(t, SweepResult{Probed: 1}, result)
	assert.Equal(t, 1, registry.Count())
}

func TestHeartbeat_TouchKeepsConnectionAlive(t *testing.T) {
	monitor, registry, clock, _ := newHeartbeat(t)
	conn := &fakeConn{}
	id := registry.Register(conn)

	for i := 0; i < 5; i++ {
		clock.Advance(testInterval)
		monitor.Sweep(context.Background())
		registry.Touch(id)
	}

	assert.Equal(t, 1, registry.Count())
	assert.Equal(t, 5, conn.pingCount())
}

func TestHeartbeat_PingFailureEvicts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := NewRegistry(RegistryOptions{Clock: clock})

	var evicted []string
	monitor := NewHeartbeatMonitor(registry, HeartbeatOptions{
		Interval: testInterval,
		Clock:    clock,
		OnEvict: func(clientID, reason string) {
			evicted = append(evicted, clientID+":"+reason)
		},
	})

	id := registry.Register(&fakeConn{pingErr: errors.New("broken pipe")})
	healthy := registry.Register(&fakeConn{})

	result := monitor.Sweep(context.Background())

	assert.Equal(t, SweepResult{Probed: 1, Evicted: 1}, result)
	assert.Equal(t, []string{id + ":" + ReasonPingFailed}, evicted)

	_, ok := registry.Get(healthy)
	assert.True(t, ok)
}

func TestHeartbeat_RunSweepsOnEveryTick(t *testing.T) {
	monitor, registry, clock, _ := newHeartbeat(t)
	conn := &fakeConn{}
	registry.Register(conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		monitor.Run(ctx)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(testInterval)

	assert.Eventually(t, func() bool { return conn.pingCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestHeartbeat_DefaultInterval(t *testing.T) {
	monitor := NewHeartbeatMonitor(NewRegistry(RegistryOptions{}), HeartbeatOptions{})
	assert.Equal(t, DefaultHeartbeatInterval, monitor.Interval())
}
