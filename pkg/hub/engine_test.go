package hub

import (
	"context"
	"errors"
	"testing"

	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine   *Engine
	registry *Registry
	queue    *Queue
	clock    *clockwork.FakeClock
	metrics  *Metrics
	removed  []string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		clock:   clockwork.NewFakeClock(),
		queue:   NewQueue(10),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	f.registry = NewRegistry(RegistryOptions{Clock: f.clock})
	f.engine = NewEngine(f.registry, f.queue, EngineOptions{
		Clock:   f.clock,
		Metrics: f.metrics,
		OnRemoved: func(clientID, reason string) {
			f.removed = append(f.removed, clientID)
		},
	})
	return f
}

func TestEngine_BroadcastAllReachesEveryClient(t *testing.T) {
	f := newEngineFixture(t)

	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{}
		f.registry.Register(conns[i])
	}

	report, err := f.engine.BroadcastAll(context.Background(), domain.EmergencyAlert{
		BloodType: "O-",
		Message:   "trauma centre needs O- donors",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DeliveryReport{
		Type:      domain.MessageTypeEmergencyAlert,
		Matched:   5,
		Delivered: 5,
	}, report)

	for _, c := range conns {
		envs := c.envelopes(t)
		require.Len(t, envs, 1)
		assert.Equal(t, domain.MessageTypeEmergencyAlert, envs[0].Type)
		assert.Equal(t, domain.UrgencyCritical, envs[0].Urgency)
		assert.True(t, f.clock.Now().Equal(envs[0].Timestamp))
		assert.False(t, envs[0].IsReplay)
	}

	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, float64(5), testutil.ToFloat64(f.metrics.Deliveries.WithLabelValues(ResultDelivered)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReplayQueueSize))
}

func TestEngine_BroadcastAllWithNoClientsStillQueues(t *testing.T) {
	f := newEngineFixture(t)

	report, err := f.engine.BroadcastAll(context.Background(), domain.WeatherWarning{Event: "cyclone"})
	require.NoError(t, err)

	assert.Zero(t, report.Matched)
	assert.Equal(t, 1, f.queue.Len())
}

func TestEngine_FailedSendRemovesClient(t *testing.T) {
	f := newEngineFixture(t)

	healthy := &fakeConn{}
	broken := &fakeConn{sendErr: errors.New("broken pipe")}
	f.registry.Register(healthy)
	brokenID := f.registry.Register(broken)

	report, err := f.engine.BroadcastAll(context.Background(), domain.EmergencyAlert{Message: "x"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Matched)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Failed)

	_, ok := f.registry.Get(brokenID)
	assert.False(t, ok)
	assert.Equal(t, []string{brokenID}, f.removed)

	closes, code, _ := broken.closed()
	assert.Equal(t, 1, closes)
	assert.Equal(t, domain.CloseGoingAway, code)
	assert.Len(t, healthy.envelopes(t), 1)
}

func TestEngine_CancelledContextKeepsClient(t *testing.T) {
	f := newEngineFixture(t)
	id := f.registry.Register(&fakeConn{sendErr: context.Canceled})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.engine.BroadcastAll(ctx, domain.EmergencyAlert{Message: "x"})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	_, ok := f.registry.Get(id)
	assert.True(t, ok)
}

func TestEngine_BroadcastTargeted(t *testing.T) {
	f := newEngineFixture(t)

	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	f.registry.UpdateMetadata(f.registry.Register(a), registration("O+", mumbai))
	f.registry.UpdateMetadata(f.registry.Register(b), registration("A+", mumbai))
	f.registry.UpdateMetadata(f.registry.Register(c), registration("O+", delhi))

	report, err := f.engine.BroadcastTargeted(context.Background(),
		domain.UrgentRequest{BloodType: "O+", Message: "two units needed"},
		domain.TargetCriteria{BloodType: "O+", Location: &mumbai, RadiusKm: 50},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Delivered)

	envs := a.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, domain.MessageTypeUrgentRequest, envs[0].Type)
	assert.Equal(t, domain.UrgencyHigh, envs[0].Urgency)
	assert.Empty(t, b.envelopes(t))
	assert.Empty(t, c.envelopes(t))

	assert.Zero(t, f.queue.Len())
}

func TestEngine_Replay(t *testing.T) {
	f := newEngineFixture(t)

	for _, msg := range []string{"one", "two", "three"} {
		_, err := f.engine.BroadcastAll(context.Background(), domain.EmergencyAlert{Message: msg})
		require.NoError(t, err)
	}

	conn := &fakeConn{}
	id := f.registry.Register(conn)

	assert.Equal(t, 2, f.engine.Replay(context.Background(), id, 2))

	envs := conn.envelopes(t)
	require.Len(t, envs, 2)
	for i, want := range []string{"two", "three"} {
		assert.True(t, envs[i].IsReplay)
		assert.Equal(t, want, envs[i].Payload.(domain.EmergencyAlert).Message)
	}
}

func TestEngine_SendToUnknownClient(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.SendTo(context.Background(), "missing", f.engine.Envelope(domain.Heartbeat{}))
	assert.ErrorIs(t, err, domain.ErrClientNotFound)
}
