package hub

import (
	"context"
	"errors"

	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/transport/protocol"
	"github.com/jonboulle/clockwork"
)

// RemovedFunc is called after a client was removed from the registry
type RemovedFunc func(clientID, reason string)

// EngineOptions represents broadcast engine options
type EngineOptions struct {
	Clock     clockwork.Clock
	Codec     protocol.Codec
	Logger    *logging.Logger
	Metrics   *Metrics
	OnRemoved RemovedFunc
}

// Engine builds envelopes and fans them out to registry snapshots
type Engine struct {
	registry  *Registry
	queue     *Queue
	clock     clockwork.Clock
	codec     protocol.Codec
	logger    *logging.Logger
	metrics   *Metrics
	onRemoved RemovedFunc
}

// NewEngine creates a new broadcast engine
func NewEngine(registry *Registry, queue *Queue, options EngineOptions) *Engine {
	if options.Clock == nil {
		options.Clock = clockwork.NewRealClock()
	}
	if options.Codec == nil {
		options.Codec = protocol.NewJSONCodec()
	}
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}

	return &Engine{
		registry:  registry,
		queue:     queue,
		clock:     options.Clock,
		codec:     options.Codec,
		logger:    options.Logger,
		metrics:   options.Metrics,
		onRemoved: options.OnRemoved,
	}
}

// Envelope stamps p with the current time
func (e *Engine) Envelope(p domain.Payload) domain.Envelope {
	return domain.NewEnvelope(p, e.clock.Now())
}

// BroadcastAll sends p to every registered client and records it for replay
func (e *Engine) BroadcastAll(ctx context.Context, p domain.Payload) (domain.DeliveryReport, error) {
	return e.DeliverAll(ctx, e.Envelope(p))
}

// BroadcastTargeted sends p to the clients matching criteria. Targeted
// envelopes are not recorded for replay.
func (e *Engine) BroadcastTargeted(ctx context.Context, p domain.Payload, criteria domain.TargetCriteria) (domain.DeliveryReport, error) {
	return e.DeliverTargeted(ctx, e.Envelope(p), criteria)
}

// DeliverAll pushes env to the replay buffer, then sends it to every
// registered client.
func (e *Engine) DeliverAll(ctx context.Context, env domain.Envelope) (domain.DeliveryReport, error) {
	data, err := e.codec.Encode(env)
	if err != nil {
		return domain.DeliveryReport{Type: env.Type}, err
	}

	e.queue.Push(env)
	e.metrics.setQueueSize(e.queue.Len())

	return e.fanout(ctx, env.Type, data, e.registry.All()), nil
}

// DeliverTargeted sends env to the clients matching criteria
func (e *Engine) DeliverTargeted(ctx context.Context, env domain.Envelope, criteria domain.TargetCriteria) (domain.DeliveryReport, error) {
	data, err := e.codec.Encode(env)
	if err != nil {
		return domain.DeliveryReport{Type: env.Type}, err
	}

	return e.fanout(ctx, env.Type, data, e.registry.Matching(criteria)), nil
}

// SendTo sends env to a single client. A failed send removes the client.
func (e *Engine) SendTo(ctx context.Context, clientID string, env domain.Envelope) error {
	conn, ok := e.registry.Conn(clientID)
	if !ok {
		return domain.ErrClientNotFound
	}

	data, err := e.codec.Encode(env)
	if err != nil {
		return err
	}

	if err := conn.Send(ctx, data); err != nil {
		e.dropRecipient(ctx, clientID, err)
		return err
	}
	return nil
}

// Replay sends the n most recent replay entries to a single client and
// returns how many were sent.
func (e *Engine) Replay(ctx context.Context, clientID string, n int) int {
	sent := 0
	for _, env := range e.queue.Recent(n) {
		if err := e.SendTo(ctx, clientID, env); err != nil {
			e.logger.Debug("replay aborted",
				"client_id", clientID,
				"error", err,
			)
			break
		}
		sent++
	}
	return sent
}

func (e *Engine) fanout(ctx context.Context, messageType domain.MessageType, data []byte, recipients []Recipient) domain.DeliveryReport {
	report := domain.DeliveryReport{
		Type:    messageType,
		Matched: len(recipients),
	}

	for _, rc := range recipients {
		if err := rc.Conn.Send(ctx, data); err != nil {
			report.Failed++
			e.dropRecipient(ctx, rc.ID, err)
			continue
		}
		report.Delivered++
	}

	e.metrics.observeReport(report)

	e.logger.Info("broadcast complete",
		"type", messageType,
		"matched", report.Matched,
		"delivered", report.Delivered,
		"failed", report.Failed,
	)

	return report
}

// dropRecipient removes a client whose send failed. Cancellation of the
// caller's context says nothing about the connection, so it is kept.
func (e *Engine) dropRecipient(ctx context.Context, clientID string, err error) {
	e.logger.Warn("send failed",
		"client_id", clientID,
		"error", err,
	)

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}

	if e.registry.Remove(clientID, domain.CloseGoingAway, "send failed") && e.onRemoved != nil {
		e.onRemoved(clientID, "send failed")
	}
}
