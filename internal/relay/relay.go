package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/hub"
	"github.com/HMasataka/beacon/pkg/transport/protocol"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "beacon:broadcasts"

// Message is what one instance publishes for the others
type Message struct {
	Origin   string                 `json:"origin"`
	Criteria *domain.TargetCriteria `json:"criteria,omitempty"`
	Envelope json.RawMessage        `json:"envelope"`
}

// Client is the subset of the go-redis client the relay uses
type Client interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// Options represents relay options
type Options struct {
	Channel string
	NodeID  string
	Codec   protocol.Codec
	Logger  *logging.Logger
}

// Relay fans broadcasts out across hub instances through Redis pub/sub.
// Messages carry the publishing node id so an instance never delivers its
// own broadcasts twice.
type Relay struct {
	client  Client
	channel string
	nodeID  string
	codec   protocol.Codec
	logger  *logging.Logger
}

var _ hub.Relay = (*Relay)(nil)

// New creates a new relay
func New(client Client, options Options) *Relay {
	if options.Channel == "" {
		options.Channel = DefaultChannel
	}
	if options.NodeID == "" {
		options.NodeID = xid.New().String()
	}
	if options.Codec == nil {
		options.Codec = protocol.NewJSONCodec()
	}
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}

	return &Relay{
		client:  client,
		channel: options.Channel,
		nodeID:  options.NodeID,
		codec:   options.Codec,
		logger:  options.Logger.WithFields(map[string]any{"node_id": options.NodeID}),
	}
}

// Dial connects to the Redis server at redisURL
func Dial(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NodeID returns the id stamped on published messages
func (r *Relay) NodeID() string {
	return r.nodeID
}

// Publish implements hub.Relay
func (r *Relay) Publish(ctx context.Context, env domain.Envelope, criteria *domain.TargetCriteria) error {
	data, err := r.encode(env, criteria)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe implements hub.Relay
func (r *Relay) Subscribe(ctx context.Context, deliver hub.DeliverFunc) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	r.logger.Info("relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, []byte(msg.Payload), deliver)
		}
	}
}

func (r *Relay) encode(env domain.Envelope, criteria *domain.TargetCriteria) ([]byte, error) {
	raw, err := r.codec.Encode(env)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(Message{
		Origin:   r.nodeID,
		Criteria: criteria,
		Envelope: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay message: %w", err)
	}
	return data, nil
}

func (r *Relay) handle(ctx context.Context, payload []byte, deliver hub.DeliverFunc) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("failed to unmarshal relay message", "error", err)
		return
	}

	if msg.Origin == r.nodeID {
		return
	}

	env, err := r.codec.Decode(msg.Envelope)
	if err != nil {
		r.logger.Warn("failed to decode relayed envelope",
			"origin", msg.Origin,
			"error", err,
		)
		return
	}

	deliver(ctx, env, msg.Criteria)
}
