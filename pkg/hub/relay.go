package hub

import (
	"context"

	"github.com/HMasataka/beacon/pkg/domain"
)

// DeliverFunc fans a relayed envelope out to local clients. A nil criteria
// means every client.
type DeliverFunc func(ctx context.Context, env domain.Envelope, criteria *domain.TargetCriteria)

// Relay forwards broadcasts between hub instances
type Relay interface {
	// Publish forwards a locally triggered broadcast to the other instances
	Publish(ctx context.Context, env domain.Envelope, criteria *domain.TargetCriteria) error

	// Subscribe calls deliver for every broadcast another instance published.
	// It blocks until ctx is cancelled.
	Subscribe(ctx context.Context, deliver DeliverFunc) error
}
