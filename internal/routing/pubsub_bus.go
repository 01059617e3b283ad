package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	pkgpubsub "github.com/angelmondragon/notifyhub/pkg/pubsub"
)

const defaultPublishTimeout = 10 * time.Second

// PubSubClient is the slice of pkg/pubsub the bus needs.
type PubSubClient interface {
	Publisher(name string) *pubsub.Publisher
	Subscription(name string) *pubsub.Subscriber
	EnsureInstanceSubscription(ctx context.Context, instanceID string) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ PubSubClient = (*pkgpubsub.Client)(nil)

// PubSubBus runs the bus on Google Cloud Pub/Sub. Shared consumption uses a
// pre-provisioned subscription; exclusive consumption uses a subscription
// created for this instance on the routed topic.
type PubSubBus struct {
	client     PubSubClient
	instanceID string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewPubSubBus(client PubSubClient, instanceID string) (*PubSubBus, error) {
	if client == nil {
		return nil, errors.New("pubsub client required")
	}
	if instanceID == "" {
		return nil, errors.New("instance id required")
	}
	return &PubSubBus{client: client, instanceID: instanceID, publishers: map[string]*pubsub.Publisher{}}, nil
}

func (b *PubSubBus) publisher(topic string) *pubsub.Publisher {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pub, ok := b.publishers[topic]; ok {
		return pub
	}
	pub := b.client.Publisher(topic)
	if pub != nil {
		b.publishers[topic] = pub
	}
	return pub
}

func (b *PubSubBus) Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) error {
	pub := b.publisher(topic)
	if pub == nil {
		return fmt.Errorf("publisher not configured for topic %s", topic)
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &pubsub.Message{Data: data, Attributes: attributes})
	if result == nil {
		return fmt.Errorf("publisher returned nil for topic %s", topic)
	}
	_, err := result.Get(publishCtx)
	return err
}

// ConsumeShared receives from the subscription named group; topic is fixed
// by the subscription itself.
func (b *PubSubBus) ConsumeShared(ctx context.Context, topic, group string, handler Handler) error {
	sub := b.client.Subscription(group)
	if sub == nil {
		return fmt.Errorf("subscription %q not configured for topic %s", group, topic)
	}
	return receive(ctx, sub, handler)
}

// ConsumeExclusive creates (or reuses) this instance's routed subscription.
func (b *PubSubBus) ConsumeExclusive(ctx context.Context, topic string, handler Handler) error {
	subID, err := b.client.EnsureInstanceSubscription(ctx, b.instanceID)
	if err != nil {
		return err
	}
	sub := b.client.Subscription(subID)
	if sub == nil {
		return fmt.Errorf("instance subscription %q unavailable", subID)
	}
	return receive(ctx, sub, handler)
}

func receive(ctx context.Context, sub *pubsub.Subscriber, handler Handler) error {
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		err := handler(ctx, Message{ID: msg.ID, Data: msg.Data, Attributes: msg.Attributes})
		if err != nil && !IsPermanent(err) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (b *PubSubBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

// Close flushes cached publishers. The client itself is closed by its owner.
func (b *PubSubBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, pub := range b.publishers {
		pub.Stop()
		delete(b.publishers, topic)
	}
	return nil
}
