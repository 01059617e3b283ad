package routing

import (
	"context"
	"errors"

	natsgo "github.com/nats-io/nats.go"

	pkgnats "github.com/angelmondragon/notifyhub/pkg/nats"
)

// NATSClient is the slice of pkg/nats the bus needs.
type NATSClient interface {
	Subject(name string) string
	QueueGroup() string
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
	Subscribe(ctx context.Context, subject string, handler pkgnats.Handler) (*natsgo.Subscription, error)
	QueueSubscribe(ctx context.Context, subject, queue string, handler pkgnats.Handler) (*natsgo.Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ NATSClient = (*pkgnats.Client)(nil)

// NATSBus runs the bus on core NATS: queue groups for shared consumption and
// plain subscriptions (every subscriber gets a copy) for exclusive consumption.
// Core NATS does not redeliver, so failed handlers are logged by the client.
type NATSBus struct {
	client NATSClient
}

func NewNATSBus(client NATSClient) (*NATSBus, error) {
	if client == nil {
		return nil, errors.New("nats client required")
	}
	return &NATSBus{client: client}, nil
}

func (b *NATSBus) Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) error {
	return b.client.Publish(ctx, b.client.Subject(topic), data, attributes)
}

func (b *NATSBus) ConsumeShared(ctx context.Context, topic, group string, handler Handler) error {
	if group == "" {
		group = b.client.QueueGroup()
	}
	sub, err := b.client.QueueSubscribe(ctx, b.client.Subject(topic), group, adaptHandler(handler))
	if err != nil {
		return err
	}
	return waitAndDrain(ctx, sub)
}

func (b *NATSBus) ConsumeExclusive(ctx context.Context, topic string, handler Handler) error {
	sub, err := b.client.Subscribe(ctx, b.client.Subject(topic), adaptHandler(handler))
	if err != nil {
		return err
	}
	return waitAndDrain(ctx, sub)
}

func (b *NATSBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

// Close is a no-op; the client is closed by its owner.
func (b *NATSBus) Close() error {
	return nil
}

func adaptHandler(handler Handler) pkgnats.Handler {
	return func(ctx context.Context, data []byte, headers map[string]string) error {
		err := handler(ctx, Message{Data: data, Attributes: headers})
		if IsPermanent(err) {
			return nil
		}
		return err
	}
}

func waitAndDrain(ctx context.Context, sub *natsgo.Subscription) error {
	<-ctx.Done()
	if sub != nil {
		_ = sub.Drain()
	}
	return nil
}
