package routing

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/notifyhub/pkg/config"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	pkgnats "github.com/angelmondragon/notifyhub/pkg/nats"
	pkgpubsub "github.com/angelmondragon/notifyhub/pkg/pubsub"
)

type clientCloser interface {
	Close() error
}

// Connection is a bus plus the teardown that removes this instance's routed
// subscription. Release is safe to call on every exit path; Close runs last.
type Connection struct {
	Bus     Bus
	Release func(ctx context.Context) error

	client clientCloser
}

// Close stops the bus publishers and then closes the underlying client. A
// NATS client configured to drain flushes pending publishes and in-flight
// handlers first.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	var err error
	if c.Bus != nil {
		err = multierr.Append(err, c.Bus.Close())
	}
	if c.client != nil {
		err = multierr.Append(err, c.client.Close())
	}
	return err
}

// Open connects the configured bus driver. checkShared requires the shared
// ingestion subscriptions to exist (Pub/Sub only).
func Open(ctx context.Context, cfg *config.Config, checkShared bool, logg *logger.Logger) (*Connection, error) {
	if cfg.Bus.IsNATS() {
		client, err := pkgnats.NewClient(ctx, cfg.NATS, cfg.Instance.ID, logg)
		if err != nil {
			return nil, fmt.Errorf("connecting nats: %w", err)
		}
		bus, err := NewNATSBus(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Connection{Bus: bus, Release: func(context.Context) error { return nil }, client: client}, nil
	}

	client, err := pkgpubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, checkShared, logg)
	if err != nil {
		return nil, err
	}
	bus, err := NewPubSubBus(client, cfg.Instance.ID)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Connection{Bus: bus, Release: client.DeleteInstanceSubscription, client: client}, nil
}

// IngestionBindings maps the three ingestion topics to their shared
// consumer groups for the configured driver.
func IngestionBindings(cfg *config.Config) []Binding {
	ps := cfg.PubSub
	if cfg.Bus.IsNATS() {
		group := cfg.NATS.QueueGroup
		return []Binding{
			{Topic: ps.NotificationTopic, Group: group, Kind: IngestStandard},
			{Topic: ps.CriticalTopic, Group: group, Kind: IngestCritical},
			{Topic: ps.BroadcastTopic, Group: group, Kind: IngestBroadcast},
		}
	}
	return []Binding{
		{Topic: ps.NotificationTopic, Group: ps.NotificationSubscription, Kind: IngestStandard},
		{Topic: ps.CriticalTopic, Group: ps.CriticalSubscription, Kind: IngestCritical},
		{Topic: ps.BroadcastTopic, Group: ps.BroadcastSubscription, Kind: IngestBroadcast},
	}
}
