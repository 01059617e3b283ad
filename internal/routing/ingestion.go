package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/notifyhub/internal/dispatch"
	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/pkg/enums"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
	"github.com/angelmondragon/notifyhub/pkg/logger"
)

// Processor is the dispatch surface the ingestion consumers drive.
type Processor interface {
	ProcessNotification(ctx context.Context, event notifications.Event, escalate bool) (*dispatch.Report, error)
	ProcessBroadcastNotification(ctx context.Context, event notifications.Event) (*dispatch.Report, error)
	ShouldEscalate(priority enums.NotificationPriority) bool
}

// IngestionKind selects how events from a topic are dispatched.
type IngestionKind int

const (
	// IngestStandard escalates when the priority reaches the threshold.
	IngestStandard IngestionKind = iota
	// IngestCritical always escalates.
	IngestCritical
	// IngestBroadcast targets every known user.
	IngestBroadcast
)

func (k IngestionKind) String() string {
	switch k {
	case IngestCritical:
		return "critical"
	case IngestBroadcast:
		return "broadcast"
	default:
		return "standard"
	}
}

// Binding attaches one ingestion topic to a shared consumer group.
type Binding struct {
	Topic string
	Group string
	Kind  IngestionKind
}

// IngestionConsumer consumes the ingestion topics, each event once fleet-wide.
type IngestionConsumer struct {
	bus       Bus
	processor Processor
	bindings  []Binding
	logg      *logger.Logger
}

func NewIngestionConsumer(bus Bus, processor Processor, bindings []Binding, logg *logger.Logger) (*IngestionConsumer, error) {
	if bus == nil {
		return nil, errors.New("bus required")
	}
	if processor == nil {
		return nil, errors.New("dispatch processor required")
	}
	if len(bindings) == 0 {
		return nil, errors.New("at least one ingestion binding required")
	}
	for _, b := range bindings {
		if b.Topic == "" {
			return nil, fmt.Errorf("%s binding has no topic", b.Kind)
		}
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &IngestionConsumer{bus: bus, processor: processor, bindings: bindings, logg: logg}, nil
}

// Run consumes every binding until ctx ends or one consumer fails.
func (c *IngestionConsumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, binding := range c.bindings {
		g.Go(func() error {
			logCtx := c.logg.WithFields(gctx, map[string]any{
				"topic": binding.Topic,
				"kind":  binding.Kind.String(),
			})
			c.logg.Info(logCtx, "ingestion consumer started")
			if err := c.bus.ConsumeShared(gctx, binding.Topic, binding.Group, c.Handler(binding.Kind)); err != nil {
				return fmt.Errorf("consume %s: %w", binding.Topic, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Handler returns the bus handler for kind.
func (c *IngestionConsumer) Handler(kind IngestionKind) Handler {
	return func(ctx context.Context, msg Message) error {
		return c.handle(ctx, kind, msg)
	}
}

func (c *IngestionConsumer) handle(ctx context.Context, kind IngestionKind, msg Message) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"kind":       kind.String(),
	})

	var event notifications.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logg.Error(logCtx, "dropping undecodable notification event", err)
		return Permanent(err)
	}
	event = event.Normalize()
	logCtx = c.logg.WithEventID(logCtx, event.EventID)

	var (
		report *dispatch.Report
		err    error
	)
	switch kind {
	case IngestBroadcast:
		report, err = c.processor.ProcessBroadcastNotification(ctx, event)
	case IngestCritical:
		report, err = c.processor.ProcessNotification(ctx, event, true)
	default:
		escalate := c.processor.ShouldEscalate(event.Priority)
		report, err = c.processor.ProcessNotification(ctx, event, escalate)
	}

	if err != nil {
		if !pkgerrors.IsRetryable(err) {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping invalid notification event")
			return Permanent(err)
		}
		c.logg.Error(logCtx, "notification event will be redelivered", err)
		return err
	}

	// Per-user failures were logged by dispatch; redelivery would repeat the
	// successful users too.
	if report != nil && report.Err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "failed_users", report.Failed()), "notification event acknowledged with failures")
	}
	return nil
}
