package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/notifyhub/pkg/enums"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
	"github.com/angelmondragon/notifyhub/pkg/logger"
)

const (
	attrEventID  = "event_id"
	attrPriority = "priority"
	attrSource   = "source_service"
)

// Publisher is the slice of the message bus the producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) error
}

// Topics names the ingestion topics.
type Topics struct {
	Notifications string
	Critical      string
	Broadcast     string
}

// Producer publishes inbound events onto the ingestion topics.
type Producer struct {
	bus    Publisher
	topics Topics
	logg   *logger.Logger
}

func NewProducer(bus Publisher, topics Topics, logg *logger.Logger) (*Producer, error) {
	if bus == nil {
		return nil, fmt.Errorf("publisher required")
	}
	if topics.Notifications == "" || topics.Critical == "" || topics.Broadcast == "" {
		return nil, fmt.Errorf("all ingestion topics are required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Producer{bus: bus, topics: topics, logg: logg}, nil
}

// Publish validates event and routes CRITICAL events to the critical topic.
// It returns the topic the event was published to.
func (p *Producer) Publish(ctx context.Context, event Event) (string, error) {
	event = event.Normalize()
	if err := ValidateEvent(event); err != nil {
		return "", err
	}
	if len(event.TargetUserIDs) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid notification event").
			WithDetails(map[string]string{"targetUserIds": "is required"})
	}

	topic := p.topics.Notifications
	if event.Priority == enums.PriorityCritical {
		topic = p.topics.Critical
	}
	return topic, p.publish(ctx, topic, event)
}

// PublishBroadcast sends event to every known user through the broadcast topic.
func (p *Producer) PublishBroadcast(ctx context.Context, event Event) (string, error) {
	event = event.Normalize()
	event.TargetUserIDs = nil
	if err := ValidateEvent(event); err != nil {
		return "", err
	}
	return p.topics.Broadcast, p.publish(ctx, p.topics.Broadcast, event)
}

func (p *Producer) publish(ctx context.Context, topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode notification event")
	}
	attrs := map[string]string{
		attrEventID:  event.EventID,
		attrPriority: string(event.Priority),
		attrSource:   event.SourceService,
	}
	if err := p.bus.Publish(ctx, topic, data, attrs); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish notification event")
	}
	logCtx := p.logg.WithFields(p.logg.WithEventID(ctx, event.EventID), map[string]any{
		"topic":    topic,
		"priority": string(event.Priority),
	})
	p.logg.Info(logCtx, "notification event published")
	return nil
}
