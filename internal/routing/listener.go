package routing

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/offline"
	"github.com/angelmondragon/notifyhub/pkg/enums"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	"github.com/angelmondragon/notifyhub/pkg/metrics"
)

// LocalConnections is the slice of the connection manager the listener drives.
type LocalConnections interface {
	Push(ctx context.Context, userID string, payload notifications.Payload) error
	Supersede(ctx context.Context, userID, connectionID string) bool
}

// RoutedListener consumes the routed-delivery topic with an identity unique
// to this instance and acts only on messages addressed to it.
type RoutedListener struct {
	bus        Bus
	topic      string
	instanceID string
	conns      LocalConnections
	offline    offline.Queue
	metrics    *metrics.DeliveryMetrics
	logg       *logger.Logger
}

func NewRoutedListener(bus Bus, topic, instanceID string, conns LocalConnections, queue offline.Queue, m *metrics.DeliveryMetrics, logg *logger.Logger) (*RoutedListener, error) {
	if bus == nil {
		return nil, errors.New("bus required")
	}
	if topic == "" || instanceID == "" {
		return nil, errors.New("routed topic and instance id required")
	}
	if conns == nil {
		return nil, errors.New("connection manager required")
	}
	if queue == nil {
		return nil, errors.New("offline queue required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &RoutedListener{
		bus:        bus,
		topic:      topic,
		instanceID: instanceID,
		conns:      conns,
		offline:    queue,
		metrics:    m,
		logg:       logg,
	}, nil
}

// Run blocks until ctx ends.
func (l *RoutedListener) Run(ctx context.Context) error {
	l.logg.Info(l.logg.WithInstanceID(ctx, l.instanceID), "routed listener started")
	return l.bus.ConsumeExclusive(ctx, l.topic, l.Handle)
}

// Handle processes one routed message.
func (l *RoutedListener) Handle(ctx context.Context, msg Message) error {
	// The attribute lets us skip foreign messages without decoding them.
	if target, ok := msg.Attributes[attrTargetInstance]; ok && target != l.instanceID {
		l.metrics.IncRouted("ignored")
		return nil
	}

	var routed RoutedDeliveryMessage
	if err := json.Unmarshal(msg.Data, &routed); err != nil {
		l.metrics.IncRouted("invalid")
		l.logg.Error(l.logg.WithField(ctx, "message_id", msg.ID), "failed to decode routed message", err)
		return Permanent(err)
	}
	if routed.TargetInstanceID != l.instanceID {
		l.metrics.IncRouted("ignored")
		return nil
	}
	if err := routed.Validate(); err != nil {
		l.metrics.IncRouted("invalid")
		l.logg.Error(l.logg.WithField(ctx, "message_id", msg.ID), "invalid routed message", err)
		return Permanent(err)
	}

	logCtx := l.logg.WithFields(l.logg.WithUserID(ctx, routed.TargetUserID), map[string]any{
		"kind":               string(routed.Kind),
		"source_instance_id": routed.SourceInstanceID,
	})

	switch routed.Kind {
	case enums.RoutedKindSupersede:
		if l.conns.Supersede(ctx, routed.TargetUserID, routed.ConnectionID) {
			l.metrics.IncRouted("superseded")
			l.logg.Info(logCtx, "connection superseded by another instance")
		} else {
			l.metrics.IncRouted("stale")
		}
		return nil
	default:
		return l.deliver(ctx, logCtx, routed)
	}
}

func (l *RoutedListener) deliver(ctx, logCtx context.Context, routed RoutedDeliveryMessage) error {
	payload := *routed.Payload
	logCtx = l.logg.WithEventID(logCtx, payload.EventID)

	err := l.conns.Push(ctx, routed.TargetUserID, payload)
	if err == nil {
		l.metrics.IncRouted("handled")
		l.logg.Debug(logCtx, "routed notification pushed")
		return nil
	}

	// The user left (or the push failed) between lookup and arrival.
	if qerr := l.offline.Enqueue(ctx, routed.TargetUserID, payload); qerr != nil {
		l.logg.Error(logCtx, "routed fallback to offline queue failed", qerr)
		return qerr
	}
	l.metrics.IncRouted("fallback")
	l.metrics.IncDelivery(string(enums.DeliveryPathOffline))
	l.logg.Info(l.logg.WithField(logCtx, "push_error", err.Error()), "routed notification queued offline")
	return nil
}
