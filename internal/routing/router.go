package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/presence"
	"github.com/angelmondragon/notifyhub/pkg/enums"
)

const (
	attrTargetInstance = "target_instance_id"
	attrKind           = "kind"
)

// RoutedDeliveryMessage travels on the routed-delivery topic to the instance
// holding the target user's connection.
type RoutedDeliveryMessage struct {
	Kind             enums.RoutedKind       `json:"kind"`
	TargetInstanceID string                 `json:"targetInstanceId"`
	TargetUserID     string                 `json:"targetUserId"`
	ConnectionID     string                 `json:"connectionId,omitempty"`
	SourceInstanceID string                 `json:"sourceInstanceId,omitempty"`
	Payload          *notifications.Payload `json:"payload,omitempty"`
}

// Validate checks the fields each kind requires.
func (m RoutedDeliveryMessage) Validate() error {
	if !m.Kind.IsValid() {
		return fmt.Errorf("unknown routed kind %q", m.Kind)
	}
	if m.TargetInstanceID == "" || m.TargetUserID == "" {
		return errors.New("target instance and user are required")
	}
	if m.Kind == enums.RoutedKindDeliver && m.Payload == nil {
		return errors.New("deliver message without payload")
	}
	return nil
}

// Router publishes routed deliveries keyed by the owning instance.
type Router struct {
	bus        Bus
	topic      string
	instanceID string
}

func NewRouter(bus Bus, topic, instanceID string) (*Router, error) {
	if bus == nil {
		return nil, errors.New("bus required")
	}
	if topic == "" || instanceID == "" {
		return nil, errors.New("routed topic and instance id required")
	}
	return &Router{bus: bus, topic: topic, instanceID: instanceID}, nil
}

// Forward sends payload to targetInstanceID for live delivery to userID.
func (r *Router) Forward(ctx context.Context, targetInstanceID, userID string, payload notifications.Payload) error {
	return r.publish(ctx, RoutedDeliveryMessage{
		Kind:             enums.RoutedKindDeliver,
		TargetInstanceID: targetInstanceID,
		TargetUserID:     userID,
		SourceInstanceID: r.instanceID,
		Payload:          &payload,
	})
}

// SupersedeRemote asks the previous owner to close its connection for the user.
func (r *Router) SupersedeRemote(ctx context.Context, entry presence.Entry) error {
	return r.publish(ctx, RoutedDeliveryMessage{
		Kind:             enums.RoutedKindSupersede,
		TargetInstanceID: entry.OwnerInstanceID,
		TargetUserID:     entry.UserID,
		ConnectionID:     entry.ConnectionID,
		SourceInstanceID: r.instanceID,
	})
}

func (r *Router) publish(ctx context.Context, msg RoutedDeliveryMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, r.topic, data, map[string]string{
		attrTargetInstance: msg.TargetInstanceID,
		attrKind:           string(msg.Kind),
	})
}
