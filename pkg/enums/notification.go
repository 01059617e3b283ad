package enums

import (
	"fmt"
	"strings"
)

// NotificationPriority is ordered; the highest values trigger escalation.
type NotificationPriority string

const (
	PriorityLow      NotificationPriority = "LOW"
	PriorityMedium   NotificationPriority = "MEDIUM"
	PriorityHigh     NotificationPriority = "HIGH"
	PriorityCritical NotificationPriority = "CRITICAL"
)

var validPriorities = []NotificationPriority{
	PriorityLow,
	PriorityMedium,
	PriorityHigh,
	PriorityCritical,
}

// IsValid checks whether the priority matches the canonical enum.
func (p NotificationPriority) IsValid() bool {
	return p.Rank() >= 0
}

// Rank returns the position of p in the ordering, or -1 when unknown.
func (p NotificationPriority) Rank() int {
	for i, candidate := range validPriorities {
		if candidate == p {
			return i
		}
	}
	return -1
}

// AtLeast reports whether p sorts at or above threshold.
func (p NotificationPriority) AtLeast(threshold NotificationPriority) bool {
	if !p.IsValid() || !threshold.IsValid() {
		return false
	}
	return p.Rank() >= threshold.Rank()
}

// ParseNotificationPriority converts raw strings case-insensitively.
func ParseNotificationPriority(value string) (NotificationPriority, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validPriorities {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification priority %q", value)
}

// ReadStatus tracks whether the recipient has seen a notification.
type ReadStatus string

const (
	ReadStatusUnread ReadStatus = "UNREAD"
	ReadStatusRead   ReadStatus = "READ"
)

func (r ReadStatus) IsValid() bool {
	return r == ReadStatusUnread || r == ReadStatusRead
}

// StreamFrame names the frames written on a live connection.
type StreamFrame string

const (
	FrameInit         StreamFrame = "INIT"
	FrameNotification StreamFrame = "notification"
	FrameKeepAlive    StreamFrame = "KEEPALIVE"
)

// RoutedKind distinguishes the messages carried on the routed-delivery topic.
type RoutedKind string

const (
	RoutedKindDeliver   RoutedKind = "deliver"
	RoutedKindSupersede RoutedKind = "supersede"
)

func (k RoutedKind) IsValid() bool {
	return k == RoutedKindDeliver || k == RoutedKindSupersede
}

// DeliveryPath labels the branch a dispatch took for one user.
type DeliveryPath string

const (
	DeliveryPathLocal   DeliveryPath = "local"
	DeliveryPathRouted  DeliveryPath = "routed"
	DeliveryPathOffline DeliveryPath = "offline"
	DeliveryPathSkipped DeliveryPath = "skipped"
)

// TargetAll is the sentinel target expanding to every known user.
const TargetAll = "ALL"
