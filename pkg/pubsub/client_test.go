package pubsub

import (
	"testing"

	"github.com/angelmondragon/notifyhub/pkg/config"
)

func TestInstanceSubscriptionID(t *testing.T) {
	cases := []struct {
		prefix, instance, want string
	}{
		{"routed-deliveries", "notifyhub-7c9f", "routed-deliveries-notifyhub-7c9f"},
		{"routed-deliveries", "Pod/A:1", "routed-deliveries-pod-a-1"},
		{"", "pod-a", "routed-pod-a"},
		{"routed", "  ", ""},
	}
	for _, tc := range cases {
		if got := InstanceSubscriptionID(tc.prefix, tc.instance); got != tc.want {
			t.Fatalf("InstanceSubscriptionID(%q, %q) = %q, want %q", tc.prefix, tc.instance, got, tc.want)
		}
	}
}

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "proj"}
	if got := c.topicResourceName("notifications"); got != "projects/proj/topics/notifications" {
		t.Fatalf("unexpected topic name %q", got)
	}
	full := "projects/other/subscriptions/sub"
	if got := c.subscriptionResourceName(full); got != full {
		t.Fatalf("full resource names should pass through, got %q", got)
	}
	if got := (&Client{}).topicResourceName("t"); got != "" {
		t.Fatalf("missing project should yield empty name, got %q", got)
	}
}

func TestSharedSubscriptionNamesSkipsBlanks(t *testing.T) {
	names := sharedSubscriptionNames(config.PubSubConfig{
		NotificationSubscription: "notifications-sub",
		CriticalSubscription:     " ",
		BroadcastSubscription:    "broadcast-sub",
	})
	if len(names) != 2 || names[0] != "notifications-sub" || names[1] != "broadcast-sub" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Publisher("t") != nil || c.Subscription("s") != nil {
		t.Fatal("nil client should return nil handles")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil close should be a no-op: %v", err)
	}
}
