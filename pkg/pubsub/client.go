package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/notifyhub/pkg/config"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

const (
	routedAckDeadlineSeconds = 20
	// Per-instance subscriptions left behind by crashed pods expire on their own.
	routedSubscriptionTTL = 24 * time.Hour
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	logg      *logger.Logger

	mu                 sync.Mutex
	instanceSubscriber string
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscriptions   = errors.New("pubsub subscription name is required")
)

// NewClient creates a Pub/Sub v2 client. When checkShared is true the shared
// ingestion subscriptions must already exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, checkShared bool, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		cfg:       cfg,
		logg:      logg,
	}

	if checkShared {
		if err := c.ensureSubscriptionsConfigured(ctx); err != nil {
			_ = psClient.Close()
			return nil, err
		}
	}

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}

	return c, nil
}

func (c *Client) ensureSubscriptionsConfigured(ctx context.Context) error {
	names := sharedSubscriptionNames(c.cfg)
	if len(names) == 0 {
		return errNoSubscriptions
	}
	for _, name := range names {
		if err := c.ensureSubscriptionExists(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func sharedSubscriptionNames(cfg config.PubSubConfig) []string {
	names := []string{}
	for _, name := range []string{
		cfg.NotificationSubscription,
		cfg.CriticalSubscription,
		cfg.BroadcastSubscription,
	} {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func (c *Client) ensureSubscriptionExists(ctx context.Context, name string) error {
	fullName := c.subscriptionResourceName(name)
	if fullName == "" {
		return fmt.Errorf("subscription %q not configured", name)
	}

	_, err := c.client.SubscriptionAdminClient.GetSubscription(
		ctx,
		&pubsubpb.GetSubscriptionRequest{Subscription: fullName},
	)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("subscription %q does not exist", name)
		}
		return fmt.Errorf("checking subscription %q: %w", name, err)
	}

	return nil
}

// EnsureInstanceSubscription creates (or reuses) the routed-delivery subscription
// owned by this instance alone and returns its ID.
func (c *Client) EnsureInstanceSubscription(ctx context.Context, instanceID string) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("pubsub client not initialized")
	}
	subID := InstanceSubscriptionID(c.cfg.RoutedSubscriptionPrefix, instanceID)
	if subID == "" {
		return "", errors.New("instance id is required")
	}

	req := &pubsubpb.Subscription{
		Name:               c.subscriptionResourceName(subID),
		Topic:              c.topicResourceName(c.cfg.RoutedTopic),
		AckDeadlineSeconds: routedAckDeadlineSeconds,
	}
	if c.cfg.RoutedSubscriptionExpires {
		req.ExpirationPolicy = &pubsubpb.ExpirationPolicy{Ttl: durationpb.New(routedSubscriptionTTL)}
	}

	if _, err := c.client.SubscriptionAdminClient.CreateSubscription(ctx, req); err != nil {
		if status.Code(err) != codes.AlreadyExists {
			return "", fmt.Errorf("creating instance subscription %q: %w", subID, err)
		}
	}

	c.mu.Lock()
	c.instanceSubscriber = subID
	c.mu.Unlock()

	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "subscription", subID), "instance subscription ready")
	}
	return subID, nil
}

// DeleteInstanceSubscription removes the subscription created by EnsureInstanceSubscription.
func (c *Client) DeleteInstanceSubscription(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	subID := c.instanceSubscriber
	c.instanceSubscriber = ""
	c.mu.Unlock()
	if subID == "" {
		return nil
	}

	err := c.client.SubscriptionAdminClient.DeleteSubscription(ctx, &pubsubpb.DeleteSubscriptionRequest{
		Subscription: c.subscriptionResourceName(subID),
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting instance subscription %q: %w", subID, err)
	}
	return nil
}

// Subscription returns a v2 Subscriber handle for the configured subscription name (ID or full resource name).
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.subscriptionResourceName(name)
	if fullName == "" {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// Publisher returns a publisher handle for the given topic ID/resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

// Ping verifies Pub/Sub connectivity by checking the subscriptions this process reads.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	c.mu.Lock()
	subID := c.instanceSubscriber
	c.mu.Unlock()
	if subID != "" {
		return c.ensureSubscriptionExists(ctx, subID)
	}
	return c.ensureSubscriptionsConfigured(ctx)
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// InstanceSubscriptionID derives a valid subscription ID from prefix and instance id.
func InstanceSubscriptionID(prefix, instanceID string) string {
	id := strings.TrimSpace(instanceID)
	if id == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "routed"
	}
	return fmt.Sprintf("%s-%s", prefix, b.String())
}

func (c *Client) subscriptionResourceName(name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}

	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/subscriptions/") {
		return n
	}

	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", p, n)
}

func (c *Client) topicResourceName(name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
