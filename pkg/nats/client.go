package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/notifyhub/pkg/config"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	natspkg "github.com/nats-io/nats.go"
)

// Handler consumes one message payload plus its headers.
type Handler func(ctx context.Context, data []byte, headers map[string]string) error

// Client wraps a NATS connection with the subject naming used by notifyhub.
type Client struct {
	nc     *natspkg.Conn
	cfg    config.NATSConfig
	logg   *logger.Logger
	drain  bool
	prefix string
}

// NewClient connects to NATS using the configured credentials and reconnect policy.
func NewClient(ctx context.Context, cfg config.NATSConfig, name string, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}

	opts := []natspkg.Option{
		natspkg.Name(name),
		natspkg.MaxReconnects(cfg.MaxReconnects),
		natspkg.ReconnectWait(cfg.ReconnectWait),
		natspkg.DisconnectErrHandler(func(_ *natspkg.Conn, err error) {
			if logg != nil && err != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "nats disconnected")
			}
		}),
		natspkg.ReconnectHandler(func(conn *natspkg.Conn) {
			if logg != nil {
				logg.Info(logg.WithField(ctx, "url", conn.ConnectedUrl()), "nats reconnected")
			}
		}),
	}
	if cfg.User != "" {
		opts = append(opts, natspkg.UserInfo(cfg.User, cfg.Password))
	}

	nc, err := natspkg.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "nats connection established")
	}

	return &Client{
		nc:     nc,
		cfg:    cfg,
		logg:   logg,
		drain:  cfg.DrainOnShutdown,
		prefix: strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), "."),
	}, nil
}

// Subject qualifies name with the configured prefix.
func (c *Client) Subject(name string) string {
	return subjectFor(c.prefix, name)
}

func subjectFor(prefix, name string) string {
	name = strings.Trim(strings.TrimSpace(name), ".")
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// QueueGroup returns the shared group used by ingestion consumers.
func (c *Client) QueueGroup() string {
	return c.cfg.QueueGroup
}

// Publish sends data on subject with optional headers.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	if c == nil || c.nc == nil {
		return errors.New("nats client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := natspkg.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	return c.nc.PublishMsg(msg)
}

// Subscribe attaches a handler that receives every message on subject.
func (c *Client) Subscribe(ctx context.Context, subject string, handler Handler) (*natspkg.Subscription, error) {
	if c == nil || c.nc == nil {
		return nil, errors.New("nats client not initialized")
	}
	return c.nc.Subscribe(subject, c.wrap(ctx, subject, handler))
}

// QueueSubscribe attaches a handler that shares subject with the rest of queue.
func (c *Client) QueueSubscribe(ctx context.Context, subject, queue string, handler Handler) (*natspkg.Subscription, error) {
	if c == nil || c.nc == nil {
		return nil, errors.New("nats client not initialized")
	}
	return c.nc.QueueSubscribe(subject, queue, c.wrap(ctx, subject, handler))
}

func (c *Client) wrap(ctx context.Context, subject string, handler Handler) natspkg.MsgHandler {
	return func(msg *natspkg.Msg) {
		headers := map[string]string{}
		for k := range msg.Header {
			headers[k] = msg.Header.Get(k)
		}
		if err := handler(ctx, msg.Data, headers); err != nil && c.logg != nil {
			// Core NATS has no redelivery; the failure is only logged.
			c.logg.Error(c.logg.WithField(ctx, "subject", subject), "nats handler failed", err)
		}
	}
}

// Ping verifies the connection is live by flushing a round trip.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.nc == nil {
		return errors.New("nats client not initialized")
	}
	if c.nc.Status() != natspkg.CONNECTED {
		return fmt.Errorf("nats status %s", c.nc.Status())
	}
	return c.nc.FlushWithContext(ctx)
}

// Close drains (when configured) and closes the connection.
func (c *Client) Close() error {
	if c == nil || c.nc == nil {
		return nil
	}
	if c.drain {
		return c.nc.Drain()
	}
	c.nc.Close()
	return nil
}
