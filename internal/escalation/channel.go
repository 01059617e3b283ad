package escalation

import (
	"context"
	"errors"

	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/users"
	"github.com/angelmondragon/notifyhub/pkg/db/models"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
	"github.com/angelmondragon/notifyhub/pkg/logger"
)

// Directory resolves where and whether to escalate for a user.
type Directory interface {
	Email(ctx context.Context, userID string) (string, error)
	Preferences(ctx context.Context, userID string) (models.UserPreferences, error)
}

// Channel is the email escalation channel. Users who opted out or muted the
// type count as delivered so the decision is not retried.
type Channel struct {
	directory Directory
	sender    Sender
	logg      *logger.Logger
}

func NewChannel(directory Directory, sender Sender, logg *logger.Logger) (*Channel, error) {
	if directory == nil {
		return nil, errors.New("user directory required")
	}
	if sender == nil {
		return nil, errors.New("sender required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Channel{directory: directory, sender: sender, logg: logg}, nil
}

func (c *Channel) Deliver(ctx context.Context, userID string, payload notifications.Payload) error {
	logCtx := c.logg.WithUserID(c.logg.WithEventID(ctx, payload.EventID), userID)

	prefs, err := c.directory.Preferences(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load preferences")
	}
	if !prefs.EmailEnabled {
		c.logg.Debug(logCtx, "email escalation disabled by user")
		return nil
	}
	if prefs.IsMuted(payload.NotificationType) {
		c.logg.Debug(c.logg.WithField(logCtx, "notification_type", payload.NotificationType), "notification type muted")
		return nil
	}

	email, err := c.directory.Email(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDelivery, err, "unknown escalation recipient")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve email")
	}
	if email == "" {
		return pkgerrors.New(pkgerrors.CodeDelivery, "user has no email address")
	}

	body, err := Render(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render escalation")
	}
	if err := c.sender.Send(ctx, Message{To: email, Subject: Subject(payload), HTML: body}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDelivery, err, "send escalation email")
	}
	c.logg.Info(logCtx, "escalation email sent")
	return nil
}
