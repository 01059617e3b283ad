package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/presence"
	"github.com/angelmondragon/notifyhub/pkg/db/models"
	"github.com/angelmondragon/notifyhub/pkg/enums"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	"github.com/angelmondragon/notifyhub/pkg/metrics"
)

const (
	scopeLive       = "live"
	scopeEscalation = "escalation"

	defaultConcurrency = 16
)

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Directory expands the ALL sentinel.
type Directory interface {
	AllUserIDs(ctx context.Context) ([]string, error)
}

// Presence resolves which instance holds a user's connection.
type Presence interface {
	Lookup(ctx context.Context, userID string) (presence.Entry, bool, error)
	InstanceID() string
}

// LivePusher writes to a connection held by this instance.
type LivePusher interface {
	Push(ctx context.Context, userID string, payload notifications.Payload) error
}

// Forwarder publishes a routed delivery to the owning instance.
type Forwarder interface {
	Forward(ctx context.Context, targetInstanceID, userID string, payload notifications.Payload) error
}

// OfflineQueue holds payloads for users without a live connection.
type OfflineQueue interface {
	Enqueue(ctx context.Context, userID string, payload notifications.Payload) error
}

// Escalator is the out-of-band channel for high-priority notifications.
type Escalator interface {
	Deliver(ctx context.Context, userID string, payload notifications.Payload) error
}

// AttemptMarker remembers which side effects were already attempted.
type AttemptMarker interface {
	CheckAndMark(ctx context.Context, scope, key string) (bool, error)
	IsMarked(ctx context.Context, scope, key string) (bool, error)
	Clear(ctx context.Context, scope, key string) error
}

// Params wires an Orchestrator. Pusher may be nil on instances that hold no
// live connections; Markers and Escalator are optional.
type Params struct {
	Repo        notifications.Repository
	Tx          TxRunner
	Directory   Directory
	Presence    Presence
	Pusher      LivePusher
	Forwarder   Forwarder
	Offline     OfflineQueue
	Escalator   Escalator
	Markers     AttemptMarker
	Threshold   enums.NotificationPriority
	Concurrency int
	Metrics     *metrics.DeliveryMetrics
	Logger      *logger.Logger
}

// Orchestrator sequences persistence, live or routed delivery, the offline
// fallback and escalation for each target user of an event.
type Orchestrator struct {
	repo        notifications.Repository
	tx          TxRunner
	directory   Directory
	presence    Presence
	pusher      LivePusher
	forwarder   Forwarder
	offline     OfflineQueue
	escalator   Escalator
	markers     AttemptMarker
	threshold   enums.NotificationPriority
	concurrency int
	metrics     *metrics.DeliveryMetrics
	logg        *logger.Logger
	now         func() time.Time
}

func NewOrchestrator(p Params) (*Orchestrator, error) {
	switch {
	case p.Repo == nil:
		return nil, errors.New("notifications repository required")
	case p.Directory == nil:
		return nil, errors.New("user directory required")
	case p.Presence == nil:
		return nil, errors.New("presence registry required")
	case p.Forwarder == nil:
		return nil, errors.New("router required")
	case p.Offline == nil:
		return nil, errors.New("offline queue required")
	case p.Logger == nil:
		return nil, errors.New("logger required")
	}
	if p.Threshold == "" {
		p.Threshold = enums.PriorityCritical
	}
	if !p.Threshold.IsValid() {
		return nil, fmt.Errorf("invalid escalation threshold %q", p.Threshold)
	}
	if p.Concurrency <= 0 {
		p.Concurrency = defaultConcurrency
	}
	return &Orchestrator{
		repo:        p.Repo,
		tx:          p.Tx,
		directory:   p.Directory,
		presence:    p.Presence,
		pusher:      p.Pusher,
		forwarder:   p.Forwarder,
		offline:     p.Offline,
		escalator:   p.Escalator,
		markers:     p.Markers,
		threshold:   p.Threshold,
		concurrency: p.Concurrency,
		metrics:     p.Metrics,
		logg:        p.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// ShouldEscalate reports whether priority reaches the escalation threshold.
func (o *Orchestrator) ShouldEscalate(priority enums.NotificationPriority) bool {
	return priority.AtLeast(o.threshold)
}

// ProcessNotification delivers event to its targets. The returned error is
// set only when nothing was dispatched (invalid event, directory failure);
// per-user failures are in the report.
func (o *Orchestrator) ProcessNotification(ctx context.Context, event notifications.Event, escalate bool) (*Report, error) {
	event = event.Normalize()
	if err := notifications.ValidateEvent(event); err != nil {
		return nil, err
	}

	targets := event.TargetUserIDs
	if event.ExpandsToAll() {
		all, err := o.directory.AllUserIDs(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expand ALL targets")
		}
		targets = all
	}
	if len(targets) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification event").
			WithDetails(map[string]string{"targetUserIds": "is required"})
	}
	return o.dispatchAll(ctx, event, targets, escalate), nil
}

// ProcessBroadcastNotification delivers event to every known user through
// the same per-user pipeline.
func (o *Orchestrator) ProcessBroadcastNotification(ctx context.Context, event notifications.Event) (*Report, error) {
	event = event.Normalize()
	event.TargetUserIDs = nil
	if err := notifications.ValidateEvent(event); err != nil {
		return nil, err
	}
	targets, err := o.directory.AllUserIDs(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list broadcast targets")
	}
	if len(targets) == 0 {
		o.logg.Warn(o.logg.WithEventID(ctx, event.EventID), "broadcast has no recipients")
		return &Report{EventID: event.EventID}, nil
	}
	return o.dispatchAll(ctx, event, targets, o.ShouldEscalate(event.Priority)), nil
}

func (o *Orchestrator) dispatchAll(ctx context.Context, event notifications.Event, targets []string, escalate bool) *Report {
	outcomes := make([]Outcome, len(targets))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, userID := range targets {
		g.Go(func() error {
			outcomes[i] = o.dispatchUser(ctx, event, userID, escalate)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{EventID: event.EventID, Outcomes: outcomes}
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			report.Err = multierr.Append(report.Err, fmt.Errorf("user %s: %w", outcome.UserID, outcome.Err))
		}
	}

	logCtx := o.logg.WithFields(o.logg.WithEventID(ctx, event.EventID), map[string]any{
		"targets":  len(targets),
		"failed":   report.Failed(),
		"escalate": escalate,
	})
	if report.Err != nil {
		o.logg.Error(logCtx, "notification dispatched with failures", report.Err)
	} else {
		o.logg.Info(logCtx, "notification dispatched")
	}
	return report
}

// dispatchUser never panics the batch and never returns early without an outcome.
func (o *Orchestrator) dispatchUser(ctx context.Context, event notifications.Event, userID string, escalate bool) (outcome Outcome) {
	outcome = Outcome{UserID: userID, Path: enums.DeliveryPathSkipped}
	logCtx := o.logg.WithUserID(o.logg.WithEventID(ctx, event.EventID), userID)
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("dispatch panic: %v", r)
			o.metrics.IncDispatchFailure("panic")
			o.logg.Error(logCtx, "dispatch panicked", outcome.Err)
		}
	}()

	record, created, err := o.persist(ctx, event, userID)
	if err != nil {
		outcome.Err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist notification")
		o.metrics.IncDispatchFailure("persist")
		o.logg.Error(logCtx, "persist failed", err)
		return outcome
	}
	outcome.NotificationID = record.ID
	outcome.Created = created
	payload := notifications.ToPayload(record)

	if record.DeletedAt.Valid {
		// Read and pruned long ago; a replay must not resurface it.
		o.logg.Info(logCtx, "replayed notification was already pruned")
		o.metrics.IncDelivery(string(outcome.Path))
		return outcome
	}

	if o.alreadyAttempted(ctx, logCtx, event.EventID, userID, created) {
		o.logg.Info(logCtx, "replayed notification, live delivery already attempted")
	} else {
		path, err := o.deliver(ctx, logCtx, userID, payload)
		outcome.Path = path
		if err != nil {
			outcome.Err = err
			o.clearMarker(ctx, logCtx, scopeLive, event.EventID, userID)
		}
	}
	o.metrics.IncDelivery(string(outcome.Path))

	if escalate {
		outcome.Escalation = o.escalate(ctx, logCtx, record, payload)
		if outcome.Escalation == EscalationFailed && outcome.Err == nil {
			outcome.Err = pkgerrors.New(pkgerrors.CodeDelivery, "escalation failed")
		}
	}
	return outcome
}

func (o *Orchestrator) persist(ctx context.Context, event notifications.Event, userID string) (models.Notification, bool, error) {
	if o.tx == nil {
		return o.repo.Persist(ctx, event, userID)
	}
	var (
		record  models.Notification
		created bool
	)
	err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		record, created, err = o.repo.WithTx(tx).Persist(ctx, event, userID)
		return err
	})
	return record, created, err
}

// alreadyAttempted claims the live-delivery marker. A replayed record with no
// marker store is assumed delivered.
func (o *Orchestrator) alreadyAttempted(ctx, logCtx context.Context, eventID, userID string, created bool) bool {
	if o.markers == nil {
		return !created
	}
	already, err := o.markers.CheckAndMark(ctx, scopeLive, markerKey(eventID, userID))
	if err != nil {
		// Without the marker store, favour a duplicate push over a lost one.
		o.logg.Error(logCtx, "delivery marker unavailable", err)
		return false
	}
	return already
}

func (o *Orchestrator) clearMarker(ctx, logCtx context.Context, scope, eventID, userID string) {
	if o.markers == nil {
		return
	}
	if err := o.markers.Clear(ctx, scope, markerKey(eventID, userID)); err != nil {
		o.logg.Error(logCtx, "failed to clear delivery marker", err)
	}
}

// deliver chooses local push, routed push or the offline queue. Failed live
// paths fall back to the offline queue.
func (o *Orchestrator) deliver(ctx, logCtx context.Context, userID string, payload notifications.Payload) (enums.DeliveryPath, error) {
	entry, found, err := o.presence.Lookup(ctx, userID)
	if err != nil {
		o.logg.Error(logCtx, "presence lookup failed, queueing offline", err)
		found = false
	}

	if found {
		var pushErr error
		path := enums.DeliveryPathRouted
		if entry.OwnerInstanceID == o.presence.InstanceID() {
			path = enums.DeliveryPathLocal
			if o.pusher == nil {
				pushErr = errors.New("no live connections on this instance")
			} else {
				pushErr = o.pusher.Push(ctx, userID, payload)
			}
		} else {
			pushErr = o.forwarder.Forward(ctx, entry.OwnerInstanceID, userID, payload)
		}
		if pushErr == nil {
			return path, nil
		}
		o.metrics.IncDispatchFailure(string(path))
		o.logg.Warn(o.logg.WithFields(logCtx, map[string]any{
			"path":  string(path),
			"error": pushErr.Error(),
		}), "live delivery failed, queueing offline")
	}

	if err := o.offline.Enqueue(ctx, userID, payload); err != nil {
		o.metrics.IncDispatchFailure(string(enums.DeliveryPathOffline))
		o.logg.Error(logCtx, "offline enqueue failed", err)
		return enums.DeliveryPathSkipped, pkgerrors.Wrap(pkgerrors.CodeDelivery, err, "queue notification offline")
	}
	return enums.DeliveryPathOffline, nil
}

// escalate sends through the escalation channel once per record. The
// escalation_dispatched_at column is the durable guard; the marker keeps
// concurrent replays from sending twice before the column is set.
func (o *Orchestrator) escalate(ctx, logCtx context.Context, record models.Notification, payload notifications.Payload) EscalationResult {
	if o.escalator == nil {
		return EscalationDisabled
	}
	if record.EscalationDispatchedAt != nil {
		o.metrics.IncEscalation(string(EscalationDuplicate))
		return EscalationDuplicate
	}
	if o.markers != nil {
		claimed, err := o.markers.CheckAndMark(ctx, scopeEscalation, record.ID.String())
		if err != nil {
			o.logg.Error(logCtx, "escalation marker unavailable", err)
		} else if claimed {
			o.metrics.IncEscalation(string(EscalationDuplicate))
			return EscalationDuplicate
		}
	}

	if err := o.escalator.Deliver(ctx, record.UserID, payload); err != nil {
		if o.markers != nil {
			if cerr := o.markers.Clear(ctx, scopeEscalation, record.ID.String()); cerr != nil {
				o.logg.Error(logCtx, "failed to clear escalation marker", cerr)
			}
		}
		o.metrics.IncEscalation(string(EscalationFailed))
		o.logg.Error(logCtx, "escalation delivery failed", err)
		return EscalationFailed
	}

	if _, err := o.repo.MarkEscalated(ctx, record.ID, o.now()); err != nil {
		// The marker still blocks a resend until it expires.
		o.logg.Error(logCtx, "failed to record escalation", err)
	}
	o.metrics.IncEscalation(string(EscalationSent))
	o.logg.Info(logCtx, "escalation delivered")
	return EscalationSent
}

func markerKey(eventID, userID string) string {
	return eventID + ":" + userID
}
