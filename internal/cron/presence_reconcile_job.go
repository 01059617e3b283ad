package cron

import (
	"context"
	"errors"

	"github.com/angelmondragon/notifyhub/internal/presence"
	"github.com/angelmondragon/notifyhub/pkg/logger"
)

const presenceReconcileJobName = "presence-reconcile"

// PresenceReconciler refreshes this instance's shared presence keys.
type PresenceReconciler interface {
	Reconcile(ctx context.Context) ([]presence.Entry, error)
}

// ConnectionCloser closes a local connection by id.
type ConnectionCloser interface {
	Supersede(ctx context.Context, userID, connectionID string) bool
}

// PresenceReconcileJob keeps the shared presence TTLs alive for local
// connections and closes the ones another instance has taken over.
type PresenceReconcileJob struct {
	registry PresenceReconciler
	conns    ConnectionCloser
	logg     *logger.Logger
}

func NewPresenceReconcileJob(registry PresenceReconciler, conns ConnectionCloser, logg *logger.Logger) (*PresenceReconcileJob, error) {
	if registry == nil {
		return nil, errors.New("presence registry required")
	}
	if conns == nil {
		return nil, errors.New("connection manager required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &PresenceReconcileJob{registry: registry, conns: conns, logg: logg}, nil
}

func (j *PresenceReconcileJob) Name() string {
	return presenceReconcileJobName
}

func (j *PresenceReconcileJob) Run(ctx context.Context) error {
	lost, err := j.registry.Reconcile(ctx)
	for _, entry := range lost {
		logCtx := j.logg.WithConnectionID(j.logg.WithUserID(ctx, entry.UserID), entry.ConnectionID)
		if j.conns.Supersede(ctx, entry.UserID, entry.ConnectionID) {
			j.logg.Info(logCtx, "closed connection owned elsewhere")
		}
	}
	if len(lost) > 0 {
		j.logg.Info(j.logg.WithField(ctx, "lost", len(lost)), "presence reconciled")
	}
	return err
}
