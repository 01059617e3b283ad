package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/notifyhub/pkg/db/models"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
	paginationpkg "github.com/angelmondragon/notifyhub/pkg/pagination"
)

type fakeRepository struct {
	persistFn       func(ctx context.Context, event Event, userID string) (models.Notification, bool, error)
	findByEventFn   func(ctx context.Context, eventID, userID string) (models.Notification, error)
	markEscalatedFn func(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	listFn          func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error)
	markReadFn      func(ctx context.Context, userID string, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error)
	markAllReadFn   func(ctx context.Context, userID string, now time.Time) (int64, error)
	countUnreadFn   func(ctx context.Context, userID string) (int64, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Persist(ctx context.Context, event Event, userID string) (models.Notification, bool, error) {
	if f.persistFn != nil {
		return f.persistFn(ctx, event, userID)
	}
	return models.Notification{}, false, nil
}

func (f *fakeRepository) PersistBatch(ctx context.Context, event Event, userIDs []string) []PersistResult {
	results := make([]PersistResult, 0, len(userIDs))
	for _, userID := range userIDs {
		record, created, err := f.Persist(ctx, event, userID)
		results = append(results, PersistResult{UserID: userID, Record: record, Created: created, Err: err})
	}
	return results
}

func (f *fakeRepository) FindByID(ctx context.Context, id uuid.UUID) (models.Notification, error) {
	return models.Notification{}, ErrNotFound
}

func (f *fakeRepository) FindByEventAndUser(ctx context.Context, eventID, userID string) (models.Notification, error) {
	if f.findByEventFn != nil {
		return f.findByEventFn(ctx, eventID, userID)
	}
	return models.Notification{}, ErrNotFound
}

func (f *fakeRepository) MarkEscalated(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	if f.markEscalatedFn != nil {
		return f.markEscalatedFn(ctx, id, now)
	}
	return true, nil
}

func (f *fakeRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, nil, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, userID string, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, userID, notificationID, now)
	}
	return notificationMarkResult{}, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, userID string, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, userID, now)
	}
	return 0, nil
}

func (f *fakeRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	if f.countUnreadFn != nil {
		return f.countUnreadFn(ctx, userID)
	}
	return 0, nil
}

func newServiceWithRepo(repo Repository) Service {
	svc, _ := NewService(repo)
	return svc
}

func TestService_ListNotifications(t *testing.T) {
	first := models.Notification{ID: uuid.New(), UserID: "user-1", EventID: "evt-1", CreatedAt: time.Now().Add(-time.Hour)}
	last := models.Notification{ID: uuid.New(), CreatedAt: time.Now()}

	repo := &fakeRepository{
		listFn: func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
			if params.UserID != "user-1" {
				t.Fatalf("unexpected user %q", params.UserID)
			}
			if params.Limit != 1 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			return []models.Notification{first}, &paginationpkg.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
		},
	}

	svc := newServiceWithRepo(repo)
	result, err := svc.List(context.Background(), ListParams{UserID: "user-1", Limit: 1})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].EventID != "evt-1" {
		t.Fatalf("unexpected items %+v", result.Items)
	}
	if result.Cursor == "" {
		t.Fatal("expected cursor for next page")
	}
	decoded, err := paginationpkg.ParseCursor(result.Cursor)
	if err != nil {
		t.Fatalf("invalid cursor %q: %v", result.Cursor, err)
	}
	if decoded.ID != last.ID {
		t.Fatalf("expected cursor id %s got %s", last.ID, decoded.ID)
	}
}

func TestService_ListNotificationsInvalidCursor(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	_, err := svc.List(context.Background(), ListParams{UserID: "user-1", Cursor: "bad"})
	if err == nil {
		t.Fatal("expected error for invalid cursor")
	}
	if code := pkgerrors.As(err).Code(); code != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %s", code)
	}
}

func TestService_ListRequiresUser(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	if _, err := svc.List(context.Background(), ListParams{UserID: "  "}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_MarkRead(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, userID string, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
			if userID != "user-1" || notificationID != id {
				t.Fatalf("unexpected args %s %s", userID, notificationID)
			}
			return notificationMarkResult{Found: true, Updated: true}, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), "user-1", id); err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, userID string, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
			return notificationMarkResult{Found: false}, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), "user-1", uuid.New()); err == nil {
		t.Fatal("expected not found error")
	} else if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestService_MarkReadRejectsNilID(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	if err := svc.MarkRead(context.Background(), "user-1", uuid.Nil); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_MarkAllRead(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, userID string, now time.Time) (int64, error) {
			return 3, nil
		},
	}
	svc := newServiceWithRepo(repo)
	count, err := svc.MarkAllRead(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected mark all read error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 updated rows, got %d", count)
	}
}

func TestService_MarkAllReadError(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, userID string, now time.Time) (int64, error) {
			return 0, errors.New("boom")
		},
	}
	svc := newServiceWithRepo(repo)
	if _, err := svc.MarkAllRead(context.Background(), "user-1"); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestService_CountUnread(t *testing.T) {
	repo := &fakeRepository{
		countUnreadFn: func(ctx context.Context, userID string) (int64, error) {
			return 7, nil
		},
	}
	svc := newServiceWithRepo(repo)
	count, err := svc.CountUnread(context.Background(), "user-1")
	if err != nil || count != 7 {
		t.Fatalf("expected 7 unread, got %d %v", count, err)
	}
}

func TestNewServiceRequiresRepository(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatal("expected error for nil repository")
	}
}
