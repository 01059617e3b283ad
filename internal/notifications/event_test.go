package notifications

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/notifyhub/pkg/db/models"
	"github.com/angelmondragon/notifyhub/pkg/enums"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
)

func TestNormalizeTrimsAndDedupesTargets(t *testing.T) {
	e := Event{
		EventID:       " evt-1 ",
		Priority:      "high",
		TargetUserIDs: []string{"u1", " ", "u2", "u1", " u3"},
	}.Normalize()

	if e.EventID != "evt-1" {
		t.Fatalf("expected trimmed event id, got %q", e.EventID)
	}
	if e.Priority != enums.PriorityHigh {
		t.Fatalf("expected HIGH, got %q", e.Priority)
	}
	want := []string{"u1", "u2", "u3"}
	if len(e.TargetUserIDs) != len(want) {
		t.Fatalf("unexpected targets %v", e.TargetUserIDs)
	}
	for i := range want {
		if e.TargetUserIDs[i] != want[i] {
			t.Fatalf("unexpected targets %v", e.TargetUserIDs)
		}
	}
}

func TestExpandsToAll(t *testing.T) {
	if !(Event{TargetUserIDs: []string{"all"}}).ExpandsToAll() {
		t.Fatal("expected lower-case all to expand")
	}
	if (Event{TargetUserIDs: []string{"ALL", "u1"}}).ExpandsToAll() {
		t.Fatal("ALL mixed with users must not expand")
	}
	if (Event{}).ExpandsToAll() {
		t.Fatal("empty targets must not expand")
	}
}

func TestValidateEvent(t *testing.T) {
	valid := Event{
		EventID:          "evt-1",
		SourceService:    "billing",
		NotificationType: "invoice.paid",
		Priority:         enums.PriorityLow,
		Content:          "paid",
	}
	if err := ValidateEvent(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missing := valid
	missing.EventID = ""
	missing.Content = ""
	err := ValidateEvent(missing)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", pkgerrors.As(err).Details())
	}
	if details["eventId"] == "" || details["content"] == "" {
		t.Fatalf("expected eventId and content details, got %v", details)
	}

	badPriority := valid
	badPriority.Priority = "URGENT"
	err = ValidateEvent(badPriority)
	details, _ = pkgerrors.As(err).Details().(map[string]string)
	if details["priority"] == "" {
		t.Fatalf("expected priority detail, got %v", details)
	}
}

func TestToPayload(t *testing.T) {
	now := time.Now().UTC()
	record := models.Notification{
		ID:               uuid.New(),
		EventID:          "evt-1",
		UserID:           "user-1",
		SourceService:    "billing",
		NotificationType: "invoice.paid",
		Priority:         enums.PriorityCritical,
		Content:          "paid",
		Metadata:         datatypes.JSONMap{"k": "v"},
		Tags:             datatypes.JSONSlice[string]{"a"},
		ReadStatus:       enums.ReadStatusUnread,
		CreatedAt:        now,
	}
	payload := ToPayload(record)
	if payload.ID != record.ID || payload.UserID != "user-1" || payload.EventID != "evt-1" {
		t.Fatalf("unexpected payload identity %+v", payload)
	}
	if payload.Metadata["k"] != "v" || len(payload.Tags) != 1 || payload.Tags[0] != "a" {
		t.Fatalf("unexpected payload data %+v", payload)
	}
	if !payload.CreatedAt.Equal(now) {
		t.Fatalf("createdAt not preserved")
	}
}

func TestNewRecordDefaultsUnread(t *testing.T) {
	now := time.Now().UTC()
	record := newRecord(sampleEvent("evt-1"), "user-1", now)
	if record.ID == uuid.Nil {
		t.Fatal("expected generated id")
	}
	if record.ReadStatus != enums.ReadStatusUnread || record.EscalationDispatchedAt != nil {
		t.Fatalf("unexpected defaults %+v", record)
	}
	if !record.CreatedAt.Equal(now) {
		t.Fatal("createdAt should be the persist time")
	}
}
