package notifications

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/notifyhub/pkg/db/models"
	"github.com/angelmondragon/notifyhub/pkg/enums"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
)

// Event is an inbound notification as published by a source service.
// It is never mutated once ingested.
type Event struct {
	EventID          string                     `json:"eventId" validate:"required,max=255"`
	SourceService    string                     `json:"sourceService" validate:"required,max=120"`
	NotificationType string                     `json:"notificationType" validate:"required,max=120"`
	Priority         enums.NotificationPriority `json:"priority" validate:"required,priority"`
	Title            string                     `json:"title,omitempty" validate:"max=500"`
	Content          string                     `json:"content" validate:"required"`
	Metadata         map[string]any             `json:"metadata,omitempty"`
	Tags             []string                   `json:"tags,omitempty"`
	TargetUserIDs    []string                   `json:"targetUserIds,omitempty"`
}

// Payload is the rendered notification written to clients and queues.
type Payload struct {
	ID               uuid.UUID                  `json:"id"`
	UserID           string                     `json:"userId"`
	EventID          string                     `json:"eventId"`
	SourceService    string                     `json:"sourceService"`
	NotificationType string                     `json:"notificationType"`
	Priority         enums.NotificationPriority `json:"priority"`
	Title            string                     `json:"title,omitempty"`
	Content          string                     `json:"content"`
	Metadata         map[string]any             `json:"metadata,omitempty"`
	Tags             []string                   `json:"tags,omitempty"`
	ReadStatus       enums.ReadStatus           `json:"readStatus"`
	CreatedAt        time.Time                  `json:"createdAt"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return enums.NotificationPriority(fl.Field().String()).IsValid()
	})
	return v
}

// Normalize trims identifiers, upper-cases the priority, and drops blank or
// repeated targets while keeping their order.
func (e Event) Normalize() Event {
	out := e
	out.EventID = strings.TrimSpace(e.EventID)
	out.SourceService = strings.TrimSpace(e.SourceService)
	out.NotificationType = strings.TrimSpace(e.NotificationType)
	out.Priority = enums.NotificationPriority(strings.ToUpper(strings.TrimSpace(string(e.Priority))))
	out.Title = strings.TrimSpace(e.Title)
	out.Content = strings.TrimSpace(e.Content)

	seen := make(map[string]struct{}, len(e.TargetUserIDs))
	targets := make([]string, 0, len(e.TargetUserIDs))
	for _, id := range e.TargetUserIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	out.TargetUserIDs = targets
	return out
}

// ExpandsToAll reports whether the target list is exactly the ALL sentinel.
func (e Event) ExpandsToAll() bool {
	return len(e.TargetUserIDs) == 1 && strings.EqualFold(strings.TrimSpace(e.TargetUserIDs[0]), enums.TargetAll)
}

// ValidateEvent checks the mandatory fields. Targets are checked by the caller
// after the ALL sentinel has been expanded.
func ValidateEvent(e Event) error {
	if err := validate.Struct(e); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			switch fieldErr.Tag() {
			case "required":
				details[fieldErr.Field()] = "is required"
			case "priority":
				details[fieldErr.Field()] = "must be one of LOW, MEDIUM, HIGH, CRITICAL"
			case "max":
				details[fieldErr.Field()] = "must be at most " + fieldErr.Param() + " characters"
			default:
				details[fieldErr.Field()] = "is invalid"
			}
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid notification event").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification event")
}

// ToPayload renders a stored record for the wire.
func ToPayload(record models.Notification) Payload {
	var tags []string
	if len(record.Tags) > 0 {
		tags = append([]string(nil), record.Tags...)
	}
	var metadata map[string]any
	if len(record.Metadata) > 0 {
		metadata = map[string]any(record.Metadata)
	}
	return Payload{
		ID:               record.ID,
		UserID:           record.UserID,
		EventID:          record.EventID,
		SourceService:    record.SourceService,
		NotificationType: record.NotificationType,
		Priority:         record.Priority,
		Title:            record.Title,
		Content:          record.Content,
		Metadata:         metadata,
		Tags:             tags,
		ReadStatus:       record.ReadStatus,
		CreatedAt:        record.CreatedAt,
	}
}

// newRecord builds the per-user row for e. The id and createdAt are set here, once.
func newRecord(e Event, userID string, now time.Time) models.Notification {
	record := models.Notification{
		ID:               uuid.New(),
		EventID:          e.EventID,
		UserID:           userID,
		SourceService:    e.SourceService,
		NotificationType: e.NotificationType,
		Priority:         e.Priority,
		Title:            e.Title,
		Content:          e.Content,
		ReadStatus:       enums.ReadStatusUnread,
		CreatedAt:        now,
	}
	if len(e.Metadata) > 0 {
		record.Metadata = e.Metadata
	}
	if len(e.Tags) > 0 {
		record.Tags = append([]string(nil), e.Tags...)
	}
	return record
}
