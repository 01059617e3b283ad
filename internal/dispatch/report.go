package dispatch

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/notifyhub/pkg/enums"
)

// EscalationResult is what happened on the escalation channel for one user.
type EscalationResult string

const (
	EscalationNone      EscalationResult = ""
	EscalationDisabled  EscalationResult = "disabled"
	EscalationSent      EscalationResult = "sent"
	EscalationDuplicate EscalationResult = "duplicate"
	EscalationFailed    EscalationResult = "failed"
)

// Outcome is the per-user result of a dispatch.
type Outcome struct {
	UserID         string
	NotificationID uuid.UUID
	Created        bool
	Path           enums.DeliveryPath
	Escalation     EscalationResult
	Err            error
}

// Report aggregates the outcomes of one event. Err combines every per-user
// failure.
type Report struct {
	EventID  string
	Outcomes []Outcome
	Err      error
}

// Failed counts outcomes carrying an error.
func (r *Report) Failed() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Outcome returns the outcome for userID.
func (r *Report) Outcome(userID string) (Outcome, bool) {
	if r == nil {
		return Outcome{}, false
	}
	for _, o := range r.Outcomes {
		if o.UserID == userID {
			return o, true
		}
	}
	return Outcome{}, false
}
