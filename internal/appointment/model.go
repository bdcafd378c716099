package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRequested           Status = "REQUESTED"
	StatusConfirmed           Status = "CONFIRMED"
	StatusProposedAlternative Status = "PROPOSED_ALTERNATIVE"
	StatusRejected            Status = "REJECTED"
	StatusCancelled           Status = "CANCELLED"
	StatusCompleted           Status = "COMPLETED"
)

type TimePreference string

const (
	PreferMorning   TimePreference = "MORNING"
	PreferAfternoon TimePreference = "AFTERNOON"
	PreferEvening   TimePreference = "EVENING"
	PreferAny       TimePreference = "ANY"
)

func (t TimePreference) Valid() bool {
	switch t {
	case PreferMorning, PreferAfternoon, PreferEvening, PreferAny:
		return true
	}
	return false
}

// transitions lists every status each status may move to.
var transitions = map[Status][]Status{
	StatusRequested:           {StatusConfirmed, StatusProposedAlternative, StatusRejected},
	StatusProposedAlternative: {StatusConfirmed, StatusRequested},
	StatusConfirmed:           {StatusCancelled, StatusCompleted},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type Appointment struct {
	ID                 uuid.UUID      `json:"id"`
	RequesterID        uuid.UUID      `json:"requester_id"`
	ProviderID         uuid.UUID      `json:"provider_id"`
	RequestedDate      time.Time      `json:"requested_date"`
	TimePreference     TimePreference `json:"time_preference"`
	Reason             string         `json:"reason"`
	Status             Status         `json:"status"`
	ScheduledAt        *time.Time     `json:"scheduled_at,omitempty"`
	ProposedAt         *time.Time     `json:"proposed_at,omitempty"`
	ProposalNote       *string        `json:"proposal_note,omitempty"`
	RejectionReason    *string        `json:"rejection_reason,omitempty"`
	CancellationReason *string        `json:"cancellation_reason,omitempty"`
	CancelledBy        *string        `json:"cancelled_by,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
