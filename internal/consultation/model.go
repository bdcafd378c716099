package consultation

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/auth"
)

type Kind string

const (
	KindChat  Kind = "CHAT"
	KindVideo Kind = "VIDEO"
)

func (k Kind) Valid() bool {
	return k == KindChat || k == KindVideo
}

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

type Consultation struct {
	ID            uuid.UUID  `json:"id"`
	RequesterID   uuid.UUID  `json:"requester_id"`
	ProviderID    uuid.UUID  `json:"provider_id"`
	Kind          Kind       `json:"kind"`
	Status        Status     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	MinutesBilled int        `json:"minutes_billed"`
}

// Participant reports whether p is the provider or requester of c.
func (c *Consultation) Participant(p auth.Principal) bool {
	switch p.Role {
	case auth.RoleProvider:
		return c.ProviderID == p.ID
	case auth.RoleRequester:
		return c.RequesterID == p.ID
	}
	return false
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConsultationID uuid.UUID `json:"consultation_id"`
	SenderRole     auth.Role `json:"sender_role"`
	SenderID       uuid.UUID `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

type Medication struct {
	Name      string `json:"name" validate:"required"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

type Prescription struct {
	ID             uuid.UUID    `json:"id"`
	ConsultationID uuid.UUID    `json:"consultation_id"`
	ProviderID     uuid.UUID    `json:"provider_id"`
	Serial         int64        `json:"serial"`
	Diagnosis      string       `json:"diagnosis"`
	Medications    []Medication `json:"medications"`
	Instructions   string       `json:"instructions"`
	PDFPath        *string      `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
}

type PaymentConfirmation struct {
	ID                uuid.UUID  `json:"id"`
	ConsultationID    uuid.UUID  `json:"consultation_id"`
	AmountPaise       int64      `json:"amount_paise"`
	ProofPath         string     `json:"-"`
	ConfirmedByDoctor bool       `json:"confirmed_by_doctor"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
