package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/db"
)

var (
	ErrConsultationNotFound    = apperr.New(apperr.ErrNotFound, "consultation not found")
	ErrActiveExists            = apperr.New(apperr.ErrConflict, "an active consultation already exists for this pair")
	ErrNotActive               = apperr.New(apperr.ErrConflict, "consultation is not active")
	ErrPrescriptionNotFound    = apperr.New(apperr.ErrNotFound, "prescription not found")
	ErrPrescriptionExists      = apperr.New(apperr.ErrConflict, "consultation already has a prescription")
	ErrPaymentNotFound         = apperr.New(apperr.ErrNotFound, "payment confirmation not found")
	ErrPaymentExists           = apperr.New(apperr.ErrConflict, "payment proof already uploaded")
	ErrPaymentAlreadyConfirmed = apperr.New(apperr.ErrConflict, "payment already confirmed")
)

type Repository interface {
	CreateConsultation(ctx context.Context, c *Consultation) (*Consultation, error)
	GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error)
	// GetActive returns the ACTIVE consultation of the pair or
	// ErrConsultationNotFound.
	GetActive(ctx context.Context, requesterID, providerID uuid.UUID) (*Consultation, error)
	// Complete moves an ACTIVE consultation to COMPLETED and runs bill, when
	// set, in the same transaction. A bill error leaves the row ACTIVE. It
	// returns ErrNotActive when the row is already COMPLETED.
	Complete(ctx context.Context, id uuid.UUID, completedAt time.Time, minutesBilled int, bill func(q db.Querier) error) (*Consultation, error)

	InsertMessage(ctx context.Context, m *Message) (*Message, error)
	ListMessages(ctx context.Context, consultationID uuid.UUID, limit, offset int) ([]Message, error)

	// CreatePrescription assigns the provider's next serial and inserts the
	// prescription in one transaction.
	CreatePrescription(ctx context.Context, pr *Prescription) (*Prescription, error)
	GetPrescription(ctx context.Context, consultationID uuid.UUID) (*Prescription, error)
	// SetPrescriptionPDF stores path only if no path is set yet and returns
	// the stored row either way.
	SetPrescriptionPDF(ctx context.Context, id uuid.UUID, path string) (*Prescription, error)

	CreatePayment(ctx context.Context, pc *PaymentConfirmation) (*PaymentConfirmation, error)
	GetPayment(ctx context.Context, consultationID uuid.UUID) (*PaymentConfirmation, error)
	// ConfirmPayment flips confirmed_by_doctor once. A second call returns
	// ErrPaymentAlreadyConfirmed.
	ConfirmPayment(ctx context.Context, consultationID uuid.UUID, at time.Time) (*PaymentConfirmation, error)
}
