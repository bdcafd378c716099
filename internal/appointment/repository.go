package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/apperr"
)

var (
	ErrAppointmentNotFound = apperr.New(apperr.ErrNotFound, "appointment not found")
	ErrInvalidTransition   = apperr.New(apperr.ErrConflict, "appointment status does not allow this action")
	ErrNotOwner            = apperr.New(apperr.ErrForbidden, "appointment belongs to another account")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointment writes the mutable fields of a only if the stored row
	// is still in status from. It returns ErrInvalidTransition otherwise.
	UpdateAppointment(ctx context.Context, a *Appointment, from Status) (*Appointment, error)

	ListByProvider(ctx context.Context, providerID uuid.UUID, status *Status, limit, offset int) ([]Appointment, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]Appointment, error)
}
