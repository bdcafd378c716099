package appointment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/eventlog"
	"github.com/hackgods/mediquory-connect/internal/notify"
	"github.com/hackgods/mediquory-connect/internal/provider"
)

const (
	EventAppointmentRequested        = "APPOINTMENT_REQUESTED"
	EventAppointmentConfirmed        = "APPOINTMENT_CONFIRMED"
	EventAppointmentProposed         = "APPOINTMENT_PROPOSED"
	EventAppointmentRejected         = "APPOINTMENT_REJECTED"
	EventAppointmentProposalDeclined = "APPOINTMENT_PROPOSAL_DECLINED"
	EventAppointmentCancelled        = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted        = "APPOINTMENT_COMPLETED"
)

var (
	ErrDateInPast     = apperr.New(apperr.ErrValidation, "requested date is in the past")
	ErrTimeRequired   = apperr.New(apperr.ErrValidation, "a future time is required")
	ErrReasonRequired = apperr.New(apperr.ErrValidation, "a reason is required")
	ErrNoProposal     = apperr.New(apperr.ErrConflict, "appointment has no proposed time")
)

type Service struct {
	people   provider.Reader
	repo     Repository
	notifier *notify.Dispatcher
	events   *eventlog.Recorder
	now      func() time.Time
}

func NewService(people provider.Reader, repo Repository, notifier *notify.Dispatcher, events *eventlog.Recorder) *Service {
	return &Service{
		people:   people,
		repo:     repo,
		notifier: notifier,
		events:   events,
		now:      time.Now,
	}
}

type RequestInput struct {
	RequestedDate  time.Time
	TimePreference TimePreference
	Reason         string
}

// Request books an appointment with the requester's own provider.
func (s *Service) Request(ctx context.Context, requesterID uuid.UUID, in RequestInput) (*Appointment, error) {
	if in.RequestedDate.IsZero() {
		return nil, apperr.Validation("requested date is required")
	}
	if dateOnly(in.RequestedDate).Before(dateOnly(s.now())) {
		return nil, ErrDateInPast
	}
	if in.TimePreference == "" {
		in.TimePreference = PreferAny
	}
	if !in.TimePreference.Valid() {
		return nil, apperr.Validation("time preference must be MORNING, AFTERNOON, EVENING or ANY")
	}

	req, err := s.people.GetRequester(ctx, requesterID)
	if err != nil {
		if errors.Is(err, provider.ErrRequesterNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load requester: %w", err)
	}

	created, err := s.repo.CreateAppointment(ctx, &Appointment{
		ID:             uuid.New(),
		RequesterID:    req.ID,
		ProviderID:     req.ProviderID,
		RequestedDate:  dateOnly(in.RequestedDate),
		TimePreference: in.TimePreference,
		Reason:         strings.TrimSpace(in.Reason),
		Status:         StatusRequested,
	})
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.events.Record(ctx, created.ID, EventAppointmentRequested, map[string]any{
		"requester_id":   created.RequesterID.String(),
		"provider_id":    created.ProviderID.String(),
		"requested_date": created.RequestedDate.Format(time.DateOnly),
	})
	s.notifier.Emit(ctx, notify.ProviderRoom(created.ProviderID), EventAppointmentRequested, created)
	return created, nil
}

// Accept confirms a requested appointment at a concrete time.
func (s *Service) Accept(ctx context.Context, providerID, id uuid.UUID, at time.Time) (*Appointment, error) {
	if !s.future(at) {
		return nil, ErrTimeRequired
	}
	guard := func(a *Appointment) error {
		if err := ownedByProvider(providerID)(a); err != nil {
			return err
		}
		return requireStatus(a, StatusRequested)
	}
	return s.transition(ctx, id, auth.RoleProvider, guard, StatusConfirmed, EventAppointmentConfirmed, func(a *Appointment) {
		a.ScheduledAt = &at
	})
}

// Propose offers the requester a different time.
func (s *Service) Propose(ctx context.Context, providerID, id uuid.UUID, at time.Time, note string) (*Appointment, error) {
	if !s.future(at) {
		return nil, ErrTimeRequired
	}
	return s.transition(ctx, id, auth.RoleProvider, ownedByProvider(providerID), StatusProposedAlternative, EventAppointmentProposed, func(a *Appointment) {
		a.ProposedAt = &at
		a.ProposalNote = optional(note)
	})
}

func (s *Service) Reject(ctx context.Context, providerID, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	return s.transition(ctx, id, auth.RoleProvider, ownedByProvider(providerID), StatusRejected, EventAppointmentRejected, func(a *Appointment) {
		a.RejectionReason = &reason
	})
}

// AcceptProposal takes the provider's proposed time as the scheduled time.
func (s *Service) AcceptProposal(ctx context.Context, requesterID, id uuid.UUID) (*Appointment, error) {
	guard := func(a *Appointment) error {
		if err := ownedByRequester(requesterID)(a); err != nil {
			return err
		}
		if err := requireStatus(a, StatusProposedAlternative); err != nil {
			return err
		}
		if a.ProposedAt == nil {
			return ErrNoProposal
		}
		return nil
	}
	return s.transition(ctx, id, auth.RoleRequester, guard, StatusConfirmed, EventAppointmentConfirmed, func(a *Appointment) {
		a.ScheduledAt = a.ProposedAt
	})
}

// DeclineProposal sends the appointment back to the provider with the
// proposal cleared.
func (s *Service) DeclineProposal(ctx context.Context, requesterID, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, auth.RoleRequester, ownedByRequester(requesterID), StatusRequested, EventAppointmentProposalDeclined, func(a *Appointment) {
		a.ProposedAt = nil
		a.ProposalNote = nil
	})
}

// Cancel lets either party call off a confirmed appointment.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var guard func(a *Appointment) error
	switch actor.Role {
	case auth.RoleProvider:
		guard = ownedByProvider(actor.ID)
	case auth.RoleRequester:
		guard = ownedByRequester(actor.ID)
	default:
		return nil, ErrNotOwner
	}

	by := string(actor.Role)
	return s.transition(ctx, id, actor.Role, guard, StatusCancelled, EventAppointmentCancelled, func(a *Appointment) {
		a.CancellationReason = &reason
		a.CancelledBy = &by
	})
}

func (s *Service) Complete(ctx context.Context, providerID, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, auth.RoleProvider, ownedByProvider(providerID), StatusCompleted, EventAppointmentCompleted, nil)
}

// transition loads the appointment, runs the ownership guard, applies mutate
// and writes the result with a compare-and-swap on the loaded status.
func (s *Service) transition(
	ctx context.Context,
	id uuid.UUID,
	by auth.Role,
	guard func(a *Appointment) error,
	to Status,
	eventType string,
	mutate func(a *Appointment),
) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := guard(a); err != nil {
		return nil, err
	}

	from := a.Status
	if !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	a.Status = to
	if mutate != nil {
		mutate(a)
	}

	updated, err := s.repo.UpdateAppointment(ctx, a, from)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			log.Printf("appointment transition lost race id=%s from=%s to=%s", id, from, to)
			return nil, err
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.events.Record(ctx, updated.ID, eventType, map[string]any{
		"from":     from,
		"to":       to,
		"by":       by,
		"terminal": to.Terminal(),
	})
	s.notifier.Emit(ctx, counterpartRoom(updated, by), eventType, updated)
	return updated, nil
}

// Get returns the appointment if actor is one of its two parties.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	switch {
	case actor.Role == auth.RoleProvider && a.ProviderID == actor.ID:
	case actor.Role == auth.RoleRequester && a.RequesterID == actor.ID:
	case actor.Role == auth.RoleAdmin:
	default:
		return nil, ErrNotOwner
	}
	return a, nil
}

func (s *Service) ListForProvider(ctx context.Context, providerID uuid.UUID, status *Status, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	list, err := s.repo.ListByProvider(ctx, providerID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by provider: %w", err)
	}
	return list, nil
}

func (s *Service) ListForRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	list, err := s.repo.ListByRequester(ctx, requesterID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by requester: %w", err)
	}
	return list, nil
}

func (s *Service) future(t time.Time) bool {
	return !t.IsZero() && t.After(s.now())
}

func ownedByProvider(providerID uuid.UUID) func(a *Appointment) error {
	return func(a *Appointment) error {
		if a.ProviderID != providerID {
			return ErrNotOwner
		}
		return nil
	}
}

func ownedByRequester(requesterID uuid.UUID) func(a *Appointment) error {
	return func(a *Appointment) error {
		if a.RequesterID != requesterID {
			return ErrNotOwner
		}
		return nil
	}
}

// requireStatus pins the source state for targets reachable from more than
// one status.
func requireStatus(a *Appointment, from Status) error {
	if a.Status != from {
		return ErrInvalidTransition
	}
	return nil
}

// counterpartRoom is the room of the party that did not act.
func counterpartRoom(a *Appointment, by auth.Role) string {
	if by == auth.RoleRequester {
		return notify.ProviderRoom(a.ProviderID)
	}
	return notify.RequesterRoom(a.RequesterID)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// dateOnly drops the clock so requested dates compare by calendar day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
