package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/appointment"
)

func requestAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RequestAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		date, err := time.Parse(time.DateOnly, req.RequestedDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_requested_date", "requested_date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.Request(r.Context(), principal(r).ID, appointment.RequestInput{
			RequestedDate:  date,
			TimePreference: appointment.TimePreference(strings.ToUpper(req.TimePreference)),
			Reason:         req.Reason,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func listProviderAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status *appointment.Status
		if raw := r.URL.Query().Get("status"); raw != "" {
			s := appointment.Status(strings.ToUpper(raw))
			status = &s
		}

		limit, offset := pageParams(r)
		list, err := svc.ListForProvider(r.Context(), principal(r).ID, status, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func listRequesterAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		list, err := svc.ListForRequester(r.Context(), principal(r).ID, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return appointmentAction(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.Get(r.Context(), principal(r), id)
	})
}

func acceptAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req ScheduleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		respondAppointment(w, r)(svc.Accept(r.Context(), principal(r).ID, id, req.ScheduledAt))
	}
}

func proposeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req ProposeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		respondAppointment(w, r)(svc.Propose(r.Context(), principal(r).ID, id, req.ProposedAt, req.Note))
	}
}

func rejectAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return withReason(func(r *http.Request, id uuid.UUID, reason string) (*appointment.Appointment, error) {
		return svc.Reject(r.Context(), principal(r).ID, id, reason)
	})
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return withReason(func(r *http.Request, id uuid.UUID, reason string) (*appointment.Appointment, error) {
		return svc.Cancel(r.Context(), principal(r), id, reason)
	})
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return appointmentAction(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.Complete(r.Context(), principal(r).ID, id)
	})
}

func acceptProposalHandler(svc *appointment.Service) http.HandlerFunc {
	return appointmentAction(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.AcceptProposal(r.Context(), principal(r).ID, id)
	})
}

func declineProposalHandler(svc *appointment.Service) http.HandlerFunc {
	return appointmentAction(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.DeclineProposal(r.Context(), principal(r).ID, id)
	})
}

func appointmentAction(fn func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		respondAppointment(w, r)(fn(r, id))
	}
}

func withReason(fn func(r *http.Request, id uuid.UUID, reason string) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req ReasonRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		respondAppointment(w, r)(fn(r, id, req.Reason))
	}
}

func respondAppointment(w http.ResponseWriter, r *http.Request) func(*appointment.Appointment, error) {
	return func(appt *appointment.Appointment, err error) {
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}
