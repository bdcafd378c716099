package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, requester_id, provider_id, requested_date, time_preference, reason, status,
	scheduled_at, proposed_at, proposal_note, rejection_reason, cancellation_reason, cancelled_by,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.RequesterID,
		&a.ProviderID,
		&a.RequestedDate,
		&a.TimePreference,
		&a.Reason,
		&a.Status,
		&a.ScheduledAt,
		&a.ProposedAt,
		&a.ProposalNote,
		&a.RejectionReason,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, requester_id, provider_id, requested_date, time_preference, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.RequesterID, a.ProviderID, a.RequestedDate, a.TimePreference, a.Reason, a.Status,
	)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, from Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    scheduled_at = $4,
		    proposed_at = $5,
		    proposal_note = $6,
		    rejection_reason = $7,
		    cancellation_reason = $8,
		    cancelled_by = $9,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns,
		a.ID, from, a.Status, a.ScheduledAt, a.ProposedAt, a.ProposalNote,
		a.RejectionReason, a.CancellationReason, a.CancelledBy,
	)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		if _, getErr := r.GetAppointment(ctx, a.ID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return updated, err
}

func (r *PgRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, status *Status, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY requested_date DESC, created_at DESC
		LIMIT $3 OFFSET $4
	`, providerID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE requester_id = $1
		ORDER BY requested_date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, requesterID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}
