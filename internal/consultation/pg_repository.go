package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/provider"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	consultationColumns = `id, requester_id, provider_id, kind, status, started_at, completed_at, minutes_billed`
	messageColumns      = `id, consultation_id, sender_role, sender_id, body, created_at`
	prescriptionColumns = `id, consultation_id, provider_id, serial, diagnosis, medications, instructions, pdf_path, created_at`
	paymentColumns      = `id, consultation_id, amount_paise, proof_path, confirmed_by_doctor, confirmed_at, created_at`
)

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation

	err := row.Scan(
		&c.ID,
		&c.RequesterID,
		&c.ProviderID,
		&c.Kind,
		&c.Status,
		&c.StartedAt,
		&c.CompletedAt,
		&c.MinutesBilled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConsultationNotFound
		}
		return nil, err
	}

	return &c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message

	err := row.Scan(
		&m.ID,
		&m.ConsultationID,
		&m.SenderRole,
		&m.SenderID,
		&m.Body,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var (
		pr   Prescription
		meds []byte
	)

	err := row.Scan(
		&pr.ID,
		&pr.ConsultationID,
		&pr.ProviderID,
		&pr.Serial,
		&pr.Diagnosis,
		&meds,
		&pr.Instructions,
		&pr.PDFPath,
		&pr.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(meds, &pr.Medications); err != nil {
		return nil, fmt.Errorf("decode medications: %w", err)
	}
	return &pr, nil
}

func scanPayment(row pgx.Row) (*PaymentConfirmation, error) {
	var pc PaymentConfirmation

	err := row.Scan(
		&pc.ID,
		&pc.ConsultationID,
		&pc.AmountPaise,
		&pc.ProofPath,
		&pc.ConfirmedByDoctor,
		&pc.ConfirmedAt,
		&pc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	return &pc, nil
}

func (r *PgRepository) CreateConsultation(ctx context.Context, c *Consultation) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO consultations (id, requester_id, provider_id, kind, status, started_at, minutes_billed)
		VALUES ($1, $2, $3, $4, 'ACTIVE', $5, 0)
		RETURNING `+consultationColumns,
		c.ID, c.RequesterID, c.ProviderID, c.Kind, c.StartedAt,
	)

	created, err := scanConsultation(row)
	if err != nil {
		if db.IsUniqueViolation(err, "consultations_one_active_idx") {
			return nil, ErrActiveExists
		}
		return nil, fmt.Errorf("insert consultation: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE id = $1`, id)
	return scanConsultation(row)
}

func (r *PgRepository) GetActive(ctx context.Context, requesterID, providerID uuid.UUID) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE requester_id = $1
		  AND provider_id = $2
		  AND status = 'ACTIVE'
	`, requesterID, providerID)
	return scanConsultation(row)
}

func (r *PgRepository) Complete(ctx context.Context, id uuid.UUID, completedAt time.Time, minutesBilled int, bill func(q db.Querier) error) (*Consultation, error) {
	var c *Consultation

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE consultations
			SET status = 'COMPLETED',
			    completed_at = $2,
			    minutes_billed = $3
			WHERE id = $1
			  AND status = 'ACTIVE'
			RETURNING `+consultationColumns,
			id, completedAt, minutesBilled,
		)

		var err error
		c, err = scanConsultation(row)
		if err != nil {
			return err
		}
		if bill != nil {
			return bill(tx)
		}
		return nil
	})
	if errors.Is(err, ErrConsultationNotFound) {
		if _, getErr := r.GetConsultation(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotActive
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PgRepository) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO consultation_messages (id, consultation_id, sender_role, sender_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING `+messageColumns,
		m.ID, m.ConsultationID, m.SenderRole, m.SenderID, m.Body,
	)
	return scanMessage(row)
}

func (r *PgRepository) ListMessages(ctx context.Context, consultationID uuid.UUID, limit, offset int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM consultation_messages
		WHERE consultation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, consultationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// NextSerialQ advances the provider's prescription counter and returns the
// new value. The UPDATE holds the provider row lock until q commits.
func NextSerialQ(ctx context.Context, q db.Querier, providerID uuid.UUID) (int64, error) {
	var serial int64
	err := q.QueryRow(ctx, `
		UPDATE providers
		SET last_prescription_serial = last_prescription_serial + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING last_prescription_serial
	`, providerID).Scan(&serial)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, provider.ErrProviderNotFound
		}
		return 0, err
	}
	return serial, nil
}

func (r *PgRepository) CreatePrescription(ctx context.Context, pr *Prescription) (*Prescription, error) {
	meds, err := json.Marshal(nonNilMeds(pr.Medications))
	if err != nil {
		return nil, fmt.Errorf("encode medications: %w", err)
	}

	var created *Prescription

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		serial, err := NextSerialQ(ctx, tx, pr.ProviderID)
		if err != nil {
			return fmt.Errorf("next serial: %w", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO prescriptions (id, consultation_id, provider_id, serial, diagnosis, medications, instructions, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			RETURNING `+prescriptionColumns,
			pr.ID, pr.ConsultationID, pr.ProviderID, serial, pr.Diagnosis, meds, pr.Instructions,
		)
		created, err = scanPrescription(row)
		if err != nil {
			if db.IsUniqueViolation(err, "prescriptions_consultation_key") {
				return ErrPrescriptionExists
			}
			return fmt.Errorf("insert prescription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetPrescription(ctx context.Context, consultationID uuid.UUID) (*Prescription, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE consultation_id = $1`, consultationID)
	return scanPrescription(row)
}

func (r *PgRepository) SetPrescriptionPDF(ctx context.Context, id uuid.UUID, path string) (*Prescription, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE prescriptions
		SET pdf_path = $2
		WHERE id = $1
		  AND pdf_path IS NULL
		RETURNING `+prescriptionColumns,
		id, path,
	)

	pr, err := scanPrescription(row)
	if errors.Is(err, ErrPrescriptionNotFound) {
		return scanPrescription(r.pool.QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id))
	}
	return pr, err
}

func (r *PgRepository) CreatePayment(ctx context.Context, pc *PaymentConfirmation) (*PaymentConfirmation, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO payment_confirmations (id, consultation_id, amount_paise, proof_path, confirmed_by_doctor, created_at)
		VALUES ($1, $2, $3, $4, false, now())
		RETURNING `+paymentColumns,
		pc.ID, pc.ConsultationID, pc.AmountPaise, pc.ProofPath,
	)

	created, err := scanPayment(row)
	if err != nil {
		if db.IsUniqueViolation(err, "payment_confirmations_consultation_key") {
			return nil, ErrPaymentExists
		}
		return nil, fmt.Errorf("insert payment confirmation: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetPayment(ctx context.Context, consultationID uuid.UUID) (*PaymentConfirmation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_confirmations WHERE consultation_id = $1`, consultationID)
	return scanPayment(row)
}

func (r *PgRepository) ConfirmPayment(ctx context.Context, consultationID uuid.UUID, at time.Time) (*PaymentConfirmation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payment_confirmations
		SET confirmed_by_doctor = true,
		    confirmed_at = $2
		WHERE consultation_id = $1
		  AND confirmed_by_doctor = false
		RETURNING `+paymentColumns,
		consultationID, at,
	)

	pc, err := scanPayment(row)
	if errors.Is(err, ErrPaymentNotFound) {
		if _, getErr := r.GetPayment(ctx, consultationID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrPaymentAlreadyConfirmed
	}
	return pc, err
}

func nonNilMeds(m []Medication) []Medication {
	if m == nil {
		return []Medication{}
	}
	return m
}
