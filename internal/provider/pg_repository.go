package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/mediquory-connect/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// ProviderColumns is shared with the other repositories that read provider rows.
const ProviderColumns = `id, name, email, password_hash, specialization, registration_number, kyc_documents,
	status, rejection_reason, subscription_tier, subscription_status, trial_ends_at, subscription_ends_at,
	monthly_video_minutes, purchased_minutes, total_minutes_used, last_reset_date,
	patient_count, patient_limit, last_prescription_serial, created_at, updated_at`

const requesterColumns = `id, provider_id, name, email, phone, status, access_token, created_at, updated_at`

// Helpers

// ScanProvider reads a row selected with ProviderColumns.
func ScanProvider(row pgx.Row) (*Provider, error) {
	var p Provider

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.PasswordHash,
		&p.Specialization,
		&p.RegistrationNumber,
		&p.KYCDocuments,
		&p.Status,
		&p.RejectionReason,
		&p.SubscriptionTier,
		&p.SubscriptionStatus,
		&p.TrialEndsAt,
		&p.SubscriptionEndsAt,
		&p.MonthlyVideoMinutes,
		&p.PurchasedMinutes,
		&p.TotalMinutesUsed,
		&p.LastResetDate,
		&p.PatientCount,
		&p.PatientLimit,
		&p.LastPrescriptionSerial,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanRequester(row pgx.Row) (*Requester, error) {
	var r Requester

	err := row.Scan(
		&r.ID,
		&r.ProviderID,
		&r.Name,
		&r.Email,
		&r.Phone,
		&r.Status,
		&r.AccessToken,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequesterNotFound
		}
		return nil, err
	}

	return &r, nil
}

// GetProviderQ loads a provider through any querier, optionally locking the row.
func GetProviderQ(ctx context.Context, q db.Querier, id uuid.UUID, forUpdate bool) (*Provider, error) {
	sql := `SELECT ` + ProviderColumns + ` FROM providers WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	return ScanProvider(q.QueryRow(ctx, sql, id))
}

// Interface methods

func (r *PgRepository) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return GetProviderQ(ctx, r.pool, id, false)
}

func (r *PgRepository) GetProviderByEmail(ctx context.Context, email string) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ProviderColumns+` FROM providers WHERE lower(email) = lower($1)`, email)
	return ScanProvider(row)
}

func (r *PgRepository) CreateProvider(ctx context.Context, p *Provider) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO providers (
			id, name, email, password_hash, specialization, registration_number, kyc_documents,
			status, subscription_tier, subscription_status, trial_ends_at,
			monthly_video_minutes, patient_limit, last_reset_date, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		RETURNING `+ProviderColumns,
		p.ID, p.Name, p.Email, p.PasswordHash, p.Specialization, p.RegistrationNumber, nonNil(p.KYCDocuments),
		p.Status, p.SubscriptionTier, p.SubscriptionStatus, p.TrialEndsAt,
		p.MonthlyVideoMinutes, p.PatientLimit, p.LastResetDate,
	)

	created, err := ScanProvider(row)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert provider: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ListProviders(ctx context.Context, status *Status, limit, offset int) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ProviderColumns+`
		FROM providers
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Provider
	for rows.Next() {
		p, err := ScanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateVerification(ctx context.Context, id uuid.UUID, from []Status, to Status, reason *string) (*Provider, error) {
	fromText := make([]string, len(from))
	for i, s := range from {
		fromText[i] = string(s)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE providers
		SET status = $2,
		    rejection_reason = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($4)
		RETURNING `+ProviderColumns,
		id, to, reason, fromText,
	)

	p, err := ScanProvider(row)
	if errors.Is(err, ErrProviderNotFound) {
		if _, getErr := r.GetProvider(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return p, err
}

func (r *PgRepository) SetKYCDocuments(ctx context.Context, id uuid.UUID, docs []string) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE providers
		SET kyc_documents = $2,
		    status = CASE WHEN status = 'REJECTED' THEN 'PENDING_VERIFICATION' ELSE status END,
		    rejection_reason = CASE WHEN status = 'REJECTED' THEN NULL ELSE rejection_reason END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+ProviderColumns,
		id, nonNil(docs),
	)
	return ScanProvider(row)
}

func (r *PgRepository) CreateRequester(ctx context.Context, req *Requester) (*Requester, error) {
	var created *Requester

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE providers
			SET patient_count = patient_count + 1,
			    updated_at = now()
			WHERE id = $1
			  AND (patient_limit <= 0 OR patient_count < patient_limit)
			RETURNING id
		`, req.ProviderID).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				if _, getErr := GetProviderQ(ctx, tx, req.ProviderID, false); getErr != nil {
					return getErr
				}
				return ErrPatientLimit
			}
			return fmt.Errorf("reserve patient slot: %w", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO requesters (id, provider_id, name, email, phone, status, access_token, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			RETURNING `+requesterColumns,
			req.ID, req.ProviderID, req.Name, req.Email, req.Phone, req.Status, req.AccessToken,
		)
		created, err = scanRequester(row)
		if err != nil {
			return fmt.Errorf("insert requester: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetRequester(ctx context.Context, id uuid.UUID) (*Requester, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requesterColumns+` FROM requesters WHERE id = $1`, id)
	return scanRequester(row)
}

func (r *PgRepository) GetRequesterByToken(ctx context.Context, token string) (*Requester, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requesterColumns+` FROM requesters WHERE access_token = $1`, token)
	return scanRequester(row)
}

func (r *PgRepository) ListRequesters(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Requester, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requesterColumns+`
		FROM requesters
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, providerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Requester
	for rows.Next() {
		req, err := scanRequester(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateRequesterStatus(ctx context.Context, providerID, id uuid.UUID, status RequesterStatus) (*Requester, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE requesters
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND provider_id = $2
		RETURNING `+requesterColumns,
		id, providerID, status,
	)
	return scanRequester(row)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
