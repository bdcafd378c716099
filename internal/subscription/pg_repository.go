package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/quota"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	planColumns     = `tier, price_paise, patient_limit, monthly_minutes, version, updated_at`
	orderColumns    = `id, provider_id, tier, price_paise, gateway_order_id, gateway_payment_id, status, created_at, updated_at`
	purchaseColumns = `id, provider_id, minutes, price_paise, gateway_order_id, gateway_payment_id, status, created_at, updated_at`
)

// Helpers

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(&p.Tier, &p.PricePaise, &p.PatientLimit, &p.MonthlyMinutes, &p.Version, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.ProviderID,
		&o.Tier,
		&o.PricePaise,
		&o.GatewayOrderID,
		&o.GatewayPaymentID,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func scanPurchase(row pgx.Row) (*MinutePurchase, error) {
	var mp MinutePurchase
	err := row.Scan(
		&mp.ID,
		&mp.ProviderID,
		&mp.Minutes,
		&mp.PricePaise,
		&mp.GatewayOrderID,
		&mp.GatewayPaymentID,
		&mp.Status,
		&mp.CreatedAt,
		&mp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &mp, nil
}

func getPlanQ(ctx context.Context, q db.Querier, tier provider.Tier) (*Plan, error) {
	return scanPlan(q.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE tier = $1`, tier))
}

// Interface methods

func (r *PgRepository) GetPlan(ctx context.Context, tier provider.Tier) (*Plan, error) {
	return getPlanQ(ctx, r.pool, tier)
}

func (r *PgRepository) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY price_paise`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
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

func (r *PgRepository) UpdatePlan(ctx context.Context, plan *Plan, expectedVersion int) (*Plan, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE subscription_plans
		SET price_paise = $2,
		    patient_limit = $3,
		    monthly_minutes = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE tier = $1
		  AND version = $5
		RETURNING `+planColumns,
		plan.Tier, plan.PricePaise, plan.PatientLimit, plan.MonthlyMinutes, expectedVersion,
	)
	updated, err := scanPlan(row)
	if errors.Is(err, ErrPlanNotFound) {
		if _, getErr := r.GetPlan(ctx, plan.Tier); getErr != nil {
			return nil, getErr
		}
		return nil, ErrPlanChanged
	}
	return updated, err
}

func (r *PgRepository) CreateOrder(ctx context.Context, o *Order) (*Order, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO subscription_orders (id, provider_id, tier, price_paise, gateway_order_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', now(), now())
		RETURNING `+orderColumns,
		o.ID, o.ProviderID, o.Tier, o.PricePaise, o.GatewayOrderID,
	)
	return scanOrder(row)
}

func (r *PgRepository) GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM subscription_orders WHERE gateway_order_id = $1`, gatewayOrderID)
	return scanOrder(row)
}

func (r *PgRepository) CompleteUpgrade(ctx context.Context, gatewayOrderID, paymentID string, now time.Time) (*provider.Provider, bool, error) {
	var (
		result  *provider.Provider
		applied bool
	)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		order, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM subscription_orders WHERE gateway_order_id = $1 FOR UPDATE`, gatewayOrderID))
		if err != nil {
			return err
		}

		p, err := provider.GetProviderQ(ctx, tx, order.ProviderID, true)
		if err != nil {
			return fmt.Errorf("lock provider: %w", err)
		}

		if order.Status == OrderCompleted {
			result = p
			return nil
		}

		plan, err := getPlanQ(ctx, tx, order.Tier)
		if err != nil {
			return fmt.Errorf("load plan: %w", err)
		}

		ApplyUpgrade(p, *plan, now)

		result, err = provider.ScanProvider(tx.QueryRow(ctx, `
			UPDATE providers
			SET subscription_status = $2,
			    subscription_tier = $3,
			    subscription_ends_at = $4,
			    patient_limit = $5,
			    monthly_video_minutes = $6,
			    total_minutes_used = $7,
			    last_reset_date = $8,
			    updated_at = now()
			WHERE id = $1
			RETURNING `+provider.ProviderColumns,
			p.ID, p.SubscriptionStatus, p.SubscriptionTier, p.SubscriptionEndsAt,
			p.PatientLimit, p.MonthlyVideoMinutes, p.TotalMinutesUsed, p.LastResetDate,
		))
		if err != nil {
			return fmt.Errorf("apply upgrade: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE subscription_orders
			SET status = 'COMPLETED',
			    gateway_payment_id = COALESCE(NULLIF($2, ''), gateway_payment_id),
			    updated_at = now()
			WHERE id = $1
		`, order.ID, paymentID); err != nil {
			return fmt.Errorf("complete order: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, applied, nil
}

func (r *PgRepository) CreatePurchase(ctx context.Context, mp *MinutePurchase) (*MinutePurchase, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO minute_purchases (id, provider_id, minutes, price_paise, gateway_order_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', now(), now())
		RETURNING `+purchaseColumns,
		mp.ID, mp.ProviderID, mp.Minutes, mp.PricePaise, mp.GatewayOrderID,
	)
	return scanPurchase(row)
}

func (r *PgRepository) GetPurchaseByGatewayID(ctx context.Context, gatewayOrderID string) (*MinutePurchase, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM minute_purchases WHERE gateway_order_id = $1`, gatewayOrderID)
	return scanPurchase(row)
}

func (r *PgRepository) CompletePurchase(ctx context.Context, gatewayOrderID, paymentID string) (*provider.Provider, bool, error) {
	var (
		result  *provider.Provider
		applied bool
	)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		mp, err := scanPurchase(tx.QueryRow(ctx,
			`SELECT `+purchaseColumns+` FROM minute_purchases WHERE gateway_order_id = $1 FOR UPDATE`, gatewayOrderID))
		if err != nil {
			return err
		}

		if mp.Status == OrderCompleted {
			result, err = provider.GetProviderQ(ctx, tx, mp.ProviderID, false)
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE minute_purchases
			SET status = 'COMPLETED',
			    gateway_payment_id = COALESCE(NULLIF($2, ''), gateway_payment_id),
			    updated_at = now()
			WHERE id = $1
		`, mp.ID, paymentID); err != nil {
			return fmt.Errorf("complete purchase: %w", err)
		}

		result, err = quota.AddMinutesQ(ctx, tx, mp.ProviderID, quota.BucketPurchased, mp.Minutes)
		if err != nil {
			return fmt.Errorf("credit minutes: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, applied, nil
}

func (r *PgRepository) FailPending(ctx context.Context, gatewayOrderID string) (bool, error) {
	var total int64
	for _, table := range []string{"minute_purchases", "subscription_orders"} {
		tag, err := r.pool.Exec(ctx, `
			UPDATE `+table+`
			SET status = 'FAILED',
			    updated_at = now()
			WHERE gateway_order_id = $1
			  AND status = 'PENDING'
		`, gatewayOrderID)
		if err != nil {
			return false, fmt.Errorf("fail %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total > 0, nil
}

func (r *PgRepository) SetSubscriptionStatus(ctx context.Context, providerID uuid.UUID, from []provider.SubscriptionStatus, to provider.SubscriptionStatus) (*provider.Provider, error) {
	fromText := make([]string, len(from))
	for i, s := range from {
		fromText[i] = string(s)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE providers
		SET subscription_status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND subscription_status = ANY($3)
		RETURNING `+provider.ProviderColumns,
		providerID, to, fromText,
	)

	p, err := provider.ScanProvider(row)
	if errors.Is(err, provider.ErrProviderNotFound) {
		if _, getErr := provider.GetProviderQ(ctx, r.pool, providerID, false); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return p, err
}

func (r *PgRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE providers
		SET subscription_status = 'EXPIRED',
		    updated_at = now()
		WHERE (subscription_status = 'TRIAL' AND (trial_ends_at IS NULL OR trial_ends_at < $1))
		   OR (subscription_status = 'ACTIVE' AND (subscription_ends_at IS NULL OR subscription_ends_at < $1))
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) ListProviders(ctx context.Context) ([]provider.Provider, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+provider.ProviderColumns+` FROM providers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []provider.Provider
	for rows.Next() {
		p, err := provider.ScanProvider(rows)
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

func (r *PgRepository) SetTier(ctx context.Context, providerID uuid.UUID, tier provider.Tier) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE providers
		SET subscription_tier = $2,
		    updated_at = now()
		WHERE id = $1
	`, providerID, tier)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return provider.ErrProviderNotFound
	}
	return nil
}
