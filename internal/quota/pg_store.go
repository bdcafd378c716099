package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/provider"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) AddMinutes(ctx context.Context, providerID uuid.UUID, bucket Bucket, delta int) (*provider.Provider, error) {
	return AddMinutesQ(ctx, s.pool, providerID, bucket, delta)
}

// AddMinutesQ is the atomic grant, usable inside a caller's transaction.
func AddMinutesQ(ctx context.Context, q db.Querier, providerID uuid.UUID, bucket Bucket, delta int) (*provider.Provider, error) {
	var column string
	switch bucket {
	case BucketPurchased:
		column = "purchased_minutes"
	case BucketMonthly:
		column = "monthly_video_minutes"
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}

	row := q.QueryRow(ctx, `
		UPDATE providers
		SET `+column+` = `+column+` + $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+provider.ProviderColumns,
		providerID, delta,
	)
	return provider.ScanProvider(row)
}

// AddUsage runs on q when the caller is inside a transaction, otherwise on
// the pool.
func (s *PgStore) AddUsage(ctx context.Context, q db.Querier, providerID uuid.UUID, minutes int) (*provider.Provider, error) {
	if q == nil {
		q = s.pool
	}
	return AddUsageQ(ctx, q, providerID, minutes)
}

func AddUsageQ(ctx context.Context, q db.Querier, providerID uuid.UUID, minutes int) (*provider.Provider, error) {
	row := q.QueryRow(ctx, `
		UPDATE providers
		SET total_minutes_used = total_minutes_used + $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+provider.ProviderColumns,
		providerID, minutes,
	)
	return provider.ScanProvider(row)
}

func (s *PgStore) ResetUsage(ctx context.Context, providerID uuid.UUID, now time.Time) (*provider.Provider, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE providers
		SET total_minutes_used = 0,
		    last_reset_date = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+provider.ProviderColumns,
		providerID, now,
	)
	return provider.ScanProvider(row)
}

func (s *PgStore) ResetDue(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE providers
		SET total_minutes_used = 0,
		    last_reset_date = $2,
		    updated_at = now()
		WHERE subscription_status = 'ACTIVE'
		  AND last_reset_date < $1
	`, cutoff, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
