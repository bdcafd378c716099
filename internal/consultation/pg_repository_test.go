package consultation

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/quota"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

func seedPair(t *testing.T, pool *pgxpool.Pool) (providerID, requesterID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	providerID, requesterID = uuid.New(), uuid.New()

	_, err := pool.Exec(ctx, `
		INSERT INTO providers (id, name, email, password_hash, status)
		VALUES ($1, 'Integration Doctor', $2, 'x', 'VERIFIED')
	`, providerID, providerID.String()+"@example.test")
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO requesters (id, provider_id, name, access_token)
		VALUES ($1, $2, 'Integration Patient', $3)
	`, requesterID, providerID, requesterID.String())
	require.NoError(t, err)
	return providerID, requesterID
}

func TestPgPrescriptionSerialsUnderConcurrency(t *testing.T) {
	pool := testPool(t)
	repo := NewPgRepository(pool)
	ctx := context.Background()
	providerID, requesterID := seedPair(t, pool)

	const n = 10
	ids := make([]uuid.UUID, n)
	for i := range ids {
		c, err := repo.CreateConsultation(ctx, &Consultation{
			ID: uuid.New(), RequesterID: requesterID, ProviderID: providerID, Kind: KindChat, StartedAt: time.Now(),
		})
		require.NoError(t, err)
		_, err = repo.Complete(ctx, c.ID, time.Now(), 0, nil)
		require.NoError(t, err)
		ids[i] = c.ID
	}

	serials := make([]int64, n)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			pr, err := repo.CreatePrescription(ctx, &Prescription{
				ID: uuid.New(), ConsultationID: id, ProviderID: providerID, Diagnosis: "integration",
				Medications: []Medication{{Name: "Cetirizine", Dosage: "10mg"}},
			})
			if assert.NoError(t, err) {
				serials[i] = pr.Serial
			}
		}(i, id)
	}
	wg.Wait()

	sort.Slice(serials, func(a, b int) bool { return serials[a] < serials[b] })
	for i, s := range serials {
		assert.Equal(t, int64(i+1), s)
	}

	_, err := repo.CreatePrescription(ctx, &Prescription{
		ID: uuid.New(), ConsultationID: ids[0], ProviderID: providerID, Diagnosis: "duplicate",
	})
	assert.ErrorIs(t, err, ErrPrescriptionExists)

	var last int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT last_prescription_serial FROM providers WHERE id = $1`, providerID).Scan(&last))
	assert.Equal(t, int64(n), last, "the failed insert rolls back its serial")
}

func TestPgOneActiveConsultationPerPair(t *testing.T) {
	pool := testPool(t)
	repo := NewPgRepository(pool)
	ctx := context.Background()
	providerID, requesterID := seedPair(t, pool)

	first, err := repo.CreateConsultation(ctx, &Consultation{
		ID: uuid.New(), RequesterID: requesterID, ProviderID: providerID, Kind: KindVideo, StartedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = repo.CreateConsultation(ctx, &Consultation{
		ID: uuid.New(), RequesterID: requesterID, ProviderID: providerID, Kind: KindChat, StartedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrActiveExists)

	failing := func(db.Querier) error { return errors.New("billing down") }
	_, err = repo.Complete(ctx, first.ID, time.Now(), 3, failing)
	require.Error(t, err)
	still, err := repo.GetConsultation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, still.Status)

	bill := func(q db.Querier) error {
		_, err := quota.AddUsageQ(ctx, q, providerID, 3)
		return err
	}
	done, err := repo.Complete(ctx, first.ID, time.Now(), 3, bill)
	require.NoError(t, err)
	assert.Equal(t, 3, done.MinutesBilled)

	var used int
	require.NoError(t, pool.QueryRow(ctx, `SELECT total_minutes_used FROM providers WHERE id = $1`, providerID).Scan(&used))
	assert.Equal(t, 3, used)

	_, err = repo.Complete(ctx, first.ID, time.Now(), 3, bill)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestPgPaymentConfirmedOnce(t *testing.T) {
	pool := testPool(t)
	repo := NewPgRepository(pool)
	ctx := context.Background()
	providerID, requesterID := seedPair(t, pool)

	c, err := repo.CreateConsultation(ctx, &Consultation{
		ID: uuid.New(), RequesterID: requesterID, ProviderID: providerID, Kind: KindChat, StartedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = repo.ConfirmPayment(ctx, c.ID, time.Now())
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = repo.CreatePayment(ctx, &PaymentConfirmation{ID: uuid.New(), ConsultationID: c.ID, AmountPaise: 1000, ProofPath: "payments/x.png"})
	require.NoError(t, err)

	pc, err := repo.ConfirmPayment(ctx, c.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, pc.ConfirmedByDoctor)

	_, err = repo.ConfirmPayment(ctx, c.ID, time.Now())
	assert.ErrorIs(t, err, ErrPaymentAlreadyConfirmed)
}
