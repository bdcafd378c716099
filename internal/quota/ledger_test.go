package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/provider"
)

type memStore struct {
	mu        sync.Mutex
	providers map[uuid.UUID]*provider.Provider
}

func newMemStore(ps ...*provider.Provider) *memStore {
	m := &memStore{providers: map[uuid.UUID]*provider.Provider{}}
	for _, p := range ps {
		m.providers[p.ID] = p
	}
	return m
}

func (m *memStore) get(id uuid.UUID) (*provider.Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, provider.ErrProviderNotFound
	}
	return p, nil
}

func (m *memStore) AddMinutes(_ context.Context, id uuid.UUID, bucket Bucket, delta int) (*provider.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if bucket == BucketPurchased {
		p.PurchasedMinutes += delta
	} else {
		p.MonthlyVideoMinutes += delta
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) AddUsage(_ context.Context, _ db.Querier, id uuid.UUID, minutes int) (*provider.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	p.TotalMinutesUsed += minutes
	cp := *p
	return &cp, nil
}

func (m *memStore) ResetUsage(_ context.Context, id uuid.UUID, now time.Time) (*provider.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	p.TotalMinutesUsed = 0
	p.LastResetDate = now
	cp := *p
	return &cp, nil
}

func (m *memStore) ResetDue(_ context.Context, cutoff, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.providers {
		if p.SubscriptionStatus == provider.SubscriptionActive && p.LastResetDate.Before(cutoff) {
			p.TotalMinutesUsed = 0
			p.LastResetDate = now
			n++
		}
	}
	return n, nil
}

func activeProvider(monthly, purchased, used int, endsIn time.Duration) *provider.Provider {
	end := time.Now().Add(endsIn)
	return &provider.Provider{
		ID:                  uuid.New(),
		SubscriptionStatus:  provider.SubscriptionActive,
		SubscriptionTier:    provider.TierBasic,
		SubscriptionEndsAt:  &end,
		MonthlyVideoMinutes: monthly,
		PurchasedMinutes:    purchased,
		TotalMinutesUsed:    used,
	}
}

func TestLevelThresholds(t *testing.T) {
	now := time.Now()
	month := 30 * 24 * time.Hour

	cases := []struct {
		name      string
		p         *provider.Provider
		available int
		want      Level
	}{
		{"plenty", activeProvider(100, 0, 0, month), 100, LevelNone},
		{"low at 30", activeProvider(20, 10, 0, month), 30, LevelLow},
		{"critical at 15", activeProvider(30, 0, 15, month), 15, LevelCritical},
		{"expired at 0", activeProvider(30, 0, 30, month), 0, LevelExpired},
		{"overdrawn", activeProvider(10, 0, 25, month), -15, LevelExpired},
		{"window within 3 days", activeProvider(100, 0, 0, 48*time.Hour), 100, LevelLow},
		{"window within a day", activeProvider(100, 0, 0, 2*time.Hour), 100, LevelCritical},
		{"window lapsed", activeProvider(100, 0, 0, -time.Hour), 100, LevelExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.available, AvailableMinutes(tc.p))
			assert.Equal(t, tc.want, LevelFor(tc.p, now))
		})
	}
}

func TestSnapshotNeverReportsNegativeBalance(t *testing.T) {
	p := activeProvider(10, 5, 40, 30*24*time.Hour)
	s := SnapshotOf(p, time.Now())

	assert.Equal(t, 0, s.AvailableMinutes)
	assert.Equal(t, LevelExpired, s.Warning)
	assert.Equal(t, provider.SubscriptionActive, s.SubscriptionStatus)
}

func TestLevelCancelledIsExpired(t *testing.T) {
	p := activeProvider(100, 0, 0, 30*24*time.Hour)
	p.SubscriptionStatus = provider.SubscriptionCancelled
	assert.Equal(t, LevelExpired, LevelFor(p, time.Now()))
}

func TestGrantMinutes(t *testing.T) {
	p := activeProvider(60, 0, 0, time.Hour)
	ledger := NewLedger(newMemStore(p))
	ctx := context.Background()

	updated, err := ledger.GrantMinutes(ctx, p.ID, BucketPurchased, 45)
	require.NoError(t, err)
	assert.Equal(t, 45, updated.PurchasedMinutes)

	updated, err = ledger.GrantMinutes(ctx, p.ID, BucketMonthly, 10)
	require.NoError(t, err)
	assert.Equal(t, 70, updated.MonthlyVideoMinutes)

	_, err = ledger.GrantMinutes(ctx, p.ID, BucketPurchased, 0)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = ledger.GrantMinutes(ctx, p.ID, "bonus", 5)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = ledger.GrantMinutes(ctx, uuid.New(), BucketPurchased, 5)
	assert.ErrorIs(t, err, provider.ErrProviderNotFound)
}

func TestRecordUsage(t *testing.T) {
	p := activeProvider(60, 0, 0, time.Hour)
	ledger := NewLedger(newMemStore(p))

	require.NoError(t, ledger.RecordUsage(context.Background(), nil, p.ID, 0))
	require.NoError(t, ledger.RecordUsage(context.Background(), nil, p.ID, 12))
	assert.Equal(t, 12, p.TotalMinutesUsed)
}

func TestResetDueQuotasIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	due := activeProvider(60, 0, 50, 30*24*time.Hour)
	due.LastResetDate = now.AddDate(0, -1, -1)

	fresh := activeProvider(60, 0, 20, 30*24*time.Hour)
	fresh.LastResetDate = now.AddDate(0, 0, -3)

	trial := activeProvider(60, 0, 40, 30*24*time.Hour)
	trial.SubscriptionStatus = provider.SubscriptionTrial
	trial.LastResetDate = now.AddDate(0, -2, 0)

	ledger := NewLedger(newMemStore(due, fresh, trial))
	ledger.now = func() time.Time { return now }

	n, err := ledger.ResetDueQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, due.TotalMinutesUsed)
	assert.Equal(t, now, due.LastResetDate)
	assert.Equal(t, 20, fresh.TotalMinutesUsed)
	assert.Equal(t, 40, trial.TotalMinutesUsed)

	n, err = ledger.ResetDueQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestResetMonthlyQuota(t *testing.T) {
	p := activeProvider(60, 0, 33, time.Hour)
	ledger := NewLedger(newMemStore(p))

	updated, err := ledger.ResetMonthlyQuota(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.TotalMinutesUsed)
}
