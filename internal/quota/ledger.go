// Package quota keeps the video-minute and patient-count books of a provider.
package quota

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/provider"
)

type Level string

const (
	LevelNone     Level = "none"
	LevelLow      Level = "low"
	LevelCritical Level = "critical"
	LevelExpired  Level = "expired"
)

const (
	lowMinutes      = 30
	criticalMinutes = 15

	lowWindow      = 3 * 24 * time.Hour
	criticalWindow = 24 * time.Hour
)

// Bucket names the balance a grant lands in.
type Bucket string

const (
	BucketPurchased Bucket = "purchased"
	BucketMonthly   Bucket = "monthly"
)

var ErrInvalidGrant = apperr.New(apperr.ErrValidation, "grant must add a positive number of minutes to a known bucket")

// AvailableMinutes is monthly + purchased - used. It can be negative when
// usage recorded at session end overshoots the balance.
func AvailableMinutes(p *provider.Provider) int {
	return p.MonthlyVideoMinutes + p.PurchasedMinutes - p.TotalMinutesUsed
}

// LevelFor combines the minute balance and the subscription window into the
// most severe warning.
func LevelFor(p *provider.Provider, now time.Time) Level {
	level := minuteLevel(max(AvailableMinutes(p), 0))

	if p.EffectiveSubscription(now) != p.SubscriptionStatus ||
		p.SubscriptionStatus == provider.SubscriptionExpired ||
		p.SubscriptionStatus == provider.SubscriptionCancelled {
		return LevelExpired
	}

	if end := p.AccessEndsAt(); end != nil {
		left := end.Sub(now)
		switch {
		case left <= criticalWindow:
			level = worst(level, LevelCritical)
		case left <= lowWindow:
			level = worst(level, LevelLow)
		}
	}
	return level
}

func minuteLevel(available int) Level {
	switch {
	case available <= 0:
		return LevelExpired
	case available <= criticalMinutes:
		return LevelCritical
	case available <= lowMinutes:
		return LevelLow
	}
	return LevelNone
}

var severity = map[Level]int{LevelNone: 0, LevelLow: 1, LevelCritical: 2, LevelExpired: 3}

func worst(a, b Level) Level {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Snapshot is the quota view returned to a provider's dashboard.
type Snapshot struct {
	Tier               provider.Tier               `json:"tier"`
	SubscriptionStatus provider.SubscriptionStatus `json:"subscription_status"`
	AccessEndsAt       *time.Time                  `json:"access_ends_at,omitempty"`
	MonthlyMinutes     int                         `json:"monthly_minutes"`
	PurchasedMinutes   int                         `json:"purchased_minutes"`
	MinutesUsed        int                         `json:"minutes_used"`
	AvailableMinutes   int                         `json:"available_minutes"`
	PatientCount       int                         `json:"patient_count"`
	PatientLimit       int                         `json:"patient_limit"`
	Warning            Level                       `json:"warning"`
}

func SnapshotOf(p *provider.Provider, now time.Time) Snapshot {
	return Snapshot{
		Tier:               p.SubscriptionTier,
		SubscriptionStatus: p.EffectiveSubscription(now),
		AccessEndsAt:       p.AccessEndsAt(),
		MonthlyMinutes:     p.MonthlyVideoMinutes,
		PurchasedMinutes:   p.PurchasedMinutes,
		MinutesUsed:        p.TotalMinutesUsed,
		AvailableMinutes:   max(AvailableMinutes(p), 0),
		PatientCount:       p.PatientCount,
		PatientLimit:       p.PatientLimit,
		Warning:            LevelFor(p, now),
	}
}

type Store interface {
	AddMinutes(ctx context.Context, providerID uuid.UUID, bucket Bucket, delta int) (*provider.Provider, error)
	// AddUsage runs on q when it is non-nil.
	AddUsage(ctx context.Context, q db.Querier, providerID uuid.UUID, minutes int) (*provider.Provider, error)
	ResetUsage(ctx context.Context, providerID uuid.UUID, now time.Time) (*provider.Provider, error)
	// ResetDue resets every ACTIVE provider last reset before cutoff.
	ResetDue(ctx context.Context, cutoff, now time.Time) (int64, error)
}

type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

func (l *Ledger) GrantMinutes(ctx context.Context, providerID uuid.UUID, bucket Bucket, delta int) (*provider.Provider, error) {
	if delta <= 0 || (bucket != BucketPurchased && bucket != BucketMonthly) {
		return nil, ErrInvalidGrant
	}
	p, err := l.store.AddMinutes(ctx, providerID, bucket, delta)
	if err != nil {
		return nil, fmt.Errorf("grant minutes: %w", err)
	}
	log.Printf("minutes granted provider_id=%s bucket=%s delta=%d", providerID, bucket, delta)
	return p, nil
}

// RecordUsage adds consumed minutes. Zero is a no-op. A non-nil q puts the
// increment in the caller's transaction.
func (l *Ledger) RecordUsage(ctx context.Context, q db.Querier, providerID uuid.UUID, minutes int) error {
	if minutes <= 0 {
		return nil
	}
	if _, err := l.store.AddUsage(ctx, q, providerID, minutes); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (l *Ledger) ResetMonthlyQuota(ctx context.Context, providerID uuid.UUID) (*provider.Provider, error) {
	p, err := l.store.ResetUsage(ctx, providerID, l.now())
	if err != nil {
		return nil, fmt.Errorf("reset monthly quota: %w", err)
	}
	return p, nil
}

// ResetDueQuotas runs the monthly reset over every ACTIVE provider whose last
// reset is more than a month old. Rows reset by this call drop out of the
// predicate, so running it again is a no-op.
func (l *Ledger) ResetDueQuotas(ctx context.Context) (int64, error) {
	now := l.now()
	n, err := l.store.ResetDue(ctx, now.AddDate(0, -1, 0), now)
	if err != nil {
		return 0, fmt.Errorf("reset due quotas: %w", err)
	}
	return n, nil
}
