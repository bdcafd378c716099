package subscription

import (
	"time"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/provider"
)

var (
	ErrProviderNotVerified = apperr.New(apperr.ErrForbidden, "provider is not verified")
	ErrSubscriptionExpired = apperr.New(apperr.ErrConflict, "subscription expired: upgrade or renew to continue")
)

// CheckAccess gates paid features. It runs on every gated request against
// the row as loaded, so a lapsed trial is refused even before the expiry
// sweep persists it.
func CheckAccess(p *provider.Provider, now time.Time) error {
	if p.Status != provider.StatusVerified {
		return ErrProviderNotVerified
	}
	switch p.EffectiveSubscription(now) {
	case provider.SubscriptionTrial, provider.SubscriptionActive:
		return nil
	}
	return ErrSubscriptionExpired
}

// NextPeriodEnd is one month after confirmation, or one month after the
// current end when an ACTIVE subscription is renewed before it lapses.
func NextPeriodEnd(p *provider.Provider, now time.Time) time.Time {
	base := now
	if p.SubscriptionStatus == provider.SubscriptionActive && p.SubscriptionEndsAt != nil && p.SubscriptionEndsAt.After(now) {
		base = *p.SubscriptionEndsAt
	}
	return base.AddDate(0, 1, 0)
}

// ApplyUpgrade moves p to ACTIVE on plan. Usage restarts from zero; purchased
// minutes carry over.
func ApplyUpgrade(p *provider.Provider, plan Plan, now time.Time) {
	end := NextPeriodEnd(p, now)
	p.SubscriptionStatus = provider.SubscriptionActive
	p.SubscriptionTier = plan.Tier
	p.SubscriptionEndsAt = &end
	p.PatientLimit = plan.PatientLimit
	p.MonthlyVideoMinutes = plan.MonthlyMinutes
	p.TotalMinutesUsed = 0
	p.LastResetDate = now
}
