package subscription

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/provider"
)

type Correction struct {
	ProviderID uuid.UUID     `json:"provider_id"`
	From       provider.Tier `json:"from"`
	To         provider.Tier `json:"to"`
}

// Unresolved is a provider whose limits match no plan, or more than one.
type Unresolved struct {
	ProviderID uuid.UUID       `json:"provider_id"`
	Tier       provider.Tier   `json:"tier"`
	Candidates []provider.Tier `json:"candidates"`
}

type ReconcileReport struct {
	Checked    int          `json:"checked"`
	Corrected  []Correction `json:"corrected"`
	Unresolved []Unresolved `json:"unresolved"`
}

// ReconcileTiers compares every provider's stored limits against the plan
// table. The tier label is rewritten only when exactly one plan matches both
// limits; limits themselves are never changed.
func (s *Service) ReconcileTiers(ctx context.Context) (*ReconcileReport, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	providers, err := s.repo.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	report := &ReconcileReport{Corrected: []Correction{}, Unresolved: []Unresolved{}}
	for i := range providers {
		p := &providers[i]
		report.Checked++

		var candidates []provider.Tier
		current := false
		for _, pl := range plans {
			if pl.Matches(p) {
				candidates = append(candidates, pl.Tier)
				if pl.Tier == p.SubscriptionTier {
					current = true
				}
			}
		}

		if current {
			continue
		}
		if len(candidates) != 1 {
			report.Unresolved = append(report.Unresolved, Unresolved{
				ProviderID: p.ID,
				Tier:       p.SubscriptionTier,
				Candidates: candidates,
			})
			continue
		}

		to := candidates[0]
		if err := s.repo.SetTier(ctx, p.ID, to); err != nil {
			return nil, fmt.Errorf("correct tier for %s: %w", p.ID, err)
		}
		report.Corrected = append(report.Corrected, Correction{ProviderID: p.ID, From: p.SubscriptionTier, To: to})
		s.events.Record(ctx, p.ID, EventTierReconciled, map[string]any{"from": p.SubscriptionTier, "to": to})
	}

	log.Printf("tier reconcile checked=%d corrected=%d unresolved=%d",
		report.Checked, len(report.Corrected), len(report.Unresolved))
	return report, nil
}
