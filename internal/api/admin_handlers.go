package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/quota"
	"github.com/hackgods/mediquory-connect/internal/subscription"
)

func adminListProvidersHandler(svc *provider.Service, now clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status *provider.Status
		if raw := r.URL.Query().Get("status"); raw != "" {
			s := provider.Status(strings.ToUpper(raw))
			status = &s
		}

		limit, offset := pageParams(r)
		list, err := svc.List(r.Context(), status, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}

		at := now()
		resp := make([]ProviderResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toProviderResponse(&list[i], at))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func adminVerifyHandler(svc *provider.Service, now clock) http.HandlerFunc {
	return providerAction(now, func(r *http.Request, id uuid.UUID) (*provider.Provider, error) {
		return svc.Verify(r.Context(), id)
	})
}

func adminRejectHandler(svc *provider.Service, now clock) http.HandlerFunc {
	return providerReasonAction(now, svc.Reject)
}

func adminSuspendHandler(svc *provider.Service, now clock) http.HandlerFunc {
	return providerReasonAction(now, svc.Suspend)
}

func adminCancelSubscriptionHandler(svc *subscription.Service, now clock) http.HandlerFunc {
	return providerAction(now, func(r *http.Request, id uuid.UUID) (*provider.Provider, error) {
		return svc.Cancel(r.Context(), id)
	})
}

func adminExpireSubscriptionHandler(svc *subscription.Service, now clock) http.HandlerFunc {
	return providerAction(now, func(r *http.Request, id uuid.UUID) (*provider.Provider, error) {
		return svc.Expire(r.Context(), id)
	})
}

func adminGrantMinutesHandler(ledger *quota.Ledger, now clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req GrantMinutesRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		p, err := ledger.GrantMinutes(r.Context(), id, quota.Bucket(req.Bucket), req.Delta)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProviderResponse(p, now()))
	}
}

func adminResetQuotaHandler(ledger *quota.Ledger, now clock) http.HandlerFunc {
	return providerAction(now, func(r *http.Request, id uuid.UUID) (*provider.Provider, error) {
		return ledger.ResetMonthlyQuota(r.Context(), id)
	})
}

func adminUpdatePlanHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tier := provider.Tier(strings.ToUpper(chi.URLParam(r, "tier")))
		var req PlanRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		plan, err := svc.UpdatePlan(r.Context(), tier, subscription.PlanInput{
			PricePaise:     req.PricePaise,
			PatientLimit:   req.PatientLimit,
			MonthlyMinutes: req.MonthlyMinutes,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}

func adminReconcileHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.ReconcileTiers(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func providerAction(now clock, fn func(r *http.Request, id uuid.UUID) (*provider.Provider, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		p, err := fn(r, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProviderResponse(p, now()))
	}
}

func providerReasonAction(now clock, fn func(ctx context.Context, id uuid.UUID, reason string) (*provider.Provider, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req ReasonRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		p, err := fn(r.Context(), id, req.Reason)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProviderResponse(p, now()))
	}
}
