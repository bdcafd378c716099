package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/hackgods/mediquory-connect/internal/payment"
	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/subscription"
)

const maxWebhookBytes = 1 << 20

func plansHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := svc.Plans(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, plans)
	}
}

func createUpgradeOrderHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpgradeOrderRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		order, checkout, err := svc.CreateUpgradeOrder(r.Context(), principal(r).ID, provider.Tier(req.Tier))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, OrderResponse{
			ID:         order.ID,
			Tier:       order.Tier,
			PricePaise: order.PricePaise,
			Status:     order.Status,
			Checkout:   checkout,
		})
	}
}

func confirmUpgradeHandler(svc *subscription.Service, now clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmOrderRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		p, err := svc.ConfirmUpgrade(r.Context(), principal(r).ID, req.OrderID, req.PaymentID, req.Signature)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProviderResponse(p, now()))
	}
}

func createMinuteOrderHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MinuteOrderRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		purchase, checkout, err := svc.CreateMinutePurchase(r.Context(), principal(r).ID, req.Minutes)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, OrderResponse{
			ID:         purchase.ID,
			Minutes:    purchase.Minutes,
			PricePaise: purchase.PricePaise,
			Status:     purchase.Status,
			Checkout:   checkout,
		})
	}
}

func confirmMinuteOrderHandler(svc *subscription.Service, now clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmOrderRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		p, err := svc.ConfirmMinutePurchase(r.Context(), principal(r).ID, req.OrderID, req.PaymentID, req.Signature)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProviderResponse(p, now()))
	}
}

// razorpayWebhookHandler acknowledges every correctly signed event, including
// ones for orders this service does not know.
func razorpayWebhookHandler(svc *subscription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
			return
		}

		err = svc.HandleWebhook(r.Context(), body, r.Header.Get("X-Razorpay-Signature"))
		if err != nil {
			if errors.Is(err, payment.ErrSignatureMismatch) {
				writeError(w, http.StatusBadRequest, "invalid_signature", err.Error())
				return
			}
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
