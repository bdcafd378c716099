package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/mediquory-connect/internal/appointment"
	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/consultation"
	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/quota"
	"github.com/hackgods/mediquory-connect/internal/subscription"
)

type clock func() time.Time

type RouterConfig struct {
	Providers     *provider.Service
	Subscriptions *subscription.Service
	Appointments  *appointment.Service
	Consultations *consultation.Service
	Quota         *quota.Ledger
	Issuer        *auth.Issuer
	Admin         AdminCredentials
	Events        EventSource
	Postgres      Pinger
	Redis         Pinger
	Env           string
	Version       string
	Now           func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	now := clock(time.Now)
	if cfg.Now != nil {
		now = cfg.Now
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Public endpoints
	r.Post("/auth/providers/register", registerProviderHandler(cfg.Providers, now))
	r.Post("/auth/providers/login", providerLoginHandler(cfg.Providers, cfg.Issuer))
	r.Post("/auth/admin/login", adminLoginHandler(cfg.Admin, cfg.Issuer))
	r.Post("/auth/requesters/session", requesterSessionHandler(cfg.Providers, cfg.Issuer))
	r.Get("/plans", plansHandler(cfg.Subscriptions))
	r.Post("/webhooks/razorpay", razorpayWebhookHandler(cfg.Subscriptions))
	r.Post("/video/verify", verifyVideoTokenHandler(cfg.Issuer))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Issuer))

		// Either party of a consultation
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleProvider, auth.RoleRequester))

			r.Get("/events", eventsHandler(cfg.Events, cfg.Consultations))
			r.Get("/consultations/{id}", getConsultationHandler(cfg.Consultations))
			r.Get("/consultations/{id}/messages", listMessagesHandler(cfg.Consultations))
			r.Post("/consultations/{id}/messages", postMessageHandler(cfg.Consultations))
			r.Get("/consultations/{id}/video-token", videoTokenHandler(cfg.Consultations))
			r.Get("/consultations/{id}/prescription.pdf", downloadPrescriptionHandler(cfg.Consultations))
			r.Get("/consultations/{id}/payment", getPaymentHandler(cfg.Consultations))
		})

		// Provider endpoints
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleProvider))

			r.Get("/me", meHandler(cfg.Providers, now))
			r.Get("/me/quota", quotaHandler(cfg.Providers, now))
			r.Post("/me/kyc", uploadKYCHandler(cfg.Providers, now))

			r.Post("/requesters", createRequesterHandler(cfg.Providers))
			r.Get("/requesters", listRequestersHandler(cfg.Providers))
			r.Patch("/requesters/{id}/status", requesterStatusHandler(cfg.Providers))

			r.Get("/appointments", listProviderAppointmentsHandler(cfg.Appointments))
			r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
			r.Post("/appointments/{id}/accept", acceptAppointmentHandler(cfg.Appointments))
			r.Post("/appointments/{id}/propose", proposeAppointmentHandler(cfg.Appointments))
			r.Post("/appointments/{id}/reject", rejectAppointmentHandler(cfg.Appointments))
			r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
			r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Appointments))

			r.Post("/consultations", startConsultationHandler(cfg.Consultations))
			r.Post("/consultations/{id}/end", endConsultationHandler(cfg.Consultations))
			r.Post("/consultations/{id}/prescription", createPrescriptionHandler(cfg.Consultations))
			r.Post("/consultations/{id}/payment/confirm", confirmPaymentHandler(cfg.Consultations))

			r.Post("/subscription/orders", createUpgradeOrderHandler(cfg.Subscriptions))
			r.Post("/subscription/orders/confirm", confirmUpgradeHandler(cfg.Subscriptions, now))
			r.Post("/minutes/orders", createMinuteOrderHandler(cfg.Subscriptions))
			r.Post("/minutes/orders/confirm", confirmMinuteOrderHandler(cfg.Subscriptions, now))
		})

		// Requester endpoints
		r.Route("/requester", func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleRequester))

			r.Post("/appointments", requestAppointmentHandler(cfg.Appointments))
			r.Get("/appointments", listRequesterAppointmentsHandler(cfg.Appointments))
			r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
			r.Post("/appointments/{id}/accept", acceptProposalHandler(cfg.Appointments))
			r.Post("/appointments/{id}/decline", declineProposalHandler(cfg.Appointments))
			r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
			r.Post("/consultations/{id}/payment", uploadPaymentProofHandler(cfg.Consultations))
		})

		// Admin endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))

			r.Get("/providers", adminListProvidersHandler(cfg.Providers, now))
			r.Post("/providers/{id}/verify", adminVerifyHandler(cfg.Providers, now))
			r.Post("/providers/{id}/reject", adminRejectHandler(cfg.Providers, now))
			r.Post("/providers/{id}/suspend", adminSuspendHandler(cfg.Providers, now))
			r.Post("/providers/{id}/subscription/cancel", adminCancelSubscriptionHandler(cfg.Subscriptions, now))
			r.Post("/providers/{id}/subscription/expire", adminExpireSubscriptionHandler(cfg.Subscriptions, now))
			r.Post("/providers/{id}/minutes", adminGrantMinutesHandler(cfg.Quota, now))
			r.Post("/providers/{id}/quota/reset", adminResetQuotaHandler(cfg.Quota, now))
			r.Put("/plans/{tier}", adminUpdatePlanHandler(cfg.Subscriptions))
			r.Post("/reconcile", adminReconcileHandler(cfg.Subscriptions))
		})
	})

	return r
}
