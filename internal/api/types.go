package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/consultation"
	"github.com/hackgods/mediquory-connect/internal/payment"
	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/subscription"
)

type RegisterProviderRequest struct {
	Name               string `json:"name" validate:"required"`
	Email              string `json:"email" validate:"required,email"`
	Password           string `json:"password" validate:"required,min=8"`
	Specialization     string `json:"specialization"`
	RegistrationNumber string `json:"registration_number"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RequesterSessionRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

type SessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
	SubjectID uuid.UUID `json:"subject_id"`
}

type CreateRequesterRequest struct {
	Name  string  `json:"name" validate:"required"`
	Email *string `json:"email" validate:"omitempty,email"`
	Phone *string `json:"phone"`
}

type RequesterStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE WAITLISTED"`
}

type RequestAppointmentRequest struct {
	RequestedDate  string `json:"requested_date" validate:"required"`
	TimePreference string `json:"time_preference"`
	Reason         string `json:"reason" validate:"required"`
}

type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

type ProposeRequest struct {
	ProposedAt time.Time `json:"proposed_at" validate:"required"`
	Note       string    `json:"note"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type StartConsultationRequest struct {
	RequesterID string `json:"requester_id" validate:"required,uuid"`
	Kind        string `json:"kind" validate:"required,oneof=CHAT VIDEO"`
}

type PostMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

type PrescriptionRequest struct {
	Diagnosis    string                    `json:"diagnosis" validate:"required"`
	Medications  []consultation.Medication `json:"medications" validate:"dive"`
	Instructions string                    `json:"instructions"`
}

type UpgradeOrderRequest struct {
	Tier string `json:"tier" validate:"required,oneof=BASIC PROFESSIONAL ENTERPRISE"`
}

type MinuteOrderRequest struct {
	Minutes int `json:"minutes" validate:"required,min=1,max=10000"`
}

type ConfirmOrderRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// GrantMinutesRequest credits a provider's purchased or monthly balance.
type GrantMinutesRequest struct {
	Bucket string `json:"bucket" validate:"required,oneof=purchased monthly"`
	Delta  int    `json:"delta" validate:"min=1,max=100000"`
}

type VerifyVideoTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type VideoTokenClaimsResponse struct {
	Room   string    `json:"room"`
	Role   string    `json:"role"`
	UserID uuid.UUID `json:"user_id"`
}

type PlanRequest struct {
	PricePaise     int64 `json:"price_paise" validate:"min=0"`
	PatientLimit   int   `json:"patient_limit"`
	MonthlyMinutes int   `json:"monthly_minutes" validate:"min=0"`
}

type ProviderResponse struct {
	ID                  uuid.UUID                   `json:"id"`
	Name                string                      `json:"name"`
	Email               string                      `json:"email"`
	Specialization      string                      `json:"specialization,omitempty"`
	RegistrationNumber  string                      `json:"registration_number,omitempty"`
	KYCDocuments        int                         `json:"kyc_documents"`
	Status              provider.Status             `json:"status"`
	RejectionReason     *string                     `json:"rejection_reason,omitempty"`
	SubscriptionTier    provider.Tier               `json:"subscription_tier"`
	SubscriptionStatus  provider.SubscriptionStatus `json:"subscription_status"`
	TrialEndsAt         *time.Time                  `json:"trial_ends_at,omitempty"`
	SubscriptionEndsAt  *time.Time                  `json:"subscription_ends_at,omitempty"`
	MonthlyVideoMinutes int                         `json:"monthly_video_minutes"`
	PurchasedMinutes    int                         `json:"purchased_minutes"`
	TotalMinutesUsed    int                         `json:"total_minutes_used"`
	PatientCount        int                         `json:"patient_count"`
	PatientLimit        int                         `json:"patient_limit"`
	CreatedAt           time.Time                   `json:"created_at"`
}

// toProviderResponse reports the derived subscription status, never the
// stored one.
func toProviderResponse(p *provider.Provider, now time.Time) ProviderResponse {
	return ProviderResponse{
		ID:                  p.ID,
		Name:                p.Name,
		Email:               p.Email,
		Specialization:      p.Specialization,
		RegistrationNumber:  p.RegistrationNumber,
		KYCDocuments:        len(p.KYCDocuments),
		Status:              p.Status,
		RejectionReason:     p.RejectionReason,
		SubscriptionTier:    p.SubscriptionTier,
		SubscriptionStatus:  p.EffectiveSubscription(now),
		TrialEndsAt:         p.TrialEndsAt,
		SubscriptionEndsAt:  p.SubscriptionEndsAt,
		MonthlyVideoMinutes: p.MonthlyVideoMinutes,
		PurchasedMinutes:    p.PurchasedMinutes,
		TotalMinutesUsed:    p.TotalMinutesUsed,
		PatientCount:        p.PatientCount,
		PatientLimit:        p.PatientLimit,
		CreatedAt:           p.CreatedAt,
	}
}

type RequesterResponse struct {
	ID          uuid.UUID                `json:"id"`
	ProviderID  uuid.UUID                `json:"provider_id"`
	Name        string                   `json:"name"`
	Email       *string                  `json:"email,omitempty"`
	Phone       *string                  `json:"phone,omitempty"`
	Status      provider.RequesterStatus `json:"status"`
	AccessToken string                   `json:"access_token,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
}

// toRequesterResponse hides the access token unless withToken is set. The
// token is handed out once, when the provider creates the requester.
func toRequesterResponse(r *provider.Requester, withToken bool) RequesterResponse {
	resp := RequesterResponse{
		ID:         r.ID,
		ProviderID: r.ProviderID,
		Name:       r.Name,
		Email:      r.Email,
		Phone:      r.Phone,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
	}
	if withToken {
		resp.AccessToken = r.AccessToken
	}
	return resp
}

type OrderResponse struct {
	ID         uuid.UUID                `json:"id"`
	Tier       provider.Tier            `json:"tier,omitempty"`
	Minutes    int                      `json:"minutes,omitempty"`
	PricePaise int64                    `json:"price_paise"`
	Status     subscription.OrderStatus `json:"status"`
	Checkout   *payment.Order           `json:"checkout"`
}

type ConsultationResponse struct {
	*consultation.Consultation
	Created bool `json:"created"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
