package provider

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingVerification Status = "PENDING_VERIFICATION"
	StatusVerified            Status = "VERIFIED"
	StatusRejected            Status = "REJECTED"
	StatusSuspended           Status = "SUSPENDED"
)

type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "TRIAL"
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

type Tier string

const (
	TierTrial        Tier = "TRIAL"
	TierBasic        Tier = "BASIC"
	TierProfessional Tier = "PROFESSIONAL"
	TierEnterprise   Tier = "ENTERPRISE"
)

type RequesterStatus string

const (
	RequesterActive     RequesterStatus = "ACTIVE"
	RequesterWaitlisted RequesterStatus = "WAITLISTED"
)

type Provider struct {
	ID                     uuid.UUID
	Name                   string
	Email                  string
	PasswordHash           string
	Specialization         string
	RegistrationNumber     string
	KYCDocuments           []string
	Status                 Status
	RejectionReason        *string
	SubscriptionTier       Tier
	SubscriptionStatus     SubscriptionStatus
	TrialEndsAt            *time.Time
	SubscriptionEndsAt     *time.Time
	MonthlyVideoMinutes    int
	PurchasedMinutes       int
	TotalMinutesUsed       int
	LastResetDate          time.Time
	PatientCount           int
	PatientLimit           int
	LastPrescriptionSerial int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AccessEndsAt is the end of the window the stored subscription status grants.
// It is nil for statuses that grant nothing.
func (p *Provider) AccessEndsAt() *time.Time {
	switch p.SubscriptionStatus {
	case SubscriptionTrial:
		return p.TrialEndsAt
	case SubscriptionActive:
		return p.SubscriptionEndsAt
	}
	return nil
}

// EffectiveSubscription derives EXPIRED from a TRIAL or ACTIVE row whose
// window has passed. The stored status is never rewritten here.
func (p *Provider) EffectiveSubscription(now time.Time) SubscriptionStatus {
	switch p.SubscriptionStatus {
	case SubscriptionTrial, SubscriptionActive:
		end := p.AccessEndsAt()
		if end == nil || now.After(*end) {
			return SubscriptionExpired
		}
	}
	return p.SubscriptionStatus
}

// HasPatientCapacity reports whether one more requester fits the plan.
// A limit of zero or less means unlimited.
func (p *Provider) HasPatientCapacity() bool {
	return p.PatientLimit <= 0 || p.PatientCount < p.PatientLimit
}

type Requester struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	Name        string
	Email       *string
	Phone       *string
	Status      RequesterStatus
	AccessToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
