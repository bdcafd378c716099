package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/provider"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderFailed    OrderStatus = "FAILED"
)

type Plan struct {
	Tier           provider.Tier `json:"tier"`
	PricePaise     int64         `json:"price_paise"`
	PatientLimit   int           `json:"patient_limit"`
	MonthlyMinutes int           `json:"monthly_minutes"`
	Version        int           `json:"version"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Matches reports whether the provider's stored limits are exactly this plan's.
func (pl Plan) Matches(p *provider.Provider) bool {
	return pl.PatientLimit == p.PatientLimit && pl.MonthlyMinutes == p.MonthlyVideoMinutes
}

// Order is a subscription upgrade or renewal paid through the gateway.
type Order struct {
	ID               uuid.UUID
	ProviderID       uuid.UUID
	Tier             provider.Tier
	PricePaise       int64
	GatewayOrderID   string
	GatewayPaymentID *string
	Status           OrderStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type MinutePurchase struct {
	ID               uuid.UUID
	ProviderID       uuid.UUID
	Minutes          int
	PricePaise       int64
	GatewayOrderID   string
	GatewayPaymentID *string
	Status           OrderStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
