package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/provider"
)

var (
	ErrPlanNotFound      = apperr.New(apperr.ErrNotFound, "subscription plan not found")
	ErrPlanChanged       = apperr.New(apperr.ErrConflict, "plan was modified concurrently")
	ErrOrderNotFound     = apperr.New(apperr.ErrNotFound, "order not found")
	ErrInvalidTransition = apperr.New(apperr.ErrConflict, "subscription status does not allow this action")
)

type Repository interface {
	GetPlan(ctx context.Context, tier provider.Tier) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	// UpdatePlan writes plan and bumps its version if the stored version is
	// still expectedVersion.
	UpdatePlan(ctx context.Context, plan *Plan, expectedVersion int) (*Plan, error)

	CreateOrder(ctx context.Context, o *Order) (*Order, error)
	GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*Order, error)
	// CompleteUpgrade marks the order COMPLETED and applies its plan to the
	// provider in one transaction. applied is false when the order was
	// already COMPLETED.
	CompleteUpgrade(ctx context.Context, gatewayOrderID, paymentID string, now time.Time) (p *provider.Provider, applied bool, err error)

	CreatePurchase(ctx context.Context, mp *MinutePurchase) (*MinutePurchase, error)
	GetPurchaseByGatewayID(ctx context.Context, gatewayOrderID string) (*MinutePurchase, error)
	// CompletePurchase marks the purchase COMPLETED and credits purchased
	// minutes in one transaction. applied is false when already COMPLETED.
	CompletePurchase(ctx context.Context, gatewayOrderID, paymentID string) (p *provider.Provider, applied bool, err error)

	// FailPending marks a PENDING order or purchase FAILED.
	FailPending(ctx context.Context, gatewayOrderID string) (bool, error)

	SetSubscriptionStatus(ctx context.Context, providerID uuid.UUID, from []provider.SubscriptionStatus, to provider.SubscriptionStatus) (*provider.Provider, error)
	// ExpireLapsed persists EXPIRED for TRIAL and ACTIVE rows whose window
	// ended before now.
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)

	ListProviders(ctx context.Context) ([]provider.Provider, error)
	SetTier(ctx context.Context, providerID uuid.UUID, tier provider.Tier) error
}
