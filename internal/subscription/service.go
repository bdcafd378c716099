package subscription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/eventlog"
	"github.com/hackgods/mediquory-connect/internal/notify"
	"github.com/hackgods/mediquory-connect/internal/payment"
	"github.com/hackgods/mediquory-connect/internal/provider"
)

const (
	EventOrderCreated          = "SUBSCRIPTION_ORDER_CREATED"
	EventSubscriptionUpgraded  = "SUBSCRIPTION_UPGRADED"
	EventPurchaseCreated       = "MINUTE_PURCHASE_CREATED"
	EventMinutesPurchased      = "MINUTES_PURCHASED"
	EventPaymentFailed         = "PAYMENT_FAILED"
	EventSubscriptionCancelled = "SUBSCRIPTION_CANCELLED"
	EventSubscriptionExpired   = "SUBSCRIPTION_EXPIRED"
	EventPlanUpdated           = "PLAN_UPDATED"
	EventTierReconciled        = "TIER_RECONCILED"
)

const maxMinutesPerPurchase = 10000

var (
	ErrNotUpgradeable = apperr.New(apperr.ErrValidation, "the trial plan cannot be purchased")
	ErrInvalidMinutes = apperr.New(apperr.ErrValidation, "minutes must be between 1 and 10000")
	ErrInvalidPlan    = apperr.New(apperr.ErrValidation, "plan price and limits must not be negative")
)

type Service struct {
	providers      provider.Reader
	repo           Repository
	gateway        payment.Gateway
	verifier       payment.Verifier
	notifier       *notify.Dispatcher
	events         *eventlog.Recorder
	pricePerMinute int64
	now            func() time.Time
}

type Deps struct {
	Providers           provider.Reader
	Repo                Repository
	Gateway             payment.Gateway
	Verifier            payment.Verifier
	Notifier            *notify.Dispatcher
	Events              *eventlog.Recorder
	PricePerMinutePaise int64
}

func NewService(d Deps) *Service {
	return &Service{
		providers:      d.Providers,
		repo:           d.Repo,
		gateway:        d.Gateway,
		verifier:       d.Verifier,
		notifier:       d.Notifier,
		events:         d.Events,
		pricePerMinute: d.PricePerMinutePaise,
		now:            time.Now,
	}
}

// TrialAllowance reads the TRIAL plan, which new providers start on.
func (s *Service) TrialAllowance(ctx context.Context) (provider.Allowance, error) {
	plan, err := s.repo.GetPlan(ctx, provider.TierTrial)
	if err != nil {
		return provider.Allowance{}, fmt.Errorf("load trial plan: %w", err)
	}
	return provider.Allowance{PatientLimit: plan.PatientLimit, MonthlyMinutes: plan.MonthlyMinutes}, nil
}

func (s *Service) Plans(ctx context.Context) ([]Plan, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (s *Service) loadVerified(ctx context.Context, providerID uuid.UUID) (*provider.Provider, error) {
	p, err := s.providers.GetProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if p.Status != provider.StatusVerified {
		return nil, ErrProviderNotVerified
	}
	return p, nil
}

// CreateUpgradeOrder opens a gateway order for a paid tier. The same call
// renews an ACTIVE subscription.
func (s *Service) CreateUpgradeOrder(ctx context.Context, providerID uuid.UUID, tier provider.Tier) (*Order, *payment.Order, error) {
	if tier == provider.TierTrial {
		return nil, nil, ErrNotUpgradeable
	}
	if _, err := s.loadVerified(ctx, providerID); err != nil {
		return nil, nil, err
	}

	plan, err := s.repo.GetPlan(ctx, tier)
	if err != nil {
		return nil, nil, fmt.Errorf("load plan: %w", err)
	}

	id := uuid.New()
	gwOrder, err := s.gateway.CreateOrder(ctx, plan.PricePaise, "sub_"+id.String()[:8], map[string]string{
		"provider_id": providerID.String(),
		"tier":        string(tier),
	})
	if err != nil {
		return nil, nil, err
	}

	order, err := s.repo.CreateOrder(ctx, &Order{
		ID:             id,
		ProviderID:     providerID,
		Tier:           tier,
		PricePaise:     plan.PricePaise,
		GatewayOrderID: gwOrder.ID,
		Status:         OrderPending,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create order: %w", err)
	}

	s.events.Record(ctx, order.ID, EventOrderCreated, map[string]any{
		"provider_id":      providerID.String(),
		"tier":             tier,
		"gateway_order_id": gwOrder.ID,
	})
	return order, gwOrder, nil
}

// ConfirmUpgrade applies a paid upgrade once its checkout signature verifies.
// Confirming an order that is already COMPLETED changes nothing.
func (s *Service) ConfirmUpgrade(ctx context.Context, providerID uuid.UUID, gatewayOrderID, paymentID, signature string) (*provider.Provider, error) {
	if err := s.verifier.VerifyPayment(gatewayOrderID, paymentID, signature); err != nil {
		log.Printf("upgrade signature rejected provider_id=%s order_id=%s", providerID, gatewayOrderID)
		return nil, err
	}

	order, err := s.repo.GetOrderByGatewayID(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.ProviderID != providerID {
		return nil, ErrOrderNotFound
	}

	return s.completeUpgrade(ctx, gatewayOrderID, paymentID)
}

func (s *Service) completeUpgrade(ctx context.Context, gatewayOrderID, paymentID string) (*provider.Provider, error) {
	p, applied, err := s.repo.CompleteUpgrade(ctx, gatewayOrderID, paymentID, s.now())
	if err != nil {
		return nil, fmt.Errorf("complete upgrade: %w", err)
	}
	if !applied {
		log.Printf("upgrade already applied order_id=%s (idempotent)", gatewayOrderID)
		return p, nil
	}

	s.events.Record(ctx, p.ID, EventSubscriptionUpgraded, map[string]any{
		"tier":             p.SubscriptionTier,
		"ends_at":          p.SubscriptionEndsAt,
		"gateway_order_id": gatewayOrderID,
	})
	s.notifier.Emit(ctx, notify.ProviderRoom(p.ID), EventSubscriptionUpgraded, map[string]any{
		"tier":    p.SubscriptionTier,
		"ends_at": p.SubscriptionEndsAt,
	})
	return p, nil
}

func (s *Service) CreateMinutePurchase(ctx context.Context, providerID uuid.UUID, minutes int) (*MinutePurchase, *payment.Order, error) {
	if minutes < 1 || minutes > maxMinutesPerPurchase {
		return nil, nil, ErrInvalidMinutes
	}
	if _, err := s.loadVerified(ctx, providerID); err != nil {
		return nil, nil, err
	}

	id := uuid.New()
	price := int64(minutes) * s.pricePerMinute
	gwOrder, err := s.gateway.CreateOrder(ctx, price, "min_"+id.String()[:8], map[string]string{
		"provider_id": providerID.String(),
		"minutes":     fmt.Sprint(minutes),
	})
	if err != nil {
		return nil, nil, err
	}

	mp, err := s.repo.CreatePurchase(ctx, &MinutePurchase{
		ID:             id,
		ProviderID:     providerID,
		Minutes:        minutes,
		PricePaise:     price,
		GatewayOrderID: gwOrder.ID,
		Status:         OrderPending,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create minute purchase: %w", err)
	}

	s.events.Record(ctx, mp.ID, EventPurchaseCreated, map[string]any{
		"provider_id":      providerID.String(),
		"minutes":          minutes,
		"gateway_order_id": gwOrder.ID,
	})
	return mp, gwOrder, nil
}

// ConfirmMinutePurchase credits purchased minutes once the checkout signature
// verifies. A tampered signature leaves the balance untouched.
func (s *Service) ConfirmMinutePurchase(ctx context.Context, providerID uuid.UUID, gatewayOrderID, paymentID, signature string) (*provider.Provider, error) {
	if err := s.verifier.VerifyPayment(gatewayOrderID, paymentID, signature); err != nil {
		log.Printf("minute purchase signature rejected provider_id=%s order_id=%s", providerID, gatewayOrderID)
		return nil, err
	}

	mp, err := s.repo.GetPurchaseByGatewayID(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("load minute purchase: %w", err)
	}
	if mp.ProviderID != providerID {
		return nil, ErrOrderNotFound
	}

	return s.completePurchase(ctx, gatewayOrderID, paymentID)
}

func (s *Service) completePurchase(ctx context.Context, gatewayOrderID, paymentID string) (*provider.Provider, error) {
	p, applied, err := s.repo.CompletePurchase(ctx, gatewayOrderID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("complete minute purchase: %w", err)
	}
	if !applied {
		log.Printf("minute purchase already applied order_id=%s (idempotent)", gatewayOrderID)
		return p, nil
	}

	s.events.Record(ctx, p.ID, EventMinutesPurchased, map[string]any{
		"gateway_order_id":  gatewayOrderID,
		"purchased_minutes": p.PurchasedMinutes,
	})
	s.notifier.Emit(ctx, notify.ProviderRoom(p.ID), EventMinutesPurchased, map[string]any{
		"purchased_minutes": p.PurchasedMinutes,
	})
	return p, nil
}

// HandleWebhook applies gateway-delivered payment outcomes. Orders this
// service does not know are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if err := s.verifier.VerifyWebhook(body, signature); err != nil {
		log.Printf("webhook signature rejected")
		return err
	}

	ev, err := payment.ParseWebhook(body)
	if err != nil {
		return err
	}
	if ev.OrderID == "" {
		log.Printf("webhook event=%s without order id ignored", ev.Event)
		return nil
	}

	switch ev.Event {
	case payment.WebhookPaymentCaptured, payment.WebhookOrderPaid:
		return s.applyCaptured(ctx, ev)
	case payment.WebhookPaymentFailed:
		failed, err := s.repo.FailPending(ctx, ev.OrderID)
		if err != nil {
			return fmt.Errorf("mark order failed: %w", err)
		}
		if failed {
			log.Printf("webhook marked order failed order_id=%s", ev.OrderID)
		}
		return nil
	}

	log.Printf("webhook event=%s ignored", ev.Event)
	return nil
}

func (s *Service) applyCaptured(ctx context.Context, ev payment.WebhookEvent) error {
	if _, err := s.repo.GetPurchaseByGatewayID(ctx, ev.OrderID); err == nil {
		_, err := s.completePurchase(ctx, ev.OrderID, ev.PaymentID)
		return err
	} else if !errors.Is(err, ErrOrderNotFound) {
		return fmt.Errorf("load minute purchase: %w", err)
	}

	if _, err := s.repo.GetOrderByGatewayID(ctx, ev.OrderID); err == nil {
		_, err := s.completeUpgrade(ctx, ev.OrderID, ev.PaymentID)
		return err
	} else if !errors.Is(err, ErrOrderNotFound) {
		return fmt.Errorf("load order: %w", err)
	}

	log.Printf("webhook for unknown order_id=%s ignored", ev.OrderID)
	return nil
}

// Cancel ends an ACTIVE subscription on administrative request.
func (s *Service) Cancel(ctx context.Context, providerID uuid.UUID) (*provider.Provider, error) {
	return s.setStatus(ctx, providerID, provider.SubscriptionCancelled, EventSubscriptionCancelled)
}

// Expire marks an ACTIVE subscription EXPIRED without waiting for its end date.
func (s *Service) Expire(ctx context.Context, providerID uuid.UUID) (*provider.Provider, error) {
	return s.setStatus(ctx, providerID, provider.SubscriptionExpired, EventSubscriptionExpired)
}

func (s *Service) setStatus(ctx context.Context, providerID uuid.UUID, to provider.SubscriptionStatus, event string) (*provider.Provider, error) {
	p, err := s.repo.SetSubscriptionStatus(ctx, providerID, []provider.SubscriptionStatus{provider.SubscriptionActive}, to)
	if err != nil {
		return nil, fmt.Errorf("set subscription status: %w", err)
	}
	s.events.Record(ctx, p.ID, event, map[string]any{"reason": "admin"})
	s.notifier.Emit(ctx, notify.ProviderRoom(p.ID), event, map[string]any{"subscription_status": p.SubscriptionStatus})
	return p, nil
}

// ExpireLapsed persists the EXPIRED status the gate already derives.
func (s *Service) ExpireLapsed(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireLapsed(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire lapsed subscriptions: %w", err)
	}
	return n, nil
}

type PlanInput struct {
	PricePaise     int64
	PatientLimit   int
	MonthlyMinutes int
}

// UpdatePlan changes a plan's price or limits. The version only moves when
// something actually changed.
func (s *Service) UpdatePlan(ctx context.Context, tier provider.Tier, in PlanInput) (*Plan, error) {
	if in.PricePaise < 0 || in.PatientLimit < 0 || in.MonthlyMinutes < 0 {
		return nil, ErrInvalidPlan
	}

	current, err := s.repo.GetPlan(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if current.PricePaise == in.PricePaise && current.PatientLimit == in.PatientLimit && current.MonthlyMinutes == in.MonthlyMinutes {
		return current, nil
	}

	next := *current
	next.PricePaise = in.PricePaise
	next.PatientLimit = in.PatientLimit
	next.MonthlyMinutes = in.MonthlyMinutes

	updated, err := s.repo.UpdatePlan(ctx, &next, current.Version)
	if err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}

	log.Printf("plan updated tier=%s version=%d", updated.Tier, updated.Version)
	return updated, nil
}
