package payment

import (
	"encoding/json"
	"fmt"

	"github.com/razorpay/razorpay-go/utils"

	"github.com/hackgods/mediquory-connect/internal/apperr"
)

var (
	ErrSignatureMismatch = apperr.New(apperr.ErrGateway, "payment signature verification failed")
	ErrMalformedWebhook  = apperr.New(apperr.ErrValidation, "malformed webhook payload")
)

// Verifier checks checkout and webhook signatures with the shared secrets.
type Verifier struct {
	keySecret     string
	webhookSecret string
}

func NewVerifier(keySecret, webhookSecret string) Verifier {
	return Verifier{keySecret: keySecret, webhookSecret: webhookSecret}
}

// VerifyPayment checks the checkout signature over orderID|paymentID.
func (v Verifier) VerifyPayment(orderID, paymentID, signature string) error {
	if v.keySecret == "" || signature == "" {
		return ErrSignatureMismatch
	}
	params := map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}
	if !utils.VerifyPaymentSignature(params, signature, v.keySecret) {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyWebhook checks the X-Razorpay-Signature value against the raw body.
func (v Verifier) VerifyWebhook(body []byte, signature string) error {
	if v.webhookSecret == "" || signature == "" {
		return ErrSignatureMismatch
	}
	if !utils.VerifyWebhookSignature(string(body), signature, v.webhookSecret) {
		return ErrSignatureMismatch
	}
	return nil
}

const (
	WebhookPaymentCaptured = "payment.captured"
	WebhookPaymentFailed   = "payment.failed"
	WebhookOrderPaid       = "order.paid"
)

// WebhookEvent is the subset of a gateway webhook the service acts on.
type WebhookEvent struct {
	Event     string
	OrderID   string
	PaymentID string
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func ParseWebhook(body []byte) (WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	ev := WebhookEvent{
		Event:     env.Event,
		OrderID:   env.Payload.Payment.Entity.OrderID,
		PaymentID: env.Payload.Payment.Entity.ID,
	}
	if ev.OrderID == "" {
		ev.OrderID = env.Payload.Order.Entity.ID
	}
	if ev.Event == "" {
		return WebhookEvent{}, ErrMalformedWebhook
	}
	return ev, nil
}
