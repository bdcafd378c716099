// Package payment talks to the Razorpay gateway: order creation and the
// signature checks that gate every confirmation.
package payment

import (
	"context"
	"fmt"

	"github.com/razorpay/razorpay-go"

	"github.com/hackgods/mediquory-connect/internal/apperr"
)

var ErrGatewayUnavailable = apperr.New(apperr.ErrGateway, "payment gateway request failed")

// Order is the gateway's view of an order the client pays against.
type Order struct {
	ID          string `json:"order_id"`
	AmountPaise int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"key_id"`
}

type Gateway interface {
	CreateOrder(ctx context.Context, amountPaise int64, receipt string, notes map[string]string) (*Order, error)
}

type Razorpay struct {
	client *razorpay.Client
	keyID  string
}

func NewRazorpay(keyID, keySecret string) *Razorpay {
	return &Razorpay{
		client: razorpay.NewClient(keyID, keySecret),
		keyID:  keyID,
	}
}

func (r *Razorpay) CreateOrder(ctx context.Context, amountPaise int64, receipt string, notes map[string]string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	noteMap := make(map[string]interface{}, len(notes))
	for k, v := range notes {
		noteMap[k] = v
	}

	data := map[string]interface{}{
		"amount":   amountPaise,
		"currency": "INR",
		"receipt":  receipt,
		"notes":    noteMap,
	}

	body, err := r.client.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	id, ok := body["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: order response without id", ErrGatewayUnavailable)
	}

	return &Order{ID: id, AmountPaise: amountPaise, Currency: "INR", KeyID: r.keyID}, nil
}
