package payments

import (
	"encoding/json"
	"fmt"
	"strings"

	"ms-storefront/internal/models"
	"ms-storefront/internal/signature"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeClient wraps one configured stripe-go client. It is constructed
// once at process start and passed into the handlers; nothing touches the
// package-global stripe.Key.
type StripeClient struct {
	api           *client.API
	webhookSecret string
}

func NewStripeClient(secretKey, webhookSecret string) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{api: api, webhookSecret: webhookSecret}
}

// VerifyWebhook checks the stripe-signature header against the raw body.
func (c *StripeClient) VerifyWebhook(rawBody []byte, signatureHeader string) (stripe.Event, error) {
	return signature.VerifyStripe(rawBody, signatureHeader, c.webhookSecret)
}

// CreateCheckoutSession opens a hosted checkout for the cart. The
// provider-agnostic order ID and the serialized line items travel in the
// session metadata so the webhook can rebuild the order without any local
// state surviving the redirect.
func (c *StripeClient) CreateCheckoutSession(orderID, buyerEmail, buyerName, currency string, items []models.OrderItem, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	var lineItems []*stripe.CheckoutSessionLineItemParams
	for _, item := range items {
		name := item.EventName
		if item.TicketType != "" {
			name = fmt.Sprintf("%s (%s)", item.EventName, item.TicketType)
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(currency)),
				UnitAmount: stripe.Int64(int64(item.Price * 100)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize line items: %w", err)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:     lineItems,
		SuccessURL:    stripe.String(successURL),
		CancelURL:     stripe.String(cancelURL),
		CustomerEmail: stripe.String(buyerEmail),
	}
	params.AddMetadata("order_id", orderID)
	params.AddMetadata("buyer_name", buyerName)
	params.AddMetadata("items", string(itemsJSON))

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess, nil
}

// GetCheckoutSession retrieves a session for success-page verification.
func (c *StripeClient) GetCheckoutSession(sessionID string) (*stripe.CheckoutSession, error) {
	sess, err := c.api.CheckoutSessions.Get(sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session %s: %w", sessionID, err)
	}
	return sess, nil
}

// GetPaymentIntentWithCard retrieves a payment intent with its payment
// method expanded; that expansion is the only place the card fingerprint
// is available, which is why fraud detection runs after the charge.
func (c *StripeClient) GetPaymentIntentWithCard(paymentIntentID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.AddExpand("payment_method")

	intent, err := c.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment intent %s: %w", paymentIntentID, err)
	}
	return intent, nil
}

// RefundPaymentIntent refunds the full charge, flagged as fraudulent.
func (c *StripeClient) RefundPaymentIntent(paymentIntentID string) (*stripe.Refund, error) {
	refund, err := c.api.Refunds.New(&stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonFraudulent)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment intent %s: %w", paymentIntentID, err)
	}
	return refund, nil
}

// CardFromPaymentIntent extracts the fingerprint and card metadata from an
// expanded payment intent. ok is false when the payment method is not a
// card or was not expanded.
func CardFromPaymentIntent(intent *stripe.PaymentIntent) (fingerprint string, meta models.CardMeta, ok bool) {
	if intent == nil || intent.PaymentMethod == nil || intent.PaymentMethod.Card == nil {
		return "", models.CardMeta{}, false
	}
	card := intent.PaymentMethod.Card
	if card.Fingerprint == "" {
		return "", models.CardMeta{}, false
	}
	return card.Fingerprint, models.CardMeta{
		Last4:    card.Last4,
		Brand:    string(card.Brand),
		ExpMonth: card.ExpMonth,
		ExpYear:  card.ExpYear,
	}, true
}
