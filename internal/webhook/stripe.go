package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"ms-storefront/internal/kafka"
	"ms-storefront/internal/logger"
	"ms-storefront/internal/mailer"
	"ms-storefront/internal/models"
	"ms-storefront/internal/payments"

	"github.com/stripe/stripe-go/v82"
)

type StripeGateway interface {
	VerifyWebhook(rawBody []byte, signatureHeader string) (stripe.Event, error)
	GetPaymentIntentWithCard(paymentIntentID string) (*stripe.PaymentIntent, error)
	RefundPaymentIntent(paymentIntentID string) (*stripe.Refund, error)
}

type FraudGuard interface {
	Evaluate(ctx context.Context, fingerprint, presentedEmail string, meta models.CardMeta) (models.FraudCheckResult, error)
}

// StripeHandler processes checkout.session.completed events. Fulfillment
// is issue-then-maybe-unwind: the card fingerprint only exists on the
// completed payment intent, so the fraud check necessarily runs after
// tickets were tentatively issued.
type StripeHandler struct {
	Gateway StripeGateway
	Ledger  Ledger
	Issuer  Issuer
	Guard   FraudGuard
	Mail    MailQueue
	Dedupe  Deduper
	Events  EventPublisher
	Logger  *logger.Logger
}

func (h *StripeHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := h.Gateway.VerifyWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.Logger.Warn("WEBHOOK", fmt.Sprintf("stripe signature verification failed: %v", err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		writeAck(w, http.StatusOK, models.WebhookAck{OK: true, Ignored: true})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("stripe event %s: malformed session payload: %v", event.ID, err))
		writeAck(w, http.StatusOK, models.WebhookAck{OK: false, Warning: "malformed payload"})
		return
	}

	orderID := session.Metadata["order_id"]
	if orderID == "" {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("stripe session %s has no order_id metadata", session.ID))
		writeAck(w, http.StatusOK, models.WebhookAck{OK: false, Warning: "missing order_id metadata"})
		return
	}

	ctx := r.Context()

	if h.Dedupe != nil && h.Dedupe.Seen(ctx, "stripe", event.ID) {
		h.Logger.LogWebhook("stripe", orderID, "duplicate delivery "+event.ID+", already processed")
		writeAck(w, http.StatusOK, models.WebhookAck{OK: true, OrderID: orderID, Status: string(models.PaymentPaid)})
		return
	}

	warning := ""
	var items []models.OrderItem
	if raw := session.Metadata["items"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			h.Logger.Error("WEBHOOK", fmt.Sprintf("stripe order %s: bad items metadata: %v", orderID, err))
			warning = "missing line items"
		}
	} else {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("stripe order %s has no items metadata", orderID))
		warning = "missing line items"
	}

	buyerEmail := ""
	if session.CustomerDetails != nil {
		buyerEmail = session.CustomerDetails.Email
	}
	if buyerEmail == "" {
		buyerEmail = session.CustomerEmail
	}

	paymentIntentID := ""
	if session.PaymentIntent != nil {
		paymentIntentID = session.PaymentIntent.ID
	}

	// A completed checkout is recorded as paid regardless of the
	// payment_status field the session itself carries.
	order, err := h.Ledger.UpsertPaid(ctx, models.Order{
		OrderID:           orderID,
		BuyerEmail:        buyerEmail,
		BuyerName:         session.Metadata["buyer_name"],
		PaymentMethod:     models.MethodStripe,
		TotalAmount:       float64(session.AmountTotal) / 100,
		Currency:          string(session.Currency),
		Items:             items,
		ProviderSessionID: session.ID,
		PaymentIntentID:   paymentIntentID,
	})
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("stripe order %s: %v", orderID, err))
		http.Error(w, "failed to record order", http.StatusInternalServerError)
		return
	}

	tickets, issuedNow, err := h.Issuer.IssueTickets(ctx, order)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("stripe order %s: ticket issuance failed: %v", orderID, err))
		http.Error(w, "failed to issue tickets", http.StatusInternalServerError)
		return
	}

	// Both writes landed; only now is the event safe to suppress on
	// redelivery.
	if h.Dedupe != nil {
		h.Dedupe.MarkProcessed(ctx, "stripe", event.ID)
	}

	if issuedNow {
		if fraud := h.checkFingerprint(ctx, order); fraud {
			writeAck(w, http.StatusOK, models.WebhookAck{
				OK:      true,
				Fraud:   true,
				OrderID: order.OrderID,
				Status:  string(models.PaymentFraudDetected),
			})
			return
		}

		h.Mail.Enqueue(mailer.BuildReceipt(order, tickets))
		h.publishPaid(order, len(tickets))
	}

	writeAck(w, http.StatusOK, models.WebhookAck{
		OK:      true,
		Warning: warning,
		OrderID: order.OrderID,
		Status:  string(order.PaymentStatus),
		Tickets: len(tickets),
	})
}

// checkFingerprint runs the card-reuse heuristic and unwinds the order
// when it trips: refund, flag, cancel tickets, no receipt. Returns true
// when fraud was detected.
func (h *StripeHandler) checkFingerprint(ctx context.Context, order *models.Order) bool {
	if h.Guard == nil || order.PaymentIntentID == "" {
		return false
	}

	intent, err := h.Gateway.GetPaymentIntentWithCard(order.PaymentIntentID)
	if err != nil {
		h.Logger.Error("FRAUD", fmt.Sprintf("order %s: failed to load payment intent: %v", order.OrderID, err))
		return false
	}

	fingerprint, meta, ok := payments.CardFromPaymentIntent(intent)
	if !ok {
		return false
	}
	meta.BuyerName = order.BuyerName

	result, err := h.Guard.Evaluate(ctx, fingerprint, order.BuyerEmail, meta)
	if err != nil {
		h.Logger.Error("FRAUD", fmt.Sprintf("order %s: fingerprint evaluation failed: %v", order.OrderID, err))
		return false
	}
	if result.Allowed {
		// Manual-review sightings keep the fulfillment intact but still
		// reach the operator stream.
		if result.AlertType == models.AlertWarning {
			h.publishAlert(order, result)
		}
		return false
	}

	h.Logger.LogFraud(fingerprint, fmt.Sprintf("order %s blocked: %s", order.OrderID, result.Reason))

	if _, err := h.Gateway.RefundPaymentIntent(order.PaymentIntentID); err != nil {
		h.Logger.Error("FRAUD", fmt.Sprintf("order %s: refund failed: %v", order.OrderID, err))
	}
	if err := h.Ledger.MarkFraudDetected(ctx, order.OrderID); err != nil {
		h.Logger.Error("FRAUD", fmt.Sprintf("order %s: %v", order.OrderID, err))
	}
	if _, err := h.Issuer.CancelOrderTickets(ctx, order.OrderID, "card fingerprint reuse detected"); err != nil {
		h.Logger.Error("FRAUD", fmt.Sprintf("order %s: %v", order.OrderID, err))
	}

	h.publishAlert(order, result)

	return true
}

func (h *StripeHandler) publishAlert(order *models.Order, result models.FraudCheckResult) {
	if h.Events == nil {
		return
	}
	value, err := json.Marshal(map[string]interface{}{
		"order_id":    order.OrderID,
		"reason":      result.Reason,
		"alert_type":  result.AlertType,
		"owner_hint":  result.OriginalOwner,
		"first_used":  result.FirstUsedAt,
		"buyer_email": order.BuyerEmail,
	})
	if err != nil {
		return
	}
	if err := h.Events.Publish(kafka.TopicFraudDetected, order.OrderID, value); err != nil {
		h.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish fraud.detected for %s: %v", order.OrderID, err))
	}
}

func (h *StripeHandler) publishPaid(order *models.Order, ticketCount int) {
	if h.Events == nil {
		return
	}
	value, err := json.Marshal(map[string]interface{}{
		"order_id": order.OrderID,
		"method":   order.PaymentMethod,
		"amount":   order.TotalAmount,
		"currency": order.Currency,
		"tickets":  ticketCount,
	})
	if err != nil {
		return
	}
	if err := h.Events.Publish(kafka.TopicOrderPaid, order.OrderID, value); err != nil {
		h.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish order.paid for %s: %v", order.OrderID, err))
	}
}
