package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"ms-storefront/internal/kafka"
	"ms-storefront/internal/logger"
	"ms-storefront/internal/mailer"
	"ms-storefront/internal/models"
	"ms-storefront/internal/signature"
)

// CryptomusHandler processes payment status callbacks from Cryptomus.
// Signature verification is the authentication mechanism for this
// endpoint; everything after it is designed around at-least-once delivery.
type CryptomusHandler struct {
	VerificationKey string
	Accepted        map[string]bool

	Ledger Ledger
	Issuer Issuer
	Mail   MailQueue
	Dedupe Deduper
	Events EventPublisher
	Logger *logger.Logger
}

func NewCryptomusHandler(verificationKey string, acceptedStatuses []string, ledger Ledger, issuer Issuer, mail MailQueue, dedupe Deduper, events EventPublisher, log *logger.Logger) *CryptomusHandler {
	accepted := make(map[string]bool, len(acceptedStatuses))
	for _, s := range acceptedStatuses {
		accepted[s] = true
	}
	return &CryptomusHandler{
		VerificationKey: verificationKey,
		Accepted:        accepted,
		Ledger:          ledger,
		Issuer:          issuer,
		Mail:            mail,
		Dedupe:          dedupe,
		Events:          events,
		Logger:          log,
	}
}

func (h *CryptomusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !signature.VerifyCryptomus(body, r.Header.Get("sign"), h.VerificationKey) {
		h.Logger.Warn("WEBHOOK", "cryptomus signature verification failed")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload models.CryptomusWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.OrderID == "" {
		// Unrecoverable input: a non-2xx would only make Cryptomus
		// resend the same garbage, so acknowledge and page the
		// operator through the logs.
		h.Logger.Error("WEBHOOK", fmt.Sprintf("cryptomus payload malformed: %v", err))
		writeAck(w, http.StatusOK, models.WebhookAck{OK: false, Warning: "malformed payload"})
		return
	}

	if !h.Accepted[payload.PaymentStatus] {
		writeAck(w, http.StatusOK, models.WebhookAck{OK: true, Ignored: true})
		return
	}

	if payload.PaymentStatus != "paid" && payload.PaymentStatus != "paid_over" {
		// Accepted but non-final; nothing to fulfill.
		h.Logger.LogWebhook("cryptomus", payload.OrderID, "status "+payload.PaymentStatus+", no fulfillment")
		writeAck(w, http.StatusOK, models.WebhookAck{OK: true, Ignored: true, OrderID: payload.OrderID, Status: payload.PaymentStatus})
		return
	}

	ctx := r.Context()

	if h.Dedupe != nil && h.Dedupe.Seen(ctx, "cryptomus", payload.UUID) {
		h.Logger.LogWebhook("cryptomus", payload.OrderID, "duplicate delivery "+payload.UUID+", already processed")
		writeAck(w, http.StatusOK, models.WebhookAck{OK: true, OrderID: payload.OrderID, Status: string(models.PaymentPaid)})
		return
	}

	warning := ""
	var items []models.OrderItem
	buyerEmail, buyerName := "", ""
	if data, err := payload.DecodeAdditionalData(); err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("cryptomus order %s: %v", payload.OrderID, err))
		warning = "missing line items"
	} else {
		items = data.Items
		buyerEmail, buyerName = data.BuyerEmail, data.BuyerName
		if buyerEmail == "" && len(items) > 0 {
			buyerEmail, buyerName = items[0].BuyerEmail, items[0].BuyerName
		}
	}

	amount, _ := strconv.ParseFloat(payload.Amount, 64)

	order, err := h.Ledger.UpsertPaid(ctx, models.Order{
		OrderID:       payload.OrderID,
		BuyerEmail:    buyerEmail,
		BuyerName:     buyerName,
		PaymentMethod: models.MethodCrypto,
		TotalAmount:   amount,
		Currency:      payload.Currency,
		Items:         items,
		Metadata: map[string]string{
			"cryptomus_uuid": payload.UUID,
			"txid":           payload.Txid,
			"payer_currency": payload.PayerCurrency,
		},
	})
	if err != nil {
		// A lost order is not acknowledgeable; let Cryptomus retry
		// against our idempotent writes.
		h.Logger.Error("WEBHOOK", fmt.Sprintf("cryptomus order %s: %v", payload.OrderID, err))
		http.Error(w, "failed to record order", http.StatusInternalServerError)
		return
	}

	tickets, issuedNow, err := h.Issuer.IssueTickets(ctx, order)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("cryptomus order %s: ticket issuance failed: %v", payload.OrderID, err))
		http.Error(w, "failed to issue tickets", http.StatusInternalServerError)
		return
	}

	// Both writes landed; only now is the event safe to suppress on
	// redelivery.
	if h.Dedupe != nil {
		h.Dedupe.MarkProcessed(ctx, "cryptomus", payload.UUID)
	}

	if issuedNow {
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

func (h *CryptomusHandler) publishPaid(order *models.Order, ticketCount int) {
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
