package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-storefront/internal/logger"
	"ms-storefront/internal/models"
	"ms-storefront/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) VerifyWebhook(rawBody []byte, signatureHeader string) (stripe.Event, error) {
	args := m.Called(rawBody, signatureHeader)
	return args.Get(0).(stripe.Event), args.Error(1)
}

func (m *MockGateway) GetPaymentIntentWithCard(paymentIntentID string) (*stripe.PaymentIntent, error) {
	args := m.Called(paymentIntentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.PaymentIntent), args.Error(1)
}

func (m *MockGateway) RefundPaymentIntent(paymentIntentID string) (*stripe.Refund, error) {
	args := m.Called(paymentIntentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Refund), args.Error(1)
}

type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) Evaluate(ctx context.Context, fingerprint, presentedEmail string, meta models.CardMeta) (models.FraudCheckResult, error) {
	args := m.Called(fingerprint, presentedEmail, meta)
	return args.Get(0).(models.FraudCheckResult), args.Error(1)
}

func stripeSessionEvent(t *testing.T, items []models.OrderItem) stripe.Event {
	t.Helper()
	itemsJSON, err := json.Marshal(items)
	require.NoError(t, err)

	session := map[string]interface{}{
		"id": "cs_test_1",
		"metadata": map[string]string{
			"order_id":   "order_1",
			"buyer_name": "Alice",
			"items":      string(itemsJSON),
		},
		"customer_details": map[string]interface{}{
			"email": "alice@example.com",
		},
		"amount_total":   6500,
		"currency":       "usd",
		"payment_intent": map[string]interface{}{"id": "pi_1"},
	}
	raw, err := json.Marshal(session)
	require.NoError(t, err)

	return stripe.Event{
		ID:   "evt_stripe_1",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func cardIntent(fingerprint string) *stripe.PaymentIntent {
	return &stripe.PaymentIntent{
		ID: "pi_1",
		PaymentMethod: &stripe.PaymentMethod{
			ID: "pm_1",
			Card: &stripe.PaymentMethodCard{
				Fingerprint: fingerprint,
				Last4:       "4242",
				Brand:       stripe.PaymentMethodCardBrandVisa,
				ExpMonth:    12,
				ExpYear:     2028,
			},
		},
	}
}

type stripeHandlerFixture struct {
	handler *webhook.StripeHandler
	gateway *MockGateway
	ledger  *MockLedger
	issuer  *MockIssuer
	guard   *MockGuard
	mail    *MockMailQueue
	events  *MockEvents
}

func newStripeFixture() *stripeHandlerFixture {
	f := &stripeHandlerFixture{
		gateway: new(MockGateway),
		ledger:  new(MockLedger),
		issuer:  new(MockIssuer),
		guard:   new(MockGuard),
		mail:    new(MockMailQueue),
		events:  new(MockEvents),
	}
	f.handler = &webhook.StripeHandler{
		Gateway: f.gateway,
		Ledger:  f.ledger,
		Issuer:  f.issuer,
		Guard:   f.guard,
		Mail:    f.mail,
		Events:  f.events,
		Logger:  &logger.Logger{},
	}
	return f
}

func postStripe(handler *webhook.StripeHandler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	return rec
}

func TestStripeCompletedSessionIssuesTickets(t *testing.T) {
	f := newStripeFixture()

	items := []models.OrderItem{{EventID: "ev_1", EventName: "Summer Fest", Price: 32.50, Quantity: 2}}
	paidOrder := &models.Order{
		OrderID:         "order_1",
		BuyerEmail:      "alice@example.com",
		PaymentStatus:   models.PaymentPaid,
		PaymentIntentID: "pi_1",
		TotalAmount:     65,
		Currency:        "usd",
		Items:           items,
		CompletedAt:     time.Now(),
	}
	issued := []models.Ticket{{ID: "tkt_1"}, {ID: "tkt_2"}}

	f.gateway.On("VerifyWebhook", mock.Anything, mock.Anything).Return(stripeSessionEvent(t, items), nil)
	f.ledger.On("UpsertPaid", mock.MatchedBy(func(o models.Order) bool {
		return o.OrderID == "order_1" && o.BuyerEmail == "alice@example.com" &&
			o.PaymentMethod == models.MethodStripe && o.TotalAmount == 65 &&
			o.ProviderSessionID == "cs_test_1" && o.PaymentIntentID == "pi_1"
	})).Return(paidOrder, nil)
	f.issuer.On("IssueTickets", paidOrder).Return(issued, true, nil)
	f.gateway.On("GetPaymentIntentWithCard", "pi_1").Return(cardIntent("fp_abc"), nil)
	f.guard.On("Evaluate", "fp_abc", "alice@example.com", mock.Anything).
		Return(models.FraudCheckResult{Allowed: true, IsNew: true}, nil)
	f.mail.On("Enqueue", mock.Anything).Return()
	f.events.On("Publish", "storefront.order.paid", "order_1", mock.Anything).Return(nil)

	rec := postStripe(f.handler)

	assert.Equal(t, http.StatusOK, rec.Code)
	var ack models.WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.True(t, ack.OK)
	assert.False(t, ack.Fraud)
	assert.Equal(t, 2, ack.Tickets)

	f.gateway.AssertNotCalled(t, "RefundPaymentIntent", mock.Anything)
	f.mail.AssertExpectations(t)
}

func TestStripeFraudulentCardUnwindsOrder(t *testing.T) {
	f := newStripeFixture()

	items := []models.OrderItem{{EventID: "ev_1", Price: 65, Quantity: 1}}
	paidOrder := &models.Order{
		OrderID:         "order_1",
		BuyerEmail:      "alice@example.com",
		PaymentStatus:   models.PaymentPaid,
		PaymentIntentID: "pi_1",
		Items:           items,
	}
	issued := []models.Ticket{{ID: "tkt_1"}}

	f.gateway.On("VerifyWebhook", mock.Anything, mock.Anything).Return(stripeSessionEvent(t, items), nil)
	f.ledger.On("UpsertPaid", mock.Anything).Return(paidOrder, nil)
	f.issuer.On("IssueTickets", paidOrder).Return(issued, true, nil)
	f.gateway.On("GetPaymentIntentWithCard", "pi_1").Return(cardIntent("fp_abc"), nil)
	f.guard.On("Evaluate", "fp_abc", "alice@example.com", mock.Anything).Return(models.FraudCheckResult{
		Allowed:       false,
		Fraud:         true,
		Reason:        "card fingerprint already bound to mal***@example.com since 2026-01-02",
		AlertType:     models.AlertBlocked,
		OriginalOwner: "mal***@example.com",
	}, nil)
	f.gateway.On("RefundPaymentIntent", "pi_1").Return(&stripe.Refund{ID: "re_1"}, nil)
	f.ledger.On("MarkFraudDetected", "order_1").Return(nil)
	f.issuer.On("CancelOrderTickets", "order_1", mock.Anything).Return(int64(1), nil)
	f.events.On("Publish", "storefront.fraud.detected", "order_1", mock.Anything).Return(nil)

	rec := postStripe(f.handler)

	assert.Equal(t, http.StatusOK, rec.Code)
	var ack models.WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.True(t, ack.OK)
	assert.True(t, ack.Fraud)
	assert.Equal(t, string(models.PaymentFraudDetected), ack.Status)

	// The buyer must not receive a receipt for an unwound order.
	f.mail.AssertNotCalled(t, "Enqueue", mock.Anything)
	f.events.AssertNotCalled(t, "Publish", "storefront.order.paid", mock.Anything, mock.Anything)
	f.gateway.AssertExpectations(t)
	f.ledger.AssertExpectations(t)
	f.issuer.AssertExpectations(t)
}

func TestStripeRedeliverySkipsFraudRecheckAndReceipt(t *testing.T) {
	f := newStripeFixture()

	items := []models.OrderItem{{EventID: "ev_1", Price: 65, Quantity: 1}}
	paidOrder := &models.Order{OrderID: "order_1", PaymentStatus: models.PaymentPaid, PaymentIntentID: "pi_1", Items: items}
	existing := []models.Ticket{{ID: "tkt_1"}}

	f.gateway.On("VerifyWebhook", mock.Anything, mock.Anything).Return(stripeSessionEvent(t, items), nil)
	f.ledger.On("UpsertPaid", mock.Anything).Return(paidOrder, nil)
	f.issuer.On("IssueTickets", paidOrder).Return(existing, false, nil)

	rec := postStripe(f.handler)

	assert.Equal(t, http.StatusOK, rec.Code)
	f.guard.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything)
	f.mail.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestStripeBadSignature(t *testing.T) {
	f := newStripeFixture()

	f.gateway.On("VerifyWebhook", mock.Anything, mock.Anything).
		Return(stripe.Event{}, errors.New("signature mismatch"))

	rec := postStripe(f.handler)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.ledger.AssertNotCalled(t, "UpsertPaid", mock.Anything)
}

func TestStripeIgnoresOtherEventTypes(t *testing.T) {
	f := newStripeFixture()

	f.gateway.On("VerifyWebhook", mock.Anything, mock.Anything).Return(stripe.Event{
		ID:   "evt_2",
		Type: stripe.EventTypePaymentIntentCreated,
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}, nil)

	rec := postStripe(f.handler)

	assert.Equal(t, http.StatusOK, rec.Code)
	var ack models.WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.True(t, ack.OK)
	assert.True(t, ack.Ignored)
	f.ledger.AssertNotCalled(t, "UpsertPaid", mock.Anything)
}

func TestStripeMissingOrderIDMetadata(t *testing.T) {
	f := newStripeFixture()

	raw, _ := json.Marshal(map[string]interface{}{"id": "cs_test_1"})
	f.gateway.On("VerifyWebhook", mock.Anything, mock.Anything).Return(stripe.Event{
		ID:   "evt_3",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}, nil)

	rec := postStripe(f.handler)

	assert.Equal(t, http.StatusOK, rec.Code)
	var ack models.WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.False(t, ack.OK)
	assert.NotEmpty(t, ack.Warning)
}

func TestStripeFingerprintLookupFailureDoesNotBlockFulfillment(t *testing.T) {
	f := newStripeFixture()

	items := []models.OrderItem{{EventID: "ev_1", Price: 65, Quantity: 1}}
	paidOrder := &models.Order{OrderID: "order_1", PaymentStatus: models.PaymentPaid, PaymentIntentID: "pi_1", Items: items}
	issued := []models.Ticket{{ID: "tkt_1"}}

	f.gateway.On("VerifyWebhook", mock.Anything, mock.Anything).Return(stripeSessionEvent(t, items), nil)
	f.ledger.On("UpsertPaid", mock.Anything).Return(paidOrder, nil)
	f.issuer.On("IssueTickets", paidOrder).Return(issued, true, nil)
	f.gateway.On("GetPaymentIntentWithCard", "pi_1").Return(nil, errors.New("stripe unavailable"))
	f.mail.On("Enqueue", mock.Anything).Return()
	f.events.On("Publish", "storefront.order.paid", "order_1", mock.Anything).Return(nil)

	rec := postStripe(f.handler)

	assert.Equal(t, http.StatusOK, rec.Code)
	var ack models.WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.True(t, ack.OK)
	assert.False(t, ack.Fraud)
	f.mail.AssertExpectations(t)
}

func TestStripeSharedCardWarningKeepsFulfillment(t *testing.T) {
	f := newStripeFixture()

	items := []models.OrderItem{{EventID: "ev_1", Price: 65, Quantity: 1}}
	paidOrder := &models.Order{
		OrderID:         "order_1",
		BuyerEmail:      "alice.smith@family.example.com",
		PaymentStatus:   models.PaymentPaid,
		PaymentIntentID: "pi_1",
		Items:           items,
	}
	issued := []models.Ticket{{ID: "tkt_1"}}

	f.gateway.On("VerifyWebhook", mock.Anything, mock.Anything).Return(stripeSessionEvent(t, items), nil)
	f.ledger.On("UpsertPaid", mock.Anything).Return(paidOrder, nil)
	f.issuer.On("IssueTickets", paidOrder).Return(issued, true, nil)
	f.gateway.On("GetPaymentIntentWithCard", "pi_1").Return(cardIntent("fp_abc"), nil)
	f.guard.On("Evaluate", "fp_abc", "alice.smith@family.example.com", mock.Anything).
		Return(models.FraudCheckResult{
			Allowed:       true,
			Reason:        "card fingerprint shared under matching cardholder name",
			AlertType:     models.AlertWarning,
			OriginalOwner: "ali***@example.com",
		}, nil)
	f.events.On("Publish", "storefront.fraud.detected", "order_1", mock.Anything).Return(nil)
	f.mail.On("Enqueue", mock.Anything).Return()
	f.events.On("Publish", "storefront.order.paid", "order_1", mock.Anything).Return(nil)

	rec := postStripe(f.handler)

	assert.Equal(t, http.StatusOK, rec.Code)
	var ack models.WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.True(t, ack.OK)
	assert.False(t, ack.Fraud)

	// Review alert only: no refund, no unwind, receipt still goes out.
	f.gateway.AssertNotCalled(t, "RefundPaymentIntent", mock.Anything)
	f.ledger.AssertNotCalled(t, "MarkFraudDetected", mock.Anything)
	f.mail.AssertExpectations(t)
	f.events.AssertExpectations(t)
}

func TestStripeRetryAfterPersistenceFailureStillRecordsOrder(t *testing.T) {
	f := newStripeFixture()
	dedupe := newMapDeduper()
	f.handler.Dedupe = dedupe

	items := []models.OrderItem{{EventID: "ev_1", Price: 65, Quantity: 1}}
	paidOrder := &models.Order{OrderID: "order_1", PaymentStatus: models.PaymentPaid, Items: items}
	issued := []models.Ticket{{ID: "tkt_1"}}

	f.gateway.On("VerifyWebhook", mock.Anything, mock.Anything).Return(stripeSessionEvent(t, items), nil)
	f.ledger.On("UpsertPaid", mock.Anything).Return(nil, errors.New("connection refused")).Once()
	f.ledger.On("UpsertPaid", mock.Anything).Return(paidOrder, nil)
	f.issuer.On("IssueTickets", paidOrder).Return(issued, true, nil)
	f.mail.On("Enqueue", mock.Anything).Return()
	f.events.On("Publish", "storefront.order.paid", "order_1", mock.Anything).Return(nil)

	// First delivery fails to persist; the 5xx leaves the event
	// unclaimed for Stripe's retry.
	rec := postStripe(f.handler)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = postStripe(f.handler)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.ledger.AssertNumberOfCalls(t, "UpsertPaid", 2)
	f.issuer.AssertNumberOfCalls(t, "IssueTickets", 1)

	// Only the successful pass marks the event.
	rec = postStripe(f.handler)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.ledger.AssertNumberOfCalls(t, "UpsertPaid", 2)
}
