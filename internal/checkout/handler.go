package checkout

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ms-storefront/internal/auth"
	"ms-storefront/internal/config"
	"ms-storefront/internal/logger"
	"ms-storefront/internal/models"
	"ms-storefront/internal/payments"
	"ms-storefront/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
)

type StripeCheckout interface {
	CreateCheckoutSession(orderID, buyerEmail, buyerName, currency string, items []models.OrderItem, successURL, cancelURL string) (*stripe.CheckoutSession, error)
	GetCheckoutSession(sessionID string) (*stripe.CheckoutSession, error)
}

type CryptoCheckout interface {
	CreateInvoice(ctx context.Context, req payments.CryptomusInvoiceRequest) (*payments.CryptomusInvoice, error)
}

type OrderReader interface {
	GetOrderBySession(ctx context.Context, sessionID string) (*models.Order, error)
}

type IDGenerator func() string

type Handler struct {
	Stripe    StripeCheckout
	Cryptomus CryptoCheckout
	Orders    OrderReader
	Config    *config.Config
	Logger    *logger.Logger
	NewID     IDGenerator
}

func NewHandler(stripeClient StripeCheckout, cryptoClient CryptoCheckout, orders OrderReader, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		Stripe:    stripeClient,
		Cryptomus: cryptoClient,
		Orders:    orders,
		Config:    cfg,
		Logger:    log,
		NewID:     utils.GenerateOrderID,
	}
}

// CartRequest is the storefront cart as submitted for checkout.
type CartRequest struct {
	BuyerEmail string             `json:"buyer_email" binding:"required,email"`
	BuyerName  string             `json:"buyer_name"`
	Currency   string             `json:"currency"`
	Items      []models.OrderItem `json:"items" binding:"required,min=1"`
}

func (r *CartRequest) normalize() error {
	if r.Currency == "" {
		r.Currency = "usd"
	}
	r.Currency = strings.ToLower(r.Currency)
	for i := range r.Items {
		if r.Items[i].Quantity <= 0 {
			return fmt.Errorf("item %d has non-positive quantity", i)
		}
		if r.Items[i].Price < 0 {
			return fmt.Errorf("item %d has negative price", i)
		}
		if r.Items[i].EventID == "" {
			return fmt.Errorf("item %d is missing event_id", i)
		}
		if r.Items[i].BuyerEmail == "" {
			r.Items[i].BuyerEmail = r.BuyerEmail
		}
		if r.Items[i].BuyerName == "" {
			r.Items[i].BuyerName = r.BuyerName
		}
	}
	return nil
}

func (r *CartRequest) total() float64 {
	var total float64
	for _, item := range r.Items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// CreateStripeSession opens a hosted Stripe Checkout for the cart and
// returns the redirect URL.
func (h *Handler) CreateStripeSession(c *gin.Context) {
	var req CartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}
	if err := req.normalize(); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid cart", err.Error()))
		return
	}

	orderID := h.NewID()
	origin := h.Config.App.PublicOrigin
	successURL := origin + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	cancelURL := origin + "/checkout/cancel"

	session, err := h.Stripe.CreateCheckoutSession(orderID, req.BuyerEmail, req.BuyerName, req.Currency, req.Items, successURL, cancelURL)
	if err != nil {
		h.Logger.Error("CHECKOUT", fmt.Sprintf("stripe session for %s: %v", orderID, err))
		c.JSON(http.StatusBadGateway, utils.ErrorResponse("Failed to create checkout session", err.Error()))
		return
	}

	h.Logger.LogOrder("CHECKOUT", orderID, fmt.Sprintf("stripe checkout session %s created", session.ID))
	c.JSON(http.StatusCreated, utils.SuccessResponse("Checkout session created", gin.H{
		"order_id":     orderID,
		"session_id":   session.ID,
		"checkout_url": session.URL,
	}))
}

// CreateCryptomusInvoice opens a hosted crypto payment page for the cart.
func (h *Handler) CreateCryptomusInvoice(c *gin.Context) {
	var req CartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}
	if err := req.normalize(); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid cart", err.Error()))
		return
	}

	orderID := h.NewID()
	origin := h.Config.App.PublicOrigin

	invoice, err := h.Cryptomus.CreateInvoice(c.Request.Context(), payments.CryptomusInvoiceRequest{
		Amount:      fmt.Sprintf("%.2f", req.total()),
		Currency:    strings.ToUpper(req.Currency),
		OrderID:     orderID,
		URLSuccess:  origin + "/checkout/success?order_id=" + orderID,
		URLReturn:   origin + "/checkout/cancel",
		URLCallback: h.Config.App.WebhookOrigin + "/webhook/cryptomus",
		AdditionalData: &models.CryptomusAdditionalData{
			Items:      req.Items,
			BuyerEmail: req.BuyerEmail,
			BuyerName:  req.BuyerName,
		},
	})
	if err != nil {
		h.Logger.Error("CHECKOUT", fmt.Sprintf("cryptomus invoice for %s: %v", orderID, err))
		c.JSON(http.StatusBadGateway, utils.ErrorResponse("Failed to create invoice", err.Error()))
		return
	}

	h.Logger.LogOrder("CHECKOUT", orderID, fmt.Sprintf("cryptomus invoice %s created", invoice.UUID))
	c.JSON(http.StatusCreated, utils.SuccessResponse("Invoice created", gin.H{
		"order_id":    orderID,
		"invoice_id":  invoice.UUID,
		"payment_url": invoice.URL,
	}))
}

// VerifySession backs the post-payment success page: it reports whether
// the webhook has already recorded the order as paid. The webhook is
// the only writer; this endpoint never mutates anything.
func (h *Handler) VerifySession(c *gin.Context) {
	identity, ok := auth.IdentityFromGin(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing identity"))
		return
	}

	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Missing session id", ""))
		return
	}

	order, err := h.Orders.GetOrderBySession(c.Request.Context(), sessionID)
	if err == nil {
		if !canViewSession(identity, order.BuyerEmail) {
			c.JSON(http.StatusForbidden, utils.ErrorResponse("Forbidden", "order belongs to another buyer"))
			return
		}
		c.JSON(http.StatusOK, utils.SuccessResponse("Order recorded", gin.H{
			"paid":     order.PaymentStatus == models.PaymentPaid,
			"order_id": order.OrderID,
			"status":   order.PaymentStatus,
			"tickets":  order.TicketCount(),
		}))
		return
	}

	// Not recorded yet; fall back to the provider so the success page
	// can show "processing" instead of an error.
	session, sErr := h.Stripe.GetCheckoutSession(sessionID)
	if sErr != nil {
		c.JSON(http.StatusNotFound, utils.ErrorResponse("Session not found", sessionID))
		return
	}

	sessionEmail := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		sessionEmail = session.CustomerDetails.Email
	}
	if !canViewSession(identity, sessionEmail) {
		c.JSON(http.StatusForbidden, utils.ErrorResponse("Forbidden", "session belongs to another buyer"))
		return
	}

	c.JSON(http.StatusOK, utils.SuccessResponse("Payment processing", gin.H{
		"paid":       false,
		"processing": session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		"order_id":   session.Metadata["order_id"],
		"status":     string(session.Status),
	}))
}

func canViewSession(identity models.Identity, buyerEmail string) bool {
	if identity.Role.Elevated() {
		return true
	}
	return buyerEmail != "" &&
		strings.EqualFold(strings.TrimSpace(identity.Email), strings.TrimSpace(buyerEmail))
}
