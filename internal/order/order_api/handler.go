package order_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"ms-storefront/internal/auth"
	"ms-storefront/internal/logger"
	"ms-storefront/internal/models"
	"ms-storefront/internal/utils"

	"github.com/go-chi/chi/v5"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (*models.Order, error)
}

type Handler struct {
	Orders   OrderReader
	NotFound func(error) bool
	Logger   *logger.Logger
}

func NewHandler(orders OrderReader, notFound func(error) bool, log *logger.Logger) *Handler {
	return &Handler{Orders: orders, NotFound: notFound, Logger: log}
}

// GetOrder returns an order to its buyer or to elevated staff.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing identity"))
		return
	}

	orderID := chi.URLParam(r, "orderID")
	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if h.NotFound != nil && h.NotFound(err) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", orderID))
			return
		}
		h.Logger.Error("ORDER", "failed to fetch order "+orderID+": "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to fetch order", err.Error()))
		return
	}

	if !canViewOrder(identity, order) {
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "order belongs to another buyer"))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Order fetched", order))
}

func canViewOrder(identity models.Identity, order *models.Order) bool {
	if identity.Role.Elevated() {
		return true
	}
	return order.BuyerEmail != "" &&
		strings.EqualFold(strings.TrimSpace(identity.Email), strings.TrimSpace(order.BuyerEmail))
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
