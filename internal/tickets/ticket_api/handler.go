package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-storefront/internal/auth"
	"ms-storefront/internal/logger"
	"ms-storefront/internal/mailer"
	"ms-storefront/internal/models"
	qr "ms-storefront/internal/tickets/qr"
	tickets "ms-storefront/internal/tickets/service"
	"ms-storefront/internal/utils"

	"github.com/go-chi/chi/v5"
)

type MailQueue interface {
	Enqueue(msg mailer.Message)
}

type Limiter interface {
	Blocked(ctx context.Context, ticketID string) bool
	RecordFailure(ctx context.Context, ticketID string)
}

type EventPublisher interface {
	Publish(topic, key string, value []byte) error
}

type Handler struct {
	TicketService *tickets.TicketService
	Limiter       Limiter
	Mail          MailQueue
	Events        EventPublisher
	RedeemedTopic string
	Logger        *logger.Logger
}

func NewHandler(svc *tickets.TicketService, limiter Limiter, mail MailQueue, events EventPublisher, redeemedTopic string, log *logger.Logger) *Handler {
	return &Handler{
		TicketService: svc,
		Limiter:       limiter,
		Mail:          mail,
		Events:        events,
		RedeemedTopic: redeemedTopic,
		Logger:        log,
	}
}

// ValidateTicket is the read-only gate check. It never mutates the
// ticket, whatever it reports.
func (h *Handler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing identity"))
		return
	}
	if !identity.Role.Elevated() {
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "validation requires staff access"))
		return
	}

	idOrCode := chi.URLParam(r, "ticketID")
	ticket, result, err := h.TicketService.Validate(r.Context(), idOrCode)
	if err != nil {
		if errors.Is(err, tickets.ErrTicketNotFound) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", idOrCode))
			return
		}
		h.Logger.Error("TICKET", fmt.Sprintf("validate %s: %v", idOrCode, err))
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to validate ticket", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Ticket validated", map[string]interface{}{
		"ticket": ticket,
		"result": result,
	}))
}

// RedeemTicket performs the one-time redemption. Expected body:
// {"pin": "0423"}.
func (h *Handler) RedeemTicket(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing identity"))
		return
	}

	var body struct {
		Pin string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	idOrCode := chi.URLParam(r, "ticketID")
	ctx := r.Context()

	if h.Limiter != nil && h.Limiter.Blocked(ctx, idOrCode) {
		writeJSON(w, http.StatusTooManyRequests, utils.ErrorResponse("Too many failed PIN attempts", "try again later"))
		return
	}

	ticket, err := h.TicketService.Redeem(ctx, idOrCode, body.Pin, identity)
	if err != nil {
		h.writeRedeemError(w, ctx, idOrCode, err)
		return
	}

	h.publishRedeemed(ticket, identity)
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Ticket redeemed", ticket))
}

func (h *Handler) writeRedeemError(w http.ResponseWriter, ctx context.Context, idOrCode string, err error) {
	var nre *tickets.NotRedeemableError
	switch {
	case errors.Is(err, tickets.ErrNotAuthorized):
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "redemption requires staff access"))
	case errors.Is(err, tickets.ErrTicketNotFound):
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", idOrCode))
	case errors.Is(err, tickets.ErrPinMismatch):
		if h.Limiter != nil {
			h.Limiter.RecordFailure(ctx, idOrCode)
		}
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Invalid PIN", "PIN does not match"))
	case errors.As(err, &nre):
		payload := map[string]interface{}{"reason": nre.Reason}
		if !nre.UsedAt.IsZero() {
			payload["used_at"] = nre.UsedAt
			payload["used_by"] = nre.UsedBy
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(utils.APIResponse{
			Success: false,
			Message: "Ticket cannot be redeemed",
			Data:    payload,
			Error:   nre.Reason,
		})
	default:
		h.Logger.Error("TICKET", fmt.Sprintf("redeem %s: %v", idOrCode, err))
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to redeem ticket", err.Error()))
	}
}

func (h *Handler) publishRedeemed(ticket *models.Ticket, staff models.Identity) {
	if h.Events == nil {
		return
	}
	value, err := json.Marshal(map[string]interface{}{
		"ticket_id":       ticket.ID,
		"order_id":        ticket.OrderID,
		"event_id":        ticket.EventID,
		"used_at":         ticket.UsedAt,
		"used_by":         staff.UserID,
		"validation_code": ticket.ValidationCode,
	})
	if err != nil {
		return
	}
	if err := h.Events.Publish(h.RedeemedTopic, ticket.ID, value); err != nil {
		h.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish ticket.redeemed for %s: %v", ticket.ID, err))
	}
}

// ListTicketsByOrder returns every ticket on an order to the buyer or
// to elevated staff.
func (h *Handler) ListTicketsByOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing identity"))
		return
	}

	orderID := chi.URLParam(r, "orderID")
	list, err := h.TicketService.GetTicketsByOrder(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("TICKET", fmt.Sprintf("list tickets for %s: %v", orderID, err))
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to fetch tickets", err.Error()))
		return
	}

	if !identity.Role.Elevated() {
		for _, t := range list {
			if !sameEmail(identity.Email, t.BuyerEmail) {
				writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "order belongs to another buyer"))
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Tickets fetched", list))
}

// TicketQR serves the ticket's QR code as a PNG for the ticket viewer.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing identity"))
		return
	}

	ticketID := chi.URLParam(r, "ticketID")
	ticket, err := h.TicketService.Lookup(r.Context(), ticketID)
	if err != nil {
		if errors.Is(err, tickets.ErrTicketNotFound) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", ticketID))
			return
		}
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to fetch ticket", err.Error()))
		return
	}

	if !identity.Role.Elevated() && !sameEmail(identity.Email, ticket.BuyerEmail) {
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "ticket belongs to another buyer"))
		return
	}

	png, err := qr.RenderPNG(ticket.QRPayload, qr.DefaultSize)
	if err != nil {
		h.Logger.Error("TICKET", fmt.Sprintf("qr render for %s: %v", ticket.ID, err))
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to render QR code", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ResendPin re-sends the gate PIN to the buyer's email, assigning one
// first if the ticket predates PINs.
func (h *Handler) ResendPin(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing identity"))
		return
	}

	ticketID := chi.URLParam(r, "ticketID")
	ticket, err := h.TicketService.Lookup(r.Context(), ticketID)
	if err != nil {
		if errors.Is(err, tickets.ErrTicketNotFound) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", ticketID))
			return
		}
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to fetch ticket", err.Error()))
		return
	}

	// Authorization comes before EnsurePin: assigning a PIN is a write,
	// and a stranger must not be able to rotate another buyer's PIN.
	if !identity.Role.Elevated() && !sameEmail(identity.Email, ticket.BuyerEmail) {
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "ticket belongs to another buyer"))
		return
	}

	ticket, err = h.TicketService.EnsurePin(r.Context(), ticket.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to prepare PIN", err.Error()))
		return
	}

	if ticket.BuyerEmail == "" {
		writeJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse("No buyer email on ticket", ticket.ID))
		return
	}

	h.Mail.Enqueue(mailer.BuildPinResend(ticket))
	writeJSON(w, http.StatusOK, utils.SuccessResponse("PIN sent", map[string]string{"ticket_id": ticket.ID}))
}

func sameEmail(a, b string) bool {
	return b != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
