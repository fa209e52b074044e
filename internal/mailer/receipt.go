package mailer

import (
	"fmt"
	"html"
	"strings"

	"ms-storefront/internal/models"
	"ms-storefront/internal/tickets/qr"
)

// BuildReceipt renders the purchase receipt: one block per ticket with its
// code, its PIN and the QR image inline. The PIN travels only here, never
// inside the QR payload.
func BuildReceipt(order *models.Order, tickets []models.Ticket) Message {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("<h2>Thanks for your purchase, %s!</h2>", html.EscapeString(order.BuyerName)))
	b.WriteString(fmt.Sprintf("<p>Order <b>%s</b> — %.2f %s</p>",
		html.EscapeString(order.OrderID), order.TotalAmount, html.EscapeString(strings.ToUpper(order.Currency))))

	for i, t := range tickets {
		b.WriteString("<hr>")
		b.WriteString(fmt.Sprintf("<h3>Ticket %d/%d — %s</h3>", i+1, len(tickets), html.EscapeString(t.EventName)))
		b.WriteString(fmt.Sprintf("<p>%s %s, %s</p>",
			html.EscapeString(t.EventDate), html.EscapeString(t.EventTime), html.EscapeString(t.EventLocation)))
		b.WriteString(fmt.Sprintf("<p>Code: <b>%s</b><br>PIN: <b>%s</b></p>",
			html.EscapeString(t.TicketCode), html.EscapeString(t.Pin)))

		if uri, err := qr.DataURI(t.QRPayload); err == nil {
			b.WriteString(fmt.Sprintf(`<img src="%s" alt="ticket QR" width="%d" height="%d">`,
				uri, qr.DefaultSize, qr.DefaultSize))
		}
	}

	b.WriteString("<hr><p>Show the QR at the gate and keep the PIN ready; staff will ask for it.</p>")

	return Message{
		To:      order.BuyerEmail,
		Subject: fmt.Sprintf("Your tickets for order %s", order.OrderID),
		HTML:    b.String(),
	}
}

// BuildPinResend re-delivers a single ticket's PIN.
func BuildPinResend(ticket *models.Ticket) Message {
	body := fmt.Sprintf(
		"<p>The PIN for ticket <b>%s</b> (%s on %s) is:</p><h2>%s</h2>",
		html.EscapeString(ticket.TicketCode),
		html.EscapeString(ticket.EventName),
		html.EscapeString(ticket.EventDate),
		html.EscapeString(ticket.Pin),
	)
	return Message{
		To:      ticket.BuyerEmail,
		Subject: fmt.Sprintf("PIN for ticket %s", ticket.TicketCode),
		HTML:    body,
	}
}
