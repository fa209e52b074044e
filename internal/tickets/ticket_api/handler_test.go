package ticket_api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-storefront/internal/auth"
	"ms-storefront/internal/logger"
	"ms-storefront/internal/mailer"
	"ms-storefront/internal/models"
	tickets "ms-storefront/internal/tickets/service"
	"ms-storefront/internal/tickets/ticket_api"
	"ms-storefront/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTicketDB struct {
	mock.Mock
}

func (m *MockTicketDB) CreateTickets(ctx context.Context, batch []models.Ticket) error {
	args := m.Called(batch)
	return args.Error(0)
}

func (m *MockTicketDB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockTicketDB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	args := m.Called(code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockTicketDB) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *MockTicketDB) Redeem(ctx context.Context, id, usedBy, validationCode string, now time.Time) (bool, error) {
	args := m.Called(id, usedBy)
	return args.Bool(0), args.Error(1)
}

func (m *MockTicketDB) CancelByOrder(ctx context.Context, orderID, reason string) (int64, error) {
	args := m.Called(orderID, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTicketDB) UpdatePin(ctx context.Context, id, pin string) error {
	args := m.Called(id, pin)
	return args.Error(0)
}

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Blocked(ctx context.Context, ticketID string) bool {
	args := m.Called(ticketID)
	return args.Bool(0)
}

func (m *MockLimiter) RecordFailure(ctx context.Context, ticketID string) {
	m.Called(ticketID)
}

type MockMail struct {
	mock.Mock
}

func (m *MockMail) Enqueue(msg mailer.Message) {
	m.Called(msg)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic, key string, value []byte) error {
	args := m.Called(topic, key, value)
	return args.Error(0)
}

var (
	staff = models.Identity{UserID: "staff_1", Email: "gate@example.com", Role: models.RoleHoster}
	buyer = models.Identity{UserID: "user_1", Email: "alice@example.com", Role: models.RoleUser}
)

func eventDate(daysFromNow int) string {
	return time.Now().AddDate(0, 0, daysFromNow).Format("2006-01-02")
}

func unusedTicket() *models.Ticket {
	return &models.Ticket{
		ID:         "tkt_1",
		OrderID:    "order_1",
		TicketCode: "WXYZ234567",
		Pin:        "0423",
		QRPayload:  "https://tickets.example.com/validate-ticket?code=WXYZ234567&ticketId=tkt_1",
		Status:     models.TicketIssuedUnused,
		EventID:    "ev_1",
		EventName:  "Summer Fest",
		EventDate:  eventDate(1),
		BuyerEmail: "alice@example.com",
	}
}

type apiFixture struct {
	handler *ticket_api.Handler
	db      *MockTicketDB
	limiter *MockLimiter
	mail    *MockMail
	events  *MockPublisher
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		db:      new(MockTicketDB),
		limiter: new(MockLimiter),
		mail:    new(MockMail),
		events:  new(MockPublisher),
	}
	svc := tickets.NewTicketService(f.db, "https://tickets.example.com", &logger.Logger{})
	f.handler = ticket_api.NewHandler(svc, f.limiter, f.mail, f.events, "storefront.ticket.redeemed", &logger.Logger{})
	return f
}

func apiRequest(method, target string, body io.Reader, identity *models.Identity, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	ctx := req.Context()
	if identity != nil {
		ctx = auth.WithIdentity(ctx, *identity)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) utils.APIResponse {
	t.Helper()
	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestValidateTicketRequiresIdentity(t *testing.T) {
	f := newAPIFixture()

	req := apiRequest(http.MethodGet, "/api/ticket/tkt_1/validate", nil, nil, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.ValidateTicket(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.db.AssertNotCalled(t, "GetTicketByID", mock.Anything)
}

func TestValidateTicketRejectsNonStaff(t *testing.T) {
	f := newAPIFixture()

	req := apiRequest(http.MethodGet, "/api/ticket/tkt_1/validate", nil, &buyer, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.ValidateTicket(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	f.db.AssertNotCalled(t, "GetTicketByID", mock.Anything)
}

func TestValidateTicketReportsValid(t *testing.T) {
	f := newAPIFixture()
	f.db.On("GetTicketByID", "tkt_1").Return(unusedTicket(), nil)

	req := apiRequest(http.MethodGet, "/api/ticket/tkt_1/validate", nil, &staff, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.ValidateTicket(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	result := data["result"].(map[string]interface{})
	assert.Equal(t, true, result["valid"])
}

func TestValidateTicketNotFound(t *testing.T) {
	f := newAPIFixture()
	f.db.On("GetTicketByID", "tkt_missing").Return(nil, sql.ErrNoRows)
	f.db.On("GetTicketByCode", "tkt_missing").Return(nil, sql.ErrNoRows)

	req := apiRequest(http.MethodGet, "/api/ticket/tkt_missing/validate", nil, &staff, map[string]string{"ticketID": "tkt_missing"})
	rec := httptest.NewRecorder()
	f.handler.ValidateTicket(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedeemTicketBlockedByLimiter(t *testing.T) {
	f := newAPIFixture()
	f.limiter.On("Blocked", "tkt_1").Return(true)

	body := bytes.NewReader([]byte(`{"pin":"0423"}`))
	req := apiRequest(http.MethodPost, "/api/ticket/tkt_1/redeem", body, &staff, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.RedeemTicket(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	f.db.AssertNotCalled(t, "GetTicketByID", mock.Anything)
}

func TestRedeemTicketPinMismatchRecordsFailure(t *testing.T) {
	f := newAPIFixture()
	f.limiter.On("Blocked", "tkt_1").Return(false)
	f.limiter.On("RecordFailure", "tkt_1").Return()
	f.db.On("GetTicketByID", "tkt_1").Return(unusedTicket(), nil)

	body := bytes.NewReader([]byte(`{"pin":"9999"}`))
	req := apiRequest(http.MethodPost, "/api/ticket/tkt_1/redeem", body, &staff, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.RedeemTicket(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "Invalid PIN", resp.Message)
	f.limiter.AssertCalled(t, "RecordFailure", "tkt_1")
	f.db.AssertNotCalled(t, "Redeem", mock.Anything, mock.Anything)
}

func TestRedeemTicketSuccessPublishesEvent(t *testing.T) {
	f := newAPIFixture()
	f.limiter.On("Blocked", "tkt_1").Return(false)
	f.db.On("GetTicketByID", "tkt_1").Return(unusedTicket(), nil)
	f.db.On("Redeem", "tkt_1", "staff_1").Return(true, nil)
	f.events.On("Publish", "storefront.ticket.redeemed", "tkt_1", mock.Anything).Return(nil)

	body := bytes.NewReader([]byte(`{"pin":"0423"}`))
	req := apiRequest(http.MethodPost, "/api/ticket/tkt_1/redeem", body, &staff, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.RedeemTicket(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	ticket := resp.Data.(map[string]interface{})
	assert.Equal(t, string(models.TicketIssuedUsed), ticket["status"])
	assert.Equal(t, "staff_1", ticket["used_by"])
	f.events.AssertExpectations(t)
}

func TestRedeemTicketAlreadyUsedConflict(t *testing.T) {
	f := newAPIFixture()

	usedAt := time.Now().Add(-time.Hour)
	used := unusedTicket()
	used.Status = models.TicketIssuedUsed
	used.UsedAt = usedAt
	used.UsedBy = "staff_2"

	f.limiter.On("Blocked", "tkt_1").Return(false)
	f.db.On("GetTicketByID", "tkt_1").Return(used, nil)

	body := bytes.NewReader([]byte(`{"pin":"0423"}`))
	req := apiRequest(http.MethodPost, "/api/ticket/tkt_1/redeem", body, &staff, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.RedeemTicket(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "already used", data["reason"])
	assert.Equal(t, "staff_2", data["used_by"])
	f.db.AssertNotCalled(t, "Redeem", mock.Anything, mock.Anything)
}

func TestRedeemTicketNonStaffForbidden(t *testing.T) {
	f := newAPIFixture()
	f.limiter.On("Blocked", "tkt_1").Return(false)

	body := bytes.NewReader([]byte(`{"pin":"0423"}`))
	req := apiRequest(http.MethodPost, "/api/ticket/tkt_1/redeem", body, &buyer, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.RedeemTicket(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	f.db.AssertNotCalled(t, "GetTicketByID", mock.Anything)
}

func TestListTicketsByOrderBuyerMismatch(t *testing.T) {
	f := newAPIFixture()
	other := unusedTicket()
	other.BuyerEmail = "bob@example.com"
	f.db.On("GetTicketsByOrder", "order_1").Return([]models.Ticket{*other}, nil)

	req := apiRequest(http.MethodGet, "/api/order/order_1/tickets", nil, &buyer, map[string]string{"orderID": "order_1"})
	rec := httptest.NewRecorder()
	f.handler.ListTicketsByOrder(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListTicketsByOrderBuyerMatch(t *testing.T) {
	f := newAPIFixture()
	f.db.On("GetTicketsByOrder", "order_1").Return([]models.Ticket{*unusedTicket()}, nil)

	req := apiRequest(http.MethodGet, "/api/order/order_1/tickets", nil, &buyer, map[string]string{"orderID": "order_1"})
	rec := httptest.NewRecorder()
	f.handler.ListTicketsByOrder(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
}

func TestTicketQRServesPNGToBuyer(t *testing.T) {
	f := newAPIFixture()
	f.db.On("GetTicketByID", "tkt_1").Return(unusedTicket(), nil)

	req := apiRequest(http.MethodGet, "/api/ticket/tkt_1/qr", nil, &buyer, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.TicketQR(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	// PNG magic bytes.
	require.GreaterOrEqual(t, rec.Body.Len(), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, rec.Body.Bytes()[:4])
}

func TestTicketQRForbiddenForOtherBuyer(t *testing.T) {
	f := newAPIFixture()
	other := unusedTicket()
	other.BuyerEmail = "bob@example.com"
	f.db.On("GetTicketByID", "tkt_1").Return(other, nil)

	req := apiRequest(http.MethodGet, "/api/ticket/tkt_1/qr", nil, &buyer, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.TicketQR(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestResendPinEnqueuesMail(t *testing.T) {
	f := newAPIFixture()
	f.db.On("GetTicketByID", "tkt_1").Return(unusedTicket(), nil)
	f.mail.On("Enqueue", mock.MatchedBy(func(msg mailer.Message) bool {
		return msg.To == "alice@example.com"
	})).Return()

	req := apiRequest(http.MethodPost, "/api/ticket/tkt_1/resend-pin", nil, &buyer, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.ResendPin(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	f.mail.AssertExpectations(t)
}

func TestResendPinWithoutBuyerEmail(t *testing.T) {
	f := newAPIFixture()
	orphan := unusedTicket()
	orphan.BuyerEmail = ""
	f.db.On("GetTicketByID", "tkt_1").Return(orphan, nil)

	req := apiRequest(http.MethodPost, "/api/ticket/tkt_1/resend-pin", nil, &staff, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.ResendPin(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	f.mail.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestResendPinStrangerCannotRotatePin(t *testing.T) {
	f := newAPIFixture()
	orphan := unusedTicket()
	orphan.Pin = ""
	orphan.BuyerEmail = "bob@example.com"
	f.db.On("GetTicketByID", "tkt_1").Return(orphan, nil)

	req := apiRequest(http.MethodPost, "/api/ticket/tkt_1/resend-pin", nil, &buyer, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.ResendPin(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	// The authorization failure must come before any PIN assignment.
	f.db.AssertNotCalled(t, "UpdatePin", mock.Anything, mock.Anything)
	f.mail.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestResendPinAssignsPinForLegacyTicket(t *testing.T) {
	f := newAPIFixture()
	legacy := unusedTicket()
	legacy.Pin = ""
	f.db.On("GetTicketByID", "tkt_1").Return(legacy, nil)
	f.db.On("UpdatePin", "tkt_1", mock.MatchedBy(func(pin string) bool { return len(pin) == 4 })).Return(nil)
	f.mail.On("Enqueue", mock.Anything).Return()

	req := apiRequest(http.MethodPost, "/api/ticket/tkt_1/resend-pin", nil, &buyer, map[string]string{"ticketID": "tkt_1"})
	rec := httptest.NewRecorder()
	f.handler.ResendPin(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	f.db.AssertExpectations(t)
	f.mail.AssertExpectations(t)
}
