package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"ms-storefront/internal/models"
	"ms-storefront/internal/signature"
)

// CryptomusClient creates payment invoices against the Cryptomus merchant
// API. Requests are signed with the same MD5(base64(body)+key) scheme the
// webhook verification uses.
type CryptomusClient struct {
	merchantID string
	paymentKey string
	baseURL    string
	client     *http.Client
}

func NewCryptomusClient(merchantID, paymentKey, baseURL string, httpClient *http.Client) *CryptomusClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CryptomusClient{
		merchantID: merchantID,
		paymentKey: paymentKey,
		baseURL:    baseURL,
		client:     httpClient,
	}
}

type CryptomusInvoiceRequest struct {
	Amount         string                          `json:"amount"`
	Currency       string                          `json:"currency"`
	OrderID        string                          `json:"order_id"`
	URLReturn      string                          `json:"url_return,omitempty"`
	URLSuccess     string                          `json:"url_success,omitempty"`
	URLCallback    string                          `json:"url_callback,omitempty"`
	AdditionalData *models.CryptomusAdditionalData `json:"-"`
}

type CryptomusInvoice struct {
	UUID    string `json:"uuid"`
	OrderID string `json:"order_id"`
	Amount  string `json:"amount"`
	URL     string `json:"url"`
	Status  string `json:"status"`
}

type cryptomusEnvelope struct {
	State  int              `json:"state"`
	Result CryptomusInvoice `json:"result"`
}

// CreateInvoice opens a hosted crypto payment page. AdditionalData is
// serialized into the invoice so the webhook gets the cart back verbatim.
func (c *CryptomusClient) CreateInvoice(ctx context.Context, req CryptomusInvoiceRequest) (*CryptomusInvoice, error) {
	payload := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"order_id": req.OrderID,
	}
	if req.URLReturn != "" {
		payload["url_return"] = req.URLReturn
	}
	if req.URLSuccess != "" {
		payload["url_success"] = req.URLSuccess
	}
	if req.URLCallback != "" {
		payload["url_callback"] = req.URLCallback
	}
	if req.AdditionalData != nil {
		data, err := json.Marshal(req.AdditionalData)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize additional_data: %w", err)
		}
		payload["additional_data"] = string(data)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize invoice request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build invoice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("merchant", c.merchantID)
	httpReq.Header.Set("sign", signature.SignCryptomus(body, c.paymentKey))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoice request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read invoice response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invoice request returned %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope cryptomusEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode invoice response: %w", err)
	}
	if envelope.State != 0 {
		return nil, fmt.Errorf("invoice request rejected with state %d", envelope.State)
	}
	return &envelope.Result, nil
}
