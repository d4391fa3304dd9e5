// File: internal/infra/payment/paypal_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"prompt-market-payments/internal/domain"
	"prompt-market-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*PayPalGateway)(nil)

// PayPalGateway implements adapter.PaymentGateway against the PayPal REST API
// (v2 checkout orders, v2 payment captures). The access token is requested per
// call; no token is cached across invocations, trading latency for zero
// expiry coordination.
type PayPalGateway struct {
	clientID string
	secret   string
	baseURL  string
	client   *http.Client
}

func NewPayPalGateway(clientID, secret string, sandbox bool) (*PayPalGateway, error) {
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal client id and secret required")
	}
	baseURL := "https://api-m.paypal.com"
	if sandbox {
		baseURL = "https://api-m.sandbox.paypal.com"
	}
	return &PayPalGateway{
		clientID: clientID,
		secret:   secret,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// SetBaseURL overrides the endpoint, used by tests against httptest servers.
func (g *PayPalGateway) SetBaseURL(base string) { g.baseURL = base }

func (g *PayPalGateway) Name() string { return "paypal" }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// GetAccessToken exchanges client credentials for a bearer token. Any failure
// here is a setup failure: it wraps domain.ErrTokenFetch so the outermost
// handler can answer 502.
func (g *PayPalGateway) GetAccessToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrTokenFetch, err)
	}
	req.SetBasicAuth(g.clientID, g.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTokenFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrTokenFetch, resp.StatusCode, string(body))
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: decode: %v", domain.ErrTokenFetch, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", domain.ErrTokenFetch)
	}
	return tok.AccessToken, nil
}

// orderPayload mirrors the subset of the PayPal order object this pipeline
// reads: the status and the first capture nested under purchase units.
type orderPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func (p *orderPayload) firstCapture() (id, status string) {
	for _, pu := range p.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			return c.ID, c.Status
		}
	}
	return "", ""
}

func (g *PayPalGateway) CreateOrder(ctx context.Context, amountCents int64, currency, reference string) (string, string, error) {
	if currency == "" {
		currency = "USD"
	}
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": reference,
			"amount": map[string]string{
				"currency_code": currency,
				"value":         centsToValue(amountCents),
			},
		}},
	}
	status, raw, err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", body)
	if err != nil {
		return "", "", err
	}
	if status < 200 || status >= 300 {
		return "", "", fmt.Errorf("paypal create order: status %d: %s", status, string(raw))
	}
	var out orderPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("paypal create order: decode: %w", err)
	}
	approveURL := ""
	for _, l := range out.Links {
		if l.Rel == "approve" {
			approveURL = l.Href
		}
	}
	return out.ID, approveURL, nil
}

func (g *PayPalGateway) FetchOrder(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
	status, raw, err := g.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	return orderResult(status, raw), nil
}

func (g *PayPalGateway) CaptureOrder(ctx context.Context, orderID string) (*adapter.OrderResult, error) {
	status, raw, err := g.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", struct{}{})
	if err != nil {
		return nil, err
	}
	return orderResult(status, raw), nil
}

func (g *PayPalGateway) FetchPaymentCapture(ctx context.Context, paymentID string) (*adapter.CaptureResult, error) {
	status, raw, err := g.call(ctx, http.MethodGet, "/v2/payments/captures/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	res := &adapter.CaptureResult{OK: status >= 200 && status < 300, Raw: raw}
	if res.OK {
		var out struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &out); err == nil {
			res.Status = out.Status
		}
	}
	return res, nil
}

// call performs one authenticated round-trip. Network failures and provider
// 5xx come back as errors; any other status is handed to the caller with the
// raw body, never raised.
func (g *PayPalGateway) call(ctx context.Context, method, path string, body any) (int, json.RawMessage, error) {
	token, err := g.GetAccessToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return 0, nil, fmt.Errorf("%w: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, string(raw))
	}
	return resp.StatusCode, raw, nil
}

func orderResult(status int, raw json.RawMessage) *adapter.OrderResult {
	res := &adapter.OrderResult{OK: status >= 200 && status < 300, Raw: raw}
	if !res.OK {
		return res
	}
	var out orderPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		res.OK = false
		return res
	}
	res.Status = out.Status
	res.CaptureID, _ = out.firstCapture()
	return res
}

func centsToValue(cents int64) string {
	return strconv.FormatInt(cents/100, 10) + "." + fmt.Sprintf("%02d", cents%100)
}
