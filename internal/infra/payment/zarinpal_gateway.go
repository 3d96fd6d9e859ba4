package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/infra/metrics"
)

// ZarinPalGateway implements adapter.PaymentGateway against the ZarinPal
// v4 REST API. One outbound call per invocation, no internal retry.
type ZarinPalGateway struct {
	merchantID string
	sandbox    bool
	baseURL    string
	payURL     string
	client     *http.Client
}

func NewZarinPalGateway(merchantID string, sandbox bool) (*ZarinPalGateway, error) {
	if merchantID == "" {
		return nil, domain.ErrMissingCredential
	}
	g := &ZarinPalGateway{
		merchantID: merchantID,
		sandbox:    sandbox,
		baseURL:    "https://payment.zarinpal.com/pg/v4/payment",
		payURL:     "https://payment.zarinpal.com/pg/StartPay/",
		client:     &http.Client{},
	}
	if sandbox {
		g.baseURL = "https://sandbox.zarinpal.com/pg/v4/payment"
		g.payURL = "https://sandbox.zarinpal.com/pg/StartPay/"
	}
	return g, nil
}

func (g *ZarinPalGateway) Name() string { return "zarinpal" }

type zarinpalRequestResponse struct {
	Data struct {
		Code      int    `json:"code"`
		Message   string `json:"message"`
		Authority string `json:"authority"`
	} `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type zarinpalVerifyResponse struct {
	Data struct {
		Code    int    `json:"code"`
		RefID   int64  `json:"ref_id"`
		Fee     int    `json:"fee"`
		Message string `json:"message"`
	} `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// Request implements PaymentGateway.Request.
func (g *ZarinPalGateway) Request(ctx context.Context, req adapter.PaymentRequest) (string, string, error) {
	body := map[string]interface{}{
		"merchant_id":  g.merchantID,
		"amount":       req.AmountIRR,
		"mobile":       req.Mobile,
		"callback_url": req.CallbackURL,
		"description":  req.Description,
	}
	if req.Email != "" {
		body["email"] = req.Email
	}

	status, raw, err := g.post(ctx, g.baseURL+"/request.json", body)
	if err != nil {
		return "", "", fmt.Errorf("zarinpal request: %w", err)
	}
	if status < 200 || status > 299 {
		return "", "", fmt.Errorf("zarinpal request: status %d: %s", status, truncate(raw))
	}

	var resp zarinpalRequestResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", "", fmt.Errorf("zarinpal request: unmarshal: %w, body: %s", err, truncate(raw))
	}
	if resp.Data.Code != 100 {
		return "", "", fmt.Errorf("zarinpal error: code %d, message: %s", resp.Data.Code, resp.Data.Message)
	}
	if resp.Data.Authority == "" {
		return "", "", fmt.Errorf("zarinpal request: code 100 but no authority")
	}
	return resp.Data.Authority, g.payURL + resp.Data.Authority, nil
}

// Verify implements PaymentGateway.Verify. Provider-level failure and
// malformed bodies are outcomes, not errors; only transport failure is an
// error.
func (g *ZarinPalGateway) Verify(ctx context.Context, authority string, amountIRR int64) (adapter.VerifyOutcome, error) {
	start := time.Now()
	body := map[string]interface{}{
		"merchant_id": g.merchantID,
		"amount":      amountIRR,
		"authority":   authority,
	}

	status, raw, err := g.post(ctx, g.baseURL+"/verify.json", body)
	metrics.ObserveVerifyDuration(g.Name(), time.Since(start).Seconds())
	if err != nil {
		metrics.IncVerify(g.Name(), "error")
		return adapter.VerifyOutcome{}, fmt.Errorf("zarinpal verify: %w", err)
	}
	if status < 200 || status > 299 {
		metrics.IncVerify(g.Name(), "failed")
		return adapter.Failed(string(truncate(raw)), status), nil
	}

	var resp zarinpalVerifyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		metrics.IncVerify(g.Name(), "malformed")
		return adapter.Malformed(string(raw)), nil
	}

	// 100 = verified, 101 = already verified (both count as paid).
	if resp.Data.Code != 100 && resp.Data.Code != 101 {
		metrics.IncVerify(g.Name(), "failed")
		reason := resp.Data.Message
		if reason == "" {
			reason = fmt.Sprintf("zarinpal code %d", resp.Data.Code)
		}
		return adapter.Failed(reason, 0), nil
	}
	metrics.IncVerify(g.Name(), "paid")
	return adapter.Paid(strconv.FormatInt(resp.Data.RefID, 10), amountIRR), nil
}

func (g *ZarinPalGateway) post(ctx context.Context, url string, body map[string]interface{}) (int, []byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func truncate(b []byte) []byte {
	if len(b) > adapter.MaxRawBody {
		return b[:adapter.MaxRawBody]
	}
	return b
}
