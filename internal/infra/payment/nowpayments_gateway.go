package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/infra/metrics"
)

// NowPaymentsGateway implements adapter.PaymentGateway against the
// NOWPayments invoice API for crypto checkout. The invoice id plays the
// authority role: it correlates the hosted-checkout redirect with the
// later status lookup.
type NowPaymentsGateway struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewNowPaymentsGateway(apiKey, baseURL string) (*NowPaymentsGateway, error) {
	if apiKey == "" {
		return nil, domain.ErrMissingCredential
	}
	return &NowPaymentsGateway{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{},
	}, nil
}

func (g *NowPaymentsGateway) Name() string { return "nowpayments" }

type nowInvoiceResponse struct {
	ID         json.Number `json:"id"`
	InvoiceURL string      `json:"invoice_url"`
}

type nowStatusResponse struct {
	PaymentStatus string      `json:"payment_status"`
	PaymentID     json.Number `json:"payment_id"`
	PriceAmount   float64     `json:"price_amount"`
}

func (g *NowPaymentsGateway) Request(ctx context.Context, req adapter.PaymentRequest) (string, string, error) {
	body := map[string]interface{}{
		"price_amount":      req.AmountIRR,
		"price_currency":    "irr",
		"order_description": req.Description,
		"ipn_callback_url":  req.CallbackURL,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", "", fmt.Errorf("nowpayments: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/invoice", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", "", fmt.Errorf("nowpayments: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("nowpayments: send request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("nowpayments: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("nowpayments: status %d: %s", resp.StatusCode, truncate(raw))
	}

	var inv nowInvoiceResponse
	if err := json.Unmarshal(raw, &inv); err != nil {
		return "", "", fmt.Errorf("nowpayments: unmarshal: %w, body: %s", err, truncate(raw))
	}
	if inv.ID.String() == "" || inv.InvoiceURL == "" {
		return "", "", fmt.Errorf("nowpayments: incomplete invoice response: %s", truncate(raw))
	}
	return inv.ID.String(), inv.InvoiceURL, nil
}

func (g *NowPaymentsGateway) Verify(ctx context.Context, authority string, amountIRR int64) (adapter.VerifyOutcome, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payment/"+authority, nil)
	if err != nil {
		return adapter.VerifyOutcome{}, fmt.Errorf("nowpayments verify: create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	metrics.ObserveVerifyDuration(g.Name(), time.Since(start).Seconds())
	if err != nil {
		metrics.IncVerify(g.Name(), "error")
		return adapter.VerifyOutcome{}, fmt.Errorf("nowpayments verify: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncVerify(g.Name(), "error")
		return adapter.VerifyOutcome{}, fmt.Errorf("nowpayments verify: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.IncVerify(g.Name(), "failed")
		return adapter.Failed(string(truncate(raw)), resp.StatusCode), nil
	}

	var st nowStatusResponse
	if err := json.Unmarshal(raw, &st); err != nil {
		metrics.IncVerify(g.Name(), "malformed")
		return adapter.Malformed(string(raw)), nil
	}

	switch st.PaymentStatus {
	case "finished", "confirmed":
		metrics.IncVerify(g.Name(), "paid")
		refID := st.PaymentID.String()
		if refID == "" {
			refID = authority
		}
		return adapter.Paid(refID, amountIRR), nil
	case "waiting", "confirming", "sending", "partially_paid":
		// Still in flight on the provider side; the reconciliation worker
		// re-drives it later.
		metrics.IncVerify(g.Name(), "pending")
		return adapter.Pending("payment_status=" + st.PaymentStatus), nil
	default:
		metrics.IncVerify(g.Name(), "failed")
		return adapter.Failed("payment_status="+st.PaymentStatus, 0), nil
	}
}
