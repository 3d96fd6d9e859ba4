package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
	"vpn-subscription-shop/internal/infra/metrics"
)

// MarzneshinClient implements adapter.PanelClient against a Marzneshin
// panel. Marzneshin replaces Marzban's inbound/proxy maps with service
// ids and expresses expiry through an expire-strategy enum plus a fixed
// date.
type MarzneshinClient struct {
	baseURL  string
	username string
	password string
	services []int64
	client   *http.Client
	now      func() time.Time
}

func NewMarzneshinClient(baseURL, username, password string, services []int64) *MarzneshinClient {
	return &MarzneshinClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		services: services,
		client:   &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

func (c *MarzneshinClient) Kind() model.PanelKind { return model.PanelMarzneshin }

type marzneshinUserResponse struct {
	Username        string `json:"username"`
	SubscriptionURL string `json:"subscription_url"`
	DataLimit       int64  `json:"data_limit"`
	ExpireDate      string `json:"expire_date"`
}

func (c *MarzneshinClient) CreateUser(ctx context.Context, p adapter.CreateUserParams) (*model.ProvisionedAccount, error) {
	token, err := fetchToken(ctx, c.client, c.Kind(), c.baseURL, c.username, c.password)
	if err != nil {
		metrics.IncProvision(string(c.Kind()), "auth_error")
		return nil, err
	}

	expireAt := c.now().Add(time.Duration(p.DurationDays) * 24 * time.Hour)
	body := map[string]interface{}{
		"username":        p.Username,
		"expire_strategy": "fixed_date",
		"expire_date":     expireAt.UTC().Format(time.RFC3339),
		"data_limit":      int64(p.DataLimitGB) * bytesPerGB,
		"service_ids":     c.services,
		"note":            p.Note,
	}

	var out marzneshinUserResponse
	if err := c.call(ctx, http.MethodPost, "/api/users", token, body, &out); err != nil {
		metrics.IncProvision(string(c.Kind()), "create_error")
		return nil, err
	}
	metrics.IncProvision(string(c.Kind()), "ok")
	return c.account(out), nil
}

func (c *MarzneshinClient) GetUser(ctx context.Context, username string) (*model.ProvisionedAccount, error) {
	token, err := fetchToken(ctx, c.client, c.Kind(), c.baseURL, c.username, c.password)
	if err != nil {
		return nil, err
	}
	var out marzneshinUserResponse
	if err := c.call(ctx, http.MethodGet, "/api/users/"+username, token, nil, &out); err != nil {
		return nil, err
	}
	return c.account(out), nil
}

func (c *MarzneshinClient) account(u marzneshinUserResponse) *model.ProvisionedAccount {
	var expire int64
	if t, err := time.Parse(time.RFC3339, u.ExpireDate); err == nil {
		expire = t.Unix()
	}
	return &model.ProvisionedAccount{
		Panel:           c.Kind(),
		Username:        u.Username,
		SubscriptionURL: u.SubscriptionURL,
		DataLimitBytes:  u.DataLimit,
		ExpireAt:        expire,
	}
}

func (c *MarzneshinClient) call(ctx context.Context, method, path, token string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return &adapter.PanelError{Panel: c.Kind(), Kind: adapter.PanelErrCreate, Detail: "marshal request: " + err.Error()}
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &adapter.PanelError{Panel: c.Kind(), Kind: adapter.PanelErrCreate, Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &adapter.PanelError{Panel: c.Kind(), Kind: adapter.PanelErrCreate, Detail: err.Error()}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &adapter.PanelError{Panel: c.Kind(), Kind: adapter.PanelErrCreate, Detail: "read response: " + err.Error()}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &adapter.PanelError{Panel: c.Kind(), Kind: adapter.PanelErrAuth, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &adapter.PanelError{Panel: c.Kind(), Kind: adapter.PanelErrCreate, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &adapter.PanelError{Panel: c.Kind(), Kind: adapter.PanelErrCreate, Detail: "unmarshal response: " + err.Error()}
	}
	return nil
}
