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

const bytesPerGB = int64(1073741824)

// MarzbanClient implements adapter.PanelClient against a Marzban panel.
// Marzban accounts carry inbound and proxy maps and an absolute epoch
// expiry.
type MarzbanClient struct {
	baseURL  string
	username string
	password string
	inbounds map[string][]string
	proxies  map[string]string
	client   *http.Client
	now      func() time.Time
}

func NewMarzbanClient(baseURL, username, password string, inbounds map[string][]string, proxies map[string]string) *MarzbanClient {
	return &MarzbanClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		inbounds: inbounds,
		proxies:  proxies,
		client:   &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

func (c *MarzbanClient) Kind() model.PanelKind { return model.PanelMarzban }

type marzbanUserResponse struct {
	Username        string `json:"username"`
	SubscriptionURL string `json:"subscription_url"`
	DataLimit       int64  `json:"data_limit"`
	Expire          int64  `json:"expire"`
	Status          string `json:"status"`
}

// CreateUser provisions a VPN account. Data limit is gigabytes converted
// to bytes; expiry is an absolute epoch second offset from now.
func (c *MarzbanClient) CreateUser(ctx context.Context, p adapter.CreateUserParams) (*model.ProvisionedAccount, error) {
	token, err := fetchToken(ctx, c.client, c.Kind(), c.baseURL, c.username, c.password)
	if err != nil {
		metrics.IncProvision(string(c.Kind()), "auth_error")
		return nil, err
	}

	expire := c.now().Unix() + int64(p.DurationDays)*86400
	body := map[string]interface{}{
		"username":   p.Username,
		"status":     "active",
		"expire":     expire,
		"data_limit": int64(p.DataLimitGB) * bytesPerGB,
		"inbounds":   c.inbounds,
		"note":       p.Note,
	}
	proxies := map[string]interface{}{}
	for proto, flow := range c.proxies {
		if flow == "" {
			proxies[proto] = map[string]string{}
		} else {
			proxies[proto] = map[string]string{"flow": flow}
		}
	}
	body["proxies"] = proxies

	var out marzbanUserResponse
	if err := c.call(ctx, http.MethodPost, "/api/user", token, body, &out); err != nil {
		metrics.IncProvision(string(c.Kind()), "create_error")
		return nil, err
	}
	metrics.IncProvision(string(c.Kind()), "ok")
	return c.account(out), nil
}

func (c *MarzbanClient) GetUser(ctx context.Context, username string) (*model.ProvisionedAccount, error) {
	token, err := fetchToken(ctx, c.client, c.Kind(), c.baseURL, c.username, c.password)
	if err != nil {
		return nil, err
	}
	var out marzbanUserResponse
	if err := c.call(ctx, http.MethodGet, "/api/user/"+username, token, nil, &out); err != nil {
		return nil, err
	}
	return c.account(out), nil
}

func (c *MarzbanClient) account(u marzbanUserResponse) *model.ProvisionedAccount {
	return &model.ProvisionedAccount{
		Panel:           c.Kind(),
		Username:        u.Username,
		SubscriptionURL: u.SubscriptionURL,
		DataLimitBytes:  u.DataLimit,
		ExpireAt:        u.Expire,
	}
}

func (c *MarzbanClient) call(ctx context.Context, method, path, token string, body interface{}, out interface{}) error {
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
