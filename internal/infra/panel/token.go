package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

// fetchToken performs the password-grant token exchange both panel
// flavors share: form-encoded credentials against /api/admin/token.
// Tokens are not cached; each panel call re-authenticates. Fine at this
// call volume; a cache would need expiry-aware invalidation.
func fetchToken(ctx context.Context, client *http.Client, kind model.PanelKind, baseURL, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &adapter.PanelError{Panel: kind, Kind: adapter.PanelErrAuth, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", &adapter.PanelError{Panel: kind, Kind: adapter.PanelErrAuth, Detail: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &adapter.PanelError{Panel: kind, Kind: adapter.PanelErrAuth, Detail: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &adapter.PanelError{
			Panel: kind, Kind: adapter.PanelErrAuth,
			Detail: fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.AccessToken == "" {
		return "", &adapter.PanelError{Panel: kind, Kind: adapter.PanelErrAuth, Detail: "token response missing access_token"}
	}
	return body.AccessToken, nil
}
