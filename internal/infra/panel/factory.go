package panel

import (
	"fmt"

	"vpn-subscription-shop/internal/config"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

// BuildClients turns the configured panel list into PanelClient
// instances keyed by kind. Later entries of the same kind win; one
// client per kind is enough for this deployment shape.
func BuildClients(cfgs []config.PanelConfig) (map[model.PanelKind]adapter.PanelClient, error) {
	clients := make(map[model.PanelKind]adapter.PanelClient, len(cfgs))
	for _, pc := range cfgs {
		switch model.PanelKind(pc.Kind) {
		case model.PanelMarzban:
			clients[model.PanelMarzban] = NewMarzbanClient(pc.BaseURL, pc.Username, pc.Password, pc.Inbounds, pc.Proxies)
		case model.PanelMarzneshin:
			clients[model.PanelMarzneshin] = NewMarzneshinClient(pc.BaseURL, pc.Username, pc.Password, pc.Services)
		default:
			return nil, fmt.Errorf("unknown panel kind %q", pc.Kind)
		}
	}
	return clients, nil
}
