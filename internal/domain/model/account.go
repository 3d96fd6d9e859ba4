package model

// PanelKind selects one of the two supported VPN panel flavors.
type PanelKind string

const (
	PanelMarzban    PanelKind = "marzban"    // inbound/proxy lists, fixed client id
	PanelMarzneshin PanelKind = "marzneshin" // service-id lists, expire-strategy enum
)

// ProvisionedAccount is the normalized shape both panel clients return.
// Immutable once written into a Subscription (renewals are out of scope).
type ProvisionedAccount struct {
	Panel           PanelKind
	Username        string
	SubscriptionURL string
	DataLimitBytes  int64
	ExpireAt        int64 // epoch seconds
}
