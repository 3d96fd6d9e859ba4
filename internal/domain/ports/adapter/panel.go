package adapter

import (
	"context"
	"fmt"

	"vpn-subscription-shop/internal/domain/model"
)

// CreateUserParams are the normalized user-creation inputs; each panel
// client translates them into its flavor's request shape.
type CreateUserParams struct {
	Username     string
	DataLimitGB  int
	DurationDays int
	Note         string
}

type PanelErrorKind string

const (
	PanelErrAuth   PanelErrorKind = "auth"   // bad credentials / unreachable panel
	PanelErrCreate PanelErrorKind = "create" // duplicate username, quota exceeded, ...
)

// PanelError distinguishes authentication failures from user-creation
// failures; both are fatal to the current operation.
type PanelError struct {
	Panel  model.PanelKind
	Kind   PanelErrorKind
	Detail string
}

func (e *PanelError) Error() string {
	return fmt.Sprintf("panel %s: %s failed: %s", e.Panel, e.Kind, e.Detail)
}

// PanelClient is the hex port for VPN panel backends. Authenticate must
// complete before CreateUser/GetUser; implementations re-authenticate per
// call and do not cache the token.
type PanelClient interface {
	Kind() model.PanelKind
	CreateUser(ctx context.Context, p CreateUserParams) (*model.ProvisionedAccount, error)
	GetUser(ctx context.Context, username string) (*model.ProvisionedAccount, error)
}
