package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"vpn-subscription-shop/internal/domain/ports/adapter"
)

// TransferGateway backs the manual card-to-card method. There is no
// provider to call: Request mints a local authority so the order can be
// tracked, and Verify always reports not-yet-paid. The admin decision
// path, not verification, moves these orders forward.
type TransferGateway struct {
	cardNumber string // destination card shown to the customer
}

func NewTransferGateway(cardNumber string) *TransferGateway {
	return &TransferGateway{cardNumber: cardNumber}
}

func (g *TransferGateway) Name() string { return "transfer" }

func (g *TransferGateway) Request(ctx context.Context, req adapter.PaymentRequest) (string, string, error) {
	authority := "tr-" + uuid.NewString()
	return authority, "", nil
}

func (g *TransferGateway) Verify(ctx context.Context, authority string, amountIRR int64) (adapter.VerifyOutcome, error) {
	return adapter.Pending(fmt.Sprintf("manual transfer %s awaits admin approval", authority)), nil
}
