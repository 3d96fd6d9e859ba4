package adapter

import "context"

// PaymentRequest carries the normalized initiation parameters every
// gateway implementation translates into its own wire shape.
type PaymentRequest struct {
	AmountIRR   int64
	Mobile      string
	Email       string
	CallbackURL string
	Description string
}

// VerifyState is the canonical outcome of one verification call.
type VerifyState int

const (
	// VerifyPaid: the provider confirmed the payment.
	VerifyPaid VerifyState = iota
	// VerifyFailed: the provider explicitly reported failure, or replied
	// with a non-2xx status (code and body are preserved).
	VerifyFailed
	// VerifyMalformed: the provider body did not parse as JSON. The raw
	// payload is preserved (truncated) so callers can tell "unreachable"
	// from "misbehaving".
	VerifyMalformed
	// VerifyPending: the provider has not settled the payment yet. The
	// order stays awaiting and a later verification re-drives it.
	VerifyPending
)

// MaxRawBody bounds how much of a malformed provider body is kept.
const MaxRawBody = 500

// VerifyOutcome is a tagged union over the three verification results.
// Exactly the fields matching State are populated.
type VerifyOutcome struct {
	State      VerifyState
	RefID      string // Paid
	AmountIRR  int64  // Paid: amount the provider confirmed
	Reason     string // Failed/Pending: provider message
	StatusCode int    // Failed: HTTP status when non-2xx
	RawBody    string // Malformed: provider body, truncated to MaxRawBody
}

func Paid(refID string, amount int64) VerifyOutcome {
	return VerifyOutcome{State: VerifyPaid, RefID: refID, AmountIRR: amount}
}

func Failed(reason string, statusCode int) VerifyOutcome {
	return VerifyOutcome{State: VerifyFailed, Reason: reason, StatusCode: statusCode}
}

func Pending(reason string) VerifyOutcome {
	return VerifyOutcome{State: VerifyPending, Reason: reason}
}

func Malformed(rawBody string) VerifyOutcome {
	if len(rawBody) > MaxRawBody {
		rawBody = rawBody[:MaxRawBody]
	}
	return VerifyOutcome{State: VerifyMalformed, RawBody: rawBody}
}

// PaymentGateway is the hex port for payment providers.
//
// Request performs one initiation call and returns the provider authority
// plus the redirect URL; it never returns a URL without an authority.
// Verify performs exactly one outbound verification call; leaf adapters do
// not retry. Transport failures are returned as error; provider-level
// failure and malformed bodies are encoded in the outcome.
type PaymentGateway interface {
	Name() string
	Request(ctx context.Context, req PaymentRequest) (authority, payURL string, err error)
	Verify(ctx context.Context, authority string, amountIRR int64) (VerifyOutcome, error)
}
