package ledger

import "errors"

// Error kinds returned by Ledger operations. Callers match them with
// errors.Is; the returned errors carry additional context.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("listing not found")
	ErrUnauthorized        = errors.New("caller is not the listing owner")
	ErrInactive            = errors.New("listing is inactive")
	ErrAlreadyPurchased    = errors.New("listing already purchased")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrTransferFailed      = errors.New("payment transfer failed")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidArgument, "invalid_argument"},
	{ErrNotFound, "not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInactive, "inactive"},
	{ErrAlreadyPurchased, "already_purchased"},
	{ErrInsufficientPayment, "insufficient_payment"},
	{ErrTransferFailed, "transfer_failed"},
}

// Code returns a stable snake_case identifier for err's kind, "ok" for nil
// and "internal" for anything that is not a ledger error.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
