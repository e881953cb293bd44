package gateway

import (
	"errors"
	"net/http"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ledger"
)

var statuses = []struct {
	err    error
	status int
}{
	{ledger.ErrInvalidArgument, http.StatusBadRequest},
	{ledger.ErrUnauthorized, http.StatusForbidden},
	{ledger.ErrNotFound, http.StatusNotFound},
	{ledger.ErrInsufficientPayment, http.StatusPaymentRequired},
	{ledger.ErrInactive, http.StatusConflict},
	{ledger.ErrAlreadyPurchased, http.StatusConflict},
	{ledger.ErrTransferFailed, http.StatusBadGateway},
}

// StatusFor maps a ledger error kind to its HTTP status.
func StatusFor(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
