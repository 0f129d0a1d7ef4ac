package billing

import (
	"errors"
	"fmt"

	"github.com/pressfolio/backend/internal/payjp"
)

var (
	// ErrInvalidPlan is returned when the requested plan does not exist or
	// is no longer offered.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrNoPaymentMethod is returned when the account has no gateway
	// customer (no card registered).
	ErrNoPaymentMethod = errors.New("no payment method registered")

	// ErrNotRecurring is returned when cancellation is attempted on a
	// one-time record or one whose auto-renewal is already off.
	ErrNotRecurring = errors.New("subscription is not recurring or already cancelled")

	// ErrGatewayRejected wraps a gateway-side rejection (card declined,
	// validation failure). The gateway message is preserved verbatim.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")

	// ErrGatewayUnavailable wraps network failures and timeouts talking to
	// the gateway. Retryable.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrRecordNotFound is returned when an operation requires a current
	// subscription record and the account has none.
	ErrRecordNotFound = errors.New("subscription record not found")
)

// mapGatewayErr folds the gateway client's error shapes into the service
// taxonomy, keeping rejection messages intact for the caller.
func mapGatewayErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, payjp.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	var apiErr *payjp.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", ErrGatewayRejected, apiErr.Message)
	}
	return err
}
