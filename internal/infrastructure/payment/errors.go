package payment

import (
	"errors"
	"fmt"
	"net/http"
)

// GatewayError is a failed call to the payment gateway. Status is 0 when the
// request never produced an HTTP response (timeout, connection refused).
type GatewayError struct {
	Status  int
	Message string
	Code    string
	Err     error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("payment gateway unreachable: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("payment gateway %d %s: %s", e.Status, e.Code, e.Message)
	default:
		return fmt.Sprintf("payment gateway %d: %s", e.Status, e.Message)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether the same call may succeed later. 4xx responses are caller faults.
func (e *GatewayError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// ClientFault reports an upstream 4xx other than rate limiting.
func (e *GatewayError) ClientFault() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// AsGatewayError unwraps err into a *GatewayError.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
