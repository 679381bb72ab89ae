package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrNoAccessToken     = errors.New("no accessToken returned")
	ErrMalformedResponse = errors.New("malformed response")
	ErrResponseTooLarge  = errors.New("response too large")

	// ErrRenewalFailed is wrapped by every error Renew returns. The other
	// renewal errors only say why, for logs and metrics.
	ErrRenewalFailed    = errors.New("renewal failed")
	ErrRenewalRejected  = errors.New("renewal rejected by gateway")
	ErrRenewalTransport = errors.New("renewal request failed")
	ErrRenewalMalformed = errors.New("renewal response malformed")
)

// ResponseError is a non-success response from the gateway. Body holds the
// response text verbatim.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func renewalError(reason error, format string, v ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrRenewalFailed, reason, fmt.Sprintf(format, v...))
}

// renewalReason reports which of the renewal causes err carries, for labels.
func renewalReason(err error) string {
	switch {
	case errors.Is(err, ErrRenewalRejected):
		return "rejected"
	case errors.Is(err, ErrRenewalTransport):
		return "transport"
	case errors.Is(err, ErrRenewalMalformed):
		return "malformed"
	default:
		return "error"
	}
}
