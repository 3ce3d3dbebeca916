package scrape

import (
	"errors"
	"fmt"
)

// ErrCaptchaBlocked indicates a challenge was detected with no solver
// configured. Fatal to the current item only.
var ErrCaptchaBlocked = errors.New("captcha challenge detected and no solver configured")

// ErrNetworkTimeout indicates a navigation or handler exceeded its timeout.
// Fatal to the current item only; re-enqueue policy belongs to the platform.
var ErrNetworkTimeout = errors.New("network operation timed out")

// ErrQueueClosed is returned by Dequeue once the work queue has drained.
var ErrQueueClosed = errors.New("work queue closed")

// InvalidProxyCountryError reports a country code that is not a recognized
// ISO-3166-1 alpha-2 code. Raised before any issuance call.
type InvalidProxyCountryError struct {
	Code string
}

func (e *InvalidProxyCountryError) Error() string {
	return fmt.Sprintf("invalid proxy country code %q: not an ISO-3166-1 alpha-2 code", e.Code)
}

// CaptchaSolveExhaustedError reports that the external solver failed on
// every allowed attempt. Fatal to the current item only.
type CaptchaSolveExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *CaptchaSolveExhaustedError) Error() string {
	return fmt.Sprintf("captcha solver exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *CaptchaSolveExhaustedError) Unwrap() error {
	return e.LastErr
}
