package gmaps

import (
	"errors"
	"fmt"
	"net/http"
)

// API-level status strings the client cares about.
const (
	statusOK             = "OK"
	statusZeroResults    = "ZERO_RESULTS"
	statusOverQueryLimit = "OVER_QUERY_LIMIT"
	statusOverDailyLimit = "OVER_DAILY_LIMIT"
	statusUnknownError   = "UNKNOWN_ERROR"
)

// APIError is a failed Maps API call, carrying both the HTTP status and the
// API-level status string when one was decoded.
type APIError struct {
	HTTPStatus int
	Status     string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("maps api %s: %s (http %d)", e.Endpoint, e.Status, e.HTTPStatus)
	}
	return fmt.Sprintf("maps api %s: http %d", e.Endpoint, e.HTTPStatus)
}

// Class buckets an error by the retry behavior it warrants.
type Class int

const (
	// ClassPermanent errors will not succeed on retry.
	ClassPermanent Class = iota
	// ClassTransient errors are worth a quick retry.
	ClassTransient
	// ClassRateLimit errors need a long backoff and a rate window reset.
	ClassRateLimit
)

// Classify decides how a failed call should be retried. Quota and 429
// responses get the rate limit treatment, 5xx and UNKNOWN_ERROR a short
// retry, everything else is permanent.
func Classify(err error) Class {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Transport-level failures (timeouts, resets) are transient.
		return ClassTransient
	}

	switch apiErr.Status {
	case statusOverQueryLimit, statusOverDailyLimit:
		return ClassRateLimit
	case statusUnknownError:
		return ClassTransient
	}
	switch {
	case apiErr.HTTPStatus == http.StatusTooManyRequests:
		return ClassRateLimit
	case apiErr.HTTPStatus >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}
