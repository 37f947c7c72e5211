package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for failure classification.
var (
	// ErrNoCredential indicates that no API key is configured. The call
	// fails immediately; there is nothing to retry.
	ErrNoCredential = errors.New("gateway: no API credential configured")

	// ErrTransient marks provider failures worth retrying: rate limits,
	// server errors, transport failures.
	ErrTransient = errors.New("gateway: transient provider failure")

	// ErrPermanent marks provider failures that will not succeed on
	// retry, such as a malformed request or an invalid model name.
	ErrPermanent = errors.New("gateway: permanent provider failure")
)

// StatusError is an HTTP failure from the provider, classified by status
// code: 429 and 5xx match ErrTransient, every other 4xx matches
// ErrPermanent.
type StatusError struct {
	Status int
	Body   string
}

// Error returns the status line with a bounded body excerpt.
func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("gateway: provider returned status %d", e.Status)
	}
	return fmt.Sprintf("gateway: provider returned status %d: %s", e.Status, body)
}

// Is reports whether this error matches the target failure class.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Status == 429 || e.Status >= 500
	case ErrPermanent:
		return e.Status >= 400 && e.Status < 500 && e.Status != 429
	}
	return false
}
