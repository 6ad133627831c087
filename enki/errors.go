package enki

import (
	"fmt"
	"strings"
)

// TransportError means the gateway could not be reached or kept failing
// after all retries. Status is zero when the failure never produced an
// HTTP response.
type TransportError struct {
	Status int
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("enki api error %d: %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("enki api unreachable: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// InvalidValueError rejects a command patch before any network call.
type InvalidValueError struct {
	Field string
	Value string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %q", e.Field, e.Value)
}

// DeviceRejectedError means the backend refused a well-formed command.
// The device-side reason is unknown, so it is never retried automatically.
type DeviceRejectedError struct {
	Status int
	Body   string
}

func (e *DeviceRejectedError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("device rejected command: %d", e.Status)
	}
	return fmt.Sprintf("device rejected command: %d: %s", e.Status, body)
}
