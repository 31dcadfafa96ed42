package stream

import (
	"fmt"
	"time"
)

// OpenError indicates the transport could not be opened.
type OpenError struct {
	URL string
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open transport to %s: %v", e.URL, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// DroppedError indicates an established transport closed unexpectedly.
type DroppedError struct {
	Channel string
	Err     error
}

func (e *DroppedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: transport dropped", e.Channel)
	}
	return fmt.Sprintf("%s: transport dropped: %v", e.Channel, e.Err)
}

func (e *DroppedError) Unwrap() error { return e.Err }

// ValidationError describes a malformed or out-of-range inbound payload.
// It is absorbed by the validator and never surfaced to consumers.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid payload: %s", e.Reason)
	}
	return fmt.Sprintf("invalid payload field %q: %s", e.Field, e.Reason)
}

// ExhaustedError is the terminal failure reported once the automatic
// reconnection budget is spent. Only a manual Connect clears it.
type ExhaustedError struct {
	Channel  string
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up reconnecting after %d attempts", e.Channel, e.Attempts)
}

// StalenessError is the internal trigger for a forced reconnect when no
// valid data arrived for longer than the configured threshold.
type StalenessError struct {
	Channel string
	Silence time.Duration
}

func (e *StalenessError) Error() string {
	return fmt.Sprintf("%s: no data for %v, connection considered stale", e.Channel, e.Silence)
}
