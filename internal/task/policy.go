package task

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what a source task publishes when its fetch fails.
type FailurePolicy int

const (
	// PolicyDrop publishes the empty payload, removing the app.
	PolicyDrop FailurePolicy = iota
	// PolicyStale republishes the last cached payload.
	PolicyStale
	// PolicyErrorMessage publishes the source's error payload.
	PolicyErrorMessage
	// PolicyRaise propagates the error to the executor, which then falls
	// back to the cached payload.
	PolicyRaise
)

func (p FailurePolicy) String() string {
	switch p {
	case PolicyDrop:
		return "drop"
	case PolicyStale:
		return "stale"
	case PolicyErrorMessage:
		return "error_message"
	case PolicyRaise:
		return "raise"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseFailurePolicy accepts the numeric codes used in config files (0-3)
// as well as the policy names.
func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "drop":
		return PolicyDrop, nil
	case "1", "stale":
		return PolicyStale, nil
	case "2", "error", "error_message":
		return PolicyErrorMessage, nil
	case "3", "raise":
		return PolicyRaise, nil
	default:
		return PolicyDrop, fmt.Errorf("unknown failure policy %q (use 0-3 or drop/stale/error_message/raise)", raw)
	}
}

// DefaultErrorPayload is shown by PolicyErrorMessage when a source does not
// provide its own.
func DefaultErrorPayload() Payload {
	return Payload{"textCase": 2, "text": "Error", "color": "#666666"}
}

// ResolveFailure maps a failed fetch to the payload to publish.
//
// cached is the last successful payload (nil when absent) and errPayload the
// source-specific error message (nil selects DefaultErrorPayload). A non-nil
// error is returned only for PolicyRaise.
func ResolveFailure(policy FailurePolicy, err error, cached, errPayload Payload) (Payload, error) {
	switch policy {
	case PolicyStale:
		return cached, nil
	case PolicyErrorMessage:
		if errPayload == nil {
			return DefaultErrorPayload(), nil
		}
		return errPayload, nil
	case PolicyRaise:
		return nil, err
	default:
		return Empty(), nil
	}
}
