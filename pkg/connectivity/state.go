// Package connectivity tracks whether the network is reachable from the
// outcomes of real upstream requests and signals when it comes back.
package connectivity

import (
	"time"
)

// DefaultFailureThreshold is the number of consecutive network failures
// after which the proxy considers itself offline.
const DefaultFailureThreshold = 3

// State represents the current connectivity state.
type State struct {
	// Online is false once FailureThreshold consecutive failures were seen.
	Online bool `json:"online"`

	// ConsecutiveFailures counts network failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastChange is when Online last flipped.
	LastChange time.Time `json:"last_change"`

	// LastSuccess is when a response was last received.
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// OfflineFor returns how long the proxy has been offline, or 0 when online.
func (s State) OfflineFor() time.Duration {
	if s.Online || s.LastChange.IsZero() {
		return 0
	}
	return time.Since(s.LastChange)
}
