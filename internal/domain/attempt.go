package domain

import "time"

// Outcome is the result classification of a single network attempt.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeServerError    Outcome = "server_error"
	OutcomeNetworkError   Outcome = "network_error"
	OutcomeInvalidPayload Outcome = "invalid_payload"
)

// Attempt is one network exchange within a retry sequence.
// Backoff is the delay waited after this attempt before the next one;
// it is zero for the final attempt.
type Attempt struct {
	Ordinal    int           `json:"ordinal"`
	StartedAt  time.Time     `json:"startedAt"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"statusCode,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Backoff    time.Duration `json:"backoff,omitempty"`
}
