package transport

import (
	"errors"
	"fmt"

	"github.com/soyeahso/chatwidget/internal/domain"
)

// Kind classifies a failed exchange.
type Kind int

const (
	NetworkFailure Kind = iota
	Timeout
	RateLimited
	ServerError
	MalformedResponse
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case RateLimited:
		return "rate_limited"
	case ServerError:
		return "server_error"
	case MalformedResponse:
		return "malformed_response"
	default:
		return "network_failure"
	}
}

// Outcome maps the kind onto the attempt ledger's vocabulary.
func (k Kind) Outcome() domain.Outcome {
	switch k {
	case Timeout:
		return domain.OutcomeTimeout
	case RateLimited:
		return domain.OutcomeRateLimited
	case ServerError:
		return domain.OutcomeServerError
	case MalformedResponse:
		return domain.OutcomeInvalidPayload
	default:
		return domain.OutcomeNetworkError
	}
}

// Error is returned by Exchange for every failed attempt.
type Error struct {
	Kind       Kind
	StatusCode int    // set for RateLimited and ServerError
	Body       string // response body for ServerError
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case Timeout:
		return "request timed out"
	case RateLimited:
		return "rate limit exceeded"
	case ServerError:
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Body)
	case MalformedResponse:
		if e.Err != nil {
			return "invalid response format: " + e.Err.Error()
		}
		return "invalid response format"
	default:
		if e.Err != nil {
			return "network failure: " + e.Err.Error()
		}
		return "network failure"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err. Errors that are not a
// transport *Error count as NetworkFailure.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return NetworkFailure
}
