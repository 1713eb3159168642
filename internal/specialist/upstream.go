package specialist

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/googleapis/gax-go/v2/apierror"
)

// Upstream failure reasons surfaced to callers. The core never retries on
// its own; Retryable only tells the caller whether a retry could help.
const (
	ReasonQuota     = "quota"
	ReasonRegion    = "region"
	ReasonSafety    = "safety"
	ReasonNetwork   = "network"
	ReasonBackend   = "backend"
	ReasonTruncated = "truncated"
)

// UpstreamError wraps a backend failure with a retryable/non-retryable
// classification.
type UpstreamError struct {
	Reason    string
	Retryable bool
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s error: %v", e.Reason, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// WrapUpstream classifies a backend error. Context cancellation passes
// through untouched so the pipeline can report it as cancelled rather than
// failed.
func WrapUpstream(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPCode() {
		case http.StatusTooManyRequests:
			return &UpstreamError{Reason: ReasonQuota, Retryable: true, Err: err}
		case http.StatusForbidden:
			return &UpstreamError{Reason: ReasonRegion, Retryable: false, Err: err}
		default:
			if apiErr.HTTPCode() >= 500 {
				return &UpstreamError{Reason: ReasonBackend, Retryable: true, Err: err}
			}
			return &UpstreamError{Reason: ReasonBackend, Retryable: false, Err: err}
		}
	}
	return &UpstreamError{Reason: ReasonNetwork, Retryable: true, Err: err}
}

// safetyError marks a content-safety rejection from the backend.
func safetyError(detail string) *UpstreamError {
	return &UpstreamError{Reason: ReasonSafety, Retryable: false, Err: errors.New(detail)}
}

// truncatedError marks a response cut off at the output token limit. Not
// retryable: the same request hits the same limit. The partial text was
// already streamed; the exchange must not be committed as if it were whole.
func truncatedError() *UpstreamError {
	return &UpstreamError{Reason: ReasonTruncated, Retryable: false, Err: errors.New("response truncated at max output tokens")}
}
