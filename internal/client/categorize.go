package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/forecast-digest-service/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout         ErrorCategory = "timeout"
	ErrorCategoryNetwork         ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey   ErrorCategory = "invalid_api_key"
	ErrorCategoryDatasetNotFound ErrorCategory = "dataset_not_found"
	ErrorCategoryRateLimited     ErrorCategory = "rate_limited"
	ErrorCategoryUpstream        ErrorCategory = "upstream"
	ErrorCategoryUnsuccessful    ErrorCategory = "unsuccessful_response"
	ErrorCategoryCircuitOpen     ErrorCategory = "circuit_open"
	ErrorCategoryParsing         ErrorCategory = "parsing"
	ErrorCategoryUnknown         ErrorCategory = "unknown"
)

// CategorizeError maps an upstream error to an ErrorCategory. Sentinels are
// checked before message heuristics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrDatasetNotFound):
		return ErrorCategoryDatasetNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	case errors.Is(err, ErrUnsuccessfulResponse):
		return ErrorCategoryUnsuccessful
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout"):
		return ErrorCategoryTimeout
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") || strings.Contains(errStr, "no such host"):
		return ErrorCategoryNetwork
	case strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal"):
		return ErrorCategoryParsing
	}
	return ErrorCategoryUnknown
}
