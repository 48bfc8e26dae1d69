package services

import (
	"context"
	"errors"
	"net/http"
)

// Error classes surfaced to HTTP clients.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTimeout      = errors.New("conversion timed out")
)

// Error kinds reported in the error envelope.
const (
	KindInvalidInput = "invalid_input"
	KindTimeout      = "timeout"
	KindInternal     = "internal"
)

// classify maps err to its HTTP status and error kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, KindInvalidInput
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindTimeout
	default:
		return http.StatusInternalServerError, KindInternal
	}
}
