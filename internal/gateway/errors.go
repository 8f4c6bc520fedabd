package gateway

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when every attempt timed out.
var ErrTimeout = errors.New("gateway: request timed out after all attempts")

// StatusError is a non-2xx HTTP response from the gateway.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Body)
}

// RejectedError is a 2xx response whose body reports status "failed".
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "gateway rejected request: " + e.Reason
}
