// Package rpc provides the JSON-RPC client used to talk to chain nodes and
// maps raw transport failures onto the domain error taxonomy.
//
// Every error leaving this package wraps one of domain.ErrUpstreamUnavailable,
// domain.ErrUpstreamRateLimited or domain.ErrDecode when its cause is known,
// so callers branch with errors.Is and never inspect messages.
package rpc

import (
	"fmt"
	"strings"
)

// Error is a JSON-RPC error object returned by a node.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPStatusError is returned for any non-200 answer.
type HTTPStatusError struct {
	StatusCode int
	Body       string
	RetryAfter string
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if e.RetryAfter != "" {
		return fmt.Sprintf("http %d (retry after %s): %s", e.StatusCode, e.RetryAfter, body)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, body)
}
