package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// Classify wraps err with the matching domain sentinel.
// Errors that already carry a sentinel, context cancellation and errors of
// unknown shape are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrUpstreamUnavailable) ||
		errors.Is(err, domain.ErrUpstreamRateLimited) ||
		errors.Is(err, domain.ErrDecode) ||
		errors.Is(err, domain.ErrNotYetMined) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrap(domain.ErrUpstreamUnavailable, err)
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		if sentinel := ClassifyHTTPStatus(httpErr.StatusCode); sentinel != nil {
			return wrap(sentinel, err)
		}
		return err
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		if sentinel := classifyJSONRPCCode(rpcErr); sentinel != nil {
			return wrap(sentinel, err)
		}
		return err
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.ResourceExhausted:
			return wrap(domain.ErrUpstreamRateLimited, err)
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return wrap(domain.ErrUpstreamUnavailable, err)
		case codes.DataLoss, codes.InvalidArgument:
			return wrap(domain.ErrDecode, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return wrap(domain.ErrUpstreamUnavailable, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return wrap(domain.ErrDecode, err)
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, rateLimitTokens):
		return wrap(domain.ErrUpstreamRateLimited, err)
	case containsAny(lower, unavailableTokens):
		return wrap(domain.ErrUpstreamUnavailable, err)
	}
	return err
}

// ClassifyHTTPStatus returns the sentinel for an HTTP status code, or nil
// for codes that say nothing about upstream health.
func ClassifyHTTPStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusForbidden:
		return domain.ErrUpstreamRateLimited
	case code >= 500, code == http.StatusRequestTimeout:
		return domain.ErrUpstreamUnavailable
	}
	return nil
}

// Retryable reports whether an immediate retry may succeed.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrUpstreamUnavailable)
}

func classifyJSONRPCCode(e *Error) error {
	lower := strings.ToLower(e.Message)
	switch {
	case e.Code == -32005 || containsAny(lower, rateLimitTokens):
		return domain.ErrUpstreamRateLimited
	case e.Code == -32700:
		return domain.ErrDecode
	case e.Code == -32603 || (e.Code <= -32000 && e.Code >= -32099):
		return domain.ErrUpstreamUnavailable
	}
	return nil
}

func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var rateLimitTokens = []string{
	"too many requests",
	"rate limit",
	"rate-limit",
	"quota",
	"plan limit",
	"count exceeded",
	"throttled",
}

var unavailableTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"eof",
	"server closed idle connection",
}
