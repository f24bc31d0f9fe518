package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrorKind buckets upstream failures per spec §4.2/§7. Only Network,
// Timeout, RateLimit and ServerError are retried; the rest are fatal for
// the call that triggered them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindTimeout
	KindRateLimit
	KindServerError
	KindAuthError
	KindClientError
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindServerError:
		return "server_error"
	case KindAuthError:
		return "auth_error"
	case KindClientError:
		return "client_error"
	default:
		return "unknown"
	}
}

// Retryable reports whether the bucket is one the gateway retries locally.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit, KindServerError:
		return true
	default:
		return false
	}
}

// UpstreamError wraps an upstream failure with its classification.
type UpstreamError struct {
	Kind ErrorKind
	Err  error
}

func (e *UpstreamError) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// ClassifyHTTP buckets an HTTP response/transport error into an ErrorKind.
func ClassifyHTTP(statusCode int, err error) ErrorKind {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return KindTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return KindTimeout
			}
			return KindNetwork
		}
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return KindTimeout
		}
		return KindNetwork
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindAuthError
	case statusCode >= 500:
		return KindServerError
	case statusCode >= 400:
		return KindClientError
	default:
		return KindUnknown
	}
}
