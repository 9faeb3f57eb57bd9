package executor

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/studiowebux/surge/internal/transport"
	"github.com/studiowebux/surge/internal/types"
)

// ClassifyTransportError maps a transport failure to an error bucket.
func ClassifyTransportError(err error) types.ErrorType {
	if err == nil {
		return types.ErrorUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || transport.IsFastHTTPTimeout(err) {
		return types.ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ErrorTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return types.ErrorNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return types.ErrorNetwork
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage is the heuristic fallback over an error message.
func ClassifyMessage(message string) types.ErrorType {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return types.ErrorTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "eof"):
		return types.ErrorNetwork
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "forbidden"):
		return types.ErrorAuthentication
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "malformed"),
		strings.Contains(msg, "validation"):
		return types.ErrorValidation
	case strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "server error"):
		return types.ErrorServer
	default:
		return types.ErrorUnknown
	}
}

// ClassifyResponse buckets a response that counted as a failure:
// synthetic responses by their transport error, real responses by
// status code.
func ClassifyResponse(resp *types.HttpResponse) types.ErrorType {
	if resp.IsSynthetic() {
		switch resp.StatusCode {
		case types.StatusSyntheticTimeout:
			return types.ErrorTimeout
		case types.StatusSyntheticRefused:
			return types.ErrorNetwork
		default:
			return ClassifyMessage(resp.Error)
		}
	}

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return types.ErrorAuthentication
	case resp.StatusCode >= 500:
		return types.ErrorServer
	case resp.StatusCode == 408:
		return types.ErrorTimeout
	default:
		return types.ErrorUnknown
	}
}
