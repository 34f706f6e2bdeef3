package tokenclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/failure"
)

const snippetLimit = 1024

type httpStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Snippet    string
}

func (e httpStatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d (%s)", e.StatusCode, e.Snippet)
}

// parseRetryAfter supports seconds and HTTP-date.
func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			return time.Duration(s) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return 0
}

// classifyTransport maps a failed round trip.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failure.New(failure.Timeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failure.New(failure.Timeout, err)
	}
	return failure.New(failure.NetworkFailure, err)
}

// classifyStatus maps a non-200 response. The body snippet is only kept
// for statuses that cannot echo credentials back.
func classifyStatus(resp *http.Response) error {
	se := httpStatusError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, snippetLimit))

	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden:
		return failure.New(failure.AuthRejected, se)
	case code == http.StatusRequestTimeout:
		return failure.New(failure.Timeout, se)
	case code == http.StatusTooManyRequests || (code >= 500 && code <= 599):
		se.RetryAfter = parseRetryAfter(resp)
		se.Snippet = strings.TrimSpace(string(data))
		fe := failure.New(failure.NetworkFailure, se)
		fe.RetryAfter = se.RetryAfter
		return fe
	default:
		se.Snippet = strings.TrimSpace(string(data))
		return failure.New(failure.MalformedResponse, se)
	}
}

func malformed(format string, args ...any) error {
	return failure.Newf(failure.MalformedResponse, format, args...)
}
