// Package httpfetch is the default net/http-backed implementation of the
// sync state machine's Fetcher collaborator: a per-request deadline plus a
// small bounded retry with exponential backoff for transient network
// errors. See spec §4.9 (expansion), §6.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/rpmqd/rpmqd"
)

// CheckResponse reports an error if resp's status code is not one of
// acceptableCodes, including a short excerpt of the response body so the
// caller's error message names something diagnosable.
func CheckResponse(resp *http.Response, acceptableCodes ...int) error {
	if slices.Contains(acceptableCodes, resp.StatusCode) {
		return nil
	}
	limitBody, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err == nil {
		return fmt.Errorf("unexpected status code: %q for %q (body starts: %q)", resp.Status, resp.Request.URL.Redacted(), limitBody)
	}
	return fmt.Errorf("unexpected status code: %q for %q", resp.Status, resp.Request.URL.Redacted())
}

// Fetcher is the interface the sync state machine depends on for its two
// GET operations (repomd.xml, primary.xml). See spec §4.9, §6.
type Fetcher interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// Client is the default Fetcher: a wrapped *http.Client with a per-request
// deadline, an optional shared rate limiter, and bounded exponential
// backoff retry for transient (network-level, not 4xx/5xx) errors.
type Client struct {
	HTTP    *http.Client
	Timeout time.Duration
	// Limiter, if set, paces requests (e.g. one Client shared across many
	// repository hosts behind the same rate budget). Nil means unlimited.
	Limiter *rate.Limiter
	// MaxRetries bounds the bounded-backoff retry loop for transient
	// errors. Zero means DefaultMaxRetries.
	MaxRetries int
}

// DefaultMaxRetries is the retry budget when Client.MaxRetries is unset.
const DefaultMaxRetries = 3

// DefaultTimeout is the per-request deadline when Client.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// New returns a Client wrapping http.DefaultClient with default timeout and
// retry settings and no rate limiting.
func New() *Client {
	return &Client{HTTP: http.DefaultClient}
}

// Get performs a GET against url, retrying transient network errors with
// exponential backoff up to MaxRetries times. A non-2xx HTTP response is
// not retried: it is reported immediately via CheckResponse's error.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	const op = "httpfetch.Get"

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrNetwork, op, err)
		}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	operation := func() (io.ReadCloser, error) {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(rpmqd.Wrap(rpmqd.ErrNetwork, op, err))
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			if isTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(rpmqd.Wrap(rpmqd.ErrNetwork, op, err))
		}
		if err := CheckResponse(resp, http.StatusOK); err != nil {
			resp.Body.Close()
			return nil, backoff.Permanent(rpmqd.Wrap(rpmqd.ErrNetwork, op, err))
		}
		return resp.Body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(maxRetries)+1))
	if err != nil {
		var perr *rpmqd.Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, rpmqd.Wrap(rpmqd.ErrNetwork, op, err)
	}
	return body, nil
}

// isTransient reports whether err is a connection-level failure worth
// retrying (timeouts, connection reset, DNS hiccups) as opposed to a
// permanent request construction or HTTP-status failure.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
