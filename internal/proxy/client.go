// Package proxy forwards verified requests to a workload's app endpoint,
// per spec.md §4.7. It is the Go translation of proxy/client.py's
// ProxyClient and proxy/router.py's routing.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
)

// defaultRequestTimeout matches proxy_request_timeout_seconds's documented
// default in spec.md §6.
const defaultRequestTimeout = 30 * time.Second

// Client forwards HTTP requests to an app's endpoint.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client whose underlying http.Client follows redirects
// (httpx's follow_redirects=True) and enforces requestTimeout per call.
func NewClient(requestTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: requestTimeout}}
}

// Forward builds and issues the outbound request to targetURL, copying
// method/body/filtered-headers from incoming, and returns the upstream
// response as received; ResponseHeaders filters its headers for
// re-emission. Callers are responsible for closing the returned response
// body.
func (c *Client) Forward(ctx context.Context, method, targetURL string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, body)
	if err != nil {
		return nil, fmt.Errorf("proxy: build request: %w", err)
	}
	for k, vs := range filterHeaders(header, skipRequestHeaders, strings.ToLower) {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, classifiedError{kind: errkind.UpstreamTimeout, err: err}
		}
		return nil, classifiedError{kind: errkind.UpstreamError, err: err}
	}
	return resp, nil
}

// ResponseHeaders filters an upstream response's headers for re-emission
// to the original client.
func ResponseHeaders(h http.Header) http.Header {
	filtered := filterHeaders(h, skipResponseHeaders, strings.ToLower)
	out := make(http.Header, len(filtered))
	for k, vs := range filtered {
		out[k] = vs
	}
	return out
}

// classifiedError carries a stable errkind alongside the underlying
// transport error, so the HTTP layer can pick a status code without
// string-matching error text.
type classifiedError struct {
	kind string
	err  error
}

func (e classifiedError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.err) }
func (e classifiedError) Unwrap() error { return e.err }

// Kind extracts the errkind from err if it is (or wraps) a classifiedError,
// defaulting to errkind.UpstreamError.
func Kind(err error) string {
	var ce classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return errkind.UpstreamError
}
