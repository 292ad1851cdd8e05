// Package upstream forwards requests to the target OpenAI-compatible API,
// passing the client's headers through and optionally overriding the
// Authorization header with a configured API key.
package upstream

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
)

// Client makes requests to the target API base.
type Client struct {
	BaseURL string
	Verbose bool
	Debug   bool

	// No client timeout: SSE streams are long-lived. Cancellation comes
	// from the inbound request context.
	httpClient *http.Client
	dumpMu     sync.Mutex
}

// NewClient creates a new upstream client. When apiKey is non-empty every
// outgoing request carries it as a bearer token, replacing whatever the
// inbound client sent.
func NewClient(baseURL, apiKey string, verbose, debug bool) *Client {
	hc := &http.Client{}
	if apiKey != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey})
		hc = oauth2.NewClient(context.Background(), src)
	}
	return &Client{
		BaseURL:    baseURL,
		Verbose:    verbose,
		Debug:      debug,
		httpClient: hc,
	}
}

// Post sends a JSON body to BaseURL+path, forwarding the inbound headers and
// query string.
func (c *Client) Post(ctx context.Context, path string, body []byte, inbound http.Header, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, inbound)
	req.Header.Set("Content-Type", "application/json")
	req.URL.RawQuery = query.Encode()

	if c.Debug {
		c.writeDebugDumpBlock("UPSTREAM REQUEST "+path, body)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if c.Verbose {
		slog.Info("upstream.response", "path", path, "status", resp.StatusCode)
	}
	c.dumpResponseBody(resp)
	return resp, nil
}

// Get forwards a GET to BaseURL+path with the inbound headers and query.
func (c *Client) Get(ctx context.Context, path string, inbound http.Header, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, inbound)
	req.URL.RawQuery = query.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if c.Verbose {
		slog.Info("upstream.response", "path", path, "status", resp.StatusCode)
	}
	return resp, nil
}

// copyHeaders forwards inbound headers except hop-specific ones the
// transport recomputes.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		switch http.CanonicalHeaderKey(k) {
		case "Host", "Content-Length", "Accept-Encoding", "Connection":
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
