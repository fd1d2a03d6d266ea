// Package source implements the upstream ops API client and response
// normalization for dashboard panels.
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	opsdeck "github.com/veslov/opsdeck/internal"
	"github.com/veslov/opsdeck/internal/telemetry"
)

// maxResponseBody caps upstream response reads (8 MB) to prevent a
// misbehaving backend from causing unbounded allocation.
const maxResponseBody = 8 << 20

// UpstreamError represents a non-2xx response from the ops backend.
type UpstreamError struct {
	Resource   string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including resource, status, and body.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Resource, e.StatusCode, e.Body)
}

// Unwrap links UpstreamError to the opsdeck.ErrUpstream sentinel.
func (e *UpstreamError) Unwrap() error { return opsdeck.ErrUpstream }

// parseUpstreamError reads up to 4KB from the response body and returns an UpstreamError.
func parseUpstreamError(resource string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &UpstreamError{Resource: resource, StatusCode: resp.StatusCode, Body: string(body)}
}

// Client fetches panel data from the backend ops API and normalizes it into
// render-safe snapshots.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	tracer    trace.Tracer
}

// New creates a Client with a tuned http.Client.
// If resolver is non-nil, it wraps the transport's DialContext with cached DNS lookups.
func New(baseURL, authToken string, timeout time.Duration, resolver *dnscache.Resolver) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t := &http.Transport{
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Transport: t, Timeout: timeout},
		tracer:    telemetry.Tracer("opsdeck/source"),
	}
}

// Fetch performs a live GET against the panel's upstream resource and returns
// the normalized snapshot JSON. A millisecond cache-buster parameter defeats
// intermediary HTTP caches, matching the backend's polling contract.
func (c *Client) Fetch(ctx context.Context, p opsdeck.Panel) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.fetch",
		trace.WithAttributes(attribute.String("panel.resource", p.Resource)))
	defer span.End()

	q := url.Values{}
	for k, v := range p.Params {
		q.Set(k, v)
	}
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	target := c.baseURL + "/api/" + p.Resource + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("source: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("source: %s: %w (%w)", p.Resource, err, opsdeck.ErrUpstream)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := parseUpstreamError(p.Resource, resp)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("source: %s: read body: %w (%w)", p.Resource, err, opsdeck.ErrUpstream)
	}

	return Normalize(p.Kind, body)
}
