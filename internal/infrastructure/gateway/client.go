// Package gateway holds the transport shared by the provider adapters:
// credential handling with one re-authentication retry, failure
// classification and status normalization.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fiscalhub/pkg/logger"
)

var tracer = otel.Tracer("fiscalhub/gateway")

// Default call timeouts. Emission waits for the authority, queries do not.
const (
	DefaultEmitTimeout  = 60 * time.Second
	DefaultQueryTimeout = 15 * time.Second
)

// Timeouts configures per-call deadlines of an adapter.
type Timeouts struct {
	Emit  time.Duration
	Query time.Duration
}

// WithDefaults fills unset timeouts.
func (t Timeouts) WithDefaults() Timeouts {
	if t.Emit <= 0 {
		t.Emit = DefaultEmitTimeout
	}
	if t.Query <= 0 {
		t.Query = DefaultQueryTimeout
	}
	return t
}

// maxBodySize bounds what is read from an upstream response (PDFs included).
const maxBodySize = 32 << 20

// ErrCredentials marks a failure to obtain credentials before the call was sent.
var ErrCredentials = errors.New("gateway credentials unavailable")

// CredentialSource authorizes outgoing requests.
type CredentialSource interface {
	// Authorize sets the authentication of req, fetching a credential if needed.
	Authorize(ctx context.Context, req *http.Request) error
	// Invalidate drops any cached credential so the next Authorize fetches a fresh one.
	Invalidate()
}

// Request describes one upstream call.
type Request struct {
	Operation string // span and log name, e.g. "emit_goods"
	Method    string
	Path      string // relative to the base URL, or absolute
	Query     url.Values
	Body      []byte
	// ContentType defaults to application/json when Body is set.
	ContentType string
	Accept      string
	Timeout     time.Duration
}

// Response is a fully read upstream answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Client executes upstream calls for one vendor account.
type Client struct {
	vendor  string
	baseURL string
	http    *http.Client
	creds   CredentialSource
}

// NewClient creates a client. A nil httpClient uses a default client without
// a global timeout; every Request carries its own.
func NewClient(vendor, baseURL string, creds CredentialSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		vendor:  vendor,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		creds:   creds,
	}
}

// Vendor returns the vendor name used in spans and logs.
func (c *Client) Vendor() string { return c.vendor }

// Do sends r. A 401 answer invalidates the credential and the request is sent
// once more with a fresh one; a second 401 is returned as is. The returned
// error is non-nil only when no HTTP answer was received.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gateway."+r.Operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.vendor", c.vendor),
		attribute.String("gateway.operation", r.Operation),
	)

	var (
		resp *Response
		err  error
	)
	for attempt := range 2 {
		resp, err = c.send(ctx, r)
		if err != nil || resp.StatusCode != http.StatusUnauthorized || attempt == 1 {
			break
		}
		logger.Info(ctx, "gateway credential refused, re-authenticating",
			"vendor", c.vendor, "operation", r.Operation)
		c.creds.Invalidate()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if !resp.OK() {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, r Request) (*Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, c.url(r), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.Body != nil {
		ct := r.ContentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	accept := r.Accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)

	if err := c.creds.Authorize(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentials, err)
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		logger.Warn(ctx, "gateway call failed",
			"vendor", c.vendor, "operation", r.Operation, "error", err, "latency", time.Since(start))
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	logger.Debug(ctx, "gateway call",
		"vendor", c.vendor, "method", r.Method, "path", r.Path,
		"status", httpResp.StatusCode, "latency", time.Since(start))
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) url(r Request) string {
	u := r.Path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(u, "/")
	}
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

// BasicToken authorizes with a static API token as the basic-auth username.
type BasicToken string

// Authorize implements CredentialSource.
func (t BasicToken) Authorize(_ context.Context, req *http.Request) error {
	if t == "" {
		return errors.New("empty api token")
	}
	req.SetBasicAuth(string(t), "")
	return nil
}

// Invalidate implements CredentialSource. A static token has nothing to refresh.
func (BasicToken) Invalidate() {}
