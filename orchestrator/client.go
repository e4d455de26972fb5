// Copyright 2025 The ML-Orchestrator Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package orchestrator is the HTTP client for the workflow orchestrator and
// its agents.
//
// Every upstream call goes through Client.Do (or Client.Open for streamed
// bodies), which applies a per-call timeout and maps failures onto three
// error types: UnavailableError when the service cannot be reached,
// TimeoutError when it does not answer in time, and StatusError for any
// non-2xx response. The same client speaks to the gateway's /api surface by
// setting a path prefix, which is how the run monitor is wired.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abdulh-dev/ML-Orchestrator/shared/logger"
)

// Header names propagated to upstream services.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// maxErrorBody caps how much of a failed response is kept.
const maxErrorBody = 1 << 20

// Timeouts groups the per-class call deadlines.
type Timeouts struct {
	Health   time.Duration
	Read     time.Duration
	Write    time.Duration
	Artifact time.Duration
}

// DefaultTimeouts are used for zero fields in Options.Timeouts.
var DefaultTimeouts = Timeouts{
	Health:   5 * time.Second,
	Read:     10 * time.Second,
	Write:    30 * time.Second,
	Artifact: 30 * time.Second,
}

// Options configures a Client.
type Options struct {
	// Service names the upstream in errors and logs, e.g. "orchestrator".
	Service string
	BaseURL string
	// PathPrefix is prepended to every path, e.g. "/api" when talking to the
	// gateway instead of the orchestrator directly.
	PathPrefix string
	Timeouts   Timeouts
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// Client calls one upstream service.
type Client struct {
	service    string
	baseURL    string
	prefix     string
	timeouts   Timeouts
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.Service == "" {
		opts.Service = "orchestrator"
	}
	t := opts.Timeouts
	if t.Health <= 0 {
		t.Health = DefaultTimeouts.Health
	}
	if t.Read <= 0 {
		t.Read = DefaultTimeouts.Read
	}
	if t.Write <= 0 {
		t.Write = DefaultTimeouts.Write
	}
	if t.Artifact <= 0 {
		t.Artifact = DefaultTimeouts.Artifact
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.New(opts.Service + "-client")
	}
	return &Client{
		service:    opts.Service,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		prefix:     strings.TrimRight(opts.PathPrefix, "/"),
		timeouts:   t,
		httpClient: hc,
		logger:     log,
	}
}

// Service returns the upstream's name.
func (c *Client) Service() string { return c.service }

// BaseURL returns the upstream's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Timeouts returns the effective call deadlines.
func (c *Client) Timeouts() Timeouts { return c.timeouts }

// Call describes one upstream request.
type Call struct {
	Method      string
	Path        string
	Query       url.Values
	// RawQuery, when set, is sent verbatim and Query is ignored.
	RawQuery    string
	Body        io.Reader
	ContentType string
	Header      http.Header
}

// CallPolicy controls deadline and error hints for a call.
type CallPolicy struct {
	Timeout time.Duration
	// Hints maps upstream status codes to a user-facing hint carried on the
	// resulting StatusError.
	Hints map[int]string
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte
}

// Stream is an upstream response whose body has not been read. Close must be
// called; it also releases the call's deadline.
type Stream struct {
	StatusCode    int
	Header        http.Header
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
	cancel        context.CancelFunc
}

func (s *Stream) Close() error {
	err := s.Body.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

// Do performs the call and reads the whole body.
func (c *Client) Do(ctx context.Context, call Call, policy CallPolicy) (*Response, error) {
	stream, err := c.Open(ctx, call, policy)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	body, err := io.ReadAll(stream.Body)
	if err != nil {
		return nil, classifyTransportError(c.service, c.url(call), policy.Timeout, ctx, err)
	}
	return &Response{
		StatusCode:  stream.StatusCode,
		Header:      stream.Header,
		ContentType: stream.ContentType,
		Body:        body,
	}, nil
}

// Open performs the call and returns the body unread. Non-2xx responses are
// read, closed and returned as *StatusError.
func (c *Client) Open(ctx context.Context, call Call, policy CallPolicy) (*Stream, error) {
	if policy.Timeout <= 0 {
		policy.Timeout = c.timeouts.Read
	}
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.url(call)

	callCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	req, err := http.NewRequestWithContext(callCtx, method, target, call.Body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create %s request: %w", c.service, err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if call.ContentType != "" {
		req.Header.Set("Content-Type", call.ContentType)
	}
	requestID, correlationID := IDsFromContext(ctx)
	if requestID != "" && req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, requestID)
	}
	if correlationID != "" && req.Header.Get(HeaderCorrelationID) == "" {
		req.Header.Set(HeaderCorrelationID, correlationID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		cerr := classifyTransportError(c.service, target, policy.Timeout, callCtx, err)
		c.logger.Warn(requestID, "upstream call failed", map[string]interface{}{
			"service":        c.service,
			"method":         method,
			"path":           call.Path,
			"error":          cerr.Error(),
			"correlation_id": correlationID,
		})
		return nil, cerr
	}

	c.logger.Debug(requestID, "upstream call", map[string]interface{}{
		"service":        c.service,
		"method":         method,
		"path":           call.Path,
		"status":         resp.StatusCode,
		"duration_ms":    time.Since(start).Milliseconds(),
		"correlation_id": correlationID,
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{
			Service:     c.service,
			StatusCode:  resp.StatusCode,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
			Hint:        policy.Hints[resp.StatusCode],
		}
	}

	return &Stream{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
		cancel:        cancel,
	}, nil
}

func (c *Client) url(call Call) string {
	path := call.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + c.prefix + path
	if call.RawQuery != "" {
		u += "?" + call.RawQuery
	} else if len(call.Query) > 0 {
		u += "?" + call.Query.Encode()
	}
	return u
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	correlationIDKey
)

// WithIDs attaches request and correlation IDs that Do forwards upstream.
func WithIDs(ctx context.Context, requestID, correlationID string) context.Context {
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	if correlationID != "" {
		ctx = context.WithValue(ctx, correlationIDKey, correlationID)
	}
	return ctx
}

// IDsFromContext returns the IDs set by WithIDs.
func IDsFromContext(ctx context.Context) (requestID, correlationID string) {
	requestID, _ = ctx.Value(requestIDKey).(string)
	correlationID, _ = ctx.Value(correlationIDKey).(string)
	return requestID, correlationID
}
