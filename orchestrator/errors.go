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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// UnavailableError means the upstream could not be reached at all.
type UnavailableError struct {
	Service string
	URL     string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable at %s: %v", e.Service, e.URL, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Hint tells the user what to check.
func (e *UnavailableError) Hint() string {
	return fmt.Sprintf("Cannot connect to the %s at %s. Make sure it is running and reachable.", e.Service, e.URL)
}

// StatusError is a non-2xx upstream response. Body holds the upstream error
// body unchanged.
type StatusError struct {
	Service     string
	StatusCode  int
	Body        []byte
	ContentType string
	Hint        string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, msg)
}

// NotFound reports whether the upstream answered 404.
func (e *StatusError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// TimeoutError means the upstream did not answer within the call's deadline.
type TimeoutError struct {
	Service string
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not respond within %s (%s)", e.Service, e.Timeout, e.URL)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Hint() string {
	return fmt.Sprintf("The %s is taking too long to respond. Try again shortly.", e.Service)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.NotFound()
}

// classifyTransportError maps an http.Client error to the typed errors above.
// Errors caused by the caller's own context cancellation pass through.
func classifyTransportError(service, target string, timeout time.Duration, ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return &TimeoutError{Service: service, URL: target, Timeout: timeout, Err: err}
	}
	if ctx.Err() == context.Canceled {
		return err
	}
	if isConnectionFailure(err) {
		return &UnavailableError{Service: service, URL: target, Err: err}
	}
	return fmt.Errorf("%s request failed: %w", service, err)
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
