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

// Package llm defines the model provider contract used by the workflow
// translator and the credential check endpoint.
//
// Providers take the credential on every call. The gateway forwards the key
// a user typed into the UI, so a single provider instance serves many keys.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Request is a single-turn completion request.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64
}

// Response is the text produced by a provider.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Provider is a model backend.
type Provider interface {
	Name() string
	// Model is the default model used when Request.Model is empty.
	Model() string
	Complete(ctx context.Context, credential string, req Request) (*Response, error)
	// Verify performs the cheapest round trip that proves the credential
	// can reach the configured model.
	Verify(ctx context.Context, credential string) error
}

// CredentialError reports a missing, invalid or rate-limited credential.
type CredentialError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *CredentialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("credential error (status %d): %s", e.StatusCode, e.Reason)
	}
	return "credential error: " + e.Reason
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ErrMissingCredential is returned when no API key was supplied.
var ErrMissingCredential = &CredentialError{Reason: "no API key supplied"}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s API error (status %d", e.Provider, e.StatusCode)
	if e.Status != "" {
		msg += ", " + e.Status
	}
	msg += ")"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Hint returns the user-facing explanation for the status code.
func (e *APIError) Hint() string {
	return StatusHint(e.StatusCode)
}

// IsCredentialProblem reports whether the failure is attributable to the key
// rather than the request or the provider.
func (e *APIError) IsCredentialProblem() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	}
	return false
}

// StatusHint maps provider status codes to the hints shown to users.
func StatusHint(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Invalid API key format or malformed request. Check that the key was copied correctly."
	case http.StatusUnauthorized:
		return "API key was rejected. Generate a new key and try again."
	case http.StatusForbidden:
		return "API key does not have permission to use this model. Enable the Generative Language API for the key's project."
	case http.StatusNotFound:
		return "Model not found. Check the configured model name."
	case http.StatusTooManyRequests:
		return "Rate limit exceeded for this API key. Wait a moment and retry."
	}
	if statusCode >= 500 {
		return "The model provider is having problems. Try again later."
	}
	return ""
}

// AsCredentialError converts a provider failure into a CredentialError when
// the key is at fault. Other errors are returned unchanged.
func AsCredentialError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.IsCredentialProblem() {
		return &CredentialError{StatusCode: apiErr.StatusCode, Reason: apiErr.Hint(), Err: err}
	}
	return err
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
