// Copyright 2025 The ML-Orchestrator Authors
// SPDX-License-Identifier: BUSL-1.1

// Package gemini implements llm.Provider for the Google Gemini REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/abdulh-dev/ML-Orchestrator/llm"
)

const (
	// DefaultBaseURL is the Gemini API base URL.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the Gemini API version.
	DefaultAPIVersion = "v1beta"

	// DefaultModel is used when neither the config nor the request names one.
	DefaultModel = "gemini-2.0-flash"

	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.1
)

// HTTPClient interface for dependency injection in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider talks to generateContent. It holds no credential of its own.
type Provider struct {
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
	healthy    bool
	mu         sync.RWMutex
}

// Config holds Gemini provider configuration.
type Config struct {
	BaseURL    string
	APIVersion string
	Model      string
	// Timeout bounds the underlying HTTP client. Callers normally bound each
	// call with a context deadline as well.
	Timeout time.Duration
}

// NewProvider creates a Gemini provider.
func NewProvider(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Provider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     &http.Client{Timeout: cfg.Timeout},
		healthy:    true,
	}
}

// SetHTTPClient replaces the HTTP client (for testing).
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

func (p *Provider) Name() string  { return "gemini" }
func (p *Provider) Model() string { return p.model }

// IsHealthy reports whether the last call reached the API without a
// transport or 5xx failure.
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	p.healthy = healthy
	p.mu.Unlock()
}

// Complete sends a single-turn generateContent request.
func (p *Provider) Complete(ctx context.Context, credential string, req llm.Request) (*llm.Response, error) {
	if credential == "" {
		return nil, llm.ErrMissingCredential
	}
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = DefaultTemperature
	}

	body, err := json.Marshal(buildAPIRequest(req.Prompt, req.SystemPrompt, maxTokens, temperature))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPost, p.modelURL(model, ":generateContent", credential), body)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var content strings.Builder
	if len(apiResp.Candidates) > 0 {
		for _, part := range apiResp.Candidates[0].Content.Parts {
			content.WriteString(part.Text)
		}
	}

	out := &llm.Response{
		Content: content.String(),
		Model:   model,
		Latency: time.Since(start),
	}
	if apiResp.UsageMetadata != nil {
		out.InputTokens = apiResp.UsageMetadata.PromptTokenCount
		out.OutputTokens = apiResp.UsageMetadata.CandidatesTokenCount
	}
	return out, nil
}

// Verify fetches the configured model's metadata, which exercises the key,
// the project permissions and the model name without spending tokens.
func (p *Provider) Verify(ctx context.Context, credential string) error {
	if credential == "" {
		return llm.ErrMissingCredential
	}
	resp, err := p.do(ctx, http.MethodGet, p.modelURL(p.model, "", credential), nil)
	if err != nil {
		return llm.AsCredentialError(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

func (p *Provider) modelURL(model, action, credential string) string {
	return fmt.Sprintf("%s/%s/models/%s%s?key=%s",
		p.baseURL, p.apiVersion, url.PathEscape(model), action, url.QueryEscape(credential))
}

// do executes the request and turns non-200 responses into *llm.APIError.
// The caller owns the returned body.
func (p *Provider) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = fmt.Errorf("%s %s: %w", uerr.Op, redactKey(uerr.URL), uerr.Err)
		}
		log.Printf("[Gemini] request failed: %v", err)
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			p.setHealthy(false)
		}
		return nil, parseAPIError(resp.StatusCode, raw)
	}

	p.setHealthy(true)
	return resp, nil
}

func buildAPIRequest(prompt, systemPrompt string, maxTokens int, temperature float64) map[string]any {
	apiReq := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": prompt}},
			},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": maxTokens,
			"temperature":     temperature,
		},
	}
	if systemPrompt != "" {
		apiReq["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": systemPrompt}},
		}
	}
	return apiReq
}

func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	apiErr := &llm.APIError{Provider: "gemini", StatusCode: statusCode}
	if err := json.Unmarshal(body, &errResp); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	apiErr.Status = errResp.Error.Status
	apiErr.Message = errResp.Error.Message
	return apiErr
}

// redactKey strips the key query parameter from transport error messages,
// which embed the request URL.
func redactKey(s string) string {
	idx := strings.Index(s, "key=")
	if idx == -1 {
		return s
	}
	end := strings.IndexAny(s[idx:], "&\" ")
	if end == -1 {
		return s[:idx] + "key=REDACTED"
	}
	return s[:idx] + "key=REDACTED" + s[idx+end:]
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}
