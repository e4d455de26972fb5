// Copyright 2025 The ML-Orchestrator Authors
// SPDX-License-Identifier: BUSL-1.1

package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/abdulh-dev/ML-Orchestrator/llm"
)

// mockHTTPClient is a mock HTTP client for testing
type mockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

func successResponse(text string) *http.Response {
	body := `{"candidates":[{"content":{"role":"model","parts":[{"text":` + quote(text) + `}]},"finishReason":"STOP"}],` +
		`"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":34,"totalTokenCount":46}}`
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func errorResponse(status int, apiStatus, message string) *http.Response {
	body := `{"error":{"code":` + itoa(status) + `,"message":` + quote(message) + `,"status":"` + apiStatus + `"}}`
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestComplete(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p := NewProvider(Config{})
		var captured *http.Request
		var capturedBody map[string]any
		p.SetHTTPClient(&mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			captured = req
			raw, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(raw, &capturedBody)
			return successResponse(`{"run_name":"x","tasks":[]}`), nil
		}})

		resp, err := p.Complete(context.Background(), "AIza-test", llm.Request{Prompt: "hello", MaxTokens: 100, Temperature: 0.2})
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if resp.Content != `{"run_name":"x","tasks":[]}` {
			t.Errorf("unexpected content %q", resp.Content)
		}
		if resp.InputTokens != 12 || resp.OutputTokens != 34 {
			t.Errorf("unexpected usage %d/%d", resp.InputTokens, resp.OutputTokens)
		}
		if resp.Model != DefaultModel {
			t.Errorf("expected default model, got %s", resp.Model)
		}

		if captured.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", captured.Method)
		}
		if !strings.HasSuffix(captured.URL.Path, "/v1beta/models/gemini-2.0-flash:generateContent") {
			t.Errorf("unexpected path %s", captured.URL.Path)
		}
		if captured.URL.Query().Get("key") != "AIza-test" {
			t.Errorf("expected key query param")
		}
		genCfg, _ := capturedBody["generationConfig"].(map[string]any)
		if genCfg["maxOutputTokens"] != float64(100) {
			t.Errorf("expected maxOutputTokens 100, got %v", genCfg["maxOutputTokens"])
		}
	})

	t.Run("missing credential never calls the API", func(t *testing.T) {
		p := NewProvider(Config{})
		p.SetHTTPClient(&mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("HTTP client should not be called")
			return nil, nil
		}})

		_, err := p.Complete(context.Background(), "", llm.Request{Prompt: "hello"})
		var credErr *llm.CredentialError
		if !errors.As(err, &credErr) {
			t.Fatalf("expected CredentialError, got %v", err)
		}
	})

	t.Run("api errors carry status and hint", func(t *testing.T) {
		cases := []struct {
			status int
			want   string
		}{
			{400, "Invalid API key"},
			{403, "permission"},
			{404, "Model not found"},
			{429, "Rate limit"},
		}
		for _, c := range cases {
			p := NewProvider(Config{})
			p.SetHTTPClient(&mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
				return errorResponse(c.status, "FAILED", "nope"), nil
			}})
			_, err := p.Complete(context.Background(), "k", llm.Request{Prompt: "x"})
			var apiErr *llm.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("status %d: expected APIError, got %v", c.status, err)
			}
			if apiErr.StatusCode != c.status || apiErr.Message != "nope" {
				t.Errorf("status %d: unexpected error %+v", c.status, apiErr)
			}
			if !strings.Contains(apiErr.Hint(), c.want) {
				t.Errorf("status %d: hint %q missing %q", c.status, apiErr.Hint(), c.want)
			}
		}
	})

	t.Run("5xx marks provider unhealthy", func(t *testing.T) {
		p := NewProvider(Config{})
		p.SetHTTPClient(&mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 503, Body: io.NopCloser(bytes.NewBufferString("overloaded"))}, nil
		}})
		_, err := p.Complete(context.Background(), "k", llm.Request{Prompt: "x"})
		if err == nil {
			t.Fatal("expected error")
		}
		if p.IsHealthy() {
			t.Error("expected unhealthy after 503")
		}
	})

	t.Run("transport error does not leak key", func(t *testing.T) {
		p := NewProvider(Config{})
		p.SetHTTPClient(&mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			return nil, &url.Error{Op: "Post", URL: req.URL.String(), Err: context.DeadlineExceeded}
		}})
		_, err := p.Complete(context.Background(), "super-secret", llm.Request{Prompt: "x"})
		if err == nil {
			t.Fatal("expected error")
		}
		if strings.Contains(err.Error(), "super-secret") {
			t.Errorf("error leaks key: %v", err)
		}
		if !llm.IsTimeout(err) {
			t.Errorf("expected timeout classification for %v", err)
		}
	})
}

func TestVerify(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p := NewProvider(Config{Model: "gemini-2.5-flash"})
		p.SetHTTPClient(&mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			if req.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", req.Method)
			}
			if !strings.HasSuffix(req.URL.Path, "/models/gemini-2.5-flash") {
				t.Errorf("unexpected path %s", req.URL.Path)
			}
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(`{"name":"models/gemini-2.5-flash"}`))}, nil
		}})
		if err := p.Verify(context.Background(), "k"); err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
	})

	t.Run("forbidden becomes credential error", func(t *testing.T) {
		p := NewProvider(Config{})
		p.SetHTTPClient(&mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			return errorResponse(403, "PERMISSION_DENIED", "denied"), nil
		}})
		err := p.Verify(context.Background(), "k")
		var credErr *llm.CredentialError
		if !errors.As(err, &credErr) {
			t.Fatalf("expected CredentialError, got %v", err)
		}
		if credErr.StatusCode != 403 {
			t.Errorf("expected 403, got %d", credErr.StatusCode)
		}
	})

	t.Run("unknown model stays an api error", func(t *testing.T) {
		p := NewProvider(Config{Model: "gemini-0"})
		p.SetHTTPClient(&mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			return errorResponse(404, "NOT_FOUND", "no such model"), nil
		}})
		err := p.Verify(context.Background(), "k")
		var apiErr *llm.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
			t.Fatalf("expected 404 APIError, got %v", err)
		}
	})
}

func TestRedactKey(t *testing.T) {
	got := redactKey(`https://x/v1beta/models/m?key=abc123&alt=sse`)
	if strings.Contains(got, "abc123") || !strings.Contains(got, "alt=sse") {
		t.Errorf("unexpected redaction %q", got)
	}
	if redactKey("no query") != "no query" {
		t.Error("strings without a key must be unchanged")
	}
}
