// Copyright 2025 The ML-Orchestrator Authors
// SPDX-License-Identifier: BUSL-1.1

// Package openai implements llm.Provider for OpenAI-compatible chat
// completion APIs (OpenAI, OpenRouter, local gateways).
package openai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/abdulh-dev/ML-Orchestrator/llm"
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 2048
)

// Config holds OpenAI-compatible provider configuration.
type Config struct {
	// BaseURL includes the version segment, e.g. https://openrouter.ai/api/v1.
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Provider builds a go-openai client per call because the credential is
// supplied per request.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewProvider(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Provider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: cfg.HTTPClient,
	}
}

func (p *Provider) Name() string  { return "openai" }
func (p *Provider) Model() string { return p.model }

func (p *Provider) client(credential string) *goopenai.Client {
	config := goopenai.DefaultConfig(credential)
	if p.baseURL != "" {
		config.BaseURL = p.baseURL
	}
	if p.httpClient != nil {
		config.HTTPClient = p.httpClient
	}
	return goopenai.NewClientWithConfig(config)
}

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

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := p.client(credential).CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &llm.Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Latency:      time.Since(start),
	}, nil
}

// Verify retrieves the configured model, which fails on a bad key or an
// unknown model name.
func (p *Provider) Verify(ctx context.Context, credential string) error {
	if credential == "" {
		return llm.ErrMissingCredential
	}
	if _, err := p.client(credential).GetModel(ctx, p.model); err != nil {
		return llm.AsCredentialError(mapError(err))
	}
	return nil
}

// mapError converts go-openai errors into *llm.APIError so callers see the
// same types for every provider.
func mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &llm.APIError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Status:     apiErr.Type,
			Message:    apiErr.Message,
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &llm.APIError{
			Provider:   "openai",
			StatusCode: reqErr.HTTPStatusCode,
			Status:     reqErr.HTTPStatus,
			Message:    msg,
		}
	}
	log.Printf("[OpenAI] request failed: %v", err)
	return fmt.Errorf("openai request failed: %w", err)
}
