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

// Package translator turns free-text analysis requests into orchestrator
// workflows.
//
// Translation first asks a language model (when a credential is available)
// and falls back to deterministic keyword rules on any model failure. The
// Service keeps no per-request state and is safe for concurrent use.
package translator

import (
	"context"
	"errors"
	"time"

	"github.com/abdulh-dev/ML-Orchestrator/llm"
	"github.com/abdulh-dev/ML-Orchestrator/shared/logger"
)

// DefaultModelTimeout bounds a single model call.
const DefaultModelTimeout = 30 * time.Second

// Options configures a Service.
type Options struct {
	// DefaultCredential is used when a request carries no credential.
	DefaultCredential string
	ModelTimeout      time.Duration
	MaxTokens         int
	Temperature       float64
	// Cache stores successful model translations. Nil disables caching.
	Cache Cache
	// Logger defaults to a "translator" component logger.
	Logger *logger.Logger
}

// Service implements the model-then-rules caller contract.
type Service struct {
	provider llm.Provider
	opts     Options
	logger   *logger.Logger
}

// Request is one translation request.
type Request struct {
	Input      string
	Datasets   []Dataset
	Credential string
	// RulesOnly skips the model even when a credential is available.
	RulesOnly bool
	RequestID string
}

// NewService creates a Service. provider may be nil, in which case only the
// rule-based path is used.
func NewService(provider llm.Provider, opts Options) *Service {
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = DefaultModelTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("translator")
	}
	return &Service{provider: provider, opts: opts, logger: log}
}

// ModelName reports the configured model, or "" when no provider is set.
func (s *Service) ModelName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Model()
}

// HasDefaultCredential reports whether a server-side credential is configured.
func (s *Service) HasDefaultCredential() bool {
	return s.opts.DefaultCredential != ""
}

// Translate tries the model when a credential is present and falls back to
// rules exactly once on any TranslationError.
func (s *Service) Translate(ctx context.Context, req Request) (*Result, error) {
	credential := req.Credential
	if credential == "" {
		credential = s.opts.DefaultCredential
	}

	var fallbackReason string
	if !req.RulesOnly && credential != "" && s.provider != nil {
		result, err := s.translateViaModel(ctx, req, credential)
		if err == nil {
			return result, nil
		}
		var terr *TranslationError
		if !errors.As(err, &terr) {
			return nil, err
		}
		fallbackReason = terr.Error()
		if hint := terr.Hint(); hint != "" {
			fallbackReason += " (" + hint + ")"
		}
		s.logger.Warn(req.RequestID, "model translation failed, using rules", map[string]interface{}{
			"stage": terr.Stage,
			"error": terr.Err.Error(),
		})
	}

	wf, err := TranslateWithRules(req.Input, req.Datasets)
	if err != nil {
		return nil, err
	}
	s.logger.Info(req.RequestID, "translated with rules", map[string]interface{}{
		"run_name": wf.RunName,
		"tasks":    len(wf.Tasks),
	})
	return &Result{
		Workflow:       wf,
		Source:         SourceRules,
		FallbackReason: fallbackReason,
		Warnings:       Validate(wf),
	}, nil
}

func (s *Service) translateViaModel(ctx context.Context, req Request, credential string) (*Result, error) {
	prompt := buildPrompt(req.Input, req.Datasets)
	key := cacheKey(s.provider.Model(), prompt)

	if s.opts.Cache != nil {
		if wf, ok := s.opts.Cache.Get(ctx, key); ok {
			s.logger.Debug(req.RequestID, "translation cache hit", nil)
			return &Result{Workflow: wf, Source: SourceModel, Model: s.provider.Model(), Cached: true, Warnings: Validate(wf)}, nil
		}
	}

	wf, err := s.complete(ctx, prompt, credential)
	if err != nil {
		return nil, err
	}

	if s.opts.Cache != nil {
		s.opts.Cache.Set(ctx, key, wf)
	}
	s.logger.Info(req.RequestID, "translated with model", map[string]interface{}{
		"run_name": wf.RunName,
		"tasks":    len(wf.Tasks),
		"model":    s.provider.Model(),
	})
	return &Result{Workflow: wf, Source: SourceModel, Model: s.provider.Model(), Warnings: Validate(wf)}, nil
}

// TranslateWithModel asks the model for a workflow. Every failure is
// returned as a *TranslationError.
func (s *Service) TranslateWithModel(ctx context.Context, input string, datasets []Dataset, credential string) (*Workflow, error) {
	if s.provider == nil {
		return nil, translationError(StageRequest, errors.New("no model provider configured"))
	}
	return s.complete(ctx, buildPrompt(input, datasets), credential)
}

func (s *Service) complete(ctx context.Context, prompt, credential string) (*Workflow, error) {
	if credential == "" {
		return nil, translationError(StageCredential, llm.ErrMissingCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ModelTimeout)
	defer cancel()

	resp, err := s.provider.Complete(ctx, credential, llm.Request{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		MaxTokens:    s.opts.MaxTokens,
		Temperature:  s.opts.Temperature,
	})
	if err != nil {
		var apiErr *llm.APIError
		var credErr *llm.CredentialError
		switch {
		case llm.IsTimeout(err):
			return nil, translationError(StageTimeout, err)
		case errors.As(err, &apiErr):
			return nil, translationError(StageStatus, err)
		case errors.As(err, &credErr):
			return nil, translationError(StageCredential, err)
		default:
			return nil, translationError(StageRequest, err)
		}
	}

	return parseWorkflow(resp.Content)
}
