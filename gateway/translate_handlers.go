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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/abdulh-dev/ML-Orchestrator/llm"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

const maxJSONBody = 1 << 20

// HeaderAPIKey carries a user's model credential as an alternative to the
// api_key body field.
const HeaderAPIKey = "X-API-Key"

// decodeJSON reads a bounded JSON body. Any failure is a ValidationError.
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil {
		return &ValidationError{Field: "body", Message: "could not read request body"}
	}
	if len(body) > maxJSONBody {
		return &ValidationError{Field: "body", Message: "request body too large"}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return &ValidationError{Field: "body", Message: "request body is empty"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

type testKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) testKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req testKeyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.sendError(w, r, err)
			return
		}
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	}
	if key == "" {
		s.sendError(w, r, &ValidationError{Field: "api_key"})
		return
	}
	if s.provider == nil {
		sendErrorResponse(w, "no model provider configured", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Verify)
	defer cancel()
	err := s.provider.Verify(ctx, key)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"valid":    true,
			"provider": s.provider.Name(),
			"model":    s.provider.Model(),
			"message":  "API key is valid",
		})
		return
	}

	s.logger.Warn(requestIDFrom(r), "API key verification failed", map[string]interface{}{"error": err.Error()})

	var credErr *llm.CredentialError
	var apiErr *llm.APIError
	switch {
	case llm.IsTimeout(err):
		sendErrorWithSuggestion(w, "API key verification timed out",
			"The model provider did not respond in time. Try again.", http.StatusGatewayTimeout)
	case errors.As(err, &credErr):
		status := credErr.StatusCode
		if status < 400 || status > 499 {
			status = http.StatusUnauthorized
		}
		sendErrorWithSuggestion(w, "API key is not valid", credErr.Reason, status)
	case errors.As(err, &apiErr):
		sendErrorWithSuggestion(w, apiErr.Error(), apiErr.Hint(), http.StatusBadGateway)
	default:
		sendErrorWithSuggestion(w, "could not reach the model provider",
			"Check the gateway's network access to the provider.", http.StatusBadGateway)
	}
}

type parseInputRequest struct {
	Input string `json:"input"`
	// Message is accepted as an alias of Input.
	Message  string               `json:"message"`
	APIKey   string               `json:"api_key"`
	Datasets []translator.Dataset `json:"datasets"`
}

func (req parseInputRequest) text() string {
	if req.Input != "" {
		return req.Input
	}
	return req.Message
}

type parseInputResponse struct {
	Success        bool                 `json:"success"`
	Workflow       *translator.Workflow `json:"workflow"`
	Source         string               `json:"source"`
	Model          string               `json:"model,omitempty"`
	Cached         bool                 `json:"cached,omitempty"`
	FallbackReason string               `json:"fallback_reason,omitempty"`
	Warnings       []string             `json:"warnings,omitempty"`
	DatasetsUsed   int                  `json:"datasets_used"`
}

func (s *Server) parseInputHandler(w http.ResponseWriter, r *http.Request) {
	s.translate(w, r, false)
}

func (s *Server) simpleWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	s.translate(w, r, true)
}

func (s *Server) translate(w http.ResponseWriter, r *http.Request, rulesOnly bool) {
	var req parseInputRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}
	if strings.TrimSpace(req.text()) == "" {
		s.sendError(w, r, &ValidationError{Field: "input"})
		return
	}
	input, err := translator.Sanitize(req.text())
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	datasets := req.Datasets
	if len(datasets) == 0 {
		datasets, err = s.enrichedDatasets(r.Context())
		if err != nil {
			s.sendError(w, r, err)
			return
		}
	}

	credential := strings.TrimSpace(req.APIKey)
	if credential == "" {
		credential = strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	}

	result, err := s.translator.Translate(r.Context(), translator.Request{
		Input:      input,
		Datasets:   datasets,
		Credential: credential,
		RulesOnly:  rulesOnly,
		RequestID:  requestIDFrom(r),
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	translationsTotal.WithLabelValues(result.Source, strconv.FormatBool(result.FallbackReason != "")).Inc()
	writeJSON(w, http.StatusOK, parseInputResponse{
		Success:        true,
		Workflow:       result.Workflow,
		Source:         result.Source,
		Model:          result.Model,
		Cached:         result.Cached,
		FallbackReason: result.FallbackReason,
		Warnings:       result.Warnings,
		DatasetsUsed:   len(datasets),
	})
}

// Example is a canned query shown in the UI.
type Example struct {
	Title       string `json:"title"`
	Query       string `json:"query"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

var examples = []Example{
	{"Profile a dataset", "Analyze my dataset and give me an overview", "Profiling plus a statistical summary", "exploration"},
	{"Correlations", "Show the correlation between all numeric columns as a heatmap", "Correlation analysis and heatmap", "exploration"},
	{"Distribution", "Create a histogram of revenue", "Histogram of a numeric column", "visualization"},
	{"Data quality", "Check data quality and report missing values", "Missing values, duplicates and type issues", "quality"},
	{"Scatter plot", "Plot units against revenue coloured by region", "Scatter plot with a colour column", "visualization"},
	{"Trends", "Show revenue over time", "Time series of a value column", "visualization"},
	{"Compare groups", "Box plot of revenue grouped by region", "Box plot with a group column", "visualization"},
	{"Full analysis", "Run a comprehensive analysis", "Profile, quality check and correlation heatmap", "exploration"},
}

func (s *Server) examplesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"examples": examples,
		"count":    len(examples),
	})
}
