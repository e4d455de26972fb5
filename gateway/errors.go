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
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// ValidationError is a malformed local request, rejected before any
// upstream call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// ErrorResponse is the envelope for every error the gateway returns.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	// Upstream carries the upstream error body when it was JSON.
	Upstream json.RawMessage `json:"upstream,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Gateway] Error encoding response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}

func sendErrorWithSuggestion(w http.ResponseWriter, message, suggestion string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message, Suggestion: suggestion})
}

// sendError maps err onto a status code and envelope. Upstream status codes
// are preserved.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *ValidationError
		inputErr      *translator.InputError
		unavailable   *orchestrator.UnavailableError
		timeout       *orchestrator.TimeoutError
		statusErr     *orchestrator.StatusError
	)

	requestID := requestIDFrom(r)
	switch {
	case errors.As(err, &validationErr):
		sendErrorResponse(w, validationErr.Error(), http.StatusBadRequest)

	case errors.As(err, &inputErr):
		sendErrorWithSuggestion(w, inputErr.Error(), "Rephrase the request using plain words.", http.StatusBadRequest)

	case errors.Is(err, translator.ErrNoDataset):
		sendErrorWithSuggestion(w, err.Error(), "Upload a dataset before requesting an analysis.", http.StatusBadRequest)

	case errors.As(err, &unavailable):
		upstreamErrors.WithLabelValues(unavailable.Service, "unavailable").Inc()
		s.logger.Error(requestID, "upstream unavailable", map[string]interface{}{"service": unavailable.Service, "error": err.Error()})
		sendErrorWithSuggestion(w, fmt.Sprintf("%s is not reachable", unavailable.Service), unavailable.Hint(), http.StatusServiceUnavailable)

	case errors.As(err, &timeout):
		upstreamErrors.WithLabelValues(timeout.Service, "timeout").Inc()
		s.logger.Error(requestID, "upstream timeout", map[string]interface{}{"service": timeout.Service, "error": err.Error()})
		sendErrorWithSuggestion(w, timeout.Error(), timeout.Hint(), http.StatusGatewayTimeout)

	case errors.As(err, &statusErr):
		upstreamErrors.WithLabelValues(statusErr.Service, fmt.Sprintf("%d", statusErr.StatusCode)).Inc()
		resp := ErrorResponse{
			Success:    false,
			Error:      upstreamMessage(statusErr),
			Suggestion: statusErr.Hint,
		}
		if json.Valid(statusErr.Body) {
			resp.Upstream = statusErr.Body
		}
		writeJSON(w, statusErr.StatusCode, resp)

	default:
		s.logger.Error(requestID, "request failed", map[string]interface{}{"error": err.Error()})
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

// upstreamMessage pulls a readable message out of an upstream error body.
// FastAPI style {"detail": ...} and {"error": ...} are recognised.
func upstreamMessage(se *orchestrator.StatusError) string {
	var body map[string]interface{}
	if err := json.Unmarshal(se.Body, &body); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if v, ok := body[key].(string); ok && v != "" {
				return v
			}
		}
	}
	if text := strings.TrimSpace(string(se.Body)); text != "" && len(text) <= 500 {
		return text
	}
	return fmt.Sprintf("%s returned %d", se.Service, se.StatusCode)
}
