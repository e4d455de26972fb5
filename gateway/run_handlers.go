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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// startWorkflowHandler checks the workflow shape locally and forwards the
// original body unchanged.
func (s *Server) startWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil || len(body) > maxJSONBody {
		s.sendError(w, r, &ValidationError{Field: "body", Message: "could not read workflow body"})
		return
	}
	wf, err := validateWorkflowBody(body)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	resp, err := s.orch.Do(r.Context(), orchestrator.Call{
		Method:      http.MethodPost,
		Path:        "/workflows/start",
		Body:        bytes.NewReader(body),
		ContentType: "application/json",
	}, orchestrator.CallPolicy{Timeout: s.orch.Timeouts().Write, Hints: orchestrator.WorkflowHints})
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	var started orchestrator.StartResponse
	if err := json.Unmarshal(resp.Body, &started); err != nil || started.RunID == "" {
		sendErrorResponse(w, "orchestrator did not return a run_id", http.StatusBadGateway)
		return
	}

	s.logger.Info(requestIDFrom(r), "workflow started", map[string]interface{}{
		"run_id":   started.RunID,
		"run_name": wf.RunName,
		"tasks":    len(wf.Tasks),
	})
	out := map[string]interface{}{
		"success": true,
		"run_id":  started.RunID,
		"status":  started.Status,
		"message": started.Message,
	}
	if warnings := translator.Validate(wf); len(warnings) > 0 {
		out["warnings"] = warnings
	}
	writeJSON(w, http.StatusOK, out)
}

// validateWorkflowBody requires a non-empty run_name and a non-empty task
// list whose entries name an agent and an action.
func validateWorkflowBody(body []byte) (*translator.Workflow, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ValidationError{Field: "body", Message: "workflow must be a JSON object"}
	}

	var runName string
	if err := json.Unmarshal(raw["run_name"], &runName); err != nil || strings.TrimSpace(runName) == "" {
		return nil, &ValidationError{Field: "run_name"}
	}

	var tasks []translator.Task
	if err := json.Unmarshal(raw["tasks"], &tasks); err != nil {
		return nil, &ValidationError{Field: "tasks", Message: "tasks must be a list"}
	}
	if len(tasks) == 0 {
		return nil, &ValidationError{Field: "tasks", Message: "tasks must not be empty"}
	}
	for i, t := range tasks {
		if t.Agent == "" || t.Action == "" {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("tasks[%d]", i),
				Message: fmt.Sprintf("task %d needs an agent and an action", i+1),
			}
		}
	}
	return &translator.Workflow{RunName: runName, Tasks: tasks}, nil
}

func (s *Server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.orch.ListRuns(r.Context())
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	runs := make([]map[string]json.RawMessage, 0, len(list.Runs))
	for _, run := range list.Runs {
		if summary, ok := runStepSummary(run); ok {
			encoded, _ := json.Marshal(summary)
			run["step_summary"] = encoded
		}
		runs = append(runs, run)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"runs":    runs,
		"count":   len(runs),
	})
}

// runStepSummary derives a step summary for one run: from its step list when
// present, otherwise by completing the orchestrator's own summary.
func runStepSummary(run map[string]json.RawMessage) (orchestrator.StepSummary, bool) {
	if raw, ok := run["steps"]; ok {
		var steps []orchestrator.Step
		if err := json.Unmarshal(raw, &steps); err == nil {
			return orchestrator.Summarize(steps), true
		}
	}
	if raw, ok := run["step_summary"]; ok {
		var sum orchestrator.StepSummary
		if err := json.Unmarshal(raw, &sum); err == nil {
			sum.Pending = sum.Total - sum.Completed - sum.Failed - sum.Running
			if sum.Pending < 0 {
				sum.Pending = 0
			}
			return sum, true
		}
	}
	return orchestrator.StepSummary{}, false
}

// runStatusHandler forwards the orchestrator's status body byte for byte.
func (s *Server) runStatusHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	resp, err := s.orch.Do(r.Context(), orchestrator.Call{
		Method: http.MethodGet,
		Path:   "/runs/" + url.PathEscape(runID) + "/status",
	}, orchestrator.CallPolicy{Timeout: s.orch.Timeouts().Read, Hints: orchestrator.RunHints})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

func (s *Server) runStepsHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	steps, err := s.orch.Steps(r.Context(), runID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	latest := orchestrator.LatestSteps(steps.Steps)
	summary := orchestrator.Summarize(steps.Steps)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"run_id":          runID,
		"steps":           latest,
		"summary":         summary,
		"total_steps":     summary.Total,
		"completed_steps": summary.Completed,
		"failed_steps":    summary.Failed,
	})
}

func (s *Server) runStepHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, err := strconv.Atoi(vars["n"])
	if err != nil || n < 1 {
		s.sendError(w, r, &ValidationError{Field: "n", Message: "step number must be a positive integer"})
		return
	}
	step, err := s.orch.Step(r.Context(), vars["run_id"], n)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (s *Server) runArtifactsHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	arts, err := s.orch.Artifacts(r.Context(), runID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	byType := make(map[string]int)
	for _, a := range arts.Artifacts {
		t := a.Type
		if t == "" {
			t = "other"
		}
		byType[t]++
	}
	artifacts := arts.Artifacts
	if artifacts == nil {
		artifacts = []orchestrator.Artifact{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"run_id":    runID,
		"artifacts": artifacts,
		"count":     len(artifacts),
		"by_type":   byType,
	})
}

var artifactContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".json": "application/json",
	".csv":  "text/csv",
	".txt":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".pdf":  "application/pdf",
}

// contentTypeFor picks the response type from the file extension only.
func contentTypeFor(filename string) string {
	if ct, ok := artifactContentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) artifactHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID, filename := vars["run_id"], vars["filename"]

	stream, err := s.orch.OpenArtifact(r.Context(), runID, filename)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", contentTypeFor(filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.Header().Set("Cache-Control", "no-store")
	if stream.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(stream.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, stream.Body); err != nil {
		s.logger.Warn(requestIDFrom(r), "artifact stream interrupted", map[string]interface{}{
			"run_id":   runID,
			"filename": filename,
			"error":    err.Error(),
		})
	}
}

func (s *Server) artifactBase64Handler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID, filename := vars["run_id"], vars["filename"]

	resp, err := s.orch.ArtifactBytes(r.Context(), runID, filename)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"filename":     filename,
		"content_type": contentTypeFor(filename),
		"data":         base64.StdEncoding.EncodeToString(resp.Body),
		"size":         len(resp.Body),
	})
}

// passThroughHandler forwards /api/orchestrator/<path> to <path> on the
// orchestrator with method, query, body and status preserved.
// notForwarded are request headers that belong to the hop into the gateway
// or to the gateway's own auth.
var notForwarded = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Host":                true,
	"Content-Length":      true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func forwardedHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, vs := range in {
		if notForwarded[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func (s *Server) passThroughHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/orchestrator")
	if path == "" || path == "/" {
		s.sendError(w, r, &ValidationError{Field: "path", Message: "missing orchestrator path"})
		return
	}

	timeout := s.orch.Timeouts().Read
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		timeout = s.orch.Timeouts().Write
	}
	stream, err := s.orch.Open(r.Context(), orchestrator.Call{
		Method:      r.Method,
		Path:        path,
		RawQuery:    r.URL.RawQuery,
		Body:        r.Body,
		ContentType: r.Header.Get("Content-Type"),
		Header:      forwardedHeaders(r.Header),
	}, orchestrator.CallPolicy{Timeout: timeout})

	var statusErr *orchestrator.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.ContentType != "" {
			w.Header().Set("Content-Type", statusErr.ContentType)
		}
		w.WriteHeader(statusErr.StatusCode)
		w.Write(statusErr.Body)
		return
	}
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	defer stream.Close()

	if stream.ContentType != "" {
		w.Header().Set("Content-Type", stream.ContentType)
	}
	w.WriteHeader(stream.StatusCode)
	io.Copy(w, stream.Body)
}
