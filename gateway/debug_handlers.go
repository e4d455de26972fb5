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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// healthHandler reports gateway liveness. It always answers 200; a missing
// upstream only degrades the status field.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Health)
	defer cancel()

	components := map[string]bool{
		"translator":        s.translator != nil,
		"model_credential":  s.translator != nil && s.translator.HasDefaultCredential(),
		"orchestrator":      false,
		"archive_enabled":   s.archiver != nil,
		"rate_limit_shared": s.limiter != nil && s.redis != nil,
	}
	if _, err := s.orch.Health(ctx); err == nil {
		components["orchestrator"] = true
	}
	if s.redis != nil {
		components["redis"] = s.redis.Ping(ctx).Err() == nil
	}
	if hp, ok := s.provider.(interface{ IsHealthy() bool }); ok {
		components["model_provider"] = hp.IsHealthy()
	}

	status := "healthy"
	if !components["orchestrator"] {
		status = "degraded"
	}
	health := map[string]interface{}{
		"status":         status,
		"service":        "ml-orchestrator-gateway",
		"version":        Version,
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"components":     components,
	}
	if s.translator != nil {
		health["model"] = s.translator.ModelName()
	}
	writeJSON(w, http.StatusOK, health)
}

// apiHealthHandler forwards the orchestrator's health document.
func (s *Server) apiHealthHandler(w http.ResponseWriter, r *http.Request) {
	upstream, err := s.orch.Health(r.Context())
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"gateway": map[string]interface{}{
			"status":  "healthy",
			"version": Version,
		},
		"orchestrator": upstream,
	})
}

// ServiceCheck is the result of one connectivity check.
type ServiceCheck struct {
	Service   string `json:"service"`
	URL       string `json:"url"`
	Reachable bool   `json:"reachable"`
	LatencyMs int64  `json:"latency_ms"`
	Status    int    `json:"status_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

func checkService(ctx context.Context, c *orchestrator.Client) ServiceCheck {
	p := ServiceCheck{Service: c.Service(), URL: c.BaseURL()}
	start := time.Now()
	_, err := c.Health(ctx)
	p.LatencyMs = time.Since(start).Milliseconds()

	var (
		unavailable *orchestrator.UnavailableError
		timeout     *orchestrator.TimeoutError
		statusErr   *orchestrator.StatusError
	)
	switch {
	case err == nil:
		p.Reachable = true
		p.Status = http.StatusOK
	case errors.As(err, &statusErr):
		// It answered, just not with 2xx.
		p.Reachable = true
		p.Status = statusErr.StatusCode
		p.Error = statusErr.Error()
	case errors.As(err, &unavailable):
		p.Error = err.Error()
		p.Hint = unavailable.Hint()
	case errors.As(err, &timeout):
		p.Error = err.Error()
		p.Hint = timeout.Hint()
	default:
		p.Error = err.Error()
	}
	return p
}

func (s *Server) connectivityHandler(w http.ResponseWriter, r *http.Request) {
	var clients []*orchestrator.Client
	for _, c := range []*orchestrator.Client{s.orch, s.eda, s.graphing} {
		if c != nil {
			clients = append(clients, c)
		}
	}

	checks := make([]ServiceCheck, len(clients))
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *orchestrator.Client) {
			defer wg.Done()
			checks[i] = checkService(r.Context(), c)
		}(i, c)
	}
	wg.Wait()

	all := true
	for _, p := range checks {
		all = all && p.Reachable
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"all_reachable": all,
		"services":      checks,
		"timestamp":     time.Now().UTC(),
	})
}

// fileLocationHandler reports where an uploaded file is visible: in the
// orchestrator's dataset list and to the graphing agent.
func (s *Server) fileLocationHandler(w http.ResponseWriter, r *http.Request) {
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		s.sendError(w, r, &ValidationError{Field: "filename"})
		return
	}
	ctx := r.Context()

	orchResult := map[string]interface{}{"found": false}
	datasets, err := s.orch.ListDatasets(ctx)
	if err != nil {
		orchResult["error"] = err.Error()
	} else {
		for _, d := range datasets {
			if d.Filename == filename {
				orchResult["found"] = true
				orchResult["dataset"] = d
				orchResult["description"] = describeDataset(d)
				break
			}
		}
		orchResult["dataset_count"] = len(datasets)
	}

	agentResult := map[string]interface{}{"found": false}
	if s.graphing != nil {
		info, err := s.graphing.DatasetInfo(ctx, filename)
		if err != nil {
			agentResult["error"] = err.Error()
		} else {
			agentResult["found"] = true
			if info.Columns != nil {
				agentResult["column_count"] = len(info.Columns.All)
			}
			agentResult["shape"] = info.Shape
		}
	}

	var suggestion string
	inOrch, _ := orchResult["found"].(bool)
	inAgent, _ := agentResult["found"].(bool)
	switch {
	case inOrch && !inAgent:
		suggestion = "The orchestrator has the file but the graphing agent cannot read it. Check that both share the upload directory."
	case !inOrch && inAgent:
		suggestion = "The graphing agent can read the file but the orchestrator does not list it. Re-upload through the gateway."
	case !inOrch && !inAgent:
		suggestion = "The file was not found. Upload it first."
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"filename":       filename,
		"orchestrator":   orchResult,
		"graphing_agent": agentResult,
		"suggestion":     suggestion,
	})
}

func describeDataset(d translator.Dataset) string {
	if d.Shape == nil {
		return d.Filename
	}
	return fmt.Sprintf("%s (%d rows x %d columns)", d.Filename, d.Shape.Rows, d.Shape.Columns)
}
