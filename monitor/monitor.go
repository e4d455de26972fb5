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

// Package monitor follows workflow runs from the client side. A Monitor
// submits workflows and polls their status, steps and, on completion,
// artifacts. Each run has at most one active poller.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/shared/logger"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// DefaultInterval is the time between status polls.
const DefaultInterval = 2 * time.Second

const defaultEventBuffer = 64

// API is the subset of the orchestrator client the monitor uses. It is
// satisfied by *orchestrator.Client pointed at either the orchestrator or
// the gateway.
type API interface {
	StartWorkflow(ctx context.Context, wf *translator.Workflow) (*orchestrator.StartResponse, error)
	RunStatus(ctx context.Context, runID string) (*orchestrator.RunStatus, error)
	Steps(ctx context.Context, runID string) (*orchestrator.StepsResponse, error)
	Artifacts(ctx context.Context, runID string) (*orchestrator.ArtifactsResponse, error)
	ArtifactBytes(ctx context.Context, runID, filename string) (*orchestrator.Response, error)
}

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	// MaxDuration bounds a poller's lifetime. Zero means unbounded.
	MaxDuration time.Duration
	// SkipArtifactBytes fetches artifact metadata only.
	SkipArtifactBytes bool
	EventBuffer       int
	Registry          *Registry
	Logger            *logger.Logger
}

// Monitor starts and tracks pollers.
type Monitor struct {
	api      API
	opts     Options
	registry *Registry
	logger   *logger.Logger
}

// New creates a Monitor.
func New(api API, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("monitor")
	}
	return &Monitor{api: api, opts: opts, registry: reg, logger: log}
}

// Registry returns the registry of active pollers.
func (m *Monitor) Registry() *Registry { return m.registry }

// Submit starts wf and begins polling the new run. The poller lives until
// the run ends, the handle is stopped, or ctx is done.
func (m *Monitor) Submit(ctx context.Context, wf *translator.Workflow) (*Handle, error) {
	started, err := m.api.StartWorkflow(ctx, wf)
	if err != nil {
		return nil, err
	}
	m.logger.Info("", "workflow submitted", map[string]interface{}{
		"run_id":   started.RunID,
		"run_name": wf.RunName,
		"tasks":    len(wf.Tasks),
	})
	return m.start(ctx, started.RunID, started)
}

// Watch begins polling an existing run.
func (m *Monitor) Watch(ctx context.Context, runID string) (*Handle, error) {
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	return m.start(ctx, runID, nil)
}

func (m *Monitor) start(ctx context.Context, runID string, started *orchestrator.StartResponse) (*Handle, error) {
	return m.registry.Start(ctx, runID, m.opts.EventBuffer, func(ctx context.Context, h *Handle) {
		if started != nil {
			h.setState(StateSubmitted)
			h.emit(ctx, Event{Type: EventSubmitted, Message: started.Message})
		}
		m.poll(ctx, h)
	})
}

// poller carries the state of one polling loop.
type poller struct {
	m           *Monitor
	h           *Handle
	maxProgress float64
	lastMessage string
}

func (m *Monitor) poll(ctx context.Context, h *Handle) {
	h.setState(StatePolling)
	p := &poller{m: m, h: h, maxProgress: -1}

	var deadline <-chan time.Time
	if m.opts.MaxDuration > 0 {
		timer := time.NewTimer(m.opts.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		if p.once(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			m.logger.Info("", "polling stopped", map[string]interface{}{"run_id": h.runID})
			h.finish(h.State(), nil, ErrStopped)
			return
		case <-deadline:
			m.logger.Warn("", "polling timed out", map[string]interface{}{
				"run_id":       h.runID,
				"max_duration": m.opts.MaxDuration.String(),
			})
			h.finish(h.State(), nil, ErrPollTimeout)
			h.emit(ctx, Event{Type: EventTimeout, Err: ErrPollTimeout, Message: ErrPollTimeout.Error()})
			return
		case <-ticker.C:
		}
	}
}

// once performs one poll and reports whether the run reached a terminal
// status.
func (p *poller) once(ctx context.Context) bool {
	m, h := p.m, p.h

	status, err := m.api.RunStatus(ctx, h.runID)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("", "status poll failed", map[string]interface{}{"run_id": h.runID, "error": err.Error()})
			h.emit(ctx, Event{Type: EventPollError, Err: err, Message: err.Error()})
		}
		return false
	}

	var steps []orchestrator.Step
	if resp, err := m.api.Steps(ctx, h.runID); err != nil {
		if ctx.Err() == nil {
			h.emit(ctx, Event{Type: EventPollError, Err: err, Message: err.Error()})
		}
	} else {
		steps = orchestrator.LatestSteps(resp.Steps)
	}

	terminal := orchestrator.IsTerminal(status.Status)
	if !terminal && status.Progress < p.maxProgress {
		msg := fmt.Sprintf("progress went from %.1f to %.1f", p.maxProgress, status.Progress)
		m.logger.Warn("", "progress regression", map[string]interface{}{
			"run_id":   h.runID,
			"previous": p.maxProgress,
			"current":  status.Progress,
		})
		h.emit(ctx, Event{Type: EventWarning, Message: msg, Status: status})
		status.Progress = p.maxProgress
	} else if status.Progress > p.maxProgress {
		p.maxProgress = status.Progress
	}

	msg := progressText(status, steps)
	if msg != p.lastMessage || terminal {
		p.lastMessage = msg
		h.emit(ctx, Event{
			Type:    EventProgress,
			Message: msg,
			Status:  status,
			Steps:   steps,
			Summary: orchestrator.Summarize(steps),
		})
	}

	switch status.Status {
	case orchestrator.StatusCompleted:
		result := p.collect(ctx, status, steps)
		h.finish(StateCompleted, result, nil)
		m.logger.Info("", "run completed", map[string]interface{}{
			"run_id":    h.runID,
			"artifacts": len(result.Artifacts),
		})
		h.emit(ctx, Event{Type: EventCompleted, Status: status, Steps: steps, Message: "Run completed"})
		return true

	case orchestrator.StatusFailed:
		runErr := &RunFailedError{RunID: h.runID, Message: status.ErrorMessage}
		h.finish(StateFailed, &Result{RunID: h.runID, Status: status, Steps: steps}, runErr)
		m.logger.Warn("", "run failed", map[string]interface{}{"run_id": h.runID, "error": status.ErrorMessage})
		h.emit(ctx, Event{Type: EventFailed, Status: status, Steps: steps, Err: runErr, Message: runErr.Error()})
		return true
	}
	return false
}

// collect fetches artifact metadata exactly once, then each artifact's bytes.
func (p *poller) collect(ctx context.Context, status *orchestrator.RunStatus, steps []orchestrator.Step) *Result {
	m, h := p.m, p.h
	result := &Result{
		RunID:          h.runID,
		Status:         status,
		Steps:          steps,
		Files:          make(map[string][]byte),
		ArtifactErrors: make(map[string]error),
	}

	arts, err := m.api.Artifacts(ctx, h.runID)
	if err != nil {
		result.ArtifactErrors[""] = err
		h.emit(ctx, Event{Type: EventArtifactError, Err: err, Message: "could not list artifacts: " + err.Error()})
		return result
	}
	result.Artifacts = arts.Artifacts

	if m.opts.SkipArtifactBytes {
		return result
	}
	for i := range arts.Artifacts {
		a := &arts.Artifacts[i]
		resp, err := m.api.ArtifactBytes(ctx, h.runID, a.Filename)
		if err != nil {
			result.ArtifactErrors[a.Filename] = err
			h.emit(ctx, Event{Type: EventArtifactError, Artifact: a, Err: err, Message: err.Error()})
			continue
		}
		result.Files[a.Filename] = resp.Body
		h.emit(ctx, Event{Type: EventArtifact, Artifact: a, Data: resp.Body, Message: a.Filename})
	}
	return result
}

// progressText renders one line describing where the run is.
func progressText(status *orchestrator.RunStatus, steps []orchestrator.Step) string {
	sum := orchestrator.Summarize(steps)
	total := sum.Total
	if status.TotalSteps > total {
		total = status.TotalSteps
	}

	switch status.Status {
	case orchestrator.StatusCompleted:
		return fmt.Sprintf("Completed %d/%d steps", sum.Completed, total)
	case orchestrator.StatusFailed:
		if status.ErrorMessage != "" {
			return "Failed: " + status.ErrorMessage
		}
		return fmt.Sprintf("Failed after %d/%d steps", sum.Completed, total)
	}

	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.Status == orchestrator.StepRunning {
			return fmt.Sprintf("Step %d/%d: %s.%s (%.0f%%)", s.StepNumber, total, s.Agent, s.Action, status.Progress)
		}
	}
	if status.CurrentTask != "" {
		return fmt.Sprintf("%s (%.0f%%)", status.CurrentTask, status.Progress)
	}
	return fmt.Sprintf("%s (%.0f%%)", status.Status, status.Progress)
}
