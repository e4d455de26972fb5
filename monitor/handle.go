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

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
)

// State is the monitor's view of a run.
type State string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	// ErrStopped is returned by Wait when the poller was stopped before the
	// run reached a terminal status.
	ErrStopped = errors.New("polling stopped")
	// ErrPollTimeout is returned by Wait when MaxDuration elapsed first.
	ErrPollTimeout = errors.New("polling exceeded the maximum duration")
)

// RunFailedError is returned by Wait for a run that ended FAILED.
type RunFailedError struct {
	RunID   string
	Message string
}

func (e *RunFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("run %s failed", e.RunID)
	}
	return fmt.Sprintf("run %s failed: %s", e.RunID, e.Message)
}

// EventType classifies an Event.
type EventType string

const (
	EventSubmitted     EventType = "submitted"
	EventProgress      EventType = "progress"
	EventPollError     EventType = "poll_error"
	EventWarning       EventType = "warning"
	EventArtifact      EventType = "artifact"
	EventArtifactError EventType = "artifact_error"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
	EventTimeout       EventType = "timeout"
)

// Event is one observation emitted by a poller.
type Event struct {
	Type    EventType
	RunID   string
	State   State
	Time    time.Time
	Message string

	Status  *orchestrator.RunStatus
	Steps   []orchestrator.Step
	Summary orchestrator.StepSummary

	Artifact *orchestrator.Artifact
	Data     []byte
	Err      error
}

// Result is what a finished poller observed.
type Result struct {
	RunID     string
	Status    *orchestrator.RunStatus
	Steps     []orchestrator.Step
	Artifacts []orchestrator.Artifact
	// Files holds artifact bytes keyed by filename.
	Files map[string][]byte
	// ArtifactErrors holds per-artifact fetch failures, and the metadata
	// fetch failure under the empty key.
	ArtifactErrors map[string]error
}

// Handle controls one poller. Stop may be called any number of times.
type Handle struct {
	runID  string
	events chan Event
	cancel context.CancelFunc

	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	state  State
	result *Result
	err    error
}

func newHandle(runID string, buffer int, cancel context.CancelFunc) *Handle {
	return &Handle{
		runID:  runID,
		events: make(chan Event, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
	}
}

// RunID is the run being polled.
func (h *Handle) RunID() string { return h.runID }

// Events delivers observations in order and is closed when polling ends.
// The poller blocks while the buffer is full, so callers must drain it.
func (h *Handle) Events() <-chan Event { return h.events }

// Done is closed once polling has ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop ends polling. Nothing is sent upstream; the run continues.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Wait blocks until polling ends or ctx is done and returns the outcome.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) finish(s State, result *Result, err error) {
	h.mu.Lock()
	h.state = s
	h.result = result
	h.err = err
	h.mu.Unlock()
}

// emit delivers ev unless the poller has been stopped.
func (h *Handle) emit(ctx context.Context, ev Event) {
	ev.RunID = h.runID
	ev.State = h.State()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case h.events <- ev:
	case <-ctx.Done():
	}
}

func (h *Handle) close() {
	h.closeOnce.Do(func() {
		close(h.events)
		close(h.done)
	})
}
