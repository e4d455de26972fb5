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
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/shared/logger"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

var _ API = (*orchestrator.Client)(nil)

type fakeAPI struct {
	mu sync.Mutex

	statuses   []orchestrator.RunStatus
	statusErrs map[int]error
	steps      []orchestrator.Step
	artifacts  []orchestrator.Artifact
	files      map[string][]byte
	startErr   error

	started       []*translator.Workflow
	statusCalls   int
	stepsCalls    int
	artifactCalls int
	byteCalls     map[string]int
}

func (f *fakeAPI) StartWorkflow(ctx context.Context, wf *translator.Workflow) (*orchestrator.StartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, wf)
	return &orchestrator.StartResponse{RunID: "run-1", Status: orchestrator.StatusStarted, Message: "started"}, nil
}

func (f *fakeAPI) RunStatus(ctx context.Context, runID string) (*orchestrator.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.statusCalls
	f.statusCalls++
	if err := f.statusErrs[i]; err != nil {
		return nil, err
	}
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	s := f.statuses[i]
	s.RunID = runID
	return &s, nil
}

func (f *fakeAPI) Steps(ctx context.Context, runID string) (*orchestrator.StepsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepsCalls++
	return &orchestrator.StepsResponse{RunID: runID, Steps: f.steps}, nil
}

func (f *fakeAPI) Artifacts(ctx context.Context, runID string) (*orchestrator.ArtifactsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifactCalls++
	return &orchestrator.ArtifactsResponse{Artifacts: f.artifacts, Count: len(f.artifacts)}, nil
}

func (f *fakeAPI) ArtifactBytes(ctx context.Context, runID, filename string) (*orchestrator.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byteCalls == nil {
		f.byteCalls = make(map[string]int)
	}
	f.byteCalls[filename]++
	data, ok := f.files[filename]
	if !ok {
		return nil, &orchestrator.StatusError{Service: "orchestrator", StatusCode: http.StatusNotFound}
	}
	return &orchestrator.Response{StatusCode: http.StatusOK, Body: data}, nil
}

func (f *fakeAPI) counts() (status, artifacts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.artifactCalls
}

func quietLogger() *logger.Logger {
	l := logger.New("monitor-test")
	l.SetOutput(io.Discard)
	return l
}

func newTestMonitor(api API, opts Options) *Monitor {
	if opts.Interval == 0 {
		opts.Interval = 5 * time.Millisecond
	}
	opts.Logger = quietLogger()
	return New(api, opts)
}

// drain collects events until the channel closes.
func drain(t *testing.T, h *Handle) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("poller for %s did not finish", h.RunID())
			return nil
		}
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func running(progress float64) orchestrator.RunStatus {
	return orchestrator.RunStatus{Status: orchestrator.StatusRunning, Progress: progress}
}

func TestWatch_CompletedFetchesArtifactsOnce(t *testing.T) {
	api := &fakeAPI{
		statuses: []orchestrator.RunStatus{
			running(40),
			{Status: orchestrator.StatusCompleted, Progress: 100},
		},
		steps: []orchestrator.Step{
			{StepNumber: 1, Agent: "eda_agent", Action: "profile_dataset", Status: orchestrator.StepCompleted},
			{StepNumber: 2, Agent: "graphing_agent", Action: "histogram", Status: orchestrator.StepCompleted},
		},
		artifacts: []orchestrator.Artifact{
			{Filename: "hist.png", Type: "visualization", StepNumber: 2},
			{Filename: "profile.html", Type: "other", StepNumber: 1},
		},
		files: map[string][]byte{
			"hist.png":     []byte("png-bytes"),
			"profile.html": []byte("<html></html>"),
		},
	}
	m := newTestMonitor(api, Options{})

	h, err := m.Watch(context.Background(), "abc123")
	require.NoError(t, err)
	events := drain(t, h)

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, h.State())

	_, artifactCalls := api.counts()
	assert.Equal(t, 1, artifactCalls)
	assert.Equal(t, map[string]int{"hist.png": 1, "profile.html": 1}, api.byteCalls)

	require.NotNil(t, result)
	assert.Len(t, result.Artifacts, 2)
	assert.Equal(t, []byte("png-bytes"), result.Files["hist.png"])
	assert.Empty(t, result.ArtifactErrors)

	types := eventTypes(events)
	assert.Equal(t, EventProgress, types[0])
	assert.Equal(t, 40.0, events[0].Status.Progress)
	assert.Equal(t, EventCompleted, types[len(types)-1])
	assert.Contains(t, types, EventArtifact)
	assert.Empty(t, m.Registry().Active())
}

func TestWatch_ImmediateFirstPoll(t *testing.T) {
	api := &fakeAPI{statuses: []orchestrator.RunStatus{{Status: orchestrator.StatusCompleted, Progress: 100}}}
	m := newTestMonitor(api, Options{Interval: time.Hour, SkipArtifactBytes: true})

	h, err := m.Watch(context.Background(), "r1")
	require.NoError(t, err)
	drain(t, h)

	status, artifacts := api.counts()
	assert.Equal(t, 1, status)
	assert.Equal(t, 1, artifacts)
	assert.Nil(t, api.byteCalls)
}

func TestSubmit(t *testing.T) {
	api := &fakeAPI{statuses: []orchestrator.RunStatus{{Status: orchestrator.StatusCompleted, Progress: 100}}}
	m := newTestMonitor(api, Options{})
	wf := &translator.Workflow{RunName: "Profile", Tasks: []translator.Task{{Agent: "eda_agent", Action: "profile_dataset"}}}

	h, err := m.Submit(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, "run-1", h.RunID())

	events := drain(t, h)
	require.NotEmpty(t, events)
	assert.Equal(t, EventSubmitted, events[0].Type)
	assert.Equal(t, StateSubmitted, events[0].State)
	assert.Equal(t, StatePolling, events[1].State)
	assert.Equal(t, []*translator.Workflow{wf}, api.started)
}

func TestSubmit_StartFailure(t *testing.T) {
	api := &fakeAPI{startErr: errors.New("orchestrator down")}
	m := newTestMonitor(api, Options{})

	h, err := m.Submit(context.Background(), &translator.Workflow{RunName: "x"})
	assert.Error(t, err)
	assert.Nil(t, h)
	assert.Empty(t, m.Registry().Active())
}

func TestWatch_RejectsDuplicate(t *testing.T) {
	api := &fakeAPI{statuses: []orchestrator.RunStatus{running(10)}}
	m := newTestMonitor(api, Options{})

	h, err := m.Watch(context.Background(), "r1")
	require.NoError(t, err)

	_, err = m.Watch(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrAlreadyPolling)

	other, err := m.Watch(context.Background(), "r2")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, m.Registry().Active())

	h.Stop()
	drain(t, h)
	other.Stop()
	drain(t, other)

	again, err := m.Watch(context.Background(), "r1")
	require.NoError(t, err)
	again.Stop()
	drain(t, again)
}

func TestWatch_RequiresRunID(t *testing.T) {
	m := newTestMonitor(&fakeAPI{}, Options{})
	_, err := m.Watch(context.Background(), "")
	assert.Error(t, err)
}

func TestHandle_StopIsIdempotent(t *testing.T) {
	api := &fakeAPI{statuses: []orchestrator.RunStatus{running(10)}}
	m := newTestMonitor(api, Options{})

	h, err := m.Watch(context.Background(), "r1")
	require.NoError(t, err)
	go func() {
		for range h.Events() {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Stop()
		}()
	}
	wg.Wait()
	h.Stop()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("handle not done after Stop")
	}
	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	calls, _ := api.counts()
	time.Sleep(30 * time.Millisecond)
	after, _ := api.counts()
	assert.Equal(t, calls, after, "no polls after stop")
	assert.Empty(t, m.Registry().Active())
}

func TestWatch_ContextCancelStops(t *testing.T) {
	api := &fakeAPI{statuses: []orchestrator.RunStatus{running(10)}}
	m := newTestMonitor(api, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	h, err := m.Watch(ctx, "r1")
	require.NoError(t, err)
	cancel()
	drain(t, h)

	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestWatch_Failed(t *testing.T) {
	api := &fakeAPI{statuses: []orchestrator.RunStatus{
		running(20),
		{Status: orchestrator.StatusFailed, Progress: 50, ErrorMessage: "histogram: column not found"},
	}}
	m := newTestMonitor(api, Options{})

	h, err := m.Watch(context.Background(), "r1")
	require.NoError(t, err)
	events := drain(t, h)

	result, err := h.Wait(context.Background())
	var failed *RunFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "histogram: column not found", failed.Message)
	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, orchestrator.StatusFailed, result.Status.Status)

	_, artifactCalls := api.counts()
	assert.Zero(t, artifactCalls)
	assert.Equal(t, EventFailed, events[len(events)-1].Type)
}

func TestWatch_MaxDuration(t *testing.T) {
	api := &fakeAPI{statuses: []orchestrator.RunStatus{running(10)}}
	m := newTestMonitor(api, Options{MaxDuration: 30 * time.Millisecond})

	h, err := m.Watch(context.Background(), "stuck")
	require.NoError(t, err)
	events := drain(t, h)

	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, EventTimeout, events[len(events)-1].Type)
	assert.Equal(t, StatePolling, h.State())
}

func TestWatch_PollErrorsKeepPolling(t *testing.T) {
	api := &fakeAPI{
		statuses:   []orchestrator.RunStatus{running(0), running(0), {Status: orchestrator.StatusCompleted, Progress: 100}},
		statusErrs: map[int]error{0: errors.New("connection refused"), 1: errors.New("connection refused")},
	}
	m := newTestMonitor(api, Options{SkipArtifactBytes: true})

	h, err := m.Watch(context.Background(), "r1")
	require.NoError(t, err)
	events := drain(t, h)

	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	types := eventTypes(events)
	assert.Equal(t, []EventType{EventPollError, EventPollError}, types[:2])
	assert.Equal(t, StatePolling, events[0].State)
	assert.Equal(t, EventCompleted, types[len(types)-1])
}

func TestWatch_ProgressRegressionKeepsMax(t *testing.T) {
	api := &fakeAPI{statuses: []orchestrator.RunStatus{
		running(50),
		running(30),
		{Status: orchestrator.StatusCompleted, Progress: 100},
	}}
	m := newTestMonitor(api, Options{SkipArtifactBytes: true})

	h, err := m.Watch(context.Background(), "r1")
	require.NoError(t, err)
	events := drain(t, h)

	var warned bool
	for _, ev := range events {
		if ev.Type == EventWarning {
			warned = true
		}
		if ev.Type == EventProgress && ev.Status.Status == orchestrator.StatusRunning {
			assert.Equal(t, 50.0, ev.Status.Progress)
		}
	}
	assert.True(t, warned)
}

func TestWatch_ArtifactByteFailure(t *testing.T) {
	api := &fakeAPI{
		statuses:  []orchestrator.RunStatus{{Status: orchestrator.StatusCompleted, Progress: 100}},
		artifacts: []orchestrator.Artifact{{Filename: "ok.png"}, {Filename: "missing.png"}},
		files:     map[string][]byte{"ok.png": []byte("x")},
	}
	m := newTestMonitor(api, Options{})

	h, err := m.Watch(context.Background(), "r1")
	require.NoError(t, err)
	events := drain(t, h)

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, h.State())
	assert.Contains(t, result.Files, "ok.png")
	assert.True(t, orchestrator.IsNotFound(result.ArtifactErrors["missing.png"]))
	assert.Contains(t, eventTypes(events), EventArtifactError)
}

func TestRegistry_StopAll(t *testing.T) {
	api := &fakeAPI{statuses: []orchestrator.RunStatus{running(10)}}
	m := newTestMonitor(api, Options{EventBuffer: 1024})

	var handles []*Handle
	for _, id := range []string{"a", "b", "c"} {
		h, err := m.Watch(context.Background(), id)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	m.Registry().StopAll()

	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Fatalf("%s still running", h.RunID())
		}
	}
	assert.Empty(t, m.Registry().Active())
}

func TestProgressText(t *testing.T) {
	steps := []orchestrator.Step{
		{StepNumber: 1, Agent: "eda_agent", Action: "profile_dataset", Status: orchestrator.StepCompleted},
		{StepNumber: 2, Agent: "graphing_agent", Action: "histogram", Status: orchestrator.StepRunning},
	}
	status := &orchestrator.RunStatus{Status: orchestrator.StatusRunning, Progress: 50, TotalSteps: 3}
	assert.Equal(t, "Step 2/3: graphing_agent.histogram (50%)", progressText(status, steps))

	status = &orchestrator.RunStatus{Status: orchestrator.StatusStarted, CurrentTask: "queued"}
	assert.Equal(t, "queued (0%)", progressText(status, nil))

	status = &orchestrator.RunStatus{Status: orchestrator.StatusCompleted, Progress: 100}
	assert.Equal(t, "Completed 1/2 steps", progressText(status, steps))

	status = &orchestrator.RunStatus{Status: orchestrator.StatusFailed, ErrorMessage: "boom"}
	assert.Equal(t, "Failed: boom", progressText(status, steps))
}

func TestWatch_ThroughClient(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	artifactLists := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/runs/abc123/status":
			polls++
			if polls == 1 {
				w.Write([]byte(`{"run_id":"abc123","status":"RUNNING","progress":40.0}`))
				return
			}
			w.Write([]byte(`{"run_id":"abc123","status":"COMPLETED","progress":100.0}`))
		case "/runs/abc123/steps":
			w.Write([]byte(`{"run_id":"abc123","steps":[{"step_number":1,"agent":"graphing_agent","action":"histogram","status":"completed"}]}`))
		case "/runs/abc123/artifacts":
			artifactLists++
			w.Write([]byte(`{"artifacts":[{"filename":"hist.png","type":"visualization","step_number":1}]}`))
		case "/artifacts/abc123/hist.png":
			w.Write([]byte("png"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	client := orchestrator.NewClient(orchestrator.Options{BaseURL: upstream.URL, Logger: quietLogger()})
	m := newTestMonitor(client, Options{})

	h, err := m.Watch(context.Background(), "abc123")
	require.NoError(t, err)
	drain(t, h)

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, h.State())
	assert.Equal(t, []byte("png"), result.Files["hist.png"])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, polls)
	assert.Equal(t, 1, artifactLists)
}
