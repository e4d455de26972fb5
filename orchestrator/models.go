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

package orchestrator

import (
	"encoding/json"
	"sort"

	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// Run statuses.
const (
	StatusStarted   = "STARTED"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Step statuses.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// IsTerminal reports whether a run status is final.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// RunStatus is the orchestrator's view of a run.
type RunStatus struct {
	RunID        string  `json:"run_id"`
	RunName      string  `json:"run_name,omitempty"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	CurrentTask  string  `json:"current_task,omitempty"`
	StartTime    string  `json:"start_time,omitempty"`
	EndTime      string  `json:"end_time,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	TotalSteps   int     `json:"total_steps,omitempty"`
	Steps        []Step  `json:"steps,omitempty"`
}

// Step is one executed task.
type Step struct {
	StepNumber      int          `json:"step_number"`
	Agent           string       `json:"agent"`
	Action          string       `json:"action"`
	Status          string       `json:"status"`
	StartTime       string       `json:"start_time,omitempty"`
	EndTime         string       `json:"end_time,omitempty"`
	Results         *StepResults `json:"results,omitempty"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	Error           string       `json:"error,omitempty"`
}

type StepResults struct {
	Summary      interface{} `json:"summary,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	ResponseSize int         `json:"response_size,omitempty"`
}

// StepsResponse is GET /runs/{id}/steps.
type StepsResponse struct {
	RunID          string `json:"run_id"`
	Steps          []Step `json:"steps"`
	TotalSteps     int    `json:"total_steps"`
	CompletedSteps int    `json:"completed_steps"`
	FailedSteps    int    `json:"failed_steps"`
}

// StepSummary counts steps by status.
type StepSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
	Pending   int `json:"pending"`
}

// LatestSteps collapses a step history to the most recent entry per step
// number, ordered by step number. The orchestrator appends a new record on
// every status change, so a step can appear more than once.
func LatestSteps(steps []Step) []Step {
	latest := make(map[int]Step, len(steps))
	for _, s := range steps {
		latest[s.StepNumber] = s
	}
	out := make([]Step, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out
}

// Summarize counts the latest state of each step.
func Summarize(steps []Step) StepSummary {
	var sum StepSummary
	for _, s := range LatestSteps(steps) {
		sum.Total++
		switch s.Status {
		case StepCompleted:
			sum.Completed++
		case StepFailed:
			sum.Failed++
		case StepRunning:
			sum.Running++
		default:
			sum.Pending++
		}
	}
	return sum
}

// Artifact is a file produced by a step.
type Artifact struct {
	Filename   string `json:"filename"`
	Type       string `json:"type"`
	StepNumber int    `json:"step_number"`
	Agent      string `json:"agent,omitempty"`
	Action     string `json:"action,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// ArtifactsResponse is GET /runs/{id}/artifacts.
type ArtifactsResponse struct {
	Artifacts []Artifact `json:"artifacts"`
	Count     int        `json:"count"`
}

// RunList is GET /runs. Runs are kept as raw objects so fields the gateway
// does not know about survive reshaping.
type RunList struct {
	Runs  []map[string]json.RawMessage `json:"runs"`
	Count int                          `json:"count"`
}

// StartResponse is POST /workflows/start.
type StartResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// UploadResponse is POST /datasets/upload.
type UploadResponse struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
	FilePath string `json:"file_path,omitempty"`
	Message  string `json:"message,omitempty"`
}

// DatasetList is GET /datasets.
type DatasetList struct {
	Datasets []translator.Dataset `json:"datasets"`
	Count    int                  `json:"count"`
}

// DatasetInfo is the graphing agent's GET /dataset_info/{filename}.
type DatasetInfo struct {
	Columns *translator.Columns `json:"columns"`
	Shape   *translator.Shape   `json:"shape"`
}

// UnmarshalJSON accepts columns either as a typed object or as a flat list
// of names.
func (d *DatasetInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Columns json.RawMessage `json:"columns"`
		Shape   json.RawMessage `json:"shape"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if len(raw.Columns) > 0 && string(raw.Columns) != "null" {
		var cols translator.Columns
		if err := json.Unmarshal(raw.Columns, &cols); err != nil {
			var names []string
			if err2 := json.Unmarshal(raw.Columns, &names); err2 != nil {
				return err
			}
			cols = translator.Columns{All: names}
		}
		d.Columns = &cols
	}

	if len(raw.Shape) > 0 && string(raw.Shape) != "null" {
		var shape translator.Shape
		if err := json.Unmarshal(raw.Shape, &shape); err != nil {
			var pair []int
			if err2 := json.Unmarshal(raw.Shape, &pair); err2 != nil || len(pair) != 2 {
				return err
			}
			shape = translator.Shape{Rows: pair[0], Columns: pair[1]}
		}
		d.Shape = &shape
	}
	return nil
}
