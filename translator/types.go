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

package translator

// Agent names understood by the orchestrator.
const (
	AgentEDA      = "eda_agent"
	AgentGraphing = "graphing_agent"
)

// Sources reported in Result.Source.
const (
	SourceModel = "model"
	SourceRules = "rules"
)

// Dataset is an uploaded file as reported by the orchestrator, optionally
// enriched with column information from the graphing agent.
type Dataset struct {
	Name       string   `json:"name"`
	Filename   string   `json:"filename"`
	FilePath   string   `json:"file_path,omitempty"`
	Size       int64    `json:"size,omitempty"`
	UploadedAt string   `json:"uploaded_at,omitempty"`
	Columns    *Columns `json:"columns,omitempty"`
	Shape      *Shape   `json:"shape,omitempty"`
}

// Columns groups a dataset's column names by inferred type.
type Columns struct {
	All         []string `json:"all"`
	Numeric     []string `json:"numeric"`
	Categorical []string `json:"categorical"`
	Datetime    []string `json:"datetime"`
}

type Shape struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

// NumericColumns returns the numeric column list, or nil when the dataset
// has not been introspected.
func (d Dataset) NumericColumns() []string {
	if d.Columns == nil {
		return nil
	}
	return d.Columns.Numeric
}

// Workflow is the run definition submitted to the orchestrator.
type Workflow struct {
	RunName string `json:"run_name"`
	Tasks   []Task `json:"tasks"`
}

// Task is one step of a workflow. Args keys depend on the action.
type Task struct {
	Agent  string                 `json:"agent"`
	Action string                 `json:"action"`
	Args   map[string]interface{} `json:"args"`
}

// Result is what Translate returns to callers.
type Result struct {
	Workflow *Workflow `json:"workflow"`
	Source   string    `json:"source"`
	Model    string    `json:"model,omitempty"`
	Cached   bool      `json:"cached,omitempty"`
	// FallbackReason is set when the model path was attempted and failed.
	FallbackReason string   `json:"fallback_reason,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}
