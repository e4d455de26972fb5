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

import (
	"fmt"
	"sort"
)

// ActionSpec describes one agent action and its argument names.
type ActionSpec struct {
	Name        string
	Description string
	Required    []string
	Optional    []string
}

// AgentSpec is an agent and its supported actions, in display order.
type AgentSpec struct {
	Name        string
	Description string
	Actions     []ActionSpec
}

// Catalog lists every agent action the orchestrator can dispatch.
var Catalog = []AgentSpec{
	{
		Name:        AgentEDA,
		Description: "Exploratory data analysis",
		Actions: []ActionSpec{
			{Name: "profile_dataset", Description: "Full dataset profile", Required: []string{"file_path", "dataset_name"}},
			{Name: "statistical_summary", Description: "Descriptive statistics", Required: []string{"file_path"}, Optional: []string{"columns"}},
			{Name: "data_quality", Description: "Missing values, duplicates and type issues", Required: []string{"file_path"}},
			{Name: "correlation_analysis", Description: "Pairwise correlations", Required: []string{"file_path"}, Optional: []string{"method"}},
		},
	},
	{
		Name:        AgentGraphing,
		Description: "Visualizations",
		Actions: []ActionSpec{
			{Name: "histogram", Description: "Distribution of one numeric column", Required: []string{"file_path", "column"}, Optional: []string{"bins", "title"}},
			{Name: "scatter_plot", Description: "Relationship between two columns", Required: []string{"file_path", "x_column", "y_column"}, Optional: []string{"color_column", "size_column", "title"}},
			{Name: "correlation_heatmap", Description: "Correlation matrix heatmap", Required: []string{"file_path"}, Optional: []string{"columns", "method", "title"}},
			{Name: "box_plot", Description: "Spread and outliers", Required: []string{"file_path", "columns"}, Optional: []string{"groupby_column", "title"}},
			{Name: "time_series", Description: "Values over time", Required: []string{"file_path", "date_column", "value_columns"}, Optional: []string{"title"}},
			{Name: "distribution_plot", Description: "Distributions of several columns", Required: []string{"file_path", "columns"}, Optional: []string{"title"}},
			{Name: "multi_plot", Description: "Several plots in one figure", Required: []string{"file_path", "plots"}, Optional: []string{"layout", "title"}},
		},
	},
}

// LookupAction finds an action in the catalog.
func LookupAction(agent, action string) (ActionSpec, bool) {
	for _, a := range Catalog {
		if a.Name != agent {
			continue
		}
		for _, act := range a.Actions {
			if act.Name == action {
				return act, true
			}
		}
	}
	return ActionSpec{}, false
}

func knownAgent(name string) bool {
	for _, a := range Catalog {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Validate checks a workflow against the catalog and returns human-readable
// warnings. It is best-effort: the orchestrator remains the authority on
// argument validity.
func Validate(wf *Workflow) []string {
	var warnings []string
	for i, task := range wf.Tasks {
		step := i + 1
		if !knownAgent(task.Agent) {
			warnings = append(warnings, fmt.Sprintf("step %d: unknown agent %q", step, task.Agent))
			continue
		}
		spec, ok := LookupAction(task.Agent, task.Action)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("step %d: %s has no action %q", step, task.Agent, task.Action))
			continue
		}
		var missing []string
		for _, arg := range spec.Required {
			if _, ok := task.Args[arg]; !ok {
				missing = append(missing, arg)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			warnings = append(warnings, fmt.Sprintf("step %d: %s.%s missing required args %v", step, task.Agent, task.Action, missing))
		}
	}
	return warnings
}
