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
	"strings"
	"unicode"
	"unicode/utf8"
)

// TranslateWithRules maps input to a workflow by keyword matching against
// the first dataset. Keyword groups are checked in a fixed order and the
// first match wins. It fails only when datasets is empty.
func TranslateWithRules(input string, datasets []Dataset) (*Workflow, error) {
	if len(datasets) == 0 {
		return nil, ErrNoDataset
	}

	ds := datasets[0]
	text := strings.ToLower(input)

	switch {
	case containsAny(text, "analyze", "profile"):
		return profilingWorkflow(ds), nil
	case containsAny(text, "correlation", "heatmap"):
		return correlationWorkflow(ds), nil
	case strings.Contains(text, "histogram") && len(ds.NumericColumns()) > 0:
		return histogramWorkflow(ds, ds.NumericColumns()[0]), nil
	case strings.Contains(text, "quality"):
		return qualityWorkflow(ds), nil
	default:
		return comprehensiveWorkflow(ds), nil
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func datasetLabel(ds Dataset) string {
	name := ds.Name
	if name == "" {
		name = ds.Filename
	}
	if idx := strings.LastIndexByte(name, '.'); idx > 0 {
		name = name[:idx]
	}
	return name
}

func profilingWorkflow(ds Dataset) *Workflow {
	return &Workflow{
		RunName: "Data Profiling",
		Tasks: []Task{
			{Agent: AgentEDA, Action: "profile_dataset", Args: map[string]interface{}{
				"file_path":    ds.Filename,
				"dataset_name": datasetLabel(ds),
			}},
			{Agent: AgentEDA, Action: "statistical_summary", Args: map[string]interface{}{
				"file_path": ds.Filename,
			}},
		},
	}
}

func correlationWorkflow(ds Dataset) *Workflow {
	heatmap := map[string]interface{}{
		"file_path": ds.Filename,
		"method":    "pearson",
		"title":     "Correlation Heatmap",
	}
	if numeric := ds.NumericColumns(); len(numeric) >= 2 {
		heatmap["columns"] = append([]string(nil), numeric...)
	}
	return &Workflow{
		RunName: "Correlation Analysis",
		Tasks: []Task{
			{Agent: AgentEDA, Action: "correlation_analysis", Args: map[string]interface{}{
				"file_path": ds.Filename,
				"method":    "pearson",
			}},
			{Agent: AgentGraphing, Action: "correlation_heatmap", Args: heatmap},
		},
	}
}

func histogramWorkflow(ds Dataset, column string) *Workflow {
	return &Workflow{
		RunName: "Distribution Analysis",
		Tasks: []Task{
			{Agent: AgentGraphing, Action: "histogram", Args: map[string]interface{}{
				"file_path": ds.Filename,
				"column":    column,
				"bins":      30,
				"title":     upperFirst(column) + " Distribution",
			}},
		},
	}
}

func qualityWorkflow(ds Dataset) *Workflow {
	return &Workflow{
		RunName: "Data Quality Check",
		Tasks: []Task{
			{Agent: AgentEDA, Action: "data_quality", Args: map[string]interface{}{
				"file_path": ds.Filename,
			}},
		},
	}
}

func comprehensiveWorkflow(ds Dataset) *Workflow {
	return &Workflow{
		RunName: "Comprehensive Analysis",
		Tasks: []Task{
			{Agent: AgentEDA, Action: "profile_dataset", Args: map[string]interface{}{
				"file_path":    ds.Filename,
				"dataset_name": datasetLabel(ds),
			}},
			{Agent: AgentEDA, Action: "data_quality", Args: map[string]interface{}{
				"file_path": ds.Filename,
			}},
			{Agent: AgentGraphing, Action: "correlation_heatmap", Args: map[string]interface{}{
				"file_path": ds.Filename,
				"title":     "Correlation Heatmap",
			}},
		},
	}
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
