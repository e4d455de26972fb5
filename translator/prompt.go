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
	"strings"
)

const systemPrompt = `You convert data analysis requests into workflow definitions for an ML orchestrator.
You only use the agents, actions and column names you are given.
You respond with a single JSON object and nothing else.`

// buildPrompt renders the translation prompt for input over datasets.
func buildPrompt(input string, datasets []Dataset) string {
	var b strings.Builder

	b.WriteString("AVAILABLE DATASETS:\n")
	if len(datasets) == 0 {
		b.WriteString("(none uploaded yet)\n")
	}
	for _, ds := range datasets {
		fmt.Fprintf(&b, "- %s (file_path: %q)\n", displayName(ds), ds.Filename)
		if ds.Shape != nil {
			fmt.Fprintf(&b, "  shape: %d rows x %d columns\n", ds.Shape.Rows, ds.Shape.Columns)
		}
		if ds.Columns == nil {
			b.WriteString("  columns: unknown\n")
			continue
		}
		writeColumnLine(&b, "numeric columns", ds.Columns.Numeric)
		writeColumnLine(&b, "categorical columns", ds.Columns.Categorical)
		writeColumnLine(&b, "datetime columns", ds.Columns.Datetime)
		writeColumnLine(&b, "all columns", ds.Columns.All)
	}

	b.WriteString("\nAVAILABLE AGENTS AND ACTIONS:\n")
	for _, agent := range Catalog {
		fmt.Fprintf(&b, "%s (%s):\n", agent.Name, agent.Description)
		for _, act := range agent.Actions {
			fmt.Fprintf(&b, "  - %s: %s. required: %s", act.Name, act.Description, strings.Join(act.Required, ", "))
			if len(act.Optional) > 0 {
				fmt.Fprintf(&b, "; optional: %s", strings.Join(act.Optional, ", "))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(`
RULES:
1. Use the exact column names listed above. Never invent columns.
2. file_path is the dataset's file_path value exactly as shown.
3. histogram needs a numeric column. time_series needs a datetime date_column.
4. Order tasks so that analysis comes before visualization.

OUTPUT FORMAT (JSON only, no markdown):
{
  "run_name": "Short descriptive name",
  "tasks": [
    {"agent": "eda_agent", "action": "profile_dataset", "args": {"file_path": "data.csv", "dataset_name": "data"}}
  ]
}

USER REQUEST:
`)
	b.WriteString(input)
	b.WriteString("\n")
	return b.String()
}

func writeColumnLine(b *strings.Builder, label string, cols []string) {
	if len(cols) == 0 {
		fmt.Fprintf(b, "  %s: (none)\n", label)
		return
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	fmt.Fprintf(b, "  %s: [%s]\n", label, strings.Join(quoted, ", "))
}

func displayName(ds Dataset) string {
	if ds.Name != "" {
		return ds.Name
	}
	return ds.Filename
}
