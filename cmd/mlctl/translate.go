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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// translateOptions are the flags shared by translate and run.
type translateOptions struct {
	rules    bool
	apiKey   string
	datasets []string
}

func (o *translateOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.rules, "rules", false, "Use rule-based translation only")
	cmd.Flags().StringVar(&o.apiKey, "api-key", os.Getenv("GEMINI_API_KEY"), "Model API key sent with the request")
	cmd.Flags().StringSliceVarP(&o.datasets, "dataset", "d", nil, "Dataset filename to translate against (repeatable)")
}

type translation struct {
	Workflow       *translator.Workflow `json:"workflow"`
	Source         string               `json:"source"`
	Model          string               `json:"model"`
	Cached         bool                 `json:"cached"`
	FallbackReason string               `json:"fallback_reason"`
	Warnings       []string             `json:"warnings"`
}

func translateText(ctx context.Context, flags *globalFlags, text string, opts *translateOptions) (*translation, error) {
	if flags.direct {
		return nil, fmt.Errorf("translation is served by the gateway; drop --direct")
	}

	body := map[string]interface{}{"input": text}
	if opts.apiKey != "" {
		body["api_key"] = opts.apiKey
	}
	if len(opts.datasets) > 0 {
		datasets := make([]translator.Dataset, 0, len(opts.datasets))
		for _, name := range opts.datasets {
			datasets = append(datasets, translator.Dataset{Name: name, Filename: name})
		}
		body["datasets"] = datasets
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	path := "/parse-input"
	if opts.rules {
		path = "/simple-workflow"
	}
	client := flags.client("")
	resp, err := client.Do(ctx, orchestrator.Call{
		Method:      http.MethodPost,
		Path:        path,
		Body:        bytes.NewReader(payload),
		ContentType: "application/json",
	}, orchestrator.CallPolicy{Timeout: client.Timeouts().Write})
	if err != nil {
		return nil, err
	}

	var out translation
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode translation: %w", err)
	}
	if out.Workflow == nil {
		return nil, fmt.Errorf("gateway returned no workflow")
	}
	return &out, nil
}

func printTranslation(t *translation) {
	source := t.Source
	if t.Model != "" {
		source += " (" + t.Model + ")"
	}
	if t.Cached {
		source += ", cached"
	}
	fmt.Fprintf(os.Stderr, "Translated with %s\n", source)
	if t.FallbackReason != "" {
		fmt.Fprintf(os.Stderr, "Model fallback: %s\n", t.FallbackReason)
	}
	for _, w := range t.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
}

func translateCmd(flags *globalFlags) *cobra.Command {
	opts := &translateOptions{}

	cmd := &cobra.Command{
		Use:   "translate <request>",
		Short: "Translate a request into a workflow",
		Long: `Translate a natural-language analysis request into a workflow definition.
The workflow is printed as JSON and is not started.

Examples:
  mlctl translate "create a histogram of revenue"
  mlctl translate --rules --dataset sales.csv "check data quality"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := translateText(cmd.Context(), flags, strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			printTranslation(t)
			return printJSON(t.Workflow)
		},
	}
	opts.register(cmd)
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
