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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdulh-dev/ML-Orchestrator/config"
	"github.com/abdulh-dev/ML-Orchestrator/monitor"
	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// watchOptions are the flags shared by run and watch.
type watchOptions struct {
	interval    time.Duration
	maxDuration time.Duration
	outDir      string
	noArtifacts bool
}

func (o *watchOptions) register(cmd *cobra.Command) {
	defaults := config.Defaults().Monitor
	cmd.Flags().DurationVar(&o.interval, "interval", defaults.PollInterval, "Time between status polls")
	cmd.Flags().DurationVar(&o.maxDuration, "max-duration", defaults.MaxDuration, "Stop polling after this long (0 means no limit)")
	cmd.Flags().StringVarP(&o.outDir, "out", "o", "", "Directory to write artifacts to")
	cmd.Flags().BoolVar(&o.noArtifacts, "no-artifacts", false, "List artifacts without downloading them")
}

func (o *watchOptions) monitor(flags *globalFlags) *monitor.Monitor {
	return monitor.New(flags.client(""), monitor.Options{
		Interval:          o.interval,
		MaxDuration:       o.maxDuration,
		SkipArtifactBytes: o.noArtifacts,
		Logger:            flags.logger("monitor"),
	})
}

// follow prints events until polling ends and writes artifacts to outDir.
func follow(h *monitor.Handle, outDir string) error {
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	for ev := range h.Events() {
		stamp := ev.Time.Format("15:04:05")
		switch ev.Type {
		case monitor.EventSubmitted:
			fmt.Printf("[%s] Submitted run %s\n", stamp, ev.RunID)
		case monitor.EventProgress:
			fmt.Printf("[%s] %s\n", stamp, ev.Message)
		case monitor.EventPollError:
			fmt.Fprintf(os.Stderr, "[%s] Poll failed: %s (retrying)\n", stamp, ev.Message)
		case monitor.EventWarning:
			fmt.Fprintf(os.Stderr, "[%s] Warning: %s\n", stamp, ev.Message)
		case monitor.EventArtifact:
			line := fmt.Sprintf("[%s] Artifact %s (%d bytes)", stamp, ev.Artifact.Filename, len(ev.Data))
			if outDir != "" {
				path := filepath.Join(outDir, filepath.Base(ev.Artifact.Filename))
				if err := os.WriteFile(path, ev.Data, 0o644); err != nil {
					fmt.Fprintf(os.Stderr, "[%s] Could not write %s: %v\n", stamp, path, err)
					continue
				}
				line += " -> " + path
			}
			fmt.Println(line)
		case monitor.EventArtifactError:
			fmt.Fprintf(os.Stderr, "[%s] Artifact error: %s\n", stamp, ev.Message)
		case monitor.EventCompleted:
			fmt.Printf("[%s] Run %s completed\n", stamp, ev.RunID)
		case monitor.EventFailed, monitor.EventTimeout:
			fmt.Fprintf(os.Stderr, "[%s] %s\n", stamp, ev.Message)
		}
	}

	result, err := h.Wait(context.Background())
	if errors.Is(err, monitor.ErrStopped) {
		fmt.Fprintf(os.Stderr, "Stopped watching %s; the run continues.\n", h.RunID())
		return nil
	}
	if err != nil {
		return err
	}
	if result != nil && len(result.Artifacts) == 0 {
		fmt.Println("No artifacts were produced.")
	}
	return nil
}

func loadWorkflow(path string) (*translator.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wf translator.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("invalid workflow file %s: %w", path, err)
	}
	if strings.TrimSpace(wf.RunName) == "" || len(wf.Tasks) == 0 {
		return nil, fmt.Errorf("workflow file %s needs run_name and at least one task", path)
	}
	return &wf, nil
}

func runCmd(flags *globalFlags) *cobra.Command {
	topts := &translateOptions{}
	wopts := &watchOptions{}
	var file string
	var detach bool

	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Start a workflow and watch it",
		Long: `Start a workflow, either from a JSON file or by translating a request,
then poll it until it completes.

Examples:
  mlctl run "analyze my dataset" --out ./artifacts
  mlctl run --file workflow.json --max-duration 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var wf *translator.Workflow
			switch {
			case file != "" && len(args) > 0:
				return fmt.Errorf("give either --file or a request, not both")
			case file != "":
				var err error
				if wf, err = loadWorkflow(file); err != nil {
					return err
				}
			case len(args) > 0:
				t, err := translateText(ctx, flags, strings.Join(args, " "), topts)
				if err != nil {
					return err
				}
				printTranslation(t)
				wf = t.Workflow
			default:
				return fmt.Errorf("a request or --file is required")
			}

			for _, w := range translator.Validate(wf) {
				fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
			}

			if detach {
				started, err := flags.client("").StartWorkflow(ctx, wf)
				if err != nil {
					return err
				}
				fmt.Println(started.RunID)
				return nil
			}

			h, err := wopts.monitor(flags).Submit(ctx, wf)
			if err != nil {
				return err
			}
			return follow(h, wopts.outDir)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition JSON file")
	cmd.Flags().BoolVar(&detach, "detach", false, "Print the run ID and exit without watching")
	topts.register(cmd)
	wopts.register(cmd)
	return cmd
}

func watchCmd(flags *globalFlags) *cobra.Command {
	wopts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <run_id>",
		Short: "Follow an existing run until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := wopts.monitor(flags).Watch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return follow(h, wopts.outDir)
		},
	}
	wopts.register(cmd)
	return cmd
}

func statusCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show a run's status and steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := flags.client("")

			status, err := client.RunStatus(ctx, args[0])
			if err != nil {
				return err
			}
			steps, err := client.Steps(ctx, args[0])
			if err != nil {
				return err
			}
			latest := orchestrator.LatestSteps(steps.Steps)

			if asJSON {
				return printJSON(map[string]interface{}{
					"status":  status,
					"steps":   latest,
					"summary": orchestrator.Summarize(latest),
				})
			}

			fmt.Printf("Run:      %s\n", status.RunID)
			if status.RunName != "" {
				fmt.Printf("Name:     %s\n", status.RunName)
			}
			fmt.Printf("Status:   %s (%.0f%%)\n", status.Status, status.Progress)
			if status.ErrorMessage != "" {
				fmt.Printf("Error:    %s\n", status.ErrorMessage)
			}
			sum := orchestrator.Summarize(latest)
			fmt.Printf("Steps:    %d total, %d completed, %d failed, %d running\n",
				sum.Total, sum.Completed, sum.Failed, sum.Running)
			fmt.Println(strings.Repeat("-", 50))
			for _, s := range latest {
				line := fmt.Sprintf("%3d. %-10s %s.%s", s.StepNumber, s.Status, s.Agent, s.Action)
				if s.DurationSeconds != nil {
					line += fmt.Sprintf(" (%.1fs)", *s.DurationSeconds)
				}
				if s.Error != "" {
					line += " - " + s.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func runsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := flags.client("").ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if len(list.Runs) == 0 {
				fmt.Println("No runs.")
				return nil
			}
			for _, run := range list.Runs {
				var id, status, name string
				json.Unmarshal(run["run_id"], &id)
				json.Unmarshal(run["status"], &status)
				json.Unmarshal(run["run_name"], &name)
				fmt.Printf("%-38s %-10s %s\n", id, status, name)
			}
			fmt.Printf("\nTotal: %d runs\n", len(list.Runs))
			return nil
		},
	}
}

func deleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run_id>",
		Short: "Delete a run and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The gateway forwards /api/orchestrator/* unchanged.
			if err := flags.client("/orchestrator").DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted run %s\n", args[0])
			return nil
		},
	}
}
