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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func datasetsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List uploaded datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			datasets, err := flags.client("").ListDatasets(cmd.Context())
			if err != nil {
				return err
			}
			if len(datasets) == 0 {
				fmt.Println("No datasets uploaded.")
				return nil
			}
			for _, d := range datasets {
				line := fmt.Sprintf("%-30s %s", d.Filename, d.Name)
				if d.Shape != nil {
					line += fmt.Sprintf("  [%d rows x %d columns]", d.Shape.Rows, d.Shape.Columns)
				}
				fmt.Println(line)
				if d.Columns != nil && len(d.Columns.Numeric) > 0 {
					fmt.Printf("    numeric: %s\n", strings.Join(d.Columns.Numeric, ", "))
				}
			}
			return nil
		},
	}
}

func uploadCmd(flags *globalFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Upload a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			resp, err := flags.client("").UploadDataset(cmd.Context(), filepath.Base(args[0]), name, f)
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded %s", resp.Filename)
			if resp.FilePath != "" {
				fmt.Printf(" (%s)", resp.FilePath)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name (defaults to the file name)")
	return cmd
}
