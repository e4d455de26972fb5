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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// Hints attached to StatusErrors by the typed methods.
var (
	RunHints = map[int]string{
		http.StatusNotFound: "Run not found. Check the run ID.",
	}
	StepHints = map[int]string{
		http.StatusNotFound: "Step not found. The run may not have reached this step yet.",
	}
	ArtifactHints = map[int]string{
		http.StatusNotFound: "Artifact not found. It may still be generating; try again once the step completes.",
	}
	WorkflowHints = map[int]string{
		http.StatusBadRequest:          "The orchestrator rejected the workflow. Check agent names, actions and args.",
		http.StatusUnprocessableEntity: "The workflow is malformed. Each task needs agent, action and args.",
	}
	UploadHints = map[int]string{
		http.StatusBadRequest:            "The orchestrator rejected the upload. Only CSV files are supported.",
		http.StatusRequestEntityTooLarge: "The file is too large for the orchestrator.",
	}
	DatasetInfoHints = map[int]string{
		http.StatusNotFound: "Dataset not found by the graphing agent.",
	}
)

func (c *Client) readPolicy(hints map[int]string) CallPolicy {
	return CallPolicy{Timeout: c.timeouts.Read, Hints: hints}
}

func (c *Client) getJSON(ctx context.Context, path string, policy CallPolicy, out interface{}) error {
	resp, err := c.Do(ctx, Call{Method: http.MethodGet, Path: path}, policy)
	if err != nil {
		return err
	}
	return decode(c.service, resp.Body, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}, policy CallPolicy, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", c.service, err)
	}
	resp, err := c.Do(ctx, Call{
		Method:      http.MethodPost,
		Path:        path,
		Body:        bytes.NewReader(payload),
		ContentType: "application/json",
	}, policy)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(c.service, resp.Body, out)
}

func decode(service string, body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", service, err)
	}
	return nil
}

func runPath(runID string, rest ...string) string {
	p := "/runs/" + url.PathEscape(runID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// Health returns the upstream's health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.getJSON(ctx, "/health", CallPolicy{Timeout: c.timeouts.Health}, &out)
	return out, err
}

// ListDatasets returns uploaded datasets.
func (c *Client) ListDatasets(ctx context.Context) ([]translator.Dataset, error) {
	var out DatasetList
	if err := c.getJSON(ctx, "/datasets", c.readPolicy(nil), &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

// UploadDataset streams a file to the orchestrator as multipart form data.
func (c *Client) UploadDataset(ctx context.Context, filename, name string, file io.Reader) (*UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := func() error {
			if name != "" {
				if err := mw.WriteField("name", name); err != nil {
					return err
				}
			}
			part, err := mw.CreateFormFile("file", filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, file); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	resp, err := c.Do(ctx, Call{
		Method:      http.MethodPost,
		Path:        "/datasets/upload",
		Body:        pr,
		ContentType: mw.FormDataContentType(),
	}, CallPolicy{Timeout: c.timeouts.Write, Hints: UploadHints})
	// Unblock the writer if the request ended before reading everything, and
	// make sure it has stopped touching file before returning.
	pr.Close()
	<-done
	if err != nil {
		return nil, err
	}

	var out UploadResponse
	if err := decode(c.service, resp.Body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartWorkflow submits a workflow and returns the new run's ID.
func (c *Client) StartWorkflow(ctx context.Context, wf *translator.Workflow) (*StartResponse, error) {
	var out StartResponse
	err := c.postJSON(ctx, "/workflows/start", wf, CallPolicy{Timeout: c.timeouts.Write, Hints: WorkflowHints}, &out)
	if err != nil {
		return nil, err
	}
	if out.RunID == "" {
		return nil, fmt.Errorf("%s did not return a run_id", c.service)
	}
	return &out, nil
}

// ListRuns returns all runs.
func (c *Client) ListRuns(ctx context.Context) (*RunList, error) {
	var out RunList
	if err := c.getJSON(ctx, "/runs", c.readPolicy(nil), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunStatus returns a run's status.
func (c *Client) RunStatus(ctx context.Context, runID string) (*RunStatus, error) {
	var out RunStatus
	if err := c.getJSON(ctx, runPath(runID, "status"), c.readPolicy(RunHints), &out); err != nil {
		return nil, err
	}
	if out.RunID == "" {
		out.RunID = runID
	}
	return &out, nil
}

// Steps returns the step history of a run.
func (c *Client) Steps(ctx context.Context, runID string) (*StepsResponse, error) {
	var out StepsResponse
	if err := c.getJSON(ctx, runPath(runID, "steps"), c.readPolicy(RunHints), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Step returns a single step.
func (c *Client) Step(ctx context.Context, runID string, n int) (*Step, error) {
	var out Step
	if err := c.getJSON(ctx, runPath(runID, "steps", strconv.Itoa(n)), c.readPolicy(StepHints), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Artifacts lists a run's artifact metadata.
func (c *Client) Artifacts(ctx context.Context, runID string) (*ArtifactsResponse, error) {
	var out ArtifactsResponse
	if err := c.getJSON(ctx, runPath(runID, "artifacts"), c.readPolicy(RunHints), &out); err != nil {
		return nil, err
	}
	if out.Count == 0 {
		out.Count = len(out.Artifacts)
	}
	return &out, nil
}

func artifactPath(runID, filename string) string {
	return "/artifacts/" + url.PathEscape(runID) + "/" + url.PathEscape(filename)
}

// OpenArtifact streams an artifact's bytes.
func (c *Client) OpenArtifact(ctx context.Context, runID, filename string) (*Stream, error) {
	return c.Open(ctx, Call{Method: http.MethodGet, Path: artifactPath(runID, filename)},
		CallPolicy{Timeout: c.timeouts.Artifact, Hints: ArtifactHints})
}

// ArtifactBytes reads an artifact fully.
func (c *Client) ArtifactBytes(ctx context.Context, runID, filename string) (*Response, error) {
	return c.Do(ctx, Call{Method: http.MethodGet, Path: artifactPath(runID, filename)},
		CallPolicy{Timeout: c.timeouts.Artifact, Hints: ArtifactHints})
}

// DeleteRun removes a run and its records.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	_, err := c.Do(ctx, Call{Method: http.MethodDelete, Path: runPath(runID)},
		CallPolicy{Timeout: c.timeouts.Write, Hints: RunHints})
	return err
}

// DatasetInfo asks the graphing agent for a dataset's columns and shape.
func (c *Client) DatasetInfo(ctx context.Context, filename string) (*DatasetInfo, error) {
	var out DatasetInfo
	if err := c.getJSON(ctx, "/dataset_info/"+url.PathEscape(filename), c.readPolicy(DatasetInfoHints), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
