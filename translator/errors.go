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
	"errors"
	"fmt"

	"github.com/abdulh-dev/ML-Orchestrator/llm"
)

// ErrNoDataset is returned by rule-based translation when no dataset is known.
var ErrNoDataset = errors.New("no dataset available: upload a dataset first")

// Stages at which model-backed translation can fail.
const (
	StageCredential = "credential"
	StageRequest    = "request"
	StageTimeout    = "timeout"
	StageStatus     = "status"
	StageExtract    = "extract"
	StageParse      = "parse"
	StageValidate   = "validate"
)

// TranslationError is any failure of the model-backed path.
type TranslationError struct {
	Stage string
	Err   error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("model translation failed at %s: %v", e.Stage, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Hint returns the provider status hint when the failure was a non-2xx
// response, and an empty string otherwise.
func (e *TranslationError) Hint() string {
	var apiErr *llm.APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.Hint()
	}
	return ""
}

func translationError(stage string, err error) *TranslationError {
	return &TranslationError{Stage: stage, Err: err}
}
