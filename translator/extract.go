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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no JSON object found in model response")

// extractJSONObject returns the first balanced {...} substring of text.
// Braces inside JSON string literals do not count toward the balance.
func extractJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", errNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced braces", errNoJSON)
}

// parseWorkflow turns model output into a Workflow. The returned error is
// always a *TranslationError.
func parseWorkflow(text string) (*Workflow, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, translationError(StageExtract, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, translationError(StageParse, err)
	}

	wf := &Workflow{}
	nameRaw, ok := raw["run_name"]
	if !ok {
		return nil, translationError(StageValidate, errors.New("missing run_name"))
	}
	if err := json.Unmarshal(nameRaw, &wf.RunName); err != nil || strings.TrimSpace(wf.RunName) == "" {
		return nil, translationError(StageValidate, errors.New("run_name must be a non-empty string"))
	}

	tasksRaw, ok := raw["tasks"]
	if !ok {
		return nil, translationError(StageValidate, errors.New("missing tasks"))
	}
	if err := json.Unmarshal(tasksRaw, &wf.Tasks); err != nil {
		return nil, translationError(StageValidate, fmt.Errorf("tasks must be a list of {agent, action, args}: %w", err))
	}
	if len(wf.Tasks) == 0 {
		return nil, translationError(StageValidate, errors.New("tasks is empty"))
	}
	for i := range wf.Tasks {
		if wf.Tasks[i].Agent == "" || wf.Tasks[i].Action == "" {
			return nil, translationError(StageValidate, fmt.Errorf("task %d is missing agent or action", i+1))
		}
		if wf.Tasks[i].Args == nil {
			wf.Tasks[i].Args = map[string]interface{}{}
		}
	}
	return wf, nil
}
