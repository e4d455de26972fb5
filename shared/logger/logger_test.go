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

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("Failed to parse log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		instanceID     string
		expectedInstID string
	}{
		{name: "with instance ID set", instanceID: "gw-1", expectedInstID: "gw-1"},
		{name: "without instance ID", instanceID: "", expectedInstID: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INSTANCE_ID", tt.instanceID)

			l := New("gateway")
			if l.Component != "gateway" {
				t.Errorf("Expected component gateway, got %s", l.Component)
			}
			if l.InstanceID != tt.expectedInstID {
				t.Errorf("Expected instance ID %s, got %s", tt.expectedInstID, l.InstanceID)
			}
			if l.Container == "" {
				t.Error("Expected container to be set from hostname")
			}
		})
	}
}

func TestLog_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New("translator")
	l.SetOutput(&buf)

	l.Info("req_1", "translated", map[string]interface{}{"source": "rules", "correlation_id": "c-9"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != INFO || e.Component != "translator" || e.RequestID != "req_1" {
		t.Errorf("Unexpected entry: %+v", e)
	}
	if e.CorrelationID != "c-9" {
		t.Errorf("Expected correlation_id promoted to top level, got %q", e.CorrelationID)
	}
	if _, ok := e.Fields["correlation_id"]; ok {
		t.Error("correlation_id should not be duplicated inside fields")
	}
	if e.Fields["source"] != "rules" {
		t.Errorf("Expected source field, got %v", e.Fields["source"])
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		t.Errorf("Timestamp not RFC3339: %v", err)
	}
}

func TestLog_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New("monitor")
	l.SetOutput(&buf)
	l.SetLevel(WARN)

	l.Debug("", "dropped", nil)
	l.Info("", "dropped", nil)
	l.Warn("", "kept", nil)
	l.Error("", "kept", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries above WARN, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Message != "kept" {
			t.Errorf("Unexpected message %q", e.Message)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"WARNING": WARN,
		" error ": ERROR,
		"":        INFO,
		"verbose": INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestWithAndHelpers(t *testing.T) {
	var buf bytes.Buffer
	parent := New("gateway")
	parent.SetOutput(&buf)
	child := parent.With("upload")

	child.InfoWithDuration("req_2", "forwarded", 1500*time.Microsecond, nil)
	child.ErrorWithCode("req_2", "upstream failed", 503, errors.New("connection refused"), nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Component != "gateway.upload" {
		t.Errorf("Expected child component, got %s", entries[0].Component)
	}
	if entries[0].Fields["duration_ms"] != 1.5 {
		t.Errorf("Expected duration_ms 1.5, got %v", entries[0].Fields["duration_ms"])
	}
	if entries[1].Fields["status_code"] != float64(503) {
		t.Errorf("Expected status_code 503, got %v", entries[1].Fields["status_code"])
	}
	if entries[1].Fields["error"] != "connection refused" {
		t.Errorf("Expected error field, got %v", entries[1].Fields["error"])
	}
}
