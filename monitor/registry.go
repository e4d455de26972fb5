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

package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrAlreadyPolling is returned when a poller is already active for a run.
var ErrAlreadyPolling = errors.New("a poller is already active for this run")

// Registry tracks active pollers and allows at most one per run_id.
// Thread-safe for concurrent access.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Handle)}
}

// Start registers a new handle for runID and runs loop on its own goroutine.
// The handle is removed from the registry when loop returns.
func (r *Registry) Start(ctx context.Context, runID string, events int, loop func(ctx context.Context, h *Handle)) (*Handle, error) {
	r.mu.Lock()
	if _, exists := r.active[runID]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyPolling
	}
	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(runID, events, cancel)
	r.active[runID] = h
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			if r.active[runID] == h {
				delete(r.active, runID)
			}
			r.mu.Unlock()
			cancel()
			h.close()
		}()
		loop(ctx, h)
	}()
	return h, nil
}

// Get returns the active handle for runID.
func (r *Registry) Get(runID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.active[runID]
	return h, ok
}

// Active lists the run IDs currently being polled.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll stops every active poller and waits for them to finish.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.active))
	for _, h := range r.active {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	for _, h := range handles {
		<-h.Done()
	}
}
