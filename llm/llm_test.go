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

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Provider: "gemini", StatusCode: 403, Status: "PERMISSION_DENIED", Message: "denied"}
	assert.Equal(t, "gemini API error (status 403, PERMISSION_DENIED): denied", err.Error())

	bare := &APIError{Provider: "openai", StatusCode: 500}
	assert.Equal(t, "openai API error (status 500)", bare.Error())
}

func TestAsCredentialError(t *testing.T) {
	tests := []struct {
		status     int
		credential bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			apiErr := &APIError{Provider: "gemini", StatusCode: tt.status}
			err := AsCredentialError(fmt.Errorf("complete: %w", apiErr))

			var credErr *CredentialError
			if !tt.credential {
				assert.False(t, errors.As(err, &credErr))
				return
			}
			require.True(t, errors.As(err, &credErr))
			assert.Equal(t, tt.status, credErr.StatusCode)
			assert.Equal(t, StatusHint(tt.status), credErr.Reason)
			assert.True(t, errors.As(err, &apiErr), "original error stays reachable")
		})
	}
}

func TestStatusHint(t *testing.T) {
	assert.Contains(t, StatusHint(http.StatusForbidden), "permission")
	assert.Contains(t, StatusHint(http.StatusTooManyRequests), "Rate limit")
	assert.Contains(t, StatusHint(http.StatusServiceUnavailable), "provider")
	assert.Empty(t, StatusHint(http.StatusTeapot))
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(fmt.Errorf("post: %w", context.DeadlineExceeded)))
	assert.True(t, IsTimeout(fmt.Errorf("dial: %w", timeoutErr{})))
	assert.False(t, IsTimeout(context.Canceled))
	assert.False(t, IsTimeout(errors.New("boom")))
}

func TestCredentialError_Message(t *testing.T) {
	assert.Equal(t, "credential error: no API key supplied", ErrMissingCredential.Error())
	err := &CredentialError{StatusCode: 401, Reason: "rejected"}
	assert.Equal(t, "credential error (status 401): rejected", err.Error())
}
