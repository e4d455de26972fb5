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

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulh-dev/ML-Orchestrator/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestValidateToken(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	sub, err := validateToken(valid, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)

	_, err = validateToken(valid, []byte("other-secret"))
	assert.Error(t, err)

	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = validateToken(expired, []byte(testSecret))
	assert.Error(t, err)

	unsigned := signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "alice"})
	_, err = validateToken(unsigned, []byte(testSecret))
	assert.Error(t, err)

	_, err = validateToken("not-a-token", []byte(testSecret))
	assert.Error(t, err)
}

func TestRequireToken(t *testing.T) {
	_, h := newTestServer(t, testEnv{
		orchURL:   closedURL(t),
		configure: func(c *config.Config) { c.Auth.JWTSecret = testSecret },
	})

	get := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/examples", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, get("").Code)
	assert.Equal(t, http.StatusUnauthorized, get("Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, get("Bearer garbage").Code)

	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusOK, get("Bearer "+token).Code)

	// /health stays open.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
}

func TestRequireToken_DisabledWithoutSecret(t *testing.T) {
	_, h := newTestServer(t, testEnv{orchURL: closedURL(t)})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/examples", nil).Code)
}
