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
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type subjectKey struct{}

// validateToken checks an HS256 bearer token and returns its subject.
func validateToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}

// requireToken rejects /api requests without a valid bearer token. It is only
// installed when a JWT secret is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	secret := []byte(s.cfg.Auth.JWTSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if header == "" || tokenString == header {
			sendErrorWithSuggestion(w, "missing bearer token", "Send Authorization: Bearer <token>.", http.StatusUnauthorized)
			return
		}

		sub, err := validateToken(tokenString, secret)
		if err != nil {
			s.logger.Warn(requestIDFrom(r), "token rejected", map[string]interface{}{"error": err.Error()})
			sendErrorResponse(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub)))
	})
}

// subjectFrom returns the authenticated subject, if any.
func subjectFrom(r *http.Request) string {
	sub, _ := r.Context().Value(subjectKey{}).(string)
	return sub
}
