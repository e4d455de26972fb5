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

// Package main is the entry point for the ML Orchestrator gateway.
//
// The gateway sits between the browser and the orchestrator:
// - Translates natural-language requests into workflows
// - Forwards uploads, workflow starts and run queries
// - Delivers artifact bytes, raw or base64 encoded
// - Exposes health, metrics and connectivity debugging
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 3001)
//	CONFIG_FILE - optional YAML configuration file
//	ORCHESTRATOR_URL - URL of the orchestrator (default: http://localhost:8000)
//	EDA_AGENT_URL, GRAPHING_AGENT_URL - agent URLs for introspection
//	LLM_PROVIDER - gemini (default) or openai
//	GEMINI_API_KEY / OPENAI_API_KEY - server-side model credential
//	LLM_API_KEY_SECRET_ARN - Secrets Manager ARN holding the credential
//	REDIS_URL - shared translation cache and rate limiter
//	ARCHIVE_BUCKET - S3 bucket that receives a copy of every upload
//	JWT_SECRET - enables bearer-token checks on /api routes
package main

import (
	"github.com/abdulh-dev/ML-Orchestrator/gateway"
)

func main() {
	gateway.Run()
}
