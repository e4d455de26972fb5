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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsResolver reads model API keys from AWS Secrets Manager and caches
// them for a fixed TTL.
type SecretsResolver struct {
	client SecretsAPI
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]secretCacheEntry
}

type secretCacheEntry struct {
	value     string
	expiresAt time.Time
}

// NewSecretsResolver loads the default AWS configuration for region.
func NewSecretsResolver(ctx context.Context, region string, ttl time.Duration) (*SecretsResolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSecretsResolverWithClient(secretsmanager.NewFromConfig(awsCfg), ttl), nil
}

// NewSecretsResolverWithClient wraps an existing client.
func NewSecretsResolverWithClient(client SecretsAPI, ttl time.Duration) *SecretsResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SecretsResolver{
		client: client,
		ttl:    ttl,
		cache:  make(map[string]secretCacheEntry),
	}
}

// ResolveAPIKey returns the API key stored in the secret. JSON secrets are
// searched for "api_key", then "apiKey", then "value". Anything else is used
// as the key verbatim.
func (s *SecretsResolver) ResolveAPIKey(ctx context.Context, secretARN string) (string, error) {
	s.mu.RLock()
	entry, ok := s.cache[secretARN]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	key := extractAPIKey(*out.SecretString)
	if key == "" {
		return "", fmt.Errorf("secret %s does not contain an api key", maskARN(secretARN))
	}

	s.mu.Lock()
	s.cache[secretARN] = secretCacheEntry{value: key, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	log.Printf("[Config] resolved model API key from secret %s", maskARN(secretARN))
	return key, nil
}

func extractAPIKey(raw string) string {
	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return strings.TrimSpace(raw)
	}
	for _, k := range []string{"api_key", "apiKey", "value"} {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}

func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// ResolveCredentials fills cfg.LLM.APIKey from Secrets Manager when no key is
// configured directly and a secret ARN is.
func ResolveCredentials(ctx context.Context, cfg Config, resolver *SecretsResolver) (Config, error) {
	if cfg.LLM.APIKey != "" || cfg.LLM.APIKeySecretARN == "" || resolver == nil {
		return cfg, nil
	}
	key, err := resolver.ResolveAPIKey(ctx, cfg.LLM.APIKeySecretARN)
	if err != nil {
		return cfg, err
	}
	return cfg.WithAPIKey(key), nil
}
