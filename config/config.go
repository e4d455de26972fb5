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

// Package config loads the gateway configuration from an optional YAML file,
// .env files and the process environment.
//
// The result of Load is a value that is built once at startup and handed to
// every component that needs it. Nothing in this package keeps global state.
package config

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in LLMConfig.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// defaultModels names the model used when LLMConfig.Model is left empty.
var defaultModels = map[string]string{
	ProviderGemini: "gemini-2.0-flash",
	ProviderOpenAI: "gpt-4o-mini",
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// Config is the process-wide gateway configuration. Treat it as read-only
// once Load has returned.
type Config struct {
	Environment     string          `yaml:"environment"`
	Port            int             `yaml:"port"`
	OrchestratorURL string          `yaml:"orchestrator_url"`
	Agents          AgentConfig     `yaml:"agents"`
	LLM             LLMConfig       `yaml:"llm"`
	Redis           RedisConfig     `yaml:"redis"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Upload          UploadConfig    `yaml:"upload"`
	Archive         ArchiveConfig   `yaml:"archive"`
	Auth            AuthConfig      `yaml:"auth"`
	CORS            CORSConfig      `yaml:"cors"`
	Timeouts        TimeoutConfig   `yaml:"timeouts"`
	Monitor         MonitorConfig   `yaml:"monitor"`
}

type AgentConfig struct {
	EDAURL      string `yaml:"eda_url"`
	GraphingURL string `yaml:"graphing_url"`
}

// LLMConfig selects the model backend used by the workflow translator.
// APIKey is the server-side default credential; requests may carry their own.
type LLMConfig struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	APIKeySecretARN string  `yaml:"api_key_secret_arn"`
	SecretRegion    string  `yaml:"secret_region"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
}

type RedisConfig struct {
	URL       string        `yaml:"url"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	Namespace string        `yaml:"namespace"`
}

// RateLimitConfig controls per-client limiting of translation endpoints.
// X-Forwarded-For is honoured only for requests arriving from one of
// TrustedProxies (IPs or CIDRs).
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	PerMinute      int      `yaml:"per_minute"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type UploadConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// ArchiveConfig enables mirroring of uploaded datasets to S3. An empty
// Bucket disables archiving.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// AuthConfig enables HS256 bearer-token checks on /api routes when
// JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TimeoutConfig holds the per-endpoint upstream deadlines.
type TimeoutConfig struct {
	Health   time.Duration `yaml:"health"`
	Read     time.Duration `yaml:"read"`
	Write    time.Duration `yaml:"write"`
	Artifact time.Duration `yaml:"artifact"`
	Model    time.Duration `yaml:"model"`
	Verify   time.Duration `yaml:"verify"`
}

type MonitorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxDuration  time.Duration `yaml:"max_duration"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	return Config{
		Environment:     "development",
		Port:            3001,
		OrchestratorURL: "http://localhost:8000",
		Agents: AgentConfig{
			EDAURL:      "http://localhost:8001",
			GraphingURL: "http://localhost:8002",
		},
		LLM: LLMConfig{
			Provider:    ProviderGemini,
			Temperature: 0.1,
			MaxTokens:   2048,
		},
		Redis: RedisConfig{
			CacheTTL:  time.Hour,
			Namespace: "mlorch",
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerMinute: 60,
		},
		Upload: UploadConfig{
			Dir:      os.TempDir(),
			MaxBytes: 100 << 20,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Timeouts: TimeoutConfig{
			Health:   5 * time.Second,
			Read:     10 * time.Second,
			Write:    30 * time.Second,
			Artifact: 30 * time.Second,
			Model:    30 * time.Second,
			Verify:   10 * time.Second,
		},
		Monitor: MonitorConfig{
			PollInterval: 2 * time.Second,
		},
	}
}

// Load builds a Config. It loads .env and .env.<APP_ENV>, then the YAML file
// at path (if path is non-empty), then environment overrides, and validates
// the result.
func Load(path string) (Config, error) {
	loadDotEnv()

	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel(cfg.LLM.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("[Config] could not load .env: %v", err)
	}

	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		return
	}
	envFile := fmt.Sprintf(".env.%s", appEnv)
	if err := godotenv.Overload(envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("[Config] could not load %s: %v", envFile, err)
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Environment = getEnv("APP_ENV", cfg.Environment)
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.OrchestratorURL = getEnv("ORCHESTRATOR_URL", cfg.OrchestratorURL)
	cfg.Agents.EDAURL = getEnv("EDA_AGENT_URL", cfg.Agents.EDAURL)
	cfg.Agents.GraphingURL = getEnv("GRAPHING_AGENT_URL", cfg.Agents.GraphingURL)

	cfg.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", cfg.LLM.Provider))
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	switch cfg.LLM.Provider {
	case ProviderOpenAI:
		cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", cfg.LLM.APIKey)
	default:
		cfg.LLM.APIKey = getEnv("GEMINI_API_KEY", cfg.LLM.APIKey)
	}
	cfg.LLM.APIKeySecretARN = getEnv("LLM_API_KEY_SECRET_ARN", cfg.LLM.APIKeySecretARN)
	cfg.LLM.SecretRegion = getEnv("AWS_REGION", cfg.LLM.SecretRegion)

	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.CacheTTL = getEnvDuration("CACHE_TTL", cfg.Redis.CacheTTL)
	cfg.RateLimit.PerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimit.PerMinute)
	cfg.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	if proxies := os.Getenv("RATE_LIMIT_TRUSTED_PROXIES"); proxies != "" {
		cfg.RateLimit.TrustedProxies = splitList(proxies)
	}

	cfg.Upload.Dir = getEnv("UPLOAD_DIR", cfg.Upload.Dir)
	cfg.Upload.MaxBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(cfg.Upload.MaxBytes)))

	cfg.Archive.Bucket = getEnv("ARCHIVE_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.Prefix = getEnv("ARCHIVE_PREFIX", cfg.Archive.Prefix)
	cfg.Archive.Region = getEnv("ARCHIVE_REGION", cfg.Archive.Region)
	cfg.Archive.Endpoint = getEnv("ARCHIVE_ENDPOINT", cfg.Archive.Endpoint)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORS.AllowedOrigins = splitList(origins)
	}

	cfg.Monitor.PollInterval = getEnvDuration("POLL_INTERVAL", cfg.Monitor.PollInterval)
	cfg.Monitor.MaxDuration = getEnvDuration("POLL_MAX_DURATION", cfg.Monitor.MaxDuration)
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	for name, raw := range map[string]string{
		"orchestrator_url":    c.OrchestratorURL,
		"agents.eda_url":      c.Agents.EDAURL,
		"agents.graphing_url": c.Agents.GraphingURL,
	} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.LLM.Provider != ProviderGemini && c.LLM.Provider != ProviderOpenAI {
		return fmt.Errorf("unsupported llm provider %q (want %s or %s)", c.LLM.Provider, ProviderGemini, ProviderOpenAI)
	}
	if c.RateLimit.Enabled && c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_minute must be positive when enabled")
	}
	if _, err := ParseCIDRs(c.RateLimit.TrustedProxies); err != nil {
		return fmt.Errorf("invalid rate_limit.trusted_proxies: %w", err)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	t := c.Timeouts
	for name, d := range map[string]time.Duration{
		"health": t.Health, "read": t.Read, "write": t.Write,
		"artifact": t.Artifact, "model": t.Model, "verify": t.Verify,
	} {
		if d <= 0 {
			return fmt.Errorf("timeouts.%s must be positive", name)
		}
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Monitor.MaxDuration < 0 {
		return fmt.Errorf("monitor.max_duration must not be negative")
	}
	return nil
}

// ParseCIDRs parses IPs and CIDR blocks. A bare IP matches only itself.
func ParseCIDRs(list []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("%q is not an IP or CIDR", raw)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// WithAPIKey returns a copy of c with the default model credential replaced.
func (c Config) WithAPIKey(key string) Config {
	c.LLM.APIKey = key
	return c
}

// Addr is the listen address for the gateway.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[Config] ignoring %s=%q: %v", key, value, err)
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("[Config] ignoring %s=%q: %v", key, value, err)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[Config] ignoring %s=%q: %v", key, value, err)
		return defaultValue
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
