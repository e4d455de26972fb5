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

// Package gateway is the browser-facing HTTP entry point. It hosts the
// workflow translator, forwards and reshapes orchestrator calls, delivers
// artifact bytes and exposes debug endpoints.
//
// A Server holds only its immutable configuration and long-lived clients;
// handlers keep no state between requests.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/abdulh-dev/ML-Orchestrator/archive"
	"github.com/abdulh-dev/ML-Orchestrator/config"
	"github.com/abdulh-dev/ML-Orchestrator/llm"
	"github.com/abdulh-dev/ML-Orchestrator/llm/gemini"
	"github.com/abdulh-dev/ML-Orchestrator/llm/openai"
	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/shared/logger"
	"github.com/abdulh-dev/ML-Orchestrator/translator"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

// Deps are the long-lived collaborators of a Server. Orchestrator, Graphing,
// EDA and Translator are required; the rest are optional.
type Deps struct {
	Orchestrator *orchestrator.Client
	Graphing     *orchestrator.Client
	EDA          *orchestrator.Client
	Translator   *translator.Service
	// Provider verifies user credentials for /api/test-key.
	Provider llm.Provider
	Redis    *redis.Client
	Archiver archive.Archiver
	Logger   *logger.Logger
}

// Server implements the gateway routes.
type Server struct {
	cfg        config.Config
	orch       *orchestrator.Client
	graphing   *orchestrator.Client
	eda        *orchestrator.Client
	translator *translator.Service
	provider   llm.Provider
	redis      *redis.Client
	archiver   archive.Archiver
	limiter    *RateLimiter
	logger     *logger.Logger
	startedAt  time.Time
}

// NewServer creates a Server.
func NewServer(cfg config.Config, deps Deps) *Server {
	lg := deps.Logger
	if lg == nil {
		lg = logger.New("gateway")
	}
	s := &Server{
		cfg:        cfg,
		orch:       deps.Orchestrator,
		graphing:   deps.Graphing,
		eda:        deps.EDA,
		translator: deps.Translator,
		provider:   deps.Provider,
		redis:      deps.Redis,
		archiver:   deps.Archiver,
		logger:     lg,
		startedAt:  time.Now(),
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.PerMinute > 0 {
		s.limiter = NewRateLimiter(deps.Redis, cfg.Redis.Namespace, cfg.RateLimit.PerMinute)
		trusted, err := config.ParseCIDRs(cfg.RateLimit.TrustedProxies)
		if err != nil {
			lg.Warn("", "Ignoring trusted proxies", map[string]interface{}{"error": err.Error()})
		}
		s.limiter.trusted = trusted
	}
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(recoverPanics, requestIDs, s.accessLog)

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	if s.cfg.Auth.JWTSecret != "" {
		api.Use(s.requireToken)
	}

	api.HandleFunc("/health", s.apiHealthHandler).Methods("GET")

	// Translation
	api.HandleFunc("/test-key", s.rateLimit(s.testKeyHandler)).Methods("POST")
	api.HandleFunc("/parse-input", s.rateLimit(s.parseInputHandler)).Methods("POST")
	api.HandleFunc("/simple-workflow", s.rateLimit(s.simpleWorkflowHandler)).Methods("POST")
	api.HandleFunc("/examples", s.examplesHandler).Methods("GET")

	// Datasets
	api.HandleFunc("/datasets", s.listDatasetsHandler).Methods("GET")
	api.HandleFunc("/datasets/{filename}/columns", s.datasetColumnsHandler).Methods("GET")
	api.HandleFunc("/upload", s.uploadHandler).Methods("POST")
	api.HandleFunc("/datasets/upload", s.uploadHandler).Methods("POST")

	// Runs
	api.HandleFunc("/orchestrator/workflows/start", s.startWorkflowHandler).Methods("POST")
	api.HandleFunc("/workflows/start", s.startWorkflowHandler).Methods("POST")
	api.HandleFunc("/runs", s.listRunsHandler).Methods("GET")
	api.HandleFunc("/runs/{run_id}/status", s.runStatusHandler).Methods("GET")
	api.HandleFunc("/runs/{run_id}/steps", s.runStepsHandler).Methods("GET")
	api.HandleFunc("/runs/{run_id}/steps/{n}", s.runStepHandler).Methods("GET")
	api.HandleFunc("/runs/{run_id}/artifacts", s.runArtifactsHandler).Methods("GET")
	api.HandleFunc("/artifacts/{run_id}/{filename}", s.artifactHandler).Methods("GET")
	api.HandleFunc("/artifacts/{run_id}/{filename}/base64", s.artifactBase64Handler).Methods("GET")

	// Debug
	api.HandleFunc("/debug/connectivity", s.connectivityHandler).Methods("GET")
	api.HandleFunc("/debug/file-location", s.fileLocationHandler).Methods("GET")

	// Everything else under /api/orchestrator goes upstream unchanged.
	api.PathPrefix("/orchestrator/").HandlerFunc(s.passThroughHandler)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{orchestrator.HeaderRequestID, orchestrator.HeaderCorrelationID},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// Build wires a Server from configuration. The returned cleanup closes
// long-lived connections.
func Build(ctx context.Context, cfg config.Config) (*Server, func(), error) {
	base := logger.New("gateway")
	timeouts := orchestrator.Timeouts{
		Health:   cfg.Timeouts.Health,
		Read:     cfg.Timeouts.Read,
		Write:    cfg.Timeouts.Write,
		Artifact: cfg.Timeouts.Artifact,
	}
	newClient := func(service, url string) *orchestrator.Client {
		return orchestrator.NewClient(orchestrator.Options{
			Service:  service,
			BaseURL:  url,
			Timeouts: timeouts,
			Logger:   base.With(service),
		})
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// Cache and rate limiter both degrade without Redis.
			log.Printf("[Gateway] Redis not reachable at %s: %v (continuing without it)", cfg.Redis.URL, err)
			rdb.Close()
			rdb = nil
		} else {
			log.Printf("[Gateway] Redis connected")
			cleanups = append(cleanups, func() { rdb.Close() })
		}
	}

	provider := newProvider(cfg)

	topts := translator.Options{
		DefaultCredential: cfg.LLM.APIKey,
		ModelTimeout:      cfg.Timeouts.Model,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		Logger:            base.With("translator"),
	}
	if rdb != nil {
		topts.Cache = translator.NewRedisCache(rdb, cfg.Redis.Namespace, cfg.Redis.CacheTTL)
	}

	var archiver archive.Archiver
	s3a, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		return nil, cleanup, err
	}
	if s3a != nil {
		archiver = s3a
		log.Printf("[Gateway] Archiving uploads to s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix)
	}

	srv := NewServer(cfg, Deps{
		Orchestrator: newClient("orchestrator", cfg.OrchestratorURL),
		Graphing:     newClient(translator.AgentGraphing, cfg.Agents.GraphingURL),
		EDA:          newClient(translator.AgentEDA, cfg.Agents.EDAURL),
		Translator:   translator.NewService(provider, topts),
		Provider:     provider,
		Redis:        rdb,
		Archiver:     archiver,
		Logger:       base,
	})
	return srv, cleanup, nil
}

func newProvider(cfg config.Config) llm.Provider {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		return openai.NewProvider(openai.Config{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
	default:
		return gemini.NewProvider(gemini.Config{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.Timeouts.Model,
		})
	}
}

// Run loads configuration from the environment and serves until SIGINT or
// SIGTERM.
func Run() {
	log.Println("Starting ML Orchestrator gateway...")

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[Gateway] Invalid configuration: %v", err)
	}

	ctx := context.Background()
	if cfg.LLM.APIKey == "" && cfg.LLM.APIKeySecretARN != "" {
		resolver, err := config.NewSecretsResolver(ctx, cfg.LLM.SecretRegion, 0)
		if err != nil {
			log.Fatalf("[Gateway] Secrets Manager unavailable: %v", err)
		}
		if cfg, err = config.ResolveCredentials(ctx, cfg, resolver); err != nil {
			log.Fatalf("[Gateway] Could not resolve model API key: %v", err)
		}
	}
	if cfg.LLM.APIKey == "" {
		log.Println("[Gateway] No server-side model API key; requests without a key use rule-based translation")
	}

	srv, cleanup, err := Build(ctx, cfg)
	defer cleanup()
	if err != nil {
		log.Fatalf("[Gateway] Startup failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("ML Orchestrator gateway listening on %s (orchestrator: %s)", cfg.Addr(), cfg.OrchestratorURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Gateway] Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("[Gateway] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Gateway] Shutdown error: %v", err)
	}
}
