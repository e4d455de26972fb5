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

// Package main implements mlctl, a command-line client for the ML
// Orchestrator gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abdulh-dev/ML-Orchestrator/orchestrator"
	"github.com/abdulh-dev/ML-Orchestrator/shared/logger"
)

var version = "1.0.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	gateway string
	token   string
	direct  bool
	verbose bool
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "mlctl",
		Short: "ML Orchestrator CLI",
		Long: `mlctl translates analysis requests into workflows, starts runs and
follows them until their artifacts are ready.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.gateway, "gateway", "g", envOr("MLCTL_GATEWAY", "http://localhost:3001"), "Gateway base URL")
	rootCmd.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("MLCTL_TOKEN"), "Bearer token for gateways with auth enabled")
	rootCmd.PersistentFlags().BoolVar(&flags.direct, "direct", false, "Treat --gateway as the orchestrator itself")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log client requests")

	rootCmd.AddCommand(translateCmd(flags))
	rootCmd.AddCommand(runCmd(flags))
	rootCmd.AddCommand(watchCmd(flags))
	rootCmd.AddCommand(statusCmd(flags))
	rootCmd.AddCommand(runsCmd(flags))
	rootCmd.AddCommand(deleteCmd(flags))
	rootCmd.AddCommand(datasetsCmd(flags))
	rootCmd.AddCommand(uploadCmd(flags))

	// Ctrl-C stops polling; the run itself keeps going upstream.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		printHint(err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// bearerTransport adds an Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// client returns a client for the gateway's /api surface, or for the
// orchestrator when --direct is set. prefix is appended to /api.
func (f *globalFlags) client(prefix string) *orchestrator.Client {
	pathPrefix := "/api" + prefix
	service := "gateway"
	if f.direct {
		pathPrefix = ""
		service = "orchestrator"
	}

	hc := &http.Client{}
	if f.token != "" {
		hc.Transport = &bearerTransport{token: f.token, base: http.DefaultTransport}
	}

	return orchestrator.NewClient(orchestrator.Options{
		Service:    service,
		BaseURL:    strings.TrimRight(f.gateway, "/"),
		PathPrefix: pathPrefix,
		HTTPClient: hc,
		Logger:     f.logger(service + "-client"),
	})
}

// logger logs to stderr at ERROR unless --verbose.
func (f *globalFlags) logger(component string) *logger.Logger {
	l := logger.New(component)
	l.SetOutput(os.Stderr)
	if !f.verbose {
		l.SetLevel(logger.ERROR)
	}
	return l
}

// printHint prints the remediation attached to typed upstream errors.
func printHint(err error) {
	var (
		unavailable *orchestrator.UnavailableError
		timeout     *orchestrator.TimeoutError
		statusErr   *orchestrator.StatusError
	)
	switch {
	case errors.As(err, &unavailable):
		fmt.Fprintln(os.Stderr, "Hint:", unavailable.Hint())
	case errors.As(err, &timeout):
		fmt.Fprintln(os.Stderr, "Hint:", timeout.Hint())
	case errors.As(err, &statusErr) && statusErr.Hint != "":
		fmt.Fprintln(os.Stderr, "Hint:", statusErr.Hint)
	}
}
