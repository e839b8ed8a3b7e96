// Package main is the entry point for the copilot gateway. It loads
// configuration, builds the resilient provider client, assembles the
// middleware stack, starts the HTTP server, and handles graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/complyon/copilot-gateway/internal/admin"
	"github.com/complyon/copilot-gateway/internal/auth"
	"github.com/complyon/copilot-gateway/internal/config"
	"github.com/complyon/copilot-gateway/internal/copilot"
	"github.com/complyon/copilot-gateway/internal/health"
	"github.com/complyon/copilot-gateway/internal/logging"
	"github.com/complyon/copilot-gateway/internal/metrics"
	"github.com/complyon/copilot-gateway/internal/middleware"
	"github.com/complyon/copilot-gateway/internal/ratelimit"
	"github.com/complyon/copilot-gateway/internal/server"
	"github.com/complyon/copilot-gateway/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.Model,
		"auth_enabled", cfg.Auth.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"admin_enabled", cfg.Admin.Enabled,
		"max_body_bytes", cfg.Server.MaxBodyBytes,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Build the resilient provider client.
	client, err := copilot.NewClient(clientConfig(cfg), copilot.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create provider client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Build the inbound per-client rate limiter.
	limiter := ratelimit.New(cfg.RateLimit, logger)
	defer limiter.Stop()

	// Assemble middleware stack:
	// Recovery → RequestID → SecurityHeaders → Logging → Deadline →
	// RateLimit → Auth → BodyLimit → API
	apiHandler := server.New(client, logger)
	apiMux := http.NewServeMux()
	apiHandler.RegisterRoutes(apiMux)

	var handler http.Handler = apiMux
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = auth.Middleware(cfg.Auth, server.OperationScope, logger)(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.Deadline(cfg.Server.GlobalTimeout())(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Health, metrics, and admin endpoints bypass the API middleware stack.
	opsMux := http.NewServeMux()
	healthHandler := health.New(client.ProviderName(), client.BaseURL(), client.Breaker(), logger)
	healthHandler.RegisterRoutes(opsMux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		opsMux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	// Config hot reload via fsnotify + SIGHUP.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.RateLimit)
		client.Breaker().UpdateConfig(
			newCfg.CircuitBreaker.FailureThreshold,
			newCfg.CircuitBreaker.RecoveryTimeout,
			newCfg.CircuitBreaker.HalfOpenMaxCalls,
		)
	})

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader, limiter, client.Breaker(), cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(opsMux)
		logger.Info("admin API registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/health") ||
			strings.HasPrefix(r.URL.Path, "/ready") ||
			strings.HasPrefix(r.URL.Path, "/admin/") ||
			(cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath) {
			opsMux.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var certLoader *tlsutil.CertLoader
	if cfg.Server.TLS.Enabled {
		certLoader, err = tlsutil.New(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			logger.Error("failed to load TLS certificate", "error", err)
			os.Exit(1)
		}
		defer certLoader.Stop()

		srv.TLSConfig = &tls.Config{
			GetCertificate: certLoader.GetCertificate,
			MinVersion:     tlsMinVersion(cfg.Server.TLS.MinVersion),
		}
	}

	go func() {
		var serveErr error
		if cfg.Server.TLS.Enabled {
			logger.Info("starting gateway with TLS", "addr", srv.Addr)
			serveErr = srv.ListenAndServeTLS("", "")
		} else {
			logger.Info("starting gateway", "addr", srv.Addr)
			serveErr = srv.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("server error", "error", serveErr)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped gracefully")
}

// clientConfig translates the YAML config sections into the client's
// reliability parameters.
func clientConfig(cfg *config.Config) copilot.Config {
	return copilot.Config{
		Provider:          cfg.Provider.Name,
		BaseURL:           cfg.Provider.BaseURL,
		Model:             cfg.Provider.Model,
		APIKey:            cfg.Provider.APIKey,
		FailureThreshold:  cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:   cfg.CircuitBreaker.RecoveryTimeout,
		HalfOpenMaxCalls:  cfg.CircuitBreaker.HalfOpenMaxCalls,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		RetryMinWait:      cfg.Retry.MinWait,
		RetryMaxWait:      cfg.Retry.MaxWait,
		Timeout:           cfg.Provider.Timeout(),
		MaxConcurrent:     cfg.CircuitBreaker.MaxConcurrent,
		SlowCallThreshold: cfg.CircuitBreaker.SlowCallThreshold,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		Temperature:       cfg.Provider.Temperature,
		MaxTokens:         cfg.Provider.MaxTokens,
	}
}

// buildLogger constructs the slog logger from the logging config. Returns a
// closer when logging to a rotating file.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := middleware.ParseLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Output {
	case "", "stdout":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil, nil
	case "stderr":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil, nil
	}

	writer, err := logging.NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slog.NewJSONHandler(writer, opts)), writer, nil
}

func tlsMinVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
