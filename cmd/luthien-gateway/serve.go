package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/luthienresearch/luthien-gateway/internal/auth"
	"github.com/luthienresearch/luthien-gateway/internal/config"
	"github.com/luthienresearch/luthien-gateway/internal/gateway"
	"github.com/luthienresearch/luthien-gateway/internal/observability"
	"github.com/luthienresearch/luthien-gateway/internal/persistence"
	"github.com/luthienresearch/luthien-gateway/internal/persistence/postgres"
	"github.com/luthienresearch/luthien-gateway/internal/persistence/sqlite"
	"github.com/luthienresearch/luthien-gateway/internal/pipeline"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine/passthrough"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine/textcase"
	"github.com/luthienresearch/luthien-gateway/internal/policyengine/toolschema"
	"github.com/luthienresearch/luthien-gateway/internal/pubsub"
	"github.com/luthienresearch/luthien-gateway/internal/pubsub/local"
	"github.com/luthienresearch/luthien-gateway/internal/upstream"
	"github.com/luthienresearch/luthien-gateway/internal/upstream/anthropic"
	"github.com/luthienresearch/luthien-gateway/internal/upstream/bedrock"
	"github.com/luthienresearch/luthien-gateway/internal/upstream/google"
	"github.com/luthienresearch/luthien-gateway/internal/upstream/openai"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool
	var logFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Luthien gateway server",
		Long: `Start the Luthien gateway server: loads the policy chain and upstream
routing table, then serves the OpenAI and Anthropic-compatible ingress
endpoints, the activity stream, and Prometheus metrics.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug, logFile)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "luthien.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this rotating file instead of stderr")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool, logFile string) error {
	logLevel := "info"
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  logLevel,
		Format: "json",
		Output: logOutput(logFile),
	})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info(ctx, "configuration loaded", "config", configPath, "providers", len(cfg.Upstream.Providers))

	router, err := buildRouter(cfg)
	if err != nil {
		return fmt.Errorf("failed to build upstream router: %w", err)
	}

	policies, err := buildPolicies(cfg)
	if err != nil {
		return fmt.Errorf("failed to build policy chain: %w", err)
	}

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to build persistence store: %w", err)
	}

	metrics := observability.NewMetrics()
	tracer, traceShutdown := observability.NewTracer(observability.TraceConfig{})
	broker := buildBroker(cfg, metrics)
	authService := auth.NewService(auth.Config{
		ProxyAPIKey: cfg.Auth.ProxyAPIKey,
		JWTSecret:   cfg.Auth.JWTSecret,
		JWTIssuer:   cfg.Auth.JWTIssuer,
	})

	processor := pipeline.New(pipeline.Config{
		Router:          router,
		Policies:        policies,
		Store:           store,
		Broker:          broker,
		Logger:          logger,
		Metrics:         metrics,
		Tracer:          tracer,
		MaxRequestBytes: cfg.Limits.MaxRequestBytes,
		QueueCapacity:   cfg.Queues.Capacity,
		StallThreshold:  cfg.Limits.StallThreshold(),
		OverallDeadline: cfg.Limits.OverallDeadline(),
	})

	server := gateway.NewServer(gateway.Config{
		Cfg:       cfg,
		Logger:    logger,
		Processor: processor,
		Auth:      authService,
		Broker:    broker,
		Metrics:   metrics,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn(context.Background(), "error closing persistence store", "error", err)
	}
	if traceShutdown != nil {
		if err := traceShutdown(shutdownCtx); err != nil {
			logger.Warn(context.Background(), "error shutting down tracer", "error", err)
		}
	}

	logger.Info(context.Background(), "gateway stopped gracefully")
	return nil
}

// buildRouter constructs one upstream client per configured provider and
// registers it under its model pattern. The provider's credential lives in
// the environment variable named by credentials_ref.
func buildRouter(cfg *config.Config) (*upstream.Router, error) {
	router := upstream.NewRouter()
	for _, p := range cfg.Upstream.Providers {
		apiKey := os.Getenv(p.CredentialRef)
		var client upstream.Client
		var err error
		switch p.Dialect {
		case "anthropic":
			client, err = anthropic.New(anthropic.Config{APIKey: apiKey, BaseURL: p.BaseURL, DefaultModel: p.DefaultModel})
		case "openai":
			client, err = openai.New(openai.Config{APIKey: apiKey, BaseURL: p.BaseURL, DefaultModel: p.DefaultModel})
		case "bedrock":
			client, err = bedrock.New(context.Background(), bedrock.Config{Region: p.Region, DefaultModel: p.DefaultModel})
		case "google":
			client, err = google.New(context.Background(), google.Config{APIKey: apiKey, DefaultModel: p.DefaultModel})
		default:
			return nil, fmt.Errorf("provider %q: unknown dialect %q", p.Pattern, p.Dialect)
		}
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.Pattern, err)
		}
		router.Register(p.Pattern, client)
	}
	return router, nil
}

// buildPolicies resolves the configured policy chain from the registry of
// built-in policy classes.
func buildPolicies(cfg *config.Config) ([]policyengine.Policy, error) {
	registry := policyengine.NewRegistry()
	registry.Register("passthrough", passthrough.New)
	registry.Register("textcase", textcase.New)
	registry.Register("toolschema", toolschema.New)

	defs := make([]policyengine.Definition, len(cfg.Policy))
	for i, p := range cfg.Policy {
		raw, err := marshalPolicyConfig(p.Config)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", p.ClassRef, err)
		}
		defs[i] = policyengine.Definition{ClassRef: p.ClassRef, Config: raw}
	}
	return registry.BuildAll(defs)
}

func buildStore(cfg *config.Config) (persistence.Store, error) {
	switch cfg.Persistence.Driver {
	case "postgres":
		return postgres.New(cfg.Persistence.DSN, nil)
	case "sqlite", "":
		path := cfg.Persistence.DSN
		if path == "" {
			path = "luthien.db"
		}
		return sqlite.New(path)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Persistence.Driver)
	}
}

func buildBroker(cfg *config.Config, metrics *observability.Metrics) pubsub.Broker {
	return local.New(metrics)
}

func marshalPolicyConfig(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// logOutput returns a rotating file sink when path is set, else stderr.
func logOutput(path string) io.Writer {
	if path == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
}
