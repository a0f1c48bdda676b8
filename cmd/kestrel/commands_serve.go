package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocotilloai/kestrel/internal/config"
	"github.com/ocotilloai/kestrel/internal/llm"
	"github.com/ocotilloai/kestrel/internal/llm/providers"
	"github.com/ocotilloai/kestrel/internal/observability"
	"github.com/ocotilloai/kestrel/internal/orchestrator"
	"github.com/ocotilloai/kestrel/internal/sessions"
	"github.com/ocotilloai/kestrel/internal/tools"
	"github.com/ocotilloai/kestrel/internal/web"
)

// buildServeCmd creates the "serve" command that starts the control-plane
// HTTP/WebSocket server described in SPEC_FULL.md §6.
func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kestrel orchestrator server",
		Long: `Start the HTTP/WebSocket control surface: session lifecycle endpoints,
transcript access, project/branch management, and the per-connection
WebSocket upgrade that drives the Manager/Coder agent loop.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging.Level)
	logger.Info("starting kestrel", "version", version, "commit", commit, "provider", cfg.LLM.Provider)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "kestrel",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	metrics := observability.NewMetrics()

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build LLM provider: %w", err)
	}

	store, err := sessions.New(cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	procs := tools.NewProcessTracker()
	registry := tools.NewDefaultRegistry(procs, metrics)

	orch := orchestrator.New(store, provider, registry, cfg.LLM.Model)
	orch.Metrics = metrics
	orch.Tracer = tracer
	server := web.NewServer(store, orch, provider, cfg.LLM.Model, cfg.LLM.SummarizerModel, metrics, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "workspace", cfg.Workspace.Root)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("closing session store", "error", err)
	}
	return nil
}

// buildProvider constructs the llm.Provider selected by cfg.LLM.Provider,
// applying each adapter's required config fields.
func buildProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.Endpoint,
			DefaultModel: cfg.LLM.Model,
		})
	case "openai":
		return providers.NewOpenAICompatProvider(providers.OpenAICompatConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.Endpoint,
			DefaultModel: cfg.LLM.Model,
			Label:        "openai",
		})
	case "venice":
		return providers.NewOpenAICompatProvider(providers.NewVeniceConfig(cfg.LLM.APIKey, cfg.LLM.Model))
	case "bedrock":
		return providers.NewBedrockProvider(ctx, providers.BedrockConfig{
			Region:          cfg.LLM.BedrockRegion,
			DefaultModel:    cfg.LLM.Model,
			AccessKeyID:     cfg.LLM.BedrockAccessKeyID,
			SecretAccessKey: cfg.LLM.BedrockSecretAccessKey,
			SessionToken:    cfg.LLM.BedrockSessionToken,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.LLM.Provider)
	}
}
