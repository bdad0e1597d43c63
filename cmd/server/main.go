package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/api"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/config"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/extractor"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/graphsink"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/llm"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/pattern"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vocab := pattern.DefaultVocabulary()
	if cfg.VocabPath != "" {
		v, err := pattern.LoadVocabulary(cfg.VocabPath)
		if err != nil {
			log.Error("load vocabulary", "path", cfg.VocabPath, "error", err)
			os.Exit(1)
		}
		vocab = v
	}
	matcher, err := pattern.NewMatcher(vocab)
	if err != nil {
		log.Error("build pattern matcher", "error", err)
		os.Exit(1)
	}

	// Initialize clients.
	stats := llm.NewStats(time.Hour)
	client := llm.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.LLMTimeout, stats)
	sink := graphsink.NewClient(cfg.GraphStoreURL, cfg.GraphStoreAPIKey)

	extCfg := extractor.Config{RequireReferralPath: cfg.ReferralOverride()}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, client, sink, matcher, extCfg, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, client, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		client.Close()
		sink.Close()
	}()

	log.Info("starting graph builder", "port", cfg.Port, "model", cfg.AnthropicModel)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
