package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aegis/pkg/agent"
	"aegis/pkg/auth"
	"aegis/pkg/config"
	"aegis/pkg/llm"
	_ "aegis/pkg/llm/ollamalm"   // register the ollama provider
	_ "aegis/pkg/llm/openaichat" // register the openai providers
	"aegis/pkg/monitor"
	"aegis/pkg/server"
	"aegis/pkg/store"
	"aegis/pkg/tools"
)

func main() {
	monitor.PrintBanner()

	cfg, sysCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	monitor.SetupSlog(sysCfg.LogLevel)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	router, err := llm.NewRouterFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		slog.Error("Failed to init LLM clients", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM clients ready", "models", router.Models())

	registry := tools.NewRegistry()
	registry.Register(tools.NewTimeTool(cfg.Agent.DefaultTimezone))
	registry.Register(tools.NewReasoningTool())
	registry.Register(tools.NewSearchTool(
		router.ForModels(cfg.WebSearch.Models),
		time.Duration(cfg.WebSearch.TimeoutMs)*time.Millisecond,
	))
	registry.Register(tools.NewFetchTool(
		st,
		time.Duration(sysCfg.DownloadTimeoutMs)*time.Millisecond,
		cfg.Uploads.MaxFileSize,
	))

	pool := tools.NewPool(sysCfg.ToolWorkerPoolSize)

	engine := agent.NewEngine(router, st, st, registry, pool, sysCfg, cfg.Core())

	cliMonitor := monitor.NewCLIMonitor()
	if err := cliMonitor.Start(); err == nil {
		engine.SetMonitor(cliMonitor)
	}

	tokens := auth.NewManager(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.AccessTokenExpireMinutes)*time.Minute)

	api := server.New(st, engine, tokens, router, cfg)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.Handler(),
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload the loop configuration on config.json changes. Runs in
	// flight keep their snapshot.
	go func() {
		debounce := time.Duration(sysCfg.ConfigReloadDebounceMs) * time.Millisecond
		for range config.WatchConfig(rootCtx, debounce, "config.json") {
			reloaded, _, err := config.Load()
			if err != nil {
				slog.Error("Config reload failed, keeping previous settings", "error", err)
				continue
			}
			engine.SetCoreConfig(reloaded.Core())
			slog.Info("Loop configuration reloaded")
		}
	}()

	go func() {
		slog.Info("API server listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		slog.Info("Received shutdown signal, stopping services...")
	case <-rootCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	_ = cliMonitor.Stop()
	slog.Info("Bye!")
}
