// The vibeforge server: HTTP control plane, tick-based multi-agent
// simulation engine, and duplex WebSocket channels to remote agents.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vibeforge/vibeforge/pkg/api"
	"github.com/vibeforge/vibeforge/pkg/config"
	"github.com/vibeforge/vibeforge/pkg/events"
	"github.com/vibeforge/vibeforge/pkg/llm"
	"github.com/vibeforge/vibeforge/pkg/metrics"
	"github.com/vibeforge/vibeforge/pkg/remote"
	"github.com/vibeforge/vibeforge/pkg/services"
	"github.com/vibeforge/vibeforge/pkg/session"
	"github.com/vibeforge/vibeforge/pkg/sim"
	"github.com/vibeforge/vibeforge/pkg/version"
	"github.com/vibeforge/vibeforge/pkg/workspace"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := flag.String("config",
		getEnv("VIBEFORGE_CONFIG", ""),
		"Path to the YAML configuration file (empty runs on defaults)")
	flag.Parse()

	// Load .env before config so its variables feed the env overrides.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment", "error", err)
	}

	// 1. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)})
	slog.SetDefault(slog.New(handler))

	tokens, err := config.ResolveAuthTokens()
	if err != nil {
		slog.Error("Failed to resolve auth tokens", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting vibeforge",
		"version", version.Full(),
		"listen_addr", cfg.Server.ListenAddr,
		"llm_mode", cfg.LLM.Mode,
		"auth_enabled", len(tokens) > 0)

	ctx := context.Background()

	// 2. Event journal, live stream and metrics
	layout := workspace.NewLayout(cfg.Workspace.Root)
	store, err := events.NewStore(layout)
	if err != nil {
		slog.Error("Failed to open event store", "root", cfg.Workspace.Root, "error", err)
		os.Exit(1)
	}
	m := metrics.Default()
	hub := events.NewHub(store)
	publisher := events.NewPublisher(store, hub, m)

	// 3. Session registry and remote agent channels. Progress frames have no
	// other server-side sink, so they are surfaced here.
	sessions := session.NewStore()
	locker := session.NewLocker()
	manager := remote.NewManager(cfg.Remote, remote.Callbacks{
		OnProgress: func(agentID, messageID, status, text string) {
			slog.Info("Agent progress",
				"agent_id", agentID, "message_id", messageID, "status", status, "text", text)
		},
	}, m)

	// 4. LLM generator, tick engine and simulation control
	generator := llm.NewGeneratorFromConfig(cfg.LLM)
	engine := sim.NewEngine(publisher, manager, generator, cfg.Remote.DispatchTimeout)
	controller := sim.NewController(sessions, locker, engine, publisher, store, manager)
	runner := sim.NewRunner(controller)
	controller.SetRunner(runner)

	// 5. Pipeline coordinator and HTTP server
	coordinator := services.NewCoordinator(sessions, locker, layout, publisher, generator, m, cfg.Simulation)

	server := api.NewServer(cfg, api.Deps{
		Coordinator: coordinator,
		Simulation:  controller,
		Events:      store,
		Hub:         hub,
		Remote:      manager,
		AgentWS:     remote.NewHandler(manager, tokens),
		AuthTokens:  tokens,
	})

	// 6. Serve until a signal or a listener error
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: stop accepting HTTP work, halt auto-run ticking,
	// then drop agent and observer connections.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	runner.Shutdown()
	manager.Shutdown("server shutdown")
	hub.Shutdown()

	slog.Info("Shutdown complete")
}
