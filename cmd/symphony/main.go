// Symphony server — routes natural-language tasks to instruments, rooms,
// and loops, applies trust and privacy gates, and runs scheduled heartbeats.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loopsymphony/symphony/pkg/api"
	"github.com/loopsymphony/symphony/pkg/approval"
	"github.com/loopsymphony/symphony/pkg/conductor"
	"github.com/loopsymphony/symphony/pkg/config"
	"github.com/loopsymphony/symphony/pkg/errtrack"
	"github.com/loopsymphony/symphony/pkg/events"
	"github.com/loopsymphony/symphony/pkg/heartbeat"
	"github.com/loopsymphony/symphony/pkg/instruments"
	"github.com/loopsymphony/symphony/pkg/knowledge"
	"github.com/loopsymphony/symphony/pkg/loop"
	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/privacy"
	"github.com/loopsymphony/symphony/pkg/rooms"
	"github.com/loopsymphony/symphony/pkg/store"
	"github.com/loopsymphony/symphony/pkg/tasks"
	"github.com/loopsymphony/symphony/pkg/tools"
	"github.com/loopsymphony/symphony/pkg/trust"
	"github.com/loopsymphony/symphony/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	host := flag.String("host", "", "Bind address (overrides configuration)")
	port := flag.Int("port", 0, "Bind port (overrides configuration)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
			&slog.HandlerOptions{Level: slog.LevelDebug})))
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	slog.Info("Starting symphony", "version", version.Full(),
		"host", cfg.Host, "port", cfg.Port, "config_dir", *configDir)

	// 2. Store
	var st store.Store
	if cfg.StoreURL != "" {
		st, err = store.NewPostgres(ctx, cfg.StoreURL)
		if err != nil {
			slog.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to PostgreSQL store")
	} else {
		st = store.NewMemory()
		slog.Info("Using in-memory store")
	}
	defer st.Close()

	// 3. Tools
	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewClaudeTool(cfg.AnthropicAPIKey, cfg.Model)); err != nil {
		slog.Error("Failed to register reasoning tool", "error", err)
		os.Exit(1)
	}
	if cfg.TavilyAPIKey != "" {
		if err := registry.Register(tools.NewWebSearchTool(cfg.TavilyAPIKey, cfg.SearchBaseURL)); err != nil {
			slog.Error("Failed to register web search tool", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("TAVILY_API_KEY not set, web research disabled")
	}

	// 4. Instruments and loop machinery
	eval := instruments.NewEvaluator()
	eval.ConfidenceThreshold = cfg.ResearchConfidenceThreshold
	eval.DeltaThreshold = cfg.ResearchConfidenceDelta
	lib, err := conductor.NewLibrary(registry, cfg.ResearchMaxIterations, eval)
	if err != nil {
		slog.Error("Failed to build instrument library", "error", err)
		os.Exit(1)
	}
	slog.Info("Instrument library built", "instruments", lib.Names())

	loops, err := loop.NewExecutor(lib, registry, eval)
	if err != nil {
		slog.Error("Failed to build loop executor", "error", err)
		os.Exit(1)
	}
	proposer, err := loop.NewProposer(registry, lib)
	if err != nil {
		slog.Error("Failed to build loop proposer", "error", err)
		os.Exit(1)
	}

	// 5. Domain services
	bus := events.NewBus()
	tracker := trust.NewTracker()
	policy := trust.NewPolicyEngine(cfg.PolicyRules...)
	approvals := approval.NewRouter()
	errs := errtrack.NewTracker()
	classifier := privacy.NewClassifier(cfg.PrivacyStrict)
	knowledgeBase := knowledge.NewBase()
	manager := tasks.NewManager()
	var serverCaps []string
	for _, tool := range registry.All() {
		serverCaps = append(serverCaps, tool.Capabilities()...)
	}
	roomRegistry := rooms.NewRegistry(serverCaps, lib.Names())
	roomClient := rooms.NewClient()

	// 6. Conductor
	cond, err := conductor.New(conductor.Deps{
		Lib:        lib,
		Privacy:    classifier,
		Trust:      tracker,
		Policy:     policy,
		Approvals:  approvals,
		Errors:     errs,
		Bus:        bus,
		Rooms:      roomRegistry,
		RoomClient: roomClient,
		Loops:      loops,
		Proposer:   proposer,
	})
	if err != nil {
		slog.Error("Failed to build conductor", "error", err)
		os.Exit(1)
	}

	// 7. Heartbeat scheduler, running expanded queries through the conductor
	// under the heartbeat's own identity.
	scheduler := heartbeat.NewScheduler(st, func(ctx context.Context, hb models.Heartbeat, query string) (string, *models.TaskResponse, error) {
		req := &models.TaskRequest{Query: query}
		req.EnsureID()
		auth := &models.AuthContext{App: &models.App{ID: hb.AppID, IsActive: true}}
		if hb.UserID != "" {
			auth.User = &models.UserProfile{AppID: hb.AppID, ExternalID: hb.UserID}
		}
		resp, err := cond.ExecuteApproved(ctx, req, auth)
		if err != nil {
			return req.ID, nil, err
		}
		return req.ID, resp, nil
	})
	if err := scheduler.Load(ctx); err != nil {
		slog.Error("Failed to load persisted heartbeats", "error", err)
		os.Exit(1)
	}
	go scheduler.Run(ctx)
	defer scheduler.Stop()

	// 8. Background maintenance: retention for finished tasks, event
	// history, and stale approvals.
	maintenanceCtx, stopMaintenance := context.WithCancel(ctx)
	defer stopMaintenance()
	go func() {
		ticker := time.NewTicker(cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-maintenanceCtx.Done():
				return
			case <-ticker.C:
				manager.CleanupOld(cfg.TaskRetention)
				bus.CleanupStale()
				approvals.ExpireStale()
			}
		}
	}()

	// 9. HTTP server
	server := api.NewServer(api.Deps{
		Conductor:   cond,
		Store:       st,
		Tasks:       manager,
		Bus:         bus,
		Rooms:       roomRegistry,
		Heartbeats:  scheduler,
		Knowledge:   knowledgeBase,
		Approvals:   approvals,
		Trust:       tracker,
		Policy:      policy,
		Errors:      errs,
		Privacy:     classifier,
		Version:     version.Full(),
		Instruments: lib.Names(),
		Tools:       registry.Names(),
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stats := cfg.Stats()
	slog.Info("Symphony started",
		"model", stats.Model,
		"store", stats.StoreBackend,
		"search_enabled", stats.SearchEnabled,
		"policy_rules", stats.PolicyRules)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}
	slog.Info("Symphony stopped")
}
