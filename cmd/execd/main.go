package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hellomypastor/OpenSandbox/internal/config"
	"github.com/hellomypastor/OpenSandbox/internal/fileops"
	"github.com/hellomypastor/OpenSandbox/internal/gateway"
	"github.com/hellomypastor/OpenSandbox/internal/handler"
	"github.com/hellomypastor/OpenSandbox/internal/kernel"
	"github.com/hellomypastor/OpenSandbox/internal/lifecycle"
	"github.com/hellomypastor/OpenSandbox/internal/logx"
	"github.com/hellomypastor/OpenSandbox/internal/registry"
	"github.com/hellomypastor/OpenSandbox/internal/runner"
	"github.com/hellomypastor/OpenSandbox/internal/session"
	"github.com/hellomypastor/OpenSandbox/internal/store"
)

func main() {
	logger, closeLogger, err := logx.Init("execd")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if err := closeLogger(); err != nil {
			slog.Error("failed to close logger", "error", err)
		}
	}()

	stdLog := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	log.SetFlags(0)
	log.SetOutput(stdLog.Writer())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	slog.Info("configuration loaded",
		"component", "config", "sandbox_id", cfg.SandboxID, "root", cfg.SandboxRoot)

	dbPath := filepath.Join(cfg.DataDir, "execd.db")
	slog.Info("initializing database", "component", "store", "db_path", dbPath)
	if err := store.InitDB(dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.CloseDB()

	execStore := store.NewExecutionStore()

	daemonCtx, daemonCancel := context.WithCancel(context.Background())
	defer daemonCancel()

	reg := registry.New(cfg.SandboxID, execStore, registry.Options{
		Retention:        cfg.ExecutionRetention,
		MaxRecords:       cfg.ExecutionRetentionMax,
		HistoryRetention: cfg.ExecutionHistoryRetention,
	})
	reg.StartJanitor(daemonCtx, 30*time.Second)
	slog.Info("execution janitor started",
		"component", "registry", "retention", cfg.ExecutionRetention.String(),
		"history_retention", cfg.ExecutionHistoryRetention.String())

	cmdRunner := runner.New(reg, cfg.DefaultCommandTimeout, cfg.KillGracePeriod)

	files, err := fileops.New(cfg.SandboxRoot)
	if err != nil {
		log.Fatalf("Failed to initialize file service: %v", err)
	}

	kernels := cfg.Kernels
	factory := func(language string) (kernel.Kernel, error) {
		spec, ok := kernels[language]
		if !ok {
			return nil, os.ErrNotExist
		}
		return kernel.NewProcessKernel(language, spec.Argv, cfg.SandboxRoot), nil
	}
	sessions := session.NewManager(cfg.SandboxID, reg, factory, cfg.ContextIdleTimeout)
	sessions.StartIdleReaper(daemonCtx, 30*time.Second)
	slog.Info("context idle reaper started",
		"component", "session", "idle_timeout", cfg.ContextIdleTimeout.String())

	drainState := lifecycle.NewDrainManager()

	commandHandler := handler.NewCommandHandler(cfg.SandboxID, cmdRunner, reg, drainState)
	fileHandler := handler.NewFileHandler(cfg.SandboxID, files)
	codeHandler := handler.NewCodeHandler(cfg.SandboxID, sessions, reg, drainState)
	sandboxHandler := handler.NewSandboxHandler(cfg, execStore)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logx.RequestIDMiddleware())
	r.Use(logx.AccessLogMiddleware("execd_http"))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Access-Token", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Extensions", "Sec-WebSocket-Protocol"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if drainState.IsDraining() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(gateway.AuthMiddleware(cfg.AccessTokenHash))
	api.Use(gateway.DrainMiddleware(drainState.IsDraining))
	commandHandler.RegisterRoutes(api)
	fileHandler.RegisterRoutes(api)
	codeHandler.RegisterRoutes(api)
	sandboxHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("execution daemon starting",
			"component", "http_server", "port", cfg.Port, "sandbox_id", cfg.SandboxID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down execution daemon...")

	drainState.StartDraining()
	time.Sleep(2 * time.Second)

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		slog.Error("server forced to shutdown", "component", "http_server", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer drainCancel()
	if err := drainState.WaitStreams(drainCtx); err != nil {
		log.Printf("Drained with timeout, remaining active streams: %d", drainState.ActiveStreams())
	}

	sessions.CloseAll(context.Background())
	daemonCancel()

	log.Println("Execution daemon stopped")
}
