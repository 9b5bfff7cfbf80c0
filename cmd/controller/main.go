// Package main is the entry point for the agent lifecycle controller.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/driftcloud/agentcore/internal/automation"
	"github.com/driftcloud/agentcore/internal/common/config"
	"github.com/driftcloud/agentcore/internal/common/logger"
	"github.com/driftcloud/agentcore/internal/common/tracing"
	"github.com/driftcloud/agentcore/internal/controller"
	"github.com/driftcloud/agentcore/internal/credentials"
	"github.com/driftcloud/agentcore/internal/eventbus"
	"github.com/driftcloud/agentcore/internal/machinepool"
	"github.com/driftcloud/agentcore/internal/poller"
	"github.com/driftcloud/agentcore/internal/secrets"
	"github.com/driftcloud/agentcore/internal/storage"
	"github.com/driftcloud/agentcore/internal/workerrpc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agent lifecycle controller")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keyProvider, err := secrets.NewMasterKeyProvider(cfg.Server.DataDir)
	if err != nil {
		log.Fatal("failed to load master encryption key", zap.Error(err))
	}
	if err := secrets.InitEncryption(keyProvider.Key()); err != nil {
		log.Fatal("failed to initialize at-rest encryption", zap.Error(err))
	}

	store, closeStore, err := storage.Provide(cfg)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer closeStore()
	log.Info("storage ready", zap.String("driver", cfg.Database.Driver))

	busProvided, closeBus, err := eventbus.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()
	log.Info("event bus ready", zap.Bool("nats", busProvided.NATS != nil))

	rpc := workerrpc.NewClient(log)

	// GitHostClient is a typed collaborator interface only (see
	// internal/credentials/types.go); the concrete GitHub/GitLab
	// implementation is out of scope, so nil is wired here and any call
	// that needs it surfaces a clear error rather than panicking.
	var gitHost credentials.GitHostClient
	creds := credentials.New(store.Credentials, gitHost, cfg.OAuth, cfg.Auth, log)

	provisioner := machinepool.NewSpritesProvisioner(cfg.Pool.SpritesAPIToken, rpc, log)
	pool := machinepool.New(store.Reservations, store.CustomMachines, provisioner, cfg.Pool.MaxActiveMachines, log)
	defer pool.Stop()

	engine := automation.New(store.Automations, store.AutomationEvents, log)

	ctl := controller.New(controller.Deps{
		Agents:        store.Agents,
		Prompts:       store.Prompts,
		Commits:       store.Commits,
		Messages:      store.Messages,
		ContextEvents: store.ContextEvents,
		Engine:        engine,
		RPC:           rpc,
		Pool:          pool,
		Creds:         creds,
		Bus:           busProvided.Bus,
		AgentConfig:   cfg.Agent,
		RPCConfig:     cfg.WorkerRPC,
		Log:           log,
	})

	pol := poller.New(poller.Deps{
		Agents:           store.Agents,
		Messages:         store.Messages,
		Commits:          store.Commits,
		AutomationEvents: store.AutomationEvents,
		ContextEvents:    store.ContextEvents,
		Engine:           engine,
		RPC:              rpc,
		GitHost:          gitHost,
		Bus:              busProvided.Bus,
		Actions:          ctl,
		AgentConfig:      cfg.Agent,
		RPCConfig:        cfg.WorkerRPC,
		Log:              log,
	})

	ctl.Run(ctx)
	pol.Start(ctx)
	log.Info("controller and poller started")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"down"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/log-level", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(log.Level()))
			return
		}
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		level := r.URL.Query().Get("level")
		if err := log.SetLevel(level); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		log.Info("log level changed", zap.String("level", level))
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}
	go func() {
		log.Info("health server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("health server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down controller")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("health server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	pol.Stop()
	ctl.Shutdown()

	log.Info("controller stopped")
}
