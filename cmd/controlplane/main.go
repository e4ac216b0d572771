// Command outreach-controlplane hosts C8: it wires the job repository and
// bus together, exposing StartWorkflow/PauseJob/CancelJob/StreamStatus to
// whatever process embeds it, and serves health/metrics endpoints. The web
// UI and HTTP routing that would call these methods are out of scope here.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"outreach-engine/internal/bus"
	"outreach-engine/internal/config"
	"outreach-engine/internal/controlplane"
	"outreach-engine/internal/database"
	"outreach-engine/internal/logger"
	"outreach-engine/internal/observability"
	"outreach-engine/internal/repository"
)

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting control plane...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("outreach-controlplane")
	defer obs.Shutdown()

	pg, err := database.NewPostgres(cfg.Postgres)
	if err != nil {
		zapLog.Fatal("postgres connect failed", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("postgres connected")

	redisClient, err := database.NewRedis(cfg.Redis)
	if err != nil {
		zapLog.Fatal("redis connect failed", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("redis connected")

	jobsRepo := repository.NewWorkflowJobRepository(pg)
	b := bus.New(redisClient.Client, log)

	cp := controlplane.New(jobsRepo, b, nil, log)
	_ = cp // embedded here pending a host process; exercised directly by callers in-process or via tests

	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "time": time.Now().Format(time.RFC3339)})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := pg.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ready", "time": time.Now().Format(time.RFC3339)})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("health/metrics server listening on :8081")
		if err := http.ListenAndServe(":8081", nil); err != nil {
			zapLog.Error("health/metrics server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = shutdownCtx

	zapLog.Info("control plane stopped gracefully")
}
