package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/polytronicgr/chunkdb/internal/chunk"
)

// MetricsServer serves Prometheus metrics and health endpoints via HTTP
type MetricsServer struct {
	httpServer *http.Server
	manager    *chunk.Manager
	logger     *zap.Logger
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
}

// NewMetricsServer creates a new metrics server. The chunk manager may
// be nil on nodes that hold no chunks.
func NewMetricsServer(cfg *MetricsServerConfig, manager *chunk.Manager, logger *zap.Logger) *MetricsServer {
	serveMux := http.NewServeMux()

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      serveMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		manager: manager,
		logger:  logger,
	}

	serveMux.Handle("/metrics", promhttp.Handler())
	serveMux.HandleFunc("/health", ms.healthHandler)

	return ms
}

// Start runs the metrics server in the background.
func (ms *MetricsServer) Start() {
	go func() {
		ms.logger.Info("metrics server listening", zap.String("addr", ms.httpServer.Addr))
		if err := ms.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ms.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the metrics server gracefully.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.httpServer.Shutdown(ctx)
}

func (ms *MetricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "ok",
	}
	if ms.manager != nil {
		status["chunks"] = ms.manager.ChunkCount()
		status["documents"] = ms.manager.DocumentCount()
		status["ranges"] = ms.manager.Ranges()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		ms.logger.Warn("failed to encode health response", zap.Error(err))
	}
}
