package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/polytronicgr/chunkdb/internal/chunk"
	"github.com/polytronicgr/chunkdb/internal/cluster"
	"github.com/polytronicgr/chunkdb/internal/config"
	"github.com/polytronicgr/chunkdb/internal/exchange"
	"github.com/polytronicgr/chunkdb/internal/handler"
	"github.com/polytronicgr/chunkdb/internal/metrics"
	"github.com/polytronicgr/chunkdb/internal/model"
	"github.com/polytronicgr/chunkdb/internal/server"
	"github.com/polytronicgr/chunkdb/internal/util/workerpool"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Int("port", cfg.Server.Port))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Server.NodeID)
	}

	pool := workerpool.New(&workerpool.Config{
		Name:       "snapshots",
		MaxWorkers: cfg.Storage.SnapshotWorkers,
		Logger:     logger,
	})

	manager := chunk.NewManager(&chunk.ManagerConfig{
		DataDir:           cfg.Storage.DataDir,
		MaxChunkItemCount: cfg.Cluster.MaxChunkItemCount,
		MaxChunkSize:      cfg.Cluster.MaxChunkSize,
	}, pool, m, logger)

	if err := manager.Load(); err != nil {
		logger.Fatal("Failed to load chunk set", zap.Error(err))
	}

	self := model.NodeDefinition{Host: cfg.Server.Host, Port: cfg.Server.Port}

	// Storage nodes never admit other nodes; inbound join attempts get
	// a plain refusal.
	ex := exchange.NewHTTPExchange(self, &exchange.HTTPConfig{
		ReadTimeout:    cfg.Exchange.ReadTimeout,
		WriteTimeout:   cfg.Exchange.WriteTimeout,
		RequestTimeout: cfg.Exchange.RequestTimeout,
	}, func(from model.NodeDefinition, msg model.Message) model.Message {
		return model.NewJoinFailure("Storage nodes do not accept join attempts.")
	}, logger)

	handler.NewDocumentHandler(manager, logger).Register(ex.Router())

	go func() {
		if err := ex.Serve(); err != nil {
			logger.Fatal("Exchange server failed", zap.Error(err))
		}
	}()

	joinCtx, cancel := context.WithTimeout(context.Background(), cfg.Cluster.JoinTimeout)
	admitted, err := cluster.Join(joinCtx, ex, model.NodeTypeStorage, cfg.Server.Host, cfg.Server.Port, cfg.ClusterSettings(), logger)
	cancel()
	if err != nil {
		logger.Fatal("Cluster join failed", zap.Error(err))
	}
	logger.Info("Joined cluster", zap.Int("controllers", len(admitted)))

	var gossip *cluster.GossipService
	if cfg.Gossip.Enabled {
		gossip, err = cluster.NewGossipService(&cluster.GossipConfig{
			Enabled:        cfg.Gossip.Enabled,
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, cfg.Server.NodeID, m, logger)
		if err != nil {
			logger.Fatal("Failed to start gossip service", zap.Error(err))
		}
	}

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{Port: cfg.Metrics.Port}, manager, logger)
		metricsServer.Start()
	}

	flushDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Storage.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-flushDone:
				return
			case <-ticker.C:
				manager.ScheduleSave()
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	close(flushDone)
	if err := pool.Stop(10 * time.Second); err != nil {
		logger.Warn("Worker pool stop failed", zap.Error(err))
	}
	if err := manager.SaveAll(); err != nil {
		logger.Error("Final snapshot pass failed", zap.Error(err))
	}
	if gossip != nil {
		if err := gossip.Shutdown(); err != nil {
			logger.Warn("Gossip shutdown failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := ex.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Exchange shutdown failed", zap.Error(err))
	}
	logger.Info("Storage node stopped")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
