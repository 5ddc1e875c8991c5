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

	"github.com/polytronicgr/chunkdb/internal/cluster"
	"github.com/polytronicgr/chunkdb/internal/config"
	"github.com/polytronicgr/chunkdb/internal/exchange"
	"github.com/polytronicgr/chunkdb/internal/metrics"
	"github.com/polytronicgr/chunkdb/internal/model"
	"github.com/polytronicgr/chunkdb/internal/server"
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
		zap.String("connection_string", cfg.Cluster.ConnectionString),
		zap.Int("port", cfg.Server.Port))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Server.NodeID)
	}

	self := model.NodeDefinition{Host: cfg.Server.Host, Port: cfg.Server.Port}

	// The exchange is created first so the server is listening before
	// the join handshakes start; its handler delegates to the
	// controller built right after.
	var ctrl *cluster.Controller
	ex := exchange.NewHTTPExchange(self, &exchange.HTTPConfig{
		ReadTimeout:    cfg.Exchange.ReadTimeout,
		WriteTimeout:   cfg.Exchange.WriteTimeout,
		RequestTimeout: cfg.Exchange.RequestTimeout,
	}, func(from model.NodeDefinition, msg model.Message) model.Message {
		return ctrl.HandleMessage(from, msg)
	}, logger)

	ctrl = cluster.New(cfg.Server.Port, cfg.ClusterSettings(), ex, m, logger)

	go func() {
		if err := ex.Serve(); err != nil {
			logger.Fatal("Exchange server failed", zap.Error(err))
		}
	}()

	joinCtx, cancel := context.WithTimeout(context.Background(), cfg.Cluster.JoinTimeout)
	if err := ctrl.Start(joinCtx); err != nil {
		cancel()
		logger.Fatal("Cluster join failed", zap.Error(err))
	}
	cancel()

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
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{Port: cfg.Metrics.Port}, nil, logger)
		metricsServer.Start()
	}

	go ctrl.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	ctrl.Stop()
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
	logger.Info("Controller stopped")
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
