package cluster

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/polytronicgr/chunkdb/internal/metrics"
	"github.com/polytronicgr/chunkdb/internal/model"
)

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// GossipService propagates node health among admitted cluster members.
// It sits outside the join handshake: membership admission stays with
// the controller, gossip only carries liveness.
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	nodeID     string
	logger     *zap.Logger
	metrics    *metrics.Metrics
	healthData *model.HealthStatus
}

// NewGossipService creates and starts a gossip service bound to the
// configured port, joining any seed nodes.
func NewGossipService(cfg *GossipConfig, nodeID string, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	gs := &GossipService{
		config:  cfg,
		nodeID:  nodeID,
		logger:  logger,
		metrics: m,
		healthData: &model.HealthStatus{
			NodeID:    nodeID,
			Status:    model.NodeStatusHealthy,
			Timestamp: time.Now().Unix(),
		},
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	mlConfig.BindPort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = gs
	mlConfig.Events = &gossipEventDelegate{service: gs}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}
	gs.updateMemberGauge()

	return gs, nil
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(s.healthData)
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	var healthStatus model.HealthStatus
	if err := json.Unmarshal(data, &healthStatus); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}

	s.logger.Debug("Received health status",
		zap.String("node_id", healthStatus.NodeID),
		zap.String("status", string(healthStatus.Status)))
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	data, _ := json.Marshal(s.healthData)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
}

// SetStatus updates the health this node advertises.
func (s *GossipService) SetStatus(status model.NodeStatus) {
	s.healthData.Status = status
	s.healthData.Timestamp = time.Now().Unix()
}

// Members returns the names of the members currently visible.
func (s *GossipService) Members() []string {
	members := s.memberlist.Members()
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	return names
}

// Shutdown leaves the gossip pool and shuts the transport down.
func (s *GossipService) Shutdown() error {
	return s.memberlist.Shutdown()
}

func (s *GossipService) updateMemberGauge() {
	if s.metrics != nil && s.memberlist != nil {
		s.metrics.GossipMembersTotal.Set(float64(s.memberlist.NumMembers()))
	}
}

type gossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *gossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Gossip member joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
	d.service.updateMemberGauge()
}

// NotifyLeave is called when a node leaves
func (d *gossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Gossip member left",
		zap.String("node_id", node.Name))
	d.service.updateMemberGauge()
}

// NotifyUpdate is called when a node is updated
func (d *gossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Gossip member updated",
		zap.String("node_id", node.Name))
}
