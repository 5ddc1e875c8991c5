package cluster

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/polytronicgr/chunkdb/internal/errors"
	"github.com/polytronicgr/chunkdb/internal/exchange"
	"github.com/polytronicgr/chunkdb/internal/metrics"
	"github.com/polytronicgr/chunkdb/internal/model"
)

// State is the lifecycle phase of a controller process.
type State string

const (
	StateStarting State = "starting"
	StateJoining  State = "joining"
	StatePrimary  State = "primary"
	StateJoined   State = "joined"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Join failure reasons, sent back verbatim to the rejected peer.
const (
	reasonConnectionString = "Connection strings do not match."
	reasonMaxItemCount     = "Max chunk item counts do not match."
	reasonMaxChunkSize     = "Max chunk sizes do not match."
	reasonRedundantNodes   = "Redundant nodes per location counts do not match."
)

// Connection is an entry in the controller's connection table.
type Connection struct {
	Def         model.NodeDefinition
	Type        model.NodeType
	Established bool
}

// Controller drives cluster formation for a controller node: it locates
// itself in the static connection string, runs the pairwise join
// handshake with every peer, designates the primary in the trivial
// single-controller case, and admits joining nodes afterwards.
type Controller struct {
	port     int
	settings model.ClusterSettings
	exchange exchange.Exchange

	self        model.NodeDefinition
	controllers []model.NodeDefinition

	// connections maps peer address to *Connection. Unsolicited
	// messages can arrive mid-handshake, so the table must be safe for
	// concurrent access.
	connections sync.Map

	mu        sync.RWMutex
	state     State
	isPrimary bool

	stopCh   chan struct{}
	stopOnce sync.Once

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a controller. The exchange is the consumed transport
// capability; metrics may be nil.
func New(port int, settings model.ClusterSettings, ex exchange.Exchange, m *metrics.Metrics, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		port:     port,
		settings: settings,
		exchange: ex,
		state:    StateStarting,
		stopCh:   make(chan struct{}),
		metrics:  m,
		logger:   logger,
	}
}

// Start parses the connection string, locates this process among the
// controllers and joins every peer sequentially. It returns once the
// node is Primary or Joined; any join failure, explicit or
// transport-level, aborts startup.
func (c *Controller) Start(ctx context.Context) error {
	nodes, err := model.ParseConnectionString(c.settings.ConnectionString)
	if err != nil {
		return errors.InvalidArgument("invalid connection string", err)
	}
	c.controllers = nodes

	found := false
	for _, n := range nodes {
		if n.Port == c.port {
			c.self = n
			found = true
			break
		}
	}
	if !found {
		return errors.SelfNotInCluster(c.port, c.settings.ConnectionString)
	}

	c.setState(StateJoining)
	c.logger.Info("joining cluster",
		zap.String("self", c.self.String()),
		zap.Int("controllers", len(nodes)))

	// One peer at a time: the node must not enter Running with an
	// unresolved peer exchange outstanding.
	for _, peer := range nodes {
		if peer.Equal(c.self) {
			continue
		}
		if err := c.joinPeer(ctx, peer); err != nil {
			return err
		}
	}

	if len(nodes) == 1 {
		c.mu.Lock()
		c.isPrimary = true
		c.state = StatePrimary
		c.mu.Unlock()
		c.logger.Info("sole controller, assuming primary")
	} else {
		c.setState(StateJoined)
	}
	return nil
}

// joinPeer performs one blocking join handshake.
func (c *Controller) joinPeer(ctx context.Context, peer model.NodeDefinition) error {
	attempt := model.NewJoinAttempt(model.JoinAttempt{
		NodeType: model.NodeTypeController,
		Name:     c.self.Host,
		Port:     c.self.Port,
		Settings: c.settings,
	})

	reply, err := c.exchange.Send(ctx, peer, attempt)
	if err != nil {
		return errors.Transport(fmt.Sprintf("join exchange with %s failed", peer), err)
	}

	switch reply.Kind {
	case model.KindJoinSuccess:
		c.establish(peer, model.NodeTypeController)
		c.logger.Info("joined controller peer",
			zap.String("peer", peer.String()),
			zap.Bool("peer_is_primary", reply.JoinSuccess.IsPrimary))
		return nil
	case model.KindJoinFailure:
		return errors.JoinRejected(peer.String(), reply.JoinFailure.Reason)
	default:
		return errors.Transport(fmt.Sprintf("unexpected reply kind %q from %s", reply.Kind, peer), nil)
	}
}

// Run serves until Stop is called. Shutdown is signalled through a
// channel the loop blocks on, not a polled flag.
func (c *Controller) Run() {
	c.setState(StateRunning)
	c.logger.Info("controller running", zap.Bool("primary", c.IsPrimary()))

	<-c.stopCh

	c.setState(StateStopping)
	c.logger.Info("controller stopping")
	c.setState(StateStopped)
}

// Stop signals the run loop to exit. Safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// HandleMessage is the exchange handler for inbound messages.
func (c *Controller) HandleMessage(from model.NodeDefinition, msg model.Message) model.Message {
	switch msg.Kind {
	case model.KindJoinAttempt:
		return c.handleJoin(from, *msg.JoinAttempt)
	default:
		c.logger.Warn("unexpected inbound message",
			zap.String("from", from.String()),
			zap.String("kind", string(msg.Kind)))
		return model.NewJoinFailure(fmt.Sprintf("Unexpected message kind: %s", msg.Kind))
	}
}

// handleJoin validates a join attempt against this node's own settings
// and admits the sender on success. Controllers must match every
// compatibility field, checked in fixed order with the first mismatch
// reported; storage and query nodes only the connection string.
func (c *Controller) handleJoin(from model.NodeDefinition, att model.JoinAttempt) model.Message {
	var reason string
	switch att.NodeType {
	case model.NodeTypeController:
		reason = c.validateControllerSettings(att.Settings)
	case model.NodeTypeQuery, model.NodeTypeStorage:
		if att.Settings.ConnectionString != c.settings.ConnectionString {
			reason = reasonConnectionString
		}
	default:
		reason = fmt.Sprintf("Unknown node type: %s", att.NodeType)
	}

	if reason != "" {
		c.countJoin("rejected")
		c.logger.Warn("join attempt rejected",
			zap.String("from", from.String()),
			zap.String("node_type", string(att.NodeType)),
			zap.String("reason", reason))
		return model.NewJoinFailure(reason)
	}

	// The inbound connection is renamed to the canonical definition the
	// peer advertises, not the transport-level source address.
	canonical := model.NodeDefinition{Host: att.Name, Port: att.Port}
	c.establish(canonical, att.NodeType)
	c.countJoin("accepted")
	c.logger.Info("join attempt accepted",
		zap.String("peer", canonical.String()),
		zap.String("node_type", string(att.NodeType)))

	return model.NewJoinSuccess(c.IsPrimary())
}

func (c *Controller) validateControllerSettings(s model.ClusterSettings) string {
	switch {
	case s.ConnectionString != c.settings.ConnectionString:
		return reasonConnectionString
	case s.MaxChunkItemCount != c.settings.MaxChunkItemCount:
		return reasonMaxItemCount
	case s.MaxChunkSize != c.settings.MaxChunkSize:
		return reasonMaxChunkSize
	case s.RedundantNodesPerLocation != c.settings.RedundantNodesPerLocation:
		return reasonRedundantNodes
	default:
		return ""
	}
}

func (c *Controller) establish(def model.NodeDefinition, nodeType model.NodeType) {
	c.connections.Store(def.Address(), &Connection{
		Def:         def,
		Type:        nodeType,
		Established: true,
	})
	if c.metrics != nil {
		c.metrics.EstablishedPeers.Set(float64(len(c.Peers())))
	}
}

func (c *Controller) countJoin(outcome string) {
	if c.metrics != nil {
		c.metrics.JoinAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

// Peers returns a snapshot of the connection table.
func (c *Controller) Peers() []Connection {
	var peers []Connection
	c.connections.Range(func(_, value any) bool {
		peers = append(peers, *value.(*Connection))
		return true
	})
	return peers
}

// Peer looks up a connection-table entry by node definition.
func (c *Controller) Peer(def model.NodeDefinition) (Connection, bool) {
	value, ok := c.connections.Load(def.Address())
	if !ok {
		return Connection{}, false
	}
	return *value.(*Connection), true
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsPrimary reports whether this controller is the cluster primary.
func (c *Controller) IsPrimary() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isPrimary
}

// Self returns this node's definition, valid after Start.
func (c *Controller) Self() model.NodeDefinition {
	return c.self
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
