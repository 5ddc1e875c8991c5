package model

// NodeStatus represents the advertised health of a cluster member.
type NodeStatus string

const (
	NodeStatusHealthy  NodeStatus = "healthy"
	NodeStatusDegraded NodeStatus = "degraded"
	NodeStatusDown     NodeStatus = "down"
)

// HealthStatus is the payload gossiped between admitted nodes.
type HealthStatus struct {
	NodeID    string     `json:"node_id"`
	Status    NodeStatus `json:"status"`
	Timestamp int64      `json:"timestamp"`
}
