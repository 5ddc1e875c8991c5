package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// NodeDefinition identifies a cluster participant by address. Two
// definitions are the same node iff host and port are equal.
type NodeDefinition struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Address returns the host:port form used as connection-table key and
// exchange destination.
func (n NodeDefinition) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Equal reports address equality.
func (n NodeDefinition) Equal(other NodeDefinition) bool {
	return n.Host == other.Host && n.Port == other.Port
}

func (n NodeDefinition) String() string {
	return n.Address()
}

// ParseConnectionString parses the cluster-wide controller list, a
// comma-separated sequence of host:port entries. Order is preserved.
func ParseConnectionString(s string) ([]NodeDefinition, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("connection string is empty")
	}
	parts := strings.Split(s, ",")
	nodes := make([]NodeDefinition, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		host, portStr, err := net.SplitHostPort(part)
		if err != nil {
			return nil, fmt.Errorf("invalid connection string entry %q: %w", part, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port in connection string entry %q", part)
		}
		nodes = append(nodes, NodeDefinition{Host: host, Port: port})
	}
	return nodes, nil
}
