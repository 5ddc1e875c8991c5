package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/polytronicgr/chunkdb/internal/errors"
	"github.com/polytronicgr/chunkdb/internal/model"
)

// MemoryExchange dispatches messages between in-process nodes. It backs
// protocol tests and single-process clusters; Send resolves
// synchronously against the destination's registered handler.
type MemoryExchange struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMemoryExchange creates an empty in-process exchange.
func NewMemoryExchange() *MemoryExchange {
	return &MemoryExchange{handlers: make(map[string]Handler)}
}

// Register wires a node's handler into the exchange.
func (ex *MemoryExchange) Register(node model.NodeDefinition, handler Handler) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.handlers[node.Address()] = handler
}

// Unregister removes a node, making future sends to it fail like an
// unreachable peer.
func (ex *MemoryExchange) Unregister(node model.NodeDefinition) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	delete(ex.handlers, node.Address())
}

// Bound returns an Exchange whose sends carry the given sender identity.
func (ex *MemoryExchange) Bound(self model.NodeDefinition) Exchange {
	return &boundMemoryExchange{registry: ex, self: self}
}

type boundMemoryExchange struct {
	registry *MemoryExchange
	self     model.NodeDefinition
}

// Send implements Exchange.
func (b *boundMemoryExchange) Send(ctx context.Context, dest model.NodeDefinition, msg model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	b.registry.mu.RLock()
	handler, ok := b.registry.handlers[dest.Address()]
	b.registry.mu.RUnlock()

	if !ok {
		return model.Message{}, errors.Transport(fmt.Sprintf("no route to %s", dest), nil)
	}
	return handler(b.self, msg), nil
}
