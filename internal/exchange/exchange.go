// Package exchange provides the message-exchange capability the cluster
// core depends on: a blocking request/response send to a named node. The
// membership protocol consumes this interface without caring about the
// transport behind it.
package exchange

import (
	"context"

	"github.com/polytronicgr/chunkdb/internal/model"
)

// Exchange sends a message to a destination node and blocks until the
// exchange resolves: the peer's reply, an explicit failure, or a
// transport error. Transport errors and explicit failures both surface
// to the caller, which treats them alike during cluster joining.
type Exchange interface {
	Send(ctx context.Context, dest model.NodeDefinition, msg model.Message) (model.Message, error)
}

// Handler processes an inbound message from a peer and produces the
// reply the exchange carries back.
type Handler func(from model.NodeDefinition, msg model.Message) model.Message

// WireEnvelope is the on-the-wire frame: the sender's definition plus
// the typed message.
type WireEnvelope struct {
	From    model.NodeDefinition `json:"from"`
	Message model.Message        `json:"message"`
}
