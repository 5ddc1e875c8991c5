package exchange_test

import (
	"context"
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polytronicgr/chunkdb/internal/exchange"
	"github.com/polytronicgr/chunkdb/internal/model"
)

func echoHandler(t *testing.T, wantFrom model.NodeDefinition) exchange.Handler {
	return func(from model.NodeDefinition, msg model.Message) model.Message {
		assert.Equal(t, wantFrom, from, "handler must see the sender's advertised identity")
		assert.Equal(t, model.KindJoinAttempt, msg.Kind)
		return model.NewJoinSuccess(true)
	}
}

func sampleAttempt() model.Message {
	return model.NewJoinAttempt(model.JoinAttempt{
		NodeType: model.NodeTypeController,
		Name:     "node-a",
		Port:     4100,
		Settings: model.ClusterSettings{ConnectionString: "node-a:4100"},
	})
}

func TestMemoryExchange_RoundTrip(t *testing.T) {
	registry := exchange.NewMemoryExchange()
	sender := model.NodeDefinition{Host: "node-a", Port: 4100}
	receiver := model.NodeDefinition{Host: "node-b", Port: 4101}

	registry.Register(receiver, echoHandler(t, sender))

	reply, err := registry.Bound(sender).Send(context.Background(), receiver, sampleAttempt())
	require.NoError(t, err)
	require.Equal(t, model.KindJoinSuccess, reply.Kind)
	assert.True(t, reply.JoinSuccess.IsPrimary)
}

func TestMemoryExchange_UnknownDestination(t *testing.T) {
	registry := exchange.NewMemoryExchange()
	sender := model.NodeDefinition{Host: "node-a", Port: 4100}

	_, err := registry.Bound(sender).Send(context.Background(),
		model.NodeDefinition{Host: "nowhere", Port: 1}, sampleAttempt())
	assert.Error(t, err)
}

func TestMemoryExchange_UnregisterMakesPeerUnreachable(t *testing.T) {
	registry := exchange.NewMemoryExchange()
	sender := model.NodeDefinition{Host: "node-a", Port: 4100}
	receiver := model.NodeDefinition{Host: "node-b", Port: 4101}

	registry.Register(receiver, echoHandler(t, sender))
	registry.Unregister(receiver)

	_, err := registry.Bound(sender).Send(context.Background(), receiver, sampleAttempt())
	assert.Error(t, err)
}

func TestMemoryExchange_CancelledContext(t *testing.T) {
	registry := exchange.NewMemoryExchange()
	sender := model.NodeDefinition{Host: "node-a", Port: 4100}
	receiver := model.NodeDefinition{Host: "node-b", Port: 4101}
	registry.Register(receiver, echoHandler(t, sender))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := registry.Bound(sender).Send(ctx, receiver, sampleAttempt())
	assert.Error(t, err)
}

// serverDef turns an httptest server's URL into a node definition so a
// client exchange can address it.
func serverDef(t *testing.T, srv *httptest.Server) model.NodeDefinition {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return model.NodeDefinition{Host: host, Port: port}
}

func TestHTTPExchange_RoundTrip(t *testing.T) {
	sender := model.NodeDefinition{Host: "node-a", Port: 4100}

	serverEx := exchange.NewHTTPExchange(model.NodeDefinition{Host: "node-b", Port: 4101},
		&exchange.HTTPConfig{}, echoHandler(t, sender), nil)
	srv := httptest.NewServer(serverEx.Router())
	defer srv.Close()

	clientEx := exchange.NewHTTPExchange(sender, &exchange.HTTPConfig{},
		func(model.NodeDefinition, model.Message) model.Message {
			t.Fatal("client side must not receive messages in this test")
			return model.Message{}
		}, nil)

	reply, err := clientEx.Send(context.Background(), serverDef(t, srv), sampleAttempt())
	require.NoError(t, err)
	require.Equal(t, model.KindJoinSuccess, reply.Kind)
	assert.True(t, reply.JoinSuccess.IsPrimary)
}

func TestHTTPExchange_FailureReplyCarriesReason(t *testing.T) {
	serverEx := exchange.NewHTTPExchange(model.NodeDefinition{Host: "node-b", Port: 4101},
		&exchange.HTTPConfig{},
		func(model.NodeDefinition, model.Message) model.Message {
			return model.NewJoinFailure("Connection strings do not match.")
		}, nil)
	srv := httptest.NewServer(serverEx.Router())
	defer srv.Close()

	clientEx := exchange.NewHTTPExchange(model.NodeDefinition{Host: "node-a", Port: 4100},
		&exchange.HTTPConfig{}, nil, nil)

	reply, err := clientEx.Send(context.Background(), serverDef(t, srv), sampleAttempt())
	require.NoError(t, err, "a rejection is a successful exchange, not a transport error")
	require.Equal(t, model.KindJoinFailure, reply.Kind)
	assert.Equal(t, "Connection strings do not match.", reply.JoinFailure.Reason)
}

func TestHTTPExchange_UnreachablePeer(t *testing.T) {
	clientEx := exchange.NewHTTPExchange(model.NodeDefinition{Host: "node-a", Port: 4100},
		&exchange.HTTPConfig{}, nil, nil)

	// Reserved port on localhost with nothing listening.
	_, err := clientEx.Send(context.Background(),
		model.NodeDefinition{Host: "127.0.0.1", Port: 1}, sampleAttempt())
	assert.Error(t, err)
}
