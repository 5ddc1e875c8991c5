package cluster

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/polytronicgr/chunkdb/internal/errors"
	"github.com/polytronicgr/chunkdb/internal/exchange"
	"github.com/polytronicgr/chunkdb/internal/model"
)

// Join admits a storage or query node into the cluster: it sends a join
// attempt to every controller in the connection string, one at a time,
// and fails startup on the first rejection or unreachable peer. The
// returned definitions are the controllers that admitted the node.
func Join(ctx context.Context, ex exchange.Exchange, nodeType model.NodeType, host string, port int, settings model.ClusterSettings, logger *zap.Logger) ([]model.NodeDefinition, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	controllers, err := model.ParseConnectionString(settings.ConnectionString)
	if err != nil {
		return nil, errors.InvalidArgument("invalid connection string", err)
	}

	attempt := model.NewJoinAttempt(model.JoinAttempt{
		NodeType: nodeType,
		Name:     host,
		Port:     port,
		Settings: settings,
	})

	admitted := make([]model.NodeDefinition, 0, len(controllers))
	for _, controller := range controllers {
		reply, err := ex.Send(ctx, controller, attempt)
		if err != nil {
			return nil, errors.Transport(fmt.Sprintf("join exchange with %s failed", controller), err)
		}

		switch reply.Kind {
		case model.KindJoinSuccess:
			logger.Info("admitted by controller",
				zap.String("controller", controller.String()),
				zap.Bool("controller_is_primary", reply.JoinSuccess.IsPrimary))
			admitted = append(admitted, controller)
		case model.KindJoinFailure:
			return nil, errors.JoinRejected(controller.String(), reply.JoinFailure.Reason)
		default:
			return nil, errors.Transport(fmt.Sprintf("unexpected reply kind %q from %s", reply.Kind, controller), nil)
		}
	}
	return admitted, nil
}
