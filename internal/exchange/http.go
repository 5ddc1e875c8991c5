package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/polytronicgr/chunkdb/internal/errors"
	"github.com/polytronicgr/chunkdb/internal/model"
)

const messagePath = "/cluster/message"

// HTTPConfig holds the exchange transport configuration.
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

// HTTPExchange carries messages between nodes as JSON over HTTP. It is
// both the client side (Send) and the server side (Serve) of the
// exchange.
type HTTPExchange struct {
	self       model.NodeDefinition
	cfg        *HTTPConfig
	handler    Handler
	router     *mux.Router
	httpServer *http.Server
	client     *http.Client
	logger     *zap.Logger
}

// NewHTTPExchange creates an HTTP exchange bound to the given node
// definition. The handler receives every inbound message.
func NewHTTPExchange(self model.NodeDefinition, cfg *HTTPConfig, handler Handler, logger *zap.Logger) *HTTPExchange {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ex := &HTTPExchange{
		self:    self,
		cfg:     cfg,
		handler: handler,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}

	router := mux.NewRouter()
	router.HandleFunc(messagePath, ex.handleMessage).Methods(http.MethodPost)
	ex.router = router

	ex.httpServer = &http.Server{
		Addr:         self.Address(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return ex
}

// Router exposes the underlying router so a node can serve additional
// routes on the same listener.
func (ex *HTTPExchange) Router() *mux.Router {
	return ex.router
}

// Serve runs the exchange server until Shutdown is called. It blocks.
func (ex *HTTPExchange) Serve() error {
	ex.logger.Info("exchange listening", zap.String("addr", ex.self.Address()))
	if err := ex.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Transport("exchange server failed", err)
	}
	return nil
}

// Shutdown stops the exchange server gracefully.
func (ex *HTTPExchange) Shutdown(ctx context.Context) error {
	return ex.httpServer.Shutdown(ctx)
}

// Send implements Exchange. It blocks until the peer replies or the
// request fails at the transport level.
func (ex *HTTPExchange) Send(ctx context.Context, dest model.NodeDefinition, msg model.Message) (model.Message, error) {
	body, err := json.Marshal(WireEnvelope{From: ex.self, Message: msg})
	if err != nil {
		return model.Message{}, errors.Transport("failed to encode message", err)
	}

	url := fmt.Sprintf("http://%s%s", dest.Address(), messagePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.Message{}, errors.Transport("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ex.client.Do(req)
	if err != nil {
		return model.Message{}, errors.Transport(fmt.Sprintf("exchange with %s failed", dest), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Message{}, errors.Transport(fmt.Sprintf("exchange with %s returned status %d", dest, resp.StatusCode), nil)
	}

	var reply model.Message
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		return model.Message{}, errors.Transport(fmt.Sprintf("failed to decode reply from %s", dest), err)
	}
	return reply, nil
}

func (ex *HTTPExchange) handleMessage(w http.ResponseWriter, r *http.Request) {
	var env WireEnvelope
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&env); err != nil {
		ex.logger.Warn("malformed inbound message", zap.Error(err))
		http.Error(w, "malformed message envelope", http.StatusBadRequest)
		return
	}

	reply := ex.handler(env.From, env.Message)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		ex.logger.Warn("failed to encode reply", zap.Error(err))
	}
}
