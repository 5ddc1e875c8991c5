package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/polytronicgr/chunkdb/internal/chunk"
	"github.com/polytronicgr/chunkdb/internal/model"
)

const maxBodyBytes = 4 << 20

// DocumentHandler exposes the chunk manager's document operations over
// HTTP on a storage node.
type DocumentHandler struct {
	manager *chunk.Manager
	logger  *zap.Logger
}

// NewDocumentHandler creates a document handler.
func NewDocumentHandler(manager *chunk.Manager, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{manager: manager, logger: logger}
}

// Register wires the document routes into the router.
func (h *DocumentHandler) Register(router *mux.Router) {
	router.HandleFunc("/documents", h.create).Methods(http.MethodPost)
	router.HandleFunc("/documents/{id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/documents/{id}", h.update).Methods(http.MethodPut)
	router.HandleFunc("/documents/{id}", h.remove).Methods(http.MethodDelete)
}

type createRequest struct {
	ID   string          `json:"id,omitempty"`
	Body json.RawMessage `json:"body"`
}

type updateRequest struct {
	Body     json.RawMessage `json:"body"`
	Expected json.RawMessage `json:"expected"`
}

func (h *DocumentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	id := model.ObjectID(req.ID)
	if id == "" {
		id = model.NewObjectID()
	}
	doc, err := model.NewDocument(id, req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	added, err := h.manager.Add(doc)
	if err != nil {
		h.logger.Error("add failed", zap.String("id", string(id)), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !added {
		http.Error(w, "duplicate id", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(doc)
}

func (h *DocumentHandler) get(w http.ResponseWriter, r *http.Request) {
	id := model.ObjectID(mux.Vars(r)["id"])

	doc, ok := h.manager.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// update is a compare-and-swap: the caller supplies the expected current
// body alongside the new one, and a stale expectation is a 409.
func (h *DocumentHandler) update(w http.ResponseWriter, r *http.Request) {
	id := model.ObjectID(mux.Vars(r)["id"])

	var req updateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	newDoc, err := model.NewDocument(id, req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	expected, err := model.NewDocument(id, req.Expected)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.manager.Update(id, newDoc, expected) {
		http.Error(w, "stale expected value or missing id", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newDoc)
}

func (h *DocumentHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := model.ObjectID(mux.Vars(r)["id"])

	doc, ok := h.manager.Remove(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}
