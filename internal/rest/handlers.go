package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/raftkv/internal/cluster"
	"github.com/KilimcininKorOglu/raftkv/internal/logging"
)

// maxBodySize bounds a PUT request body.
const maxBodySize = 1 << 20

// Store is the replicated key-value store served over HTTP.
// *cluster.Cluster implements it.
type Store interface {
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Get(key string) (string, bool)
	Keys() []string
	Status() *cluster.Status
}

// Handlers contains all REST API handlers.
type Handlers struct {
	store        Store
	logger       logging.Logger
	version      string
	writeTimeout time.Duration
	startTime    time.Time
	requestCount int64
	activeConns  int64
}

// NewHandlers creates new handlers. Writes wait at most writeTimeout for
// their entry to apply.
func NewHandlers(store Store, logger logging.Logger, version string, writeTimeout time.Duration) *Handlers {
	return &Handlers{
		store:        store,
		logger:       logger,
		version:      version,
		writeTimeout: writeTimeout,
		startTime:    time.Now(),
	}
}

// IncrementConnections increments active connection count.
func (h *Handlers) IncrementConnections() {
	atomic.AddInt64(&h.activeConns, 1)
}

// DecrementConnections decrements active connection count.
func (h *Handlers) DecrementConnections() {
	atomic.AddInt64(&h.activeConns, -1)
}

// HandleHealth handles GET /api/v1/health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	status := h.store.Status()

	resp := HealthResponse{
		Status:      "ok",
		Version:     h.version,
		NodeID:      status.NodeID,
		State:       status.State,
		Uptime:      uptime.String(),
		UptimeSecs:  int64(uptime.Seconds()),
		StartTime:   h.startTime,
		Connections: int(atomic.LoadInt64(&h.activeConns)),
		Requests:    atomic.LoadInt64(&h.requestCount),
	}
	if status.Error != "" {
		resp.Status = "failed"
		resp.Error = status.Error
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStatus handles GET /api/v1/status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)
	writeJSON(w, http.StatusOK, h.store.Status())
}

// HandleListKeys handles GET /api/v1/keys
func (h *Handlers) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)

	keys := h.store.Keys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, KeysResponse{Keys: keys, Count: len(keys)})
}

// HandleGetKey handles GET /api/v1/keys/{key}. The value is read from this
// node's state machine and may be stale on a follower.
func (h *Handlers) HandleGetKey(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)

	key := Param(r, "key")
	value, ok := h.store.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "key_not_found", "key not found")
		return
	}
	writeJSON(w, http.StatusOK, KeyValue{Key: key, Value: value})
}

// HandlePutKey handles PUT /api/v1/keys/{key}
func (h *Handlers) HandlePutKey(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)

	var req PutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "value is required")
		return
	}

	key := Param(r, "key")
	ctx, cancel := h.writeContext(r)
	defer cancel()

	if err := h.store.Put(ctx, key, *req.Value); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, KeyValue{Key: key, Value: *req.Value})
}

// HandleDeleteKey handles DELETE /api/v1/keys/{key}. Deleting a missing key
// succeeds.
func (h *Handlers) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)

	ctx, cancel := h.writeContext(r)
	defer cancel()

	if err := h.store.Delete(ctx, Param(r, "key")); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.writeTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.writeTimeout)
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapStoreError(err)
	resp := ErrorResponse{
		Error:   code,
		Code:    status,
		Message: message,
	}
	if status == http.StatusMisdirectedRequest {
		s := h.store.Status()
		resp.LeaderID = s.LeaderID
		resp.LeaderAddr = s.LeaderAddr
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithRequestID(RequestID(r)).Warn("write failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, resp)
}
