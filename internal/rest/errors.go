package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/KilimcininKorOglu/raftkv/internal/cluster"
	"github.com/KilimcininKorOglu/raftkv/internal/raft"
)

// mapStoreError maps a write error to HTTP status, error code and message.
func mapStoreError(err error) (int, string, string) {
	switch {
	case errors.Is(err, raft.ErrCommandTooLarge):
		return http.StatusBadRequest, "too_large", err.Error()
	case errors.Is(err, raft.ErrLeaderUnknown):
		return http.StatusMisdirectedRequest, "not_leader", "this node is not the leader and no leader is known"
	case errors.Is(err, raft.ErrNotLeader):
		return http.StatusMisdirectedRequest, "not_leader", "this node is not the leader"
	case errors.Is(err, cluster.ErrLeadershipLost):
		return http.StatusServiceUnavailable, "leadership_lost", "leadership changed before the write committed"
	case errors.Is(err, cluster.ErrStopped):
		return http.StatusServiceUnavailable, "stopped", "node is stopping"
	case errors.Is(err, raft.ErrNodeFailed):
		return http.StatusInternalServerError, "node_failed", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "write did not commit in time"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled", "request canceled"
	default:
		return http.StatusInternalServerError, "internal_error", err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Code:    status,
		Message: message,
	})
}
