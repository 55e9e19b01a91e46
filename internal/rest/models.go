package rest

import (
	"time"
)

// KeyValue is a single key and its value.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PutRequest is the body of PUT /api/v1/keys/{key}.
type PutRequest struct {
	Value *string `json:"value"`
}

// KeysResponse lists the keys applied on this node.
type KeysResponse struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

// ErrorResponse represents an error response. Leader fields are set when a
// write reaches a follower.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	LeaderID   uint64 `json:"leaderId,omitempty"`
	LeaderAddr string `json:"leaderAddr,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	NodeID      uint64    `json:"nodeId"`
	State       string    `json:"state"`
	Uptime      string    `json:"uptime"`
	UptimeSecs  int64     `json:"uptimeSeconds"`
	StartTime   time.Time `json:"startTime"`
	Connections int       `json:"connections"`
	Requests    int64     `json:"requests"`
	Error       string    `json:"error,omitempty"`
}
