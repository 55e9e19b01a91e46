package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/raftkv/internal/cluster"
	"github.com/KilimcininKorOglu/raftkv/internal/logging"
	"github.com/KilimcininKorOglu/raftkv/internal/raft"
)

// fakeStore is an in-process Store whose writes can be made to fail or to
// block until the request context ends.
type fakeStore struct {
	mu       sync.Mutex
	data     map[string]string
	writeErr error
	block    bool
	status   cluster.Status
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:   make(map[string]string),
		status: cluster.Status{NodeID: 1, State: "leader", Term: 3},
	}
}

func (s *fakeStore) write(ctx context.Context, fn func()) error {
	s.mu.Lock()
	err, block := s.writeErr, s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Put(ctx context.Context, key, value string) error {
	return s.write(ctx, func() { s.data[key] = value })
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	return s.write(ctx, func() { delete(s.data, key) })
}

func (s *fakeStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *fakeStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *fakeStore) Status() *cluster.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.status
	return &status
}

func newTestServer(store Store) *Server {
	cfg := DefaultServerConfig()
	cfg.Version = "test"
	cfg.CommitTimeout = 50 * time.Millisecond
	return NewServer(cfg, store, logging.NewNop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestKeyLifecycle(t *testing.T) {
	store := newFakeStore()
	h := newTestServer(store).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/keys/color", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "key_not_found", decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodPut, "/api/v1/keys/color", `{"value":"blue"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, KeyValue{Key: "color", Value: "blue"}, decode[KeyValue](t, rec))

	rec = do(t, h, http.MethodGet, "/api/v1/keys/color", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "blue", decode[KeyValue](t, rec).Value)

	rec = do(t, h, http.MethodPut, "/api/v1/keys/empty", `{"value":""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, KeysResponse{Keys: []string{"color", "empty"}, Count: 2}, decode[KeysResponse](t, rec))

	rec = do(t, h, http.MethodDelete, "/api/v1/keys/color", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/keys/color", "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "deleting a missing key succeeds")

	rec = do(t, h, http.MethodGet, "/api/v1/keys/color", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEscapedKey(t *testing.T) {
	store := newFakeStore()
	h := newTestServer(store).Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/keys/users%2F42", `{"value":"ada"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	v, ok := store.Get("users/42")
	assert.True(t, ok)
	assert.Equal(t, "ada", v)
}

func TestListKeysEmpty(t *testing.T) {
	h := newTestServer(newFakeStore()).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":[],"count":0}`, rec.Body.String())
}

func TestPutRejectsBadBody(t *testing.T) {
	h := newTestServer(newFakeStore()).Handler()

	for name, body := range map[string]string{
		"not json":      `value=blue`,
		"missing value": `{"other":"x"}`,
		"wrong type":    `{"value":5}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, "/api/v1/keys/k", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request", decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestWriteErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not leader", raft.ErrNotLeader, http.StatusMisdirectedRequest, "not_leader"},
		{"wrapped not leader", fmt.Errorf("propose: %w", raft.ErrNotLeader), http.StatusMisdirectedRequest, "not_leader"},
		{"leader unknown", fmt.Errorf("%w: %w", raft.ErrNotLeader, raft.ErrLeaderUnknown), http.StatusMisdirectedRequest, "not_leader"},
		{"command too large", fmt.Errorf("%w: key of 70000 bytes", raft.ErrCommandTooLarge), http.StatusBadRequest, "too_large"},
		{"leadership lost", cluster.ErrLeadershipLost, http.StatusServiceUnavailable, "leadership_lost"},
		{"stopped", cluster.ErrStopped, http.StatusServiceUnavailable, "stopped"},
		{"node failed", fmt.Errorf("%w: disk full", raft.ErrNodeFailed), http.StatusInternalServerError, "node_failed"},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.writeErr = tt.err
			h := newTestServer(store).Handler()

			for _, method := range []string{http.MethodPut, http.MethodDelete} {
				rec := do(t, h, method, "/api/v1/keys/k", `{"value":"v"}`)
				assert.Equal(t, tt.status, rec.Code, method)
				resp := decode[ErrorResponse](t, rec)
				assert.Equal(t, tt.code, resp.Error, method)
				assert.Equal(t, tt.status, resp.Code, method)
			}
		})
	}
}

func TestNotLeaderIncludesLeader(t *testing.T) {
	store := newFakeStore()
	store.writeErr = raft.ErrNotLeader
	store.status = cluster.Status{NodeID: 2, State: "follower", LeaderID: 1, LeaderAddr: "10.0.0.1:7000"}
	h := newTestServer(store).Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/keys/k", `{"value":"v"}`)
	require.Equal(t, http.StatusMisdirectedRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, uint64(1), resp.LeaderID)
	assert.Equal(t, "10.0.0.1:7000", resp.LeaderAddr)
}

func TestWriteTimesOut(t *testing.T) {
	store := newFakeStore()
	store.block = true
	h := newTestServer(store).Handler()

	start := time.Now()
	rec := do(t, h, http.MethodPut, "/api/v1/keys/k", `{"value":"v"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "timeout", decode[ErrorResponse](t, rec).Error)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHealthAndStatus(t *testing.T) {
	store := newFakeStore()
	h := newTestServer(store).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, uint64(1), health.NodeID)
	assert.Equal(t, "leader", health.State)

	rec = do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[cluster.Status](t, rec)
	assert.Equal(t, uint64(3), status.Term)

	store.status.Error = "raft: node failed: disk full"
	rec = do(t, h, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	health = decode[HealthResponse](t, rec)
	assert.Equal(t, "failed", health.Status)
	assert.Equal(t, store.status.Error, health.Error)
}

func TestRequestCounting(t *testing.T) {
	store := newFakeStore()
	h := newTestServer(store).Handler()

	do(t, h, http.MethodGet, "/api/v1/keys", "")
	do(t, h, http.MethodGet, "/api/v1/keys/a", "")
	do(t, h, http.MethodPut, "/api/v1/keys/a", `{"value":"1"}`)

	rec := do(t, h, http.MethodGet, "/api/v1/health", "")
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, int64(3), health.Requests)
	assert.Equal(t, 1, health.Connections, "the health request itself is in flight")
}

func TestLargeBodyRejected(t *testing.T) {
	h := newTestServer(newFakeStore()).Handler()

	var body bytes.Buffer
	body.WriteString(`{"value":"`)
	body.WriteString(strings.Repeat("x", maxBodySize))
	body.WriteString(`"}`)

	rec := do(t, h, http.MethodPut, "/api/v1/keys/k", body.String())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
