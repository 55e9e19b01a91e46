// Package rest provides a JSON HTTP API for a raftkv node.
//
// Reads are served from the node's own state machine and may be stale on a
// follower. Writes are accepted only by the leader and return once the
// entry has been applied locally; a follower answers 421 Misdirected
// Request with the leader's ID and raft address when it knows them.
//
// # Endpoints
//
//	GET    /api/v1/health     - Health check
//	GET    /api/v1/status     - Node status (term, role, commit index)
//	GET    /api/v1/keys       - List keys
//	GET    /api/v1/keys/{key} - Get a value
//	PUT    /api/v1/keys/{key} - Set a value, body {"value": "..."}
//	DELETE /api/v1/keys/{key} - Delete a key
//
// # Example Usage
//
//	curl -X PUT http://localhost:8080/api/v1/keys/color \
//	  -H "Content-Type: application/json" \
//	  -d '{"value": "blue"}'
//
//	curl http://localhost:8080/api/v1/keys/color
package rest
