package raft

//go:generate mockgen -destination=mocks/transport.go -package=mocks github.com/KilimcininKorOglu/raftkv/internal/raft Transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"
)

// maxMessageSize bounds any length-prefixed payload read off the wire or
// from disk.
const maxMessageSize = 64 * 1024 * 1024

// Transport defines the interface for Raft RPC communication.
type Transport interface {
	// Send sends an RPC to a peer and waits for the response or for ctx
	// to expire.
	Send(ctx context.Context, peerID uint64, msgType uint8, data []byte) ([]byte, error)

	// Listen starts listening for incoming RPCs.
	Listen(handler RPCHandler) error

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address.
	LocalAddr() string
}

// RPCHandler handles incoming RPC messages.
// Returns the response data to send back; nil means no answer.
type RPCHandler func(msgType uint8, data []byte) []byte

// peerConn is a cached connection to one peer. Only one RPC uses it at a time.
type peerConn struct {
	conn net.Conn
	mu   sync.Mutex
}

// TCPTransport implements Transport using TCP.
// Message format: [type:1][length:4][data:N], answered in kind.
type TCPTransport struct {
	addr     string
	listener net.Listener
	peers    map[uint64]string    // peerID -> address
	conns    map[uint64]*peerConn // peerID -> connection
	inbound  map[net.Conn]struct{}
	handler  RPCHandler
	timeout  time.Duration
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewTCPTransport creates a new TCP transport.
func NewTCPTransport(addr string, peers map[uint64]string) *TCPTransport {
	p := make(map[uint64]string, len(peers))
	for id, a := range peers {
		p[id] = a
	}
	return &TCPTransport{
		addr:    addr,
		peers:   p,
		conns:   make(map[uint64]*peerConn),
		inbound: make(map[net.Conn]struct{}),
		timeout: 5 * time.Second,
	}
}

// SetTimeout sets the dial deadline used when ctx carries none. Inbound
// connections idle for twice d are closed.
func (t *TCPTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// Timeout returns the value set by SetTimeout.
func (t *TCPTransport) Timeout() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timeout
}

// LocalAddr returns the listening address once Listen has run, otherwise the
// configured one.
func (t *TCPTransport) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Send sends an RPC message to a peer and waits for response.
func (t *TCPTransport) Send(ctx context.Context, peerID uint64, msgType uint8, data []byte) ([]byte, error) {
	if len(data) > maxMessageSize {
		return nil, ErrConnectFailed
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	pc, ok := t.conns[peerID]
	if !ok {
		if _, exists := t.peers[peerID]; !exists {
			t.mu.Unlock()
			return nil, ErrConnectFailed
		}
		pc = &peerConn{}
		t.conns[peerID] = pc
	}
	addr := t.peers[peerID]
	timeout := t.timeout
	t.mu.Unlock()

	pc.mu.Lock()
	defer pc.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}

	if pc.conn == nil {
		dialer := net.Dialer{Deadline: deadline}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		pc.conn = conn
	}
	conn := pc.conn

	// Set deadline for this operation
	conn.SetDeadline(deadline)

	resp, err := roundTrip(conn, msgType, data)
	if err != nil {
		conn.Close()
		pc.conn = nil
		if ne, ok := err.(net.Error); (ok && ne.Timeout()) || ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return resp, nil
}

func roundTrip(conn net.Conn, msgType uint8, data []byte) ([]byte, error) {
	if err := writeFrame(conn, msgType, data); err != nil {
		return nil, err
	}
	_, resp, err := readFrame(conn)
	return resp, err
}

func writeFrame(w io.Writer, msgType uint8, data []byte) error {
	buf := make([]byte, 5+len(data))
	buf[0] = msgType
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(data)))
	copy(buf[5:], data)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (uint8, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	dataLen := binary.LittleEndian.Uint32(header[1:5])
	if dataLen > maxMessageSize {
		return 0, nil, io.ErrUnexpectedEOF
	}

	data := make([]byte, dataLen)
	if dataLen > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return 0, nil, err
		}
	}
	return header[0], data, nil
}

// Listen starts accepting connections and handling RPCs.
func (t *TCPTransport) Listen(handler RPCHandler) error {
	listener, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.listener = listener
	t.handler = handler
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop()

	return nil
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if closed {
				return
			}
			continue
		}

		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.inbound[conn] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.inbound, conn)
		t.mu.Unlock()
	}()

	for {
		t.mu.RLock()
		closed := t.closed
		handler := t.handler
		timeout := t.timeout
		t.mu.RUnlock()
		if closed {
			return
		}

		conn.SetReadDeadline(time.Now().Add(timeout * 2))

		msgType, data, err := readFrame(conn)
		if err != nil {
			return
		}

		var resp []byte
		if handler != nil {
			resp = handler(msgType, data)
		}

		conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := writeFrame(conn, msgType, resp); err != nil {
			return
		}
	}
}

// Close shuts down the transport.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener := t.listener
	conns := t.conns
	t.conns = make(map[uint64]*peerConn)
	inbound := make([]net.Conn, 0, len(t.inbound))
	for conn := range t.inbound {
		inbound = append(inbound, conn)
	}
	t.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	// Unblocks handleConn goroutines waiting on a read.
	for _, conn := range inbound {
		conn.Close()
	}

	for _, pc := range conns {
		pc.mu.Lock()
		if pc.conn != nil {
			pc.conn.Close()
			pc.conn = nil
		}
		pc.mu.Unlock()
	}

	t.wg.Wait()

	return nil
}

// InMemoryTransport implements Transport for testing. Delivery is a direct,
// synchronous call into the peer's handler.
type InMemoryTransport struct {
	id      uint64
	addr    string
	network *InMemoryNetwork
	handler RPCHandler
	closed  bool
	mu      sync.RWMutex
}

// InMemoryNetwork simulates a network for testing. Links between nodes can
// be cut and restored to model partitions.
type InMemoryNetwork struct {
	transports map[uint64]*InMemoryTransport
	cut        map[[2]uint64]bool // directed link from -> to
	mu         sync.RWMutex
}

// NewInMemoryNetwork creates a new in-memory network.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{
		transports: make(map[uint64]*InMemoryTransport),
		cut:        make(map[[2]uint64]bool),
	}
}

// NewTransport creates a new in-memory transport for a node.
func (n *InMemoryNetwork) NewTransport(nodeID uint64, addr string) *InMemoryTransport {
	t := &InMemoryTransport{
		id:      nodeID,
		addr:    addr,
		network: n,
	}

	n.mu.Lock()
	n.transports[nodeID] = t
	n.mu.Unlock()

	return t
}

// Disconnect cuts every link between id and the rest of the network.
func (n *InMemoryNetwork) Disconnect(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for other := range n.transports {
		if other != id {
			n.cut[[2]uint64{id, other}] = true
			n.cut[[2]uint64{other, id}] = true
		}
	}
}

// Connect restores every link between id and the rest of the network.
func (n *InMemoryNetwork) Connect(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for link := range n.cut {
		if link[0] == id || link[1] == id {
			delete(n.cut, link)
		}
	}
}

// CutLink drops RPCs sent from one node to another. RPCs in the reverse
// direction, and their replies, still flow.
func (n *InMemoryNetwork) CutLink(from, to uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[[2]uint64{from, to}] = true
}

// HealAll restores every link.
func (n *InMemoryNetwork) HealAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut = make(map[[2]uint64]bool)
}

func (n *InMemoryNetwork) linked(from, to uint64) bool {
	return !n.cut[[2]uint64{from, to}]
}

// Send sends an RPC to a peer. A message on a cut link is lost.
func (t *InMemoryTransport) Send(ctx context.Context, peerID uint64, msgType uint8, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrTimeout
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrTransportClosed
	}
	t.mu.RUnlock()

	t.network.mu.RLock()
	peer, ok := t.network.transports[peerID]
	linked := t.network.linked(t.id, peerID)
	t.network.mu.RUnlock()

	if !ok || !linked {
		return nil, ErrConnectFailed
	}

	peer.mu.RLock()
	handler := peer.handler
	closed := peer.closed
	peer.mu.RUnlock()

	if closed || handler == nil {
		return nil, ErrConnectFailed
	}

	req := make([]byte, len(data))
	copy(req, data)
	resp := handler(msgType, req)
	if resp == nil {
		return nil, ErrConnectFailed
	}
	return resp, nil
}

// Listen starts listening for RPCs.
func (t *InMemoryTransport) Listen(handler RPCHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	t.closed = false
	return nil
}

// Close shuts down the transport.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.handler = nil
	return nil
}

// LocalAddr returns the local address.
func (t *InMemoryTransport) LocalAddr() string {
	return t.addr
}
