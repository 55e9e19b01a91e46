package raft

import (
	"context"
	"encoding"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const grpcServiceName = "raftkv.Raft"

// frame carries an encoded RPC body through gRPC unchanged.
type frame struct {
	data []byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f *frame) MarshalBinary() ([]byte, error) {
	return f.data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (f *frame) UnmarshalBinary(data []byte) error {
	f.data = append([]byte(nil), data...)
	return nil
}

// binaryCodec is a gRPC codec for values that marshal themselves, which is
// every RPC message in this package.
type binaryCodec struct{}

func (binaryCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("raft: cannot marshal %T", v)
	}
	return m.MarshalBinary()
}

func (binaryCodec) Unmarshal(data []byte, v any) error {
	u, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("raft: cannot unmarshal into %T", v)
	}
	return u.UnmarshalBinary(data)
}

func (binaryCodec) Name() string {
	return "raftkv-binary"
}

// rpcServer is the handler type registered with the gRPC server.
type rpcServer interface {
	handle(msgType uint8, data []byte) []byte
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*rpcServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: unaryHandler("RequestVote", RPCRequestVote)},
		{MethodName: "AppendEntries", Handler: unaryHandler("AppendEntries", RPCAppendEntries)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler(method string, msgType uint8) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(frame)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			resp := srv.(rpcServer).handle(msgType, req.(*frame).data)
			if resp == nil {
				return nil, status.Error(codes.Unavailable, "raft: request not answered")
			}
			return &frame{data: resp}, nil
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + grpcServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, call)
	}
}

func grpcMethod(msgType uint8) (string, bool) {
	switch msgType {
	case RPCRequestVote:
		return "/" + grpcServiceName + "/RequestVote", true
	case RPCAppendEntries:
		return "/" + grpcServiceName + "/AppendEntries", true
	default:
		return "", false
	}
}

// GRPCTransport implements Transport over gRPC unary calls.
type GRPCTransport struct {
	addr     string
	peers    map[uint64]string
	conns    map[uint64]*grpc.ClientConn
	server   *grpc.Server
	listener net.Listener
	handler  RPCHandler
	closed   bool
	mu       sync.RWMutex
}

// NewGRPCTransport creates a gRPC transport listening on addr.
func NewGRPCTransport(addr string, peers map[uint64]string) *GRPCTransport {
	p := make(map[uint64]string, len(peers))
	for id, a := range peers {
		p[id] = a
	}
	return &GRPCTransport{
		addr:  addr,
		peers: p,
		conns: make(map[uint64]*grpc.ClientConn),
	}
}

// LocalAddr returns the listening address once Listen has run, otherwise the
// configured one.
func (t *GRPCTransport) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Listen starts the gRPC server.
func (t *GRPCTransport) Listen(handler RPCHandler) error {
	lis, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	server := grpc.NewServer(
		grpc.ForceServerCodec(binaryCodec{}),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)
	server.RegisterService(&raftServiceDesc, t)

	t.mu.Lock()
	t.listener = lis
	t.server = server
	t.handler = handler
	t.mu.Unlock()

	go server.Serve(lis)
	return nil
}

func (t *GRPCTransport) handle(msgType uint8, data []byte) []byte {
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		return nil
	}
	return handler(msgType, data)
}

// Send invokes the peer's method for msgType.
func (t *GRPCTransport) Send(ctx context.Context, peerID uint64, msgType uint8, data []byte) ([]byte, error) {
	method, ok := grpcMethod(msgType)
	if !ok {
		return nil, fmt.Errorf("raft: no gRPC method for message type %d", msgType)
	}
	if len(data) > maxMessageSize {
		return nil, ErrConnectFailed
	}

	conn, err := t.conn(peerID)
	if err != nil {
		return nil, err
	}

	out := new(frame)
	if err := conn.Invoke(ctx, method, &frame{data: data}, out, grpc.ForceCodec(binaryCodec{})); err != nil {
		if status.Code(err) == codes.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return out.data, nil
}

func (t *GRPCTransport) conn(peerID uint64) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if conn, ok := t.conns[peerID]; ok {
		return conn, nil
	}

	addr, ok := t.peers[peerID]
	if !ok {
		return nil, ErrConnectFailed
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	t.conns[peerID] = conn
	return conn, nil
}

// Close stops the server and closes client connections.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	server := t.server
	conns := t.conns
	t.conns = make(map[uint64]*grpc.ClientConn)
	t.mu.Unlock()

	if server != nil {
		server.Stop()
	}
	for _, conn := range conns {
		conn.Close()
	}
	return nil
}
