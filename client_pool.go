package floyd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/floydgo/floyd/floydpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

const (
	// codecName is the grpc content subtype carrying floydpb messages
	codecName = "floydpb"

	// sendCommandMethod is the single unary RPC of the core
	sendCommandMethod = "/floydpb.Floyd/SendCommand"
)

// floydMessage is implemented by every floydpb message.
type floydMessage interface {
	Marshal() []byte
	Unmarshal([]byte) error
}

// floydCodec marshals floydpb messages on the wire without generated
// stubs.
type floydCodec struct{}

func (floydCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(floydMessage)
	if !ok {
		return nil, fmt.Errorf("%w: cannot marshal %T", ErrInvalidArgument, v)
	}
	return m.Marshal(), nil
}

func (floydCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(floydMessage)
	if !ok {
		return fmt.Errorf("%w: cannot unmarshal into %T", ErrInvalidArgument, v)
	}
	return m.Unmarshal(data)
}

func (floydCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(floydCodec{})
}

// Pool is the request/response channel keyed by peer address that the
// peer workers send through. A timeout surfaces as a plain transport
// error, not distinguished from other I/O failures at this layer.
type Pool interface {
	SendAndRecv(server string, req *floydpb.Command) (*floydpb.CommandRes, error)
}

// ClientPool is the gRPC transport: one lazily created client
// connection per remote peer, reused across calls.
type ClientPool struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	timeout time.Duration
	conns   map[string]*grpc.ClientConn
}

// NewClientPool builds a pool whose calls are bounded by timeout.
func NewClientPool(logger *zerolog.Logger, timeout time.Duration) *ClientPool {
	if timeout == 0 {
		timeout = defaultRPCTimeout
	}
	return &ClientPool{
		logger:  logger.With().Str("component", "clientpool").Logger(),
		timeout: timeout,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

func (p *ClientPool) conn(server string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[server]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(
		server,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoConnection, server, err)
	}
	p.conns[server] = conn
	return conn, nil
}

// SendAndRecv issues one unary round trip to server.
func (p *ClientPool) SendAndRecv(server string, req *floydpb.Command) (*floydpb.CommandRes, error) {
	conn, err := p.conn(server)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	res := &floydpb.CommandRes{}
	if err := conn.Invoke(ctx, sendCommandMethod, req, res); err != nil {
		p.logger.Debug().Err(err).Str("peer", server).Msgf("SendAndRecv failed")
		return nil, err
	}
	return res, nil
}

// Close tears down every cached connection.
func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for server, conn := range p.conns {
		if err := conn.Close(); err != nil {
			p.logger.Debug().Err(err).Str("peer", server).Msgf("Fail to close connection")
		}
	}
	clear(p.conns)
}

// CommandHandler is the server side of the transport: the node's
// dispatcher over the Command union.
type CommandHandler interface {
	SendCommand(ctx context.Context, req *floydpb.Command) (*floydpb.CommandRes, error)
}

func sendCommandRPCHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(floydpb.Command)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommandHandler).SendCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendCommandMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommandHandler).SendCommand(ctx, req.(*floydpb.Command))
	}
	return interceptor(ctx, in, info, handler)
}

var floydServiceDesc = grpc.ServiceDesc{
	ServiceName: "floydpb.Floyd",
	HandlerType: (*CommandHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendCommand",
			Handler:    sendCommandRPCHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "floyd.proto",
}

// RegisterFloydServer registers the command handler on a gRPC server.
func RegisterFloydServer(s *grpc.Server, srv CommandHandler) {
	s.RegisterService(&floydServiceDesc, srv)
}
