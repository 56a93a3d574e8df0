package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matsim-go/qsim/pkg/model"
)

// exchangeServiceDesc is a hand-built grpc.ServiceDesc for a single unary
// method, Exchange, that carries a gob-encoded Message as the payload of a
// wrapperspb.BytesValue. The corpus has no compiled .proto for this domain, and
// hand-authoring generated code would fabricate a dependency; wrapperspb is a
// real, already-compiled well-known type, so this wires genuine gRPC transport
// (listener, server, codec, client dial) without inventing a fake package.
var exchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: "qsim.broker.Exchange",
	HandlerType: (*exchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exchange",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(wrapperspb.BytesValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				return srv.(exchangeServer).Exchange(ctx, in)
			},
		},
	},
}

type exchangeServer interface {
	Exchange(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// GRPCBroker is a cross-process MessageBroker: each partition runs its own
// process and host:port, and exchanges are carried over real gRPC connections.
// Grounded on the teacher's GRPCTransport (pkg/grpc/transport.go): same
// listen/dial/connection-cache shape, generalized from Raft RPC methods to a
// single Exchange call carrying this engine's own Message type.
type GRPCBroker struct {
	mu          sync.RWMutex
	self        model.PartitionID
	listenAddr  string
	peerAddrs   map[model.PartitionID]string
	server      *grpc.Server
	listener    net.Listener
	connections map[model.PartitionID]*grpc.ClientConn
	clients     map[model.PartitionID]*wrappedClient
	inbox       chan Message
	logger      *zap.Logger
	dialTimeout time.Duration
}

type wrappedClient struct {
	conn *grpc.ClientConn
}

func (c *wrappedClient) Exchange(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.conn.Invoke(ctx, "/qsim.broker.Exchange/Exchange", in, out)
	return out, err
}

// NewGRPCBroker constructs a broker for partition self, listening on
// listenAddr, with peerAddrs naming every other partition's address.
func NewGRPCBroker(self model.PartitionID, listenAddr string, peerAddrs map[model.PartitionID]string, logger *zap.Logger, inboxDepth int) *GRPCBroker {
	return &GRPCBroker{
		self:        self,
		listenAddr:  listenAddr,
		peerAddrs:   peerAddrs,
		connections: make(map[model.PartitionID]*grpc.ClientConn),
		clients:     make(map[model.PartitionID]*wrappedClient),
		inbox:       make(chan Message, inboxDepth),
		logger:      logger,
		dialTimeout: 2 * time.Second,
	}
}

// grpcReceiver adapts GRPCBroker to the exchangeServer interface without
// exposing Exchange on GRPCBroker itself (which would collide with the client
// side's method of the same name if GRPCBroker ever dialed itself).
type grpcReceiver struct {
	b *GRPCBroker
}

func (r *grpcReceiver) Exchange(_ context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	msg, err := Decode(in.GetValue())
	if err != nil {
		return nil, err
	}
	r.b.inbox <- msg
	return new(wrapperspb.BytesValue), nil
}

// Start begins listening and serving; it must be called once before Send or
// Inbox are used.
func (b *GRPCBroker) Start() error {
	lis, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		return fmt.Errorf("broker: listen on %s: %w", b.listenAddr, err)
	}
	b.listener = lis
	b.server = grpc.NewServer()
	b.server.RegisterService(&exchangeServiceDesc, &grpcReceiver{b: b})

	go func() {
		if err := b.server.Serve(lis); err != nil {
			b.logger.Warn("broker grpc server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (b *GRPCBroker) getClient(target model.PartitionID) (*wrappedClient, error) {
	b.mu.RLock()
	if c, ok := b.clients[target]; ok {
		b.mu.RUnlock()
		return c, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[target]; ok {
		return c, nil
	}

	addr, ok := b.peerAddrs[target]
	if !ok {
		return nil, fmt.Errorf("broker: unknown peer partition %d", target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.dialTimeout)
	defer cancel()
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", addr, err)
	}
	c := &wrappedClient{conn: conn}
	b.connections[target] = conn
	b.clients[target] = c
	return c, nil
}

func (b *GRPCBroker) Send(msg Message) error {
	client, err := b.getClient(msg.To)
	if err != nil {
		return err
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.dialTimeout)
	defer cancel()
	_, err = client.Exchange(ctx, wrapperspb.Bytes(data))
	return err
}

func (b *GRPCBroker) Inbox(partition model.PartitionID) (<-chan Message, error) {
	if partition != b.self {
		return nil, fmt.Errorf("broker: partition %d is not local to this broker", partition)
	}
	return b.inbox, nil
}

func (b *GRPCBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.connections {
		conn.Close()
	}
	if b.server != nil {
		b.server.GracefulStop()
	}
	if b.listener != nil {
		b.listener.Close()
	}
	close(b.inbox)
	return nil
}
