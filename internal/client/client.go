package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/smsinbox/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// FromConn wraps an existing connection.
func FromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Call invokes a unary method with req as its arguments.
func (c *Client) Call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

var watchDesc = &grpc.StreamDesc{StreamName: api.MethodWatchEvents, ServerStreams: true}

// Watcher receives events from a WatchEvents stream.
type Watcher struct {
	stream grpc.ClientStream
}

// Watch opens an event stream filtered to the given kind prefixes.
func (c *Client) Watch(ctx context.Context, namespaces ...string) (*Watcher, error) {
	list := make([]any, len(namespaces))
	for i, n := range namespaces {
		list[i] = n
	}
	in, err := structpb.NewStruct(map[string]any{"namespaces": list})
	if err != nil {
		return nil, err
	}
	stream, err := c.conn.NewStream(ctx, watchDesc, api.FullMethod(api.MethodWatchEvents))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}

// Recv blocks for the next event.
func (w *Watcher) Recv() (*structpb.Struct, error) {
	evt := new(structpb.Struct)
	if err := w.stream.RecvMsg(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
