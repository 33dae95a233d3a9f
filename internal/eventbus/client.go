// Package eventbus is the gRPC transport for the eventbus.v1 PubSub service.
//
// Messages are built from a descriptor compiled at init and exchanged as
// dynamic protobuf messages, so no generated stubs are needed. Callers work
// with the plain Go types in types.go. Per-call credentials travel as
// outgoing metadata (see WithCredentials); the client never authenticates by
// itself.
package eventbus

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/sfpubsub/internal/logging"
)

type config struct {
	insecure    bool
	dialOptions []grpc.DialOption
	logger      logging.Logger
}

type Option func(*config)

// WithInsecure disables TLS. Intended for local test servers.
func WithInsecure() Option {
	return func(c *config) { c.insecure = true }
}

// WithDialOptions appends raw grpc dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *config) { c.dialOptions = append(c.dialOptions, opts...) }
}

func WithLogger(l logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Client calls the PubSub service over a single connection. It is safe for
// concurrent use.
type Client struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
	logger logging.Logger
}

// Dial creates a client for target, e.g. "api.pubsub.salesforce.com:7443".
// The connection is established lazily on the first call.
func Dial(target string, opts ...Option) (*Client, error) {
	cfg := config{logger: logging.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{logger: cfg.logger.With("module", "eventbus")}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.insecure {
		creds = insecure.NewCredentials()
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithUnaryInterceptor(c.unaryLogger),
		grpc.WithStreamInterceptor(c.streamLogger),
	}, cfg.dialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.closer = conn
	return c, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	cfg := config{logger: logging.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{conn: conn, logger: cfg.logger.With("module", "eventbus")}
}

func (c *Client) unaryLogger(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	start := time.Now()
	err := invoker(ctx, method, req, reply, cc, opts...)
	c.logger.Debug(ctx, "rpc finished", "method", method, "code", status.Code(err).String(), "elapsed", time.Since(start))
	return err
}

func (c *Client) streamLogger(
	ctx context.Context,
	sd *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	cs, err := streamer(ctx, sd, cc, method, opts...)
	if err != nil {
		c.logger.Warn(ctx, "stream open failed", "method", method, "error", err)
		return nil, err
	}
	c.logger.Debug(ctx, "stream opened", "method", method)
	return cs, nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) GetTopic(ctx context.Context, topicName string) (TopicInfo, error) {
	resp := desc.newMessage(msgTopicInfo)
	if err := c.conn.Invoke(ctx, desc.fullMethod(methodGetTopic), encodeTopicRequest(topicName), resp); err != nil {
		return TopicInfo{}, mapError(err)
	}
	return decodeTopicInfo(resp), nil
}

func (c *Client) GetSchema(ctx context.Context, schemaID string) (SchemaInfo, error) {
	resp := desc.newMessage(msgSchemaInfo)
	if err := c.conn.Invoke(ctx, desc.fullMethod(methodGetSchema), encodeSchemaRequest(schemaID), resp); err != nil {
		return SchemaInfo{}, mapError(err)
	}
	return decodeSchemaInfo(resp), nil
}

func (c *Client) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	resp := desc.newMessage(msgPublishResponse)
	if err := c.conn.Invoke(ctx, desc.fullMethod(methodPublish), encodePublishRequest(req), resp); err != nil {
		return nil, mapError(err)
	}
	return decodePublishResponse(resp), nil
}

// SubscribeClient is the client side of a Subscribe stream.
type SubscribeClient interface {
	Send(*FetchRequest) error
	Recv() (*FetchResponse, error)
	CloseSend() error
}

// ManagedSubscribeClient is the client side of a ManagedSubscribe stream.
type ManagedSubscribeClient interface {
	Send(*ManagedFetchRequest) error
	Recv() (*ManagedFetchResponse, error)
	CloseSend() error
}

// PublishStreamClient is the client side of a PublishStream stream.
type PublishStreamClient interface {
	Send(*PublishRequest) error
	Recv() (*PublishResponse, error)
	CloseSend() error
}

func bidi(name string) *grpc.StreamDesc {
	return &grpc.StreamDesc{StreamName: name, ClientStreams: true, ServerStreams: true}
}

func (c *Client) open(ctx context.Context, name string) (grpc.ClientStream, error) {
	cs, err := c.conn.NewStream(ctx, bidi(name), desc.fullMethod(name))
	if err != nil {
		return nil, mapError(err)
	}
	return cs, nil
}

// Subscribe opens a Subscribe stream bound to ctx. Cancelling ctx
// terminates the stream.
func (c *Client) Subscribe(ctx context.Context) (SubscribeClient, error) {
	cs, err := c.open(ctx, methodSubscribe)
	if err != nil {
		return nil, err
	}
	return &subscribeClient{cs: cs}, nil
}

func (c *Client) ManagedSubscribe(ctx context.Context) (ManagedSubscribeClient, error) {
	cs, err := c.open(ctx, methodManagedSubscribe)
	if err != nil {
		return nil, err
	}
	return &managedSubscribeClient{cs: cs}, nil
}

func (c *Client) PublishStream(ctx context.Context) (PublishStreamClient, error) {
	cs, err := c.open(ctx, methodPublishStream)
	if err != nil {
		return nil, err
	}
	return &publishStreamClient{cs: cs}, nil
}

type subscribeClient struct{ cs grpc.ClientStream }

func (s *subscribeClient) Send(r *FetchRequest) error {
	return mapError(s.cs.SendMsg(encodeFetchRequest(r)))
}

func (s *subscribeClient) Recv() (*FetchResponse, error) {
	m := desc.newMessage(msgFetchResponse)
	if err := s.cs.RecvMsg(m); err != nil {
		return nil, mapError(err)
	}
	return decodeFetchResponse(m), nil
}

func (s *subscribeClient) CloseSend() error { return s.cs.CloseSend() }

type managedSubscribeClient struct{ cs grpc.ClientStream }

func (s *managedSubscribeClient) Send(r *ManagedFetchRequest) error {
	return mapError(s.cs.SendMsg(encodeManagedFetchRequest(r)))
}

func (s *managedSubscribeClient) Recv() (*ManagedFetchResponse, error) {
	m := desc.newMessage(msgManagedFetchResponse)
	if err := s.cs.RecvMsg(m); err != nil {
		return nil, mapError(err)
	}
	return decodeManagedFetchResponse(m), nil
}

func (s *managedSubscribeClient) CloseSend() error { return s.cs.CloseSend() }

type publishStreamClient struct{ cs grpc.ClientStream }

func (s *publishStreamClient) Send(r *PublishRequest) error {
	return mapError(s.cs.SendMsg(encodePublishRequest(r)))
}

func (s *publishStreamClient) Recv() (*PublishResponse, error) {
	m := desc.newMessage(msgPublishResponse)
	if err := s.cs.RecvMsg(m); err != nil {
		return nil, mapError(err)
	}
	return decodePublishResponse(m), nil
}

func (s *publishStreamClient) CloseSend() error { return s.cs.CloseSend() }
