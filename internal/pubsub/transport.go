package pubsub

import (
	"context"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
)

// Transport is the RPC surface of the event bus. *eventbus.Client
// implements it. Calls carry credentials in outgoing metadata
// (eventbus.WithCredentials).
type Transport interface {
	GetTopic(ctx context.Context, topicName string) (eventbus.TopicInfo, error)
	GetSchema(ctx context.Context, schemaID string) (eventbus.SchemaInfo, error)
	Publish(ctx context.Context, req *eventbus.PublishRequest) (*eventbus.PublishResponse, error)
	Subscribe(ctx context.Context) (eventbus.SubscribeClient, error)
	ManagedSubscribe(ctx context.Context) (eventbus.ManagedSubscribeClient, error)
	PublishStream(ctx context.Context) (eventbus.PublishStreamClient, error)
	Close() error
}

// Authenticator obtains tokens. *auth.Client implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials, flow auth.Flow) (auth.Token, error)
}

var (
	_ Transport     = (*eventbus.Client)(nil)
	_ Authenticator = (*auth.Client)(nil)
)
