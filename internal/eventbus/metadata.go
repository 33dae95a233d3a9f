package eventbus

import (
	"context"

	"google.golang.org/grpc/metadata"

	"github.com/dmitrijs2005/sfpubsub/internal/common"
)

// CallCredentials are the per-call headers the service authenticates with.
type CallCredentials struct {
	AccessToken string
	InstanceURL string
	TenantID    string
}

// WithCredentials returns ctx carrying creds as outgoing metadata,
// replacing any credentials already attached.
func WithCredentials(ctx context.Context, creds CallCredentials) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, creds.AccessToken)
	md.Set(common.InstanceURLHeaderName, creds.InstanceURL)
	md.Set(common.TenantIDHeaderName, creds.TenantID)

	return metadata.NewOutgoingContext(ctx, md)
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// OutgoingCredentials reads credentials attached by WithCredentials.
func OutgoingCredentials(ctx context.Context) (CallCredentials, bool) {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return CallCredentials{}, false
	}
	return CallCredentials{
		AccessToken: first(md, common.AccessTokenHeaderName),
		InstanceURL: first(md, common.InstanceURLHeaderName),
		TenantID:    first(md, common.TenantIDHeaderName),
	}, true
}

// IncomingCredentials reads the credential headers on the server side.
func IncomingCredentials(ctx context.Context) (CallCredentials, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return CallCredentials{}, false
	}
	return CallCredentials{
		AccessToken: first(md, common.AccessTokenHeaderName),
		InstanceURL: first(md, common.InstanceURLHeaderName),
		TenantID:    first(md, common.TenantIDHeaderName),
	}, true
}
