// Package common contains shared constants and sentinel errors used across
// sfpubsub components.
package common

// Metadata keys the event bus expects on every call. The session attaches
// them to the outgoing context; the transport forwards them untouched.
const (
	AccessTokenHeaderName = "accesstoken"
	InstanceURLHeaderName = "instanceurl"
	TenantIDHeaderName    = "tenantid"
)

// DefaultPubSubEndpoint is the public gRPC endpoint of the Pub/Sub API.
const DefaultPubSubEndpoint = "api.pubsub.salesforce.com:7443"
