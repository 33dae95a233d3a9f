// Package pubsub is the session layer of the event bus client.
//
// A Session owns the access token, the schema cache and the retry policy,
// and drives a Transport (normally *eventbus.Client). Every operation
// authenticates lazily, refreshes the token shortly before it expires and
// reauthenticates once when the server rejects it. A failed
// reauthentication closes the session.
//
// Subscriptions keep at most one batch of demand outstanding and top it up
// when it falls to the low-water mark. Receive reopens a failed stream
// after the last acknowledged event, so the handler sees every event once
// per subscription unless it returns an error. Managed subscriptions commit
// acknowledged events to the server instead of resuming from a local
// cursor.
//
// Publish sends one batch and waits for its results. PublishStream keeps a
// bounded number of events in flight and returns their results in publish
// order, resending unacknowledged events when the stream is reopened.
package pubsub
