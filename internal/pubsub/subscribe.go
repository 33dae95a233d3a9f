package pubsub

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
)

type SubscribeRequest struct {
	TopicName string
	Position  Position
	// BatchSize is the demand kept outstanding. 0 uses the session default.
	BatchSize int
}

// Subscribe prepares a subscription to a topic. The stream is opened by
// Subscription.Receive. Once an event has been acknowledged, reopened
// streams resume after it regardless of Position.
func (s *Session) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	info, err := s.GetTopic(ctx, req.TopicName)
	if err != nil {
		return nil, err
	}
	if !info.CanSubscribe {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotSubscribable, req.TopicName)
	}
	if info.SchemaID != "" {
		// warm the cache so the first batch does not wait on it
		if _, err := s.GetSchema(ctx, info.SchemaID); err != nil {
			return nil, err
		}
	}

	batch := s.batchSize
	if req.BatchSize != 0 {
		batch = clampBatch(req.BatchSize)
	}

	logger := s.logger.With("topic", req.TopicName, "stream", "subscribe")
	stream := &subscribeStream{transport: s.transport, topic: req.TopicName, start: req.Position}
	logger.Info(ctx, "subscription created", "position", req.Position.String(), "batch_size", batch)
	return newSubscription(s, req.TopicName, batch, stream, logger), nil
}

// subscribeStream is the client-checkpointed fetch stream.
type subscribeStream struct {
	transport Transport
	topic     string
	start     Position

	client eventbus.SubscribeClient
	first  *eventbus.FetchRequest
}

func (f *subscribeStream) kind() string { return "subscribe" }

func (f *subscribeStream) open(ctx context.Context, cursor ReplayID) error {
	client, err := f.transport.Subscribe(ctx)
	if err != nil {
		return err
	}
	f.client = client

	pos := f.start
	if len(cursor) > 0 {
		pos = ResumeAt(cursor)
	}
	f.first = &eventbus.FetchRequest{
		TopicName:    f.topic,
		ReplayPreset: pos.preset,
		ReplayID:     pos.replayID,
	}
	return nil
}

func (f *subscribeStream) request(n int) error {
	req := &eventbus.FetchRequest{TopicName: f.topic}
	if f.first != nil {
		req, f.first = f.first, nil
	}
	req.NumRequested = int32(n)
	return f.client.Send(req)
}

func (f *subscribeStream) recv() (*batch, error) {
	resp, err := f.client.Recv()
	if err != nil {
		return nil, err
	}
	return &batch{events: resp.Events, latest: resp.LatestReplayID, pending: resp.PendingNumRequested}, nil
}

func (f *subscribeStream) acked(ReplayID) {}

func (f *subscribeStream) settle() error { return nil }

func (f *subscribeStream) duplicate(ReplayID) bool { return false }

func (f *subscribeStream) close() {
	if f.client != nil {
		_ = f.client.CloseSend()
		f.client = nil
	}
}
