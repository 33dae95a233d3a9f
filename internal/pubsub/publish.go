package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
	"github.com/dmitrijs2005/sfpubsub/internal/metrics"
)

// PublishEvent is an Avro-encoded event to publish. An empty ID is replaced
// by a random UUID and an empty SchemaID by the topic schema.
type PublishEvent struct {
	ID       string
	SchemaID string
	Payload  []byte
	Headers  []eventbus.EventHeader
}

// PublishResult is the outcome for the event at Index of the request.
// PublishTime is when the acknowledgement reached the client.
type PublishResult struct {
	Index       int
	EventID     string
	ReplayID    ReplayID
	PublishTime time.Time
	Err         error
}

// EncodeEvent encodes fields with the topic's current schema.
func (s *Session) EncodeEvent(ctx context.Context, topicName string, fields map[string]any) (PublishEvent, error) {
	info, err := s.GetTopic(ctx, topicName)
	if err != nil {
		return PublishEvent{}, err
	}
	d, err := s.GetSchema(ctx, info.SchemaID)
	if err != nil {
		return PublishEvent{}, err
	}
	payload, err := d.Encode(fields)
	if err != nil {
		return PublishEvent{}, err
	}
	return PublishEvent{SchemaID: d.ID, Payload: payload}, nil
}

func (s *Session) producerEvents(info eventbus.TopicInfo, events []PublishEvent) []eventbus.ProducerEvent {
	out := make([]eventbus.ProducerEvent, len(events))
	for i, e := range events {
		pe := eventbus.ProducerEvent{ID: e.ID, SchemaID: e.SchemaID, Payload: e.Payload, Headers: e.Headers}
		if pe.ID == "" {
			pe.ID = uuid.NewString()
		}
		if pe.SchemaID == "" {
			pe.SchemaID = info.SchemaID
		}
		out[i] = pe
	}
	return out
}

func (s *Session) publishableTopic(ctx context.Context, topicName string) (eventbus.TopicInfo, error) {
	info, err := s.GetTopic(ctx, topicName)
	if err != nil {
		return eventbus.TopicInfo{}, err
	}
	if !info.CanPublish {
		return eventbus.TopicInfo{}, fmt.Errorf("%w: %s", ErrTopicNotPublishable, topicName)
	}
	return info, nil
}

// Publish sends a batch of events and returns one result per event in
// request order. If some events were rejected the results are returned
// together with a *PartialPublishError. A transient failure resends the
// whole batch with the same event ids.
func (s *Session) Publish(ctx context.Context, topicName string, events []PublishEvent) ([]PublishResult, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if len(events) == 0 {
		return nil, nil
	}
	info, err := s.publishableTopic(ctx, topicName)
	if err != nil {
		return nil, err
	}

	req := &eventbus.PublishRequest{TopicName: topicName, Events: s.producerEvents(info, events)}

	var resp *eventbus.PublishResponse
	err = s.call(ctx, "publish", func(ctx context.Context) error {
		var err error
		resp, err = s.transport.Publish(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	received := s.now()
	s.observeSchema(topicName, resp.SchemaID)

	if len(resp.Results) != len(req.Events) {
		return nil, &TransportError{
			Op:  "publish",
			Err: fmt.Errorf("%w: %d results for %d events", eventbus.ErrMalformedResponse, len(resp.Results), len(req.Events)),
		}
	}

	index := make(map[string]int, len(req.Events))
	for i, e := range req.Events {
		index[e.ID] = i
	}

	results := make([]PublishResult, len(req.Events))
	filled := make([]bool, len(req.Events))
	for pos, r := range resp.Results {
		i, ok := index[r.CorrelationKey]
		if !ok {
			// no usable correlation key: rely on response order
			i = pos
		}
		if filled[i] {
			return nil, &TransportError{
				Op:  "publish",
				Err: fmt.Errorf("%w: duplicate result for event %s", eventbus.ErrMalformedResponse, req.Events[i].ID),
			}
		}
		filled[i] = true

		res := PublishResult{Index: i, EventID: req.Events[i].ID, ReplayID: ReplayID(r.ReplayID).clone(), PublishTime: received}
		if r.Error != nil {
			res.Err = r.Error
		}
		results[i] = res
		metrics.PushPublishResult(topicName, res.Err)
	}

	var partial *PartialPublishError
	for i, r := range results {
		if r.Err == nil {
			continue
		}
		if partial == nil {
			partial = &PartialPublishError{Failed: make(map[int]error)}
		}
		partial.Failed[i] = r.Err
	}
	if partial != nil {
		for i, r := range results {
			if r.Err == nil {
				partial.Succeeded = append(partial.Succeeded, i)
			}
		}
		s.logger.Warn(ctx, "publish partially failed", "topic", topicName, "failed", len(partial.Failed), "total", len(results))
		return results, partial
	}
	return results, nil
}
