package app

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
	"github.com/dmitrijs2005/sfpubsub/internal/config"
	"github.com/dmitrijs2005/sfpubsub/internal/cursorstore"
	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/pubsub"
	"github.com/dmitrijs2005/sfpubsub/internal/retry"
	"github.com/dmitrijs2005/sfpubsub/internal/schema"
)

const (
	testTopic    = "/event/Order_Placed__e"
	testSchemaID = "schema-1"
	testSchema   = `{"type":"record","name":"OrderPlaced","fields":[{"name":"id","type":"string"},{"name":"amount","type":"double"}]}`
)

type stubAuth struct{}

func (stubAuth) Authenticate(context.Context, auth.Credentials, auth.Flow) (auth.Token, error) {
	return auth.Token{AccessToken: "tok", InstanceURL: "https://acme.my.salesforce.com", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func replayID(i int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(i))
	return b
}

// busFake serves testTopic from memory.
type busFake struct {
	mu        sync.Mutex
	events    []eventbus.ConsumerEvent
	published []eventbus.ProducerEvent
	nextID    int
}

func newBusFake(t *testing.T, n int) *busFake {
	t.Helper()
	d, err := schema.Compile(testSchemaID, testSchema)
	require.NoError(t, err)

	b := &busFake{}
	for i := 1; i <= n; i++ {
		payload, err := d.Encode(map[string]any{"id": fmt.Sprintf("o-%d", i), "amount": float64(i)})
		require.NoError(t, err)
		b.events = append(b.events, eventbus.ConsumerEvent{
			Event:    eventbus.ProducerEvent{ID: fmt.Sprintf("e-%d", i), SchemaID: testSchemaID, Payload: payload},
			ReplayID: replayID(i),
		})
	}
	return b
}

func (b *busFake) GetTopic(_ context.Context, name string) (eventbus.TopicInfo, error) {
	if name != testTopic {
		return eventbus.TopicInfo{}, fmt.Errorf("%w: %s", eventbus.ErrNotFound, name)
	}
	return eventbus.TopicInfo{TopicName: name, TenantGUID: "00D1", CanPublish: true, CanSubscribe: true, SchemaID: testSchemaID}, nil
}

func (b *busFake) GetSchema(_ context.Context, id string) (eventbus.SchemaInfo, error) {
	if id != testSchemaID {
		return eventbus.SchemaInfo{}, fmt.Errorf("%w: %s", eventbus.ErrNotFound, id)
	}
	return eventbus.SchemaInfo{SchemaID: id, SchemaJSON: testSchema}, nil
}

// ack records events and returns one result per event.
func (b *busFake) ack(events []eventbus.ProducerEvent) *eventbus.PublishResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	resp := &eventbus.PublishResponse{SchemaID: testSchemaID}
	for _, e := range events {
		b.published = append(b.published, e)
		b.nextID++
		resp.Results = append(resp.Results, eventbus.PublishResult{ReplayID: replayID(100 + b.nextID), CorrelationKey: e.ID})
	}
	return resp
}

func (b *busFake) Publish(_ context.Context, req *eventbus.PublishRequest) (*eventbus.PublishResponse, error) {
	return b.ack(req.Events), nil
}

func (b *busFake) Subscribe(ctx context.Context) (eventbus.SubscribeClient, error) {
	return &subFake{bus: b, ctx: ctx, wake: make(chan struct{}, 1)}, nil
}

func (b *busFake) ManagedSubscribe(context.Context) (eventbus.ManagedSubscribeClient, error) {
	return nil, fmt.Errorf("%w: managed subscriptions", eventbus.ErrPermissionDenied)
}

func (b *busFake) PublishStream(ctx context.Context) (eventbus.PublishStreamClient, error) {
	return &pubStreamFake{bus: b, ctx: ctx, wake: make(chan struct{}, 1)}, nil
}

func (b *busFake) Close() error { return nil }

func (b *busFake) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type subFake struct {
	bus  *busFake
	ctx  context.Context
	wake chan struct{}

	mu      sync.Mutex
	started bool
	pos     int
	demand  int
}

func (s *subFake) Send(r *eventbus.FetchRequest) error {
	s.mu.Lock()
	if !s.started {
		s.started = true
		switch r.ReplayPreset {
		case eventbus.ReplayLatest:
			s.pos = len(s.bus.events)
		case eventbus.ReplayCustom:
			for i, ev := range s.bus.events {
				if bytes.Equal(ev.ReplayID, r.ReplayID) {
					s.pos = i + 1
				}
			}
		}
	}
	s.demand += int(r.NumRequested)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *subFake) Recv() (*eventbus.FetchResponse, error) {
	for {
		s.mu.Lock()
		n := min(len(s.bus.events)-s.pos, s.demand)
		if n > 0 {
			out := append([]eventbus.ConsumerEvent(nil), s.bus.events[s.pos:s.pos+n]...)
			s.pos += n
			s.demand -= n
			pending := s.demand
			s.mu.Unlock()
			return &eventbus.FetchResponse{Events: out, PendingNumRequested: int32(pending)}, nil
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		}
	}
}

func (s *subFake) CloseSend() error { return nil }

type pubStreamFake struct {
	bus  *busFake
	ctx  context.Context
	wake chan struct{}

	mu    sync.Mutex
	queue []*eventbus.PublishResponse
}

func (p *pubStreamFake) Send(r *eventbus.PublishRequest) error {
	resp := p.bus.ack(r.Events)
	p.mu.Lock()
	p.queue = append(p.queue, resp)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *pubStreamFake) Recv() (*eventbus.PublishResponse, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			out := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return out, nil
		}
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.ctx.Done():
			return nil, p.ctx.Err()
		}
	}
}

func (p *pubStreamFake) CloseSend() error { return nil }

type testApp struct {
	*App
	bus *busFake
	out *bytes.Buffer
}

func newTestApp(t *testing.T, bus *busFake, stdin string, withStore bool) *testApp {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.CheckpointInterval = 10 * time.Millisecond

	policy := retry.NewPolicy(retry.Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 2, MaxReauthAttempts: 1})
	session := pubsub.NewSession(auth.FromValue(auth.Credentials{ClientID: "id", ClientSecret: "secret", InstanceURL: "https://acme.my.salesforce.com"}),
		auth.FlowClientCredentials, bus, stubAuth{}, pubsub.WithRetryPolicy(policy), pubsub.WithPublishInFlightLimit(4))

	var store *cursorstore.Store
	if withStore {
		var err error
		store, err = cursorstore.Open(context.Background(), filepath.Join(t.TempDir(), "cursors.db"))
		require.NoError(t, err)
	}

	out := &bytes.Buffer{}
	a := newApp(cfg, logging.Nop(), session, store, bytes.NewBufferString(stdin), out)
	t.Cleanup(a.close)
	return &testApp{App: a, bus: bus, out: out}
}
