package pubsub

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
	"github.com/dmitrijs2005/sfpubsub/internal/retry"
	"github.com/dmitrijs2005/sfpubsub/internal/schema"
)

const (
	testTopic    = "/event/Order_Placed__e"
	testSchemaID = "schema-1"
	testSchema   = `{"type":"record","name":"OrderPlaced","fields":[{"name":"id","type":"string"},{"name":"amount","type":"double"}]}`
)

var testCreds = auth.Credentials{
	ClientID:     "client",
	ClientSecret: "secret",
	InstanceURL:  "https://login.example.com",
	TenantID:     "00Dxx0000001gEREAY",
}

func testPolicy() *retry.Policy {
	return retry.NewPolicy(retry.Config{
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		MaxAttempts:       5,
		MaxReauthAttempts: 1,
	})
}

func newTestSession(t *testing.T, bus *fakeBus, authn *fakeAuth, opts ...Option) *Session {
	t.Helper()
	return newTestSessionFrom(t, auth.FromValue(testCreds), bus, authn, opts...)
}

func newTestSessionFrom(t *testing.T, source auth.CredentialsSource, bus *fakeBus, authn *fakeAuth, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(testPolicy())}, opts...)
	s := NewSession(source, auth.FlowClientCredentials, bus, authn, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeAuth issues tok-1, tok-2, ... in order.
type fakeAuth struct {
	mu    sync.Mutex
	calls int
	now   func() time.Time
	ttl   time.Duration
	fail  func(call int) error
	seen  []auth.Credentials
}

func (f *fakeAuth) Authenticate(_ context.Context, creds auth.Credentials, flow auth.Flow) (auth.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.seen = append(f.seen, creds)
	if f.fail != nil {
		if err := f.fail(f.calls); err != nil {
			return auth.Token{}, err
		}
	}
	now := time.Now
	if f.now != nil {
		now = f.now
	}
	ttl := f.ttl
	if ttl == 0 {
		ttl = time.Hour
	}
	return auth.Token{
		AccessToken: fmt.Sprintf("tok-%d", f.calls),
		InstanceURL: "https://acme.my.salesforce.com",
		ExpiresAt:   now().Add(ttl),
	}, nil
}

func (f *fakeAuth) credentials() []auth.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auth.Credentials(nil), f.seen...)
}

func (f *fakeAuth) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func replayID(i int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(i))
	return b
}

func orderEvents(t *testing.T, from, to int) []eventbus.ConsumerEvent {
	t.Helper()
	d, err := schema.Compile(testSchemaID, testSchema)
	require.NoError(t, err)

	var out []eventbus.ConsumerEvent
	for i := from; i <= to; i++ {
		payload, err := d.Encode(map[string]any{"id": fmt.Sprintf("o-%d", i), "amount": float64(i)})
		require.NoError(t, err)
		out = append(out, eventbus.ConsumerEvent{
			Event:    eventbus.ProducerEvent{ID: fmt.Sprintf("e-%d", i), SchemaID: testSchemaID, Payload: payload},
			ReplayID: replayID(i),
		})
	}
	return out
}

// fakeBus is an in-memory event bus serving a single topic.
type fakeBus struct {
	mu sync.Mutex

	topic  eventbus.TopicInfo
	events []eventbus.ConsumerEvent

	// chunk limits the events per response; nil sends all that demand allows.
	chunk func(avail int) int
	// ignoreDemand delivers everything available regardless of demand.
	ignoreDemand bool
	// fault is checked before every stream response. idx counts opens of
	// that stream kind from 0; delivered counts events sent on the stream.
	fault func(kind string, idx, delivered int, token string) error
	// unaryErr is checked on every unary call; call counts from 1.
	unaryErr  func(op string, call int, token string) error
	publishFn func(req *eventbus.PublishRequest) (*eventbus.PublishResponse, error)

	calls        map[string]int
	tokens       map[string][]string
	tenants      []string
	opens        map[string]int
	requests     []eventbus.FetchRequest
	managedReqs  []eventbus.ManagedFetchRequest
	commits      [][]byte
	committed    int
	dropCommits  bool
	pubStreams   []*pubFake
	pubMute      func(idx int) bool
	// pubBlock, when set, is asked before each publish stream Send with the
	// events already received. A non-nil channel holds that Send, after its
	// events were acknowledged, until the channel is closed.
	pubBlock     func(received int) <-chan struct{}
	// pubOneByOne acknowledges one event per publish stream response.
	pubOneByOne  bool
	shuffle      *rand.Rand
	nextReplay   int
	transportEnd bool
}

func newFakeBus(events []eventbus.ConsumerEvent) *fakeBus {
	return &fakeBus{
		topic: eventbus.TopicInfo{
			TopicName:    testTopic,
			CanPublish:   true,
			CanSubscribe: true,
			SchemaID:     testSchemaID,
		},
		events: events,
		calls:  make(map[string]int),
		tokens: make(map[string][]string),
		opens:  make(map[string]int),
	}
}

func (b *fakeBus) unary(ctx context.Context, op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	creds, _ := eventbus.OutgoingCredentials(ctx)
	b.tokens[op] = append(b.tokens[op], creds.AccessToken)
	b.tenants = append(b.tenants, creds.TenantID)
	if b.unaryErr != nil {
		return b.unaryErr(op, b.calls[op], creds.AccessToken)
	}
	return nil
}

func (b *fakeBus) seenTenants() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tenants...)
}

func (b *fakeBus) callCount(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *fakeBus) seenTokens(op string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tokens[op]...)
}

func (b *fakeBus) indexAfter(id []byte) int {
	for i, e := range b.events {
		if bytes.Equal(e.ReplayID, id) {
			return i + 1
		}
	}
	return len(b.events)
}

func (b *fakeBus) GetTopic(ctx context.Context, topicName string) (eventbus.TopicInfo, error) {
	if err := b.unary(ctx, "GetTopic"); err != nil {
		return eventbus.TopicInfo{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	info := b.topic
	info.TopicName = topicName
	return info, nil
}

func (b *fakeBus) GetSchema(ctx context.Context, schemaID string) (eventbus.SchemaInfo, error) {
	if err := b.unary(ctx, "GetSchema"); err != nil {
		return eventbus.SchemaInfo{}, err
	}
	if schemaID != testSchemaID {
		return eventbus.SchemaInfo{}, fmt.Errorf("%w: schema %s", eventbus.ErrNotFound, schemaID)
	}
	return eventbus.SchemaInfo{SchemaJSON: testSchema, SchemaID: schemaID}, nil
}

func (b *fakeBus) Publish(ctx context.Context, req *eventbus.PublishRequest) (*eventbus.PublishResponse, error) {
	if err := b.unary(ctx, "Publish"); err != nil {
		return nil, err
	}
	if b.publishFn != nil {
		return b.publishFn(req)
	}
	resp := &eventbus.PublishResponse{SchemaID: testSchemaID}
	for i, e := range req.Events {
		resp.Results = append(resp.Results, eventbus.PublishResult{ReplayID: replayID(i + 1), CorrelationKey: e.ID})
	}
	return resp, nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transportEnd = true
	return nil
}

func (b *fakeBus) streamTokens(kind string) []string {
	return b.seenTokens("open:" + kind)
}

func (b *fakeBus) openFetch(ctx context.Context, kind string) *fetchFake {
	b.mu.Lock()
	defer b.mu.Unlock()

	creds, _ := eventbus.OutgoingCredentials(ctx)
	f := &fetchFake{
		bus:   b,
		ctx:   ctx,
		kind:  kind,
		idx:   b.opens[kind],
		token: creds.AccessToken,
		wake:  make(chan struct{}, 1),
	}
	b.opens[kind]++
	b.tokens["open:"+kind] = append(b.tokens["open:"+kind], creds.AccessToken)
	if kind == "managed" {
		f.started = true
		f.pos = b.committed
	}
	return f
}

func (b *fakeBus) Subscribe(ctx context.Context) (eventbus.SubscribeClient, error) {
	return &subscribeFake{b.openFetch(ctx, "subscribe")}, nil
}

func (b *fakeBus) ManagedSubscribe(ctx context.Context) (eventbus.ManagedSubscribeClient, error) {
	return &managedFake{b.openFetch(ctx, "managed")}, nil
}

func (b *fakeBus) PublishStream(ctx context.Context) (eventbus.PublishStreamClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	creds, _ := eventbus.OutgoingCredentials(ctx)
	p := &pubFake{bus: b, ctx: ctx, idx: len(b.pubStreams), token: creds.AccessToken, wake: make(chan struct{}, 1)}
	if b.pubMute != nil {
		p.mute = b.pubMute(p.idx)
	}
	b.pubStreams = append(b.pubStreams, p)
	b.tokens["open:publish"] = append(b.tokens["open:publish"], creds.AccessToken)
	return p, nil
}

func (b *fakeBus) fetchRequests() []eventbus.FetchRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]eventbus.FetchRequest(nil), b.requests...)
}

func (b *fakeBus) managedRequests() []eventbus.ManagedFetchRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]eventbus.ManagedFetchRequest(nil), b.managedReqs...)
}

func (b *fakeBus) commitLog() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.commits...)
}

// fetchFake is the server side of one Subscribe or ManagedSubscribe stream.
type fetchFake struct {
	bus   *fakeBus
	ctx   context.Context
	kind  string
	idx   int
	token string
	wake  chan struct{}

	// guarded by bus.mu
	started   bool
	pos       int
	demand    int
	delivered int
	confirms  []*eventbus.CommitReplayResponse
}

type fetched struct {
	events  []eventbus.ConsumerEvent
	pending int32
	commit  *eventbus.CommitReplayResponse
}

func (f *fetchFake) poke() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// addDemand must be called with bus.mu held.
func (f *fetchFake) addDemand(n int32) {
	f.demand += int(n)
}

func (f *fetchFake) next() (fetched, error) {
	b := f.bus
	for {
		b.mu.Lock()
		if b.fault != nil {
			if err := b.fault(f.kind, f.idx, f.delivered, f.token); err != nil {
				b.mu.Unlock()
				return fetched{}, err
			}
		}

		n := 0
		if f.started {
			n = len(b.events) - f.pos
			if !b.ignoreDemand {
				n = min(n, f.demand)
			}
			if n > 0 && b.chunk != nil {
				n = b.chunk(n)
			}
		}

		if n > 0 || len(f.confirms) > 0 {
			out := fetched{events: append([]eventbus.ConsumerEvent(nil), b.events[f.pos:f.pos+n]...)}
			f.pos += n
			f.delivered += n
			f.demand = max(f.demand-n, 0)
			out.pending = int32(f.demand)
			if len(f.confirms) > 0 {
				out.commit, f.confirms = f.confirms[0], f.confirms[1:]
			}
			b.mu.Unlock()
			return out, nil
		}
		b.mu.Unlock()

		select {
		case <-f.wake:
		case <-f.ctx.Done():
			return fetched{}, f.ctx.Err()
		}
	}
}

type subscribeFake struct{ *fetchFake }

func (s *subscribeFake) Send(r *eventbus.FetchRequest) error {
	b := s.bus
	b.mu.Lock()
	b.requests = append(b.requests, *r)
	if !s.started {
		s.started = true
		switch r.ReplayPreset {
		case eventbus.ReplayEarliest:
			s.pos = 0
		case eventbus.ReplayLatest:
			s.pos = len(b.events)
		case eventbus.ReplayCustom:
			s.pos = b.indexAfter(r.ReplayID)
		}
	}
	s.addDemand(r.NumRequested)
	b.mu.Unlock()
	s.poke()
	return nil
}

func (s *subscribeFake) Recv() (*eventbus.FetchResponse, error) {
	out, err := s.next()
	if err != nil {
		return nil, err
	}
	return &eventbus.FetchResponse{Events: out.events, PendingNumRequested: out.pending}, nil
}

func (s *subscribeFake) CloseSend() error { return nil }

type managedFake struct{ *fetchFake }

func (m *managedFake) Send(r *eventbus.ManagedFetchRequest) error {
	b := m.bus
	b.mu.Lock()
	b.managedReqs = append(b.managedReqs, *r)
	if c := r.CommitReplayIDRequest; c != nil {
		b.commits = append(b.commits, c.ReplayID)
		if !b.dropCommits {
			b.committed = b.indexAfter(c.ReplayID)
			m.confirms = append(m.confirms, &eventbus.CommitReplayResponse{CommitRequestID: c.CommitRequestID, ReplayID: c.ReplayID})
		}
	}
	m.addDemand(r.NumRequested)
	b.mu.Unlock()
	m.poke()
	return nil
}

func (m *managedFake) Recv() (*eventbus.ManagedFetchResponse, error) {
	out, err := m.next()
	if err != nil {
		return nil, err
	}
	return &eventbus.ManagedFetchResponse{Events: out.events, PendingNumRequested: out.pending, CommitResponse: out.commit}, nil
}

func (m *managedFake) CloseSend() error { return nil }

// pubFake is the server side of one PublishStream. A muted stream accepts
// events without ever acknowledging them.
type pubFake struct {
	bus   *fakeBus
	ctx   context.Context
	idx   int
	token string
	wake  chan struct{}
	mute  bool

	// guarded by bus.mu
	received []eventbus.ProducerEvent
	queue    []eventbus.PublishResult
}

func (p *pubFake) Send(r *eventbus.PublishRequest) error {
	b := p.bus
	b.mu.Lock()
	var block <-chan struct{}
	if b.pubBlock != nil {
		block = b.pubBlock(len(p.received))
	}
	p.received = append(p.received, r.Events...)
	if !p.mute {
		for _, e := range r.Events {
			b.nextReplay++
			p.queue = append(p.queue, eventbus.PublishResult{ReplayID: replayID(b.nextReplay), CorrelationKey: e.ID})
		}
	}
	b.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	if block != nil {
		select {
		case <-block:
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
	return nil
}

func (p *pubFake) Recv() (*eventbus.PublishResponse, error) {
	b := p.bus
	for {
		b.mu.Lock()
		if b.fault != nil {
			if err := b.fault("publish", p.idx, len(p.received), p.token); err != nil {
				b.mu.Unlock()
				return nil, err
			}
		}
		if len(p.queue) > 0 {
			out := p.queue
			p.queue = nil
			if b.pubOneByOne {
				out, p.queue = out[:1], out[1:]
			}
			if b.shuffle != nil {
				b.shuffle.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
			}
			b.mu.Unlock()
			return &eventbus.PublishResponse{Results: out, SchemaID: testSchemaID}, nil
		}
		b.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.ctx.Done():
			return nil, p.ctx.Err()
		}
	}
}

func (p *pubFake) CloseSend() error { return nil }

func (p *pubFake) receivedIDs() []string {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	ids := make([]string, len(p.received))
	for i, e := range p.received {
		ids[i] = e.ID
	}
	return ids
}

func (b *fakeBus) publishStream(i int) *pubFake {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.pubStreams) {
		return nil
	}
	return b.pubStreams[i]
}

// collector records handled events for assertions from the test goroutine.
type collector struct {
	mu  sync.Mutex
	evs []*Event
}

func (c *collector) handle(_ context.Context, ev *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evs)
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.evs))
	for i, ev := range c.evs {
		ids[i] = ev.ID
	}
	return ids
}

func eventIDs(from, to int) []string {
	var ids []string
	for i := from; i <= to; i++ {
		ids = append(ids, fmt.Sprintf("e-%d", i))
	}
	return ids
}

// receiveAsync runs Receive in the background; the returned func cancels
// it and returns its error.
func receiveAsync(t *testing.T, sub *Subscription, h Handler) (wait func() error, cancel context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sub.Receive(ctx, h) }()

	t.Cleanup(cancel)
	return func() error {
		select {
		case err := <-errc:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Receive did not return")
			return nil
		}
	}, cancel
}
