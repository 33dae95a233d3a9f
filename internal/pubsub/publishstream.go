package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/sfpubsub/internal/common"
	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/metrics"
)

// PublishStream publishes over a long-lived stream. Results arrive
// asynchronously through Recv, in the order events were passed to Publish.
//
// At most limit events may be in flight, counting from Publish until their
// result is returned by Recv. Publish fails fast with
// ErrPublishLimitExceeded instead of blocking, and draining Recv always
// frees room. A single call with more than limit events can never fit and
// fails with ErrPublishBatchTooLarge.
type PublishStream struct {
	session *Session
	topic   string
	info    eventbus.TopicInfo
	limit   int
	logger  logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// sendMu serializes writes to the server stream and the swap to a new
	// one, so a resend never interleaves with a Publish.
	sendMu sync.Mutex
	// connMu guards the fields below and is never held across I/O, so the
	// receive loop can pick up the stream while a Send blocks.
	connMu     sync.Mutex
	client     eventbus.PublishStreamClient
	token      string
	connCancel context.CancelFunc

	mu       sync.Mutex
	next     int
	inFlight int
	queue    []*pendingPublish
	byID     map[string]*pendingPublish
	results  chan PublishResult
	err      error
	closed   bool
}

type pendingPublish struct {
	index  int
	event  eventbus.ProducerEvent
	result *PublishResult
}

// OpenPublishStream opens a publish stream for a topic.
func (s *Session) OpenPublishStream(ctx context.Context, topicName string) (*PublishStream, error) {
	info, err := s.publishableTopic(ctx, topicName)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(s.ctx)
	ps := &PublishStream{
		session: s,
		topic:   topicName,
		info:    info,
		limit:   s.publishLimit,
		logger:  s.logger.With("topic", topicName, "stream", "publish_stream"),
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		byID:    make(map[string]*pendingPublish),
		results: make(chan PublishResult, s.publishLimit),
	}

	// the caller's context bounds only the initial connect
	stop := context.AfterFunc(ctx, cancel)
	var a attempts
	err = ps.connect(&a)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		if ps.connCancel != nil {
			ps.connCancel()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.closedOr(err)
	}

	s.streamOpened()
	go ps.receiveLoop()
	ps.logger.Info(ctx, "publish stream opened", "in_flight_limit", ps.limit)
	return ps, nil
}

// InFlight reports events published whose results have not been received.
func (ps *PublishStream) InFlight() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.inFlight
}

// Publish sends events. Result indices continue across calls, starting at
// 0 for the first event of the stream.
func (ps *PublishStream) Publish(ctx context.Context, events ...PublishEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) > ps.limit {
		return fmt.Errorf("%w: %d events, limit %d", ErrPublishBatchTooLarge, len(events), ps.limit)
	}

	ps.sendMu.Lock()
	defer ps.sendMu.Unlock()

	ps.mu.Lock()
	if ps.err != nil || ps.closed {
		err := ps.err
		ps.mu.Unlock()
		if err == nil {
			err = ErrPublishStreamClosed
		}
		return err
	}
	if len(events) == 0 {
		ps.mu.Unlock()
		return nil
	}
	if ps.inFlight+len(events) > ps.limit {
		ps.mu.Unlock()
		return ErrPublishLimitExceeded
	}

	pes := ps.session.producerEvents(ps.info, events)
	for _, e := range pes {
		if _, dup := ps.byID[e.ID]; dup {
			ps.mu.Unlock()
			return fmt.Errorf("%w: event id %s is already in flight", common.ErrInvalidArgument, e.ID)
		}
	}
	for _, e := range pes {
		p := &pendingPublish{index: ps.next, event: e}
		ps.next++
		ps.queue = append(ps.queue, p)
		ps.byID[e.ID] = p
	}
	ps.inFlight += len(pes)
	metrics.PublishInFlight.Add(float64(len(pes)))
	ps.mu.Unlock()

	client, _ := ps.current()
	if err := client.Send(&eventbus.PublishRequest{TopicName: ps.topic, Events: pes}); err != nil {
		// the receive loop notices the broken stream and resends after reconnecting
		ps.logger.Warn(ctx, "publish send failed, events will be resent", "events", len(pes), "error", err)
	}
	return nil
}

// Recv returns the next result in publish order. After the stream fails or
// is closed, the remaining results carry the failure and then the failure
// itself is returned.
func (ps *PublishStream) Recv(ctx context.Context) (PublishResult, error) {
	select {
	case r, ok := <-ps.results:
		if !ok {
			return PublishResult{}, ps.terminalErr()
		}
		ps.mu.Lock()
		if !ps.closed {
			ps.inFlight--
			metrics.PublishInFlight.Dec()
		}
		ps.mu.Unlock()
		return r, nil
	case <-ctx.Done():
		return PublishResult{}, ctx.Err()
	}
}

func (ps *PublishStream) terminalErr() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.err != nil {
		return ps.err
	}
	return ErrPublishStreamClosed
}

// Close stops the stream. Events without a result are reported as failed
// with ErrPublishStreamClosed.
func (ps *PublishStream) Close() error {
	ps.cancel()
	<-ps.done

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !ps.closed {
		ps.closed = true
		metrics.PublishInFlight.Sub(float64(ps.inFlight))
	}
	return nil
}

func (ps *PublishStream) connect(a *attempts) error {
	for {
		token, err := ps.open()
		if err == nil {
			return nil
		}
		if ps.ctx.Err() != nil {
			return ps.ctx.Err()
		}
		if err := ps.session.recover(ps.ctx, "publish stream", err, token, a); err != nil {
			return err
		}
	}
}

// open starts a server stream and resends every event still waiting for a
// result.
func (ps *PublishStream) open() (string, error) {
	actx, token, err := ps.session.authorize(ps.ctx)
	if err != nil {
		return "", err
	}

	cctx, cancel := context.WithCancel(actx)
	client, err := ps.session.transport.PublishStream(cctx)
	if err != nil {
		cancel()
		return token, err
	}

	// a Send blocked on the old stream returns once it is cancelled
	ps.connMu.Lock()
	if ps.connCancel != nil {
		ps.connCancel()
	}
	ps.connMu.Unlock()

	ps.sendMu.Lock()
	defer ps.sendMu.Unlock()

	ps.connMu.Lock()
	ps.client, ps.token, ps.connCancel = client, token, cancel
	ps.connMu.Unlock()

	ps.mu.Lock()
	var unacked []eventbus.ProducerEvent
	for _, p := range ps.queue {
		if p.result == nil {
			unacked = append(unacked, p.event)
		}
	}
	ps.mu.Unlock()

	if len(unacked) > 0 {
		ps.logger.Info(ps.ctx, "resending unacknowledged events", "events", len(unacked))
		if err := client.Send(&eventbus.PublishRequest{TopicName: ps.topic, Events: unacked}); err != nil {
			return token, err
		}
	}
	return token, nil
}

func (ps *PublishStream) current() (eventbus.PublishStreamClient, string) {
	ps.connMu.Lock()
	defer ps.connMu.Unlock()
	return ps.client, ps.token
}

func (ps *PublishStream) receiveLoop() {
	defer close(ps.done)
	defer ps.session.streamClosed()

	var a attempts
	for {
		client, token := ps.current()
		resp, err := client.Recv()
		if err == nil {
			a.reset()
			ps.handle(resp)
			continue
		}

		if ps.ctx.Err() != nil {
			ps.terminate(ps.session.closedOr(ErrPublishStreamClosed))
			return
		}
		if err := ps.session.recover(ps.ctx, "publish stream", err, token, &a); err != nil {
			ps.terminate(ps.session.closedOr(err))
			return
		}

		metrics.StreamReconnects.WithLabelValues("publish_stream", classify(err).String()).Inc()
		ps.logger.Info(ps.ctx, "reopening publish stream", "reason", err.Error())
		if err := ps.connect(&a); err != nil {
			ps.terminate(ps.session.closedOr(err))
			return
		}
	}
}

// handle records results and releases every leading result in order.
func (ps *PublishStream) handle(resp *eventbus.PublishResponse) {
	received := ps.session.now()
	ps.session.observeSchema(ps.topic, resp.SchemaID)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, r := range resp.Results {
		p, ok := ps.byID[r.CorrelationKey]
		if !ok && r.CorrelationKey == "" {
			p, ok = ps.oldestUnresolved()
		}
		if !ok {
			// result for an event already resolved, e.g. acknowledged twice after a resend
			continue
		}

		res := PublishResult{Index: p.index, EventID: p.event.ID, ReplayID: ReplayID(r.ReplayID).clone(), PublishTime: received}
		if r.Error != nil {
			res.Err = r.Error
		}
		p.result = &res
		delete(ps.byID, p.event.ID)
		metrics.PushPublishResult(ps.topic, res.Err)
	}

	ps.flushLocked()
}

func (ps *PublishStream) oldestUnresolved() (*pendingPublish, bool) {
	for _, p := range ps.queue {
		if p.result == nil {
			return p, true
		}
	}
	return nil, false
}

// flushLocked moves resolved results at the head of the queue to the
// results channel. It cannot block: the channel holds limit results and
// queued plus undrained results never exceed inFlight.
func (ps *PublishStream) flushLocked() {
	for len(ps.queue) > 0 && ps.queue[0].result != nil {
		ps.results <- *ps.queue[0].result
		ps.queue[0] = nil
		ps.queue = ps.queue[1:]
	}
}

// terminate fails every pending event with err and closes the results.
func (ps *PublishStream) terminate(err error) {
	ps.connMu.Lock()
	if ps.connCancel != nil {
		ps.connCancel()
	}
	ps.connMu.Unlock()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.err = err
	for _, p := range ps.queue {
		if p.result == nil {
			p.result = &PublishResult{Index: p.index, EventID: p.event.ID, Err: err}
			delete(ps.byID, p.event.ID)
		}
	}
	ps.flushLocked()
	close(ps.results)
	ps.logger.Info(context.Background(), "publish stream finished", "error", err)
}
