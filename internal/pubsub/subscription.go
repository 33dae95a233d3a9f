package pubsub

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/metrics"
	"github.com/dmitrijs2005/sfpubsub/internal/schema"
)

// Event is a delivered event decoded with its schema.
type Event struct {
	ID       string
	ReplayID ReplayID
	SchemaID string
	Headers  []eventbus.EventHeader
	Payload  []byte
	Fields   map[string]any
	Schema   *schema.Descriptor
}

// Handler processes one event. Returning nil acknowledges it and advances
// the replay cursor; an error stops Receive and is returned from it.
type Handler func(ctx context.Context, ev *Event) error

// batch is one server response on a fetch stream.
type batch struct {
	events  []eventbus.ConsumerEvent
	latest  []byte
	pending int32
	commit  *eventbus.CommitReplayResponse
}

// fetchStream abstracts the two subscribe flavours for the receive loop.
type fetchStream interface {
	// open starts a new server stream. cursor is the last acknowledged
	// replay id, nil if none.
	open(ctx context.Context, cursor ReplayID) error
	// request sends demand for n more events. The first call after open
	// also carries the start position.
	request(n int) error
	recv() (*batch, error)
	// acked records an acknowledged event; managed streams commit it later.
	acked(id ReplayID)
	// settle runs after each handled batch; managed streams commit there.
	settle() error
	// duplicate reports an event that was already acknowledged and must
	// not reach the handler again.
	duplicate(id ReplayID) bool
	close()
	kind() string
}

// Subscription is a flow-controlled event stream. Receive drives it.
type Subscription struct {
	session   *Session
	topic     string
	batchSize int
	stream    fetchStream
	logger    logging.Logger

	cursor ReplayCursor
	flow   flowView

	receiving atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

func newSubscription(s *Session, topic string, batchSize int, stream fetchStream, logger logging.Logger) *Subscription {
	ctx, cancel := context.WithCancel(s.ctx)
	return &Subscription{
		session:   s,
		topic:     topic,
		batchSize: batchSize,
		stream:    stream,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Cursor returns the replay id of the last acknowledged event, or nil.
func (sub *Subscription) Cursor() ReplayID { return sub.cursor.Last() }

// FlowState returns the demand accounting of the current stream.
func (sub *Subscription) FlowState() FlowControlState { return sub.flow.load() }

// Close stops the subscription. A running Receive returns
// ErrSubscriptionClosed.
func (sub *Subscription) Close() { sub.cancel() }

// Receive streams events to h until ctx is cancelled (nil is returned),
// the subscription or session is closed, h fails, or an error survives the
// retry policy. Transient failures reopen the stream after a backoff and an
// Unauthenticated reply reopens it with a fresh token. Either way delivery
// resumes after the last acknowledged event. Only one Receive may run at a
// time.
func (sub *Subscription) Receive(ctx context.Context, h Handler) error {
	if !sub.receiving.CompareAndSwap(false, true) {
		return ErrConcurrentReceive
	}
	defer sub.receiving.Store(false)

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sub.ctx, cancel)
	defer stop()

	var a attempts
	for {
		token, err := sub.run(ctx, h, &a)
		if done, exit := sub.stopped(parent, err); done {
			return exit
		}

		var he *handlerError
		if errors.As(err, &he) {
			return he.err
		}

		if err := sub.session.recover(ctx, sub.stream.kind(), err, token, &a); err != nil {
			if done, exit := sub.stopped(parent, err); done {
				return exit
			}
			return err
		}
		metrics.StreamReconnects.WithLabelValues(sub.stream.kind(), classify(err).String()).Inc()
		sub.logger.Info(ctx, "reopening stream", "reason", err.Error(), "cursor", sub.cursor.Last().String())
	}
}

// stopped reports whether Receive must return because the session, the
// subscription or the caller's context ended, and with what. An auth error
// that closed the session is returned as is.
func (sub *Subscription) stopped(parent context.Context, err error) (bool, error) {
	var ae *auth.Error
	switch {
	case errors.As(err, &ae):
		return true, err
	case sub.session.isClosed():
		return true, ErrSessionClosed
	case sub.ctx.Err() != nil:
		return true, ErrSubscriptionClosed
	case parent.Err() != nil:
		return true, nil
	}
	return false, nil
}

// run opens one server stream and pumps it until it fails. The access
// token the stream was opened with is returned for reauthentication.
func (sub *Subscription) run(ctx context.Context, h Handler, a *attempts) (string, error) {
	actx, token, err := sub.session.authorize(ctx)
	if err != nil {
		return "", err
	}

	sctx, cancel := context.WithCancel(actx)
	defer cancel()

	if err := sub.stream.open(sctx, sub.cursor.Last()); err != nil {
		return token, err
	}
	defer sub.stream.close()

	sub.session.streamOpened()
	defer sub.session.streamClosed()

	flow := newFlowController(sub.batchSize, sub.session.lowWaterRatio, &sub.flow)
	if err := sub.demand(flow, sub.batchSize); err != nil {
		return token, err
	}

	for {
		b, err := sub.stream.recv()
		if err != nil {
			return token, err
		}
		a.reset()

		if err := flow.deliver(len(b.events)); err != nil {
			sub.logger.Error(ctx, "server exceeded demand", "error", err)
			return token, err
		}
		if b.commit != nil && b.commit.Error != nil {
			sub.logger.Warn(ctx, "commit rejected", "commit_request_id", b.commit.CommitRequestID, "error", b.commit.Error)
		}
		sub.logger.Debug(ctx, "batch received", "events", len(b.events), "pending", b.pending, "outstanding", flow.state.Outstanding())

		for _, ce := range b.events {
			id := ReplayID(ce.ReplayID)
			if sub.stream.duplicate(id) {
				flow.ack()
				continue
			}

			ev, err := sub.decode(ctx, ce)
			if err != nil {
				return token, err
			}

			start := time.Now()
			if err := h(ctx, ev); err != nil {
				return token, &handlerError{err: err}
			}
			metrics.PushEvent(sub.topic, time.Since(start).Seconds())

			flow.ack()
			sub.cursor.advance(id)
			sub.stream.acked(id)
		}

		if len(b.events) > 0 {
			if err := sub.stream.settle(); err != nil {
				return token, err
			}
		}

		if n := flow.topUp(); n > 0 {
			if err := sub.demand(flow, n); err != nil {
				return token, err
			}
		}
	}
}

func (sub *Subscription) demand(flow *flowController, n int) error {
	if err := sub.stream.request(n); err != nil {
		return err
	}
	flow.demand(n)
	metrics.DemandRequests.WithLabelValues(sub.topic).Inc()
	return nil
}

func (sub *Subscription) decode(ctx context.Context, ce eventbus.ConsumerEvent) (*Event, error) {
	d, err := sub.session.schemas.Resolve(ctx, ce.Event.SchemaID, sub.session.fetchSchema)
	if err != nil {
		return nil, err
	}
	fields, err := d.Decode(ce.Event.Payload)
	if err != nil {
		return nil, err
	}
	sub.session.observeSchema(sub.topic, ce.Event.SchemaID)

	return &Event{
		ID:       ce.Event.ID,
		ReplayID: ReplayID(ce.ReplayID).clone(),
		SchemaID: ce.Event.SchemaID,
		Headers:  ce.Event.Headers,
		Payload:  ce.Event.Payload,
		Fields:   fields,
		Schema:   d,
	}, nil
}
