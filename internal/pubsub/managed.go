package pubsub

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/sfpubsub/internal/common"
	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
	"github.com/dmitrijs2005/sfpubsub/internal/logging"
)

// maxUncommitted bounds the replay ids remembered while commits are
// unconfirmed.
const maxUncommitted = 10 * MaxBatchSize

// ManagedSubscribeRequest names a server-side subscription by id or by
// developer name. Exactly one must be set.
type ManagedSubscribeRequest struct {
	SubscriptionID string
	DeveloperName  string
	BatchSize      int
}

func (r ManagedSubscribeRequest) name() string {
	if r.DeveloperName != "" {
		return r.DeveloperName
	}
	return r.SubscriptionID
}

// ManagedSubscribe prepares a subscription whose replay position is kept by
// the server. Acknowledged events are committed after every batch and
// reopened streams continue from the server checkpoint.
func (s *Session) ManagedSubscribe(ctx context.Context, req ManagedSubscribeRequest) (*Subscription, error) {
	if (req.SubscriptionID == "") == (req.DeveloperName == "") {
		return nil, fmt.Errorf("%w: exactly one of subscription id and developer name is required", common.ErrInvalidArgument)
	}
	if s.isClosed() {
		return nil, ErrSessionClosed
	}

	batch := s.batchSize
	if req.BatchSize != 0 {
		batch = clampBatch(req.BatchSize)
	}

	logger := s.logger.With("subscription", req.name(), "stream", "managed_subscribe")
	stream := &managedStream{transport: s.transport, req: req, logger: logger}
	logger.Info(ctx, "managed subscription created", "batch_size", batch)
	return newSubscription(s, req.name(), batch, stream, logger), nil
}

// managedStream is the server-checkpointed fetch stream. It never sends a
// replay id when opening. Replay ids acknowledged since the last confirmed
// commit are remembered, so events the server redelivers from an older
// checkpoint are skipped.
type managedStream struct {
	transport Transport
	req       ManagedSubscribeRequest
	logger    logging.Logger

	client eventbus.ManagedSubscribeClient
	ctx    context.Context

	lastAcked   ReplayID
	uncommitted []ReplayID
	commits     map[string]ReplayID
}

func (m *managedStream) kind() string { return "managed_subscribe" }

func (m *managedStream) open(ctx context.Context, _ ReplayID) error {
	client, err := m.transport.ManagedSubscribe(ctx)
	if err != nil {
		return err
	}
	m.client = client
	m.ctx = ctx
	m.commits = make(map[string]ReplayID)
	return nil
}

func (m *managedStream) base() *eventbus.ManagedFetchRequest {
	return &eventbus.ManagedFetchRequest{SubscriptionID: m.req.SubscriptionID, DeveloperName: m.req.DeveloperName}
}

func (m *managedStream) request(n int) error {
	req := m.base()
	req.NumRequested = int32(n)
	return m.client.Send(req)
}

func (m *managedStream) recv() (*batch, error) {
	resp, err := m.client.Recv()
	if err != nil {
		return nil, err
	}
	if c := resp.CommitResponse; c != nil {
		m.confirm(c)
	}
	return &batch{
		events:  resp.Events,
		latest:  resp.LatestReplayID,
		pending: resp.PendingNumRequested,
		commit:  resp.CommitResponse,
	}, nil
}

func (m *managedStream) acked(id ReplayID) {
	m.lastAcked = id.clone()
	m.uncommitted = append(m.uncommitted, m.lastAcked)
	if over := len(m.uncommitted) - maxUncommitted; over > 0 {
		m.uncommitted = append([]ReplayID(nil), m.uncommitted[over:]...)
	}
}

// settle commits the last acknowledged replay id.
func (m *managedStream) settle() error {
	if len(m.lastAcked) == 0 {
		return nil
	}

	commitID := uuid.NewString()
	req := m.base()
	req.CommitReplayIDRequest = &eventbus.CommitReplayRequest{CommitRequestID: commitID, ReplayID: m.lastAcked}
	if err := m.client.Send(req); err != nil {
		return err
	}

	m.commits[commitID] = m.lastAcked
	m.lastAcked = nil
	m.logger.Debug(m.ctx, "commit sent", "commit_request_id", commitID)
	return nil
}

// confirm forgets every uncommitted id up to and including the committed
// one.
func (m *managedStream) confirm(c *eventbus.CommitReplayResponse) {
	id, ok := m.commits[c.CommitRequestID]
	delete(m.commits, c.CommitRequestID)
	if !ok || c.Error != nil {
		return
	}
	for i, u := range m.uncommitted {
		if u.Equal(id) {
			m.uncommitted = append([]ReplayID(nil), m.uncommitted[i+1:]...)
			return
		}
	}
}

func (m *managedStream) duplicate(id ReplayID) bool {
	for _, u := range m.uncommitted {
		if u.Equal(id) {
			// recommit so the server checkpoint moves past it
			m.lastAcked = id.clone()
			return true
		}
	}
	return false
}

func (m *managedStream) close() {
	if m.client != nil {
		_ = m.client.CloseSend()
		m.client = nil
	}
}
