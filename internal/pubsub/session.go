package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/metrics"
	"github.com/dmitrijs2005/sfpubsub/internal/retry"
	"github.com/dmitrijs2005/sfpubsub/internal/schema"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateReady
	StateStreaming
	StateReauthenticating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateReauthenticating:
		return "reauthenticating"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is an authenticated connection to the event bus. All methods are
// safe for concurrent use.
type Session struct {
	source    auth.CredentialsSource
	flow      auth.Flow
	transport Transport
	authn     Authenticator

	tokens  *auth.TokenStore
	schemas *schema.Cache
	policy  *retry.Policy
	logger  logging.Logger
	now     func() time.Time

	// ownsSchemas is set when the session built its cache and closes it.
	ownsSchemas bool

	batchSize     int
	lowWaterRatio float64
	publishLimit  int

	// creds holds the credentials of the last successful Load.
	creds atomic.Pointer[auth.Credentials]

	// mu serializes state transitions and token refreshes.
	mu      sync.Mutex
	state   State
	streams int

	topicMu sync.Mutex
	topics  map[string]eventbus.TopicInfo

	// ctx is cancelled by Close and bounds every call and stream.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession builds a session in the Unauthenticated state. No network
// calls are made until Connect or the first operation. Credentials are read
// from source before each authentication.
func NewSession(source auth.CredentialsSource, flow auth.Flow, transport Transport, authn Authenticator, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		source:        source,
		flow:          flow,
		transport:     transport,
		authn:         authn,
		policy:        retry.NewPolicy(retry.DefaultConfig()),
		logger:        logging.Nop(),
		now:           time.Now,
		batchSize:     DefaultBatchSize,
		lowWaterRatio: DefaultLowWaterRatio,
		publishLimit:  DefaultPublishInFlightLimit,
		topics:        make(map[string]eventbus.TopicInfo),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tokens == nil {
		s.tokens = auth.NewTokenStore(auth.DefaultExpiryMargin)
	}
	s.logger = s.logger.With("module", "pubsub")
	if s.schemas == nil {
		s.schemas = schema.New(schema.WithLogger(s.logger))
		s.ownsSchemas = true
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the installed token.
func (s *Session) Token() (auth.Token, error) { return s.tokens.Current() }

func (s *Session) isClosed() bool { return s.ctx.Err() != nil }

// Connect authenticates and moves the session to Ready. It is a no-op when
// a valid token is already installed.
func (s *Session) Connect(ctx context.Context) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.refresh(ctx, ""); err != nil {
		return s.closedOr(err)
	}
	return nil
}

// Close cancels every open stream and in-flight call, aborts pending
// schema fetches and closes the transport. Later operations return
// ErrSessionClosed.
func (s *Session) Close() error {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	s.state = StateClosed
	s.cancel()
	if s.ownsSchemas {
		s.schemas.Close()
	}
	s.logger.Info(context.Background(), "session closed")
	return s.transport.Close()
}

// bind derives a context that is also cancelled when the session closes.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// closedOr maps any error to ErrSessionClosed once the session is closed,
// except the auth error that closed it.
func (s *Session) closedOr(err error) error {
	var ae *auth.Error
	if s.isClosed() && !errors.As(err, &ae) {
		return ErrSessionClosed
	}
	return err
}

// refresh obtains a new token unless the installed one is valid and differs
// from stale. Concurrent callers holding the same stale token share one
// refresh. A failed refresh of an existing token closes the session.
func (s *Session) refresh(ctx context.Context, stale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || s.isClosed() {
		return ErrSessionClosed
	}

	cur, err := s.tokens.Current()
	initial := err != nil
	if !initial && cur.AccessToken != stale && !s.tokens.IsExpired(s.now()) {
		if s.state == StateUnauthenticated {
			s.state = s.idleState()
		}
		return nil
	}

	if initial {
		s.state = StateAuthenticating
	} else {
		s.state = StateReauthenticating
	}

	creds, err := s.loadCredentials()
	var tok auth.Token
	if err == nil {
		tok, err = s.authn.Authenticate(ctx, creds, s.flow)
	}
	if err != nil {
		if initial {
			s.state = StateUnauthenticated
			s.logger.Error(ctx, "authentication failed", "error", err)
			return err
		}
		if ctx.Err() != nil && !s.isClosed() {
			// the caller gave up; the installed token is left for the next attempt
			s.state = s.idleState()
			return ctx.Err()
		}
		metrics.Reauthentications.WithLabelValues("failure").Inc()
		s.logger.Error(ctx, "reauthentication failed, closing session", "error", err)
		_ = s.closeLocked()
		return err
	}

	s.tokens.Install(tok)
	s.state = s.idleState()
	if !initial {
		metrics.Reauthentications.WithLabelValues("success").Inc()
		s.logger.Info(ctx, "token refreshed", "expires_at", tok.ExpiresAt)
	}
	return nil
}

func (s *Session) loadCredentials() (auth.Credentials, error) {
	if s.source == nil {
		return auth.Credentials{}, auth.MissingSource(s.flow)
	}
	c, err := s.source.Load()
	if err != nil {
		return auth.Credentials{}, err
	}
	s.creds.Store(&c)
	return c, nil
}

func (s *Session) tenantID() string {
	if c := s.creds.Load(); c != nil {
		return c.TenantID
	}
	return ""
}

func (s *Session) idleState() State {
	if s.streams > 0 {
		return StateStreaming
	}
	return StateReady
}

func (s *Session) streamOpened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams++
	if s.state == StateReady {
		s.state = StateStreaming
	}
}

func (s *Session) streamClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams--
	if s.streams == 0 && s.state == StateStreaming {
		s.state = StateReady
	}
}

// authorize returns ctx carrying the current credentials, refreshing a
// missing or expiring token first. The access token used is returned so a
// later Unauthenticated reply can name it as stale.
func (s *Session) authorize(ctx context.Context) (context.Context, string, error) {
	if s.isClosed() {
		return nil, "", ErrSessionClosed
	}

	tok, err := s.tokens.Current()
	if err != nil || s.tokens.IsExpired(s.now()) {
		if err := s.refresh(ctx, tok.AccessToken); err != nil {
			return nil, "", err
		}
		if tok, err = s.tokens.Current(); err != nil {
			return nil, "", err
		}
	}

	ctx = eventbus.WithCredentials(ctx, eventbus.CallCredentials{
		AccessToken: tok.AccessToken,
		InstanceURL: tok.InstanceURL,
		TenantID:    s.tenantID(),
	})
	return ctx, tok.AccessToken, nil
}

// attempts counts failures of one operation per retry kind.
type attempts struct {
	transient int
	reauth    int
}

func (a *attempts) reset() { *a = attempts{} }

// recover consults the retry policy for err. It sleeps before a retry and
// refreshes the token before a reauthentication. A nil return means the
// operation should be tried again.
func (s *Session) recover(ctx context.Context, op string, err error, stale string, a *attempts) error {
	kind := classify(err)

	n := a.transient
	if kind == retry.KindAuthExpired {
		n = a.reauth
	}

	d := s.policy.Decide(kind, n)
	switch d.Action {
	case retry.Retry:
		a.transient++
		s.logger.Warn(ctx, "transient failure, retrying", "op", op, "attempt", a.transient, "delay", d.Delay, "error", err)
		return sleep(ctx, d.Delay)
	case retry.Reauthenticate:
		a.reauth++
		s.logger.Info(ctx, "server rejected token, reauthenticating", "op", op)
		return s.refresh(ctx, stale)
	}

	if kind == retry.KindAuthExpired {
		return &auth.Error{Kind: auth.KindExpired, Flow: s.flow, Message: "token rejected after refresh", Err: err}
	}
	return surface(op, err)
}

// call runs a unary operation under the retry policy.
func (s *Session) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	var a attempts
	for {
		actx, token, err := s.authorize(ctx)
		if err != nil {
			return s.closedOr(err)
		}

		err = fn(actx)
		if err == nil {
			return nil
		}
		if s.isClosed() {
			return ErrSessionClosed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.recover(ctx, op, err, token, &a); err != nil {
			return s.closedOr(err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetTopic returns topic metadata, fetched once per session.
func (s *Session) GetTopic(ctx context.Context, topicName string) (eventbus.TopicInfo, error) {
	s.topicMu.Lock()
	info, ok := s.topics[topicName]
	s.topicMu.Unlock()
	if ok {
		if s.isClosed() {
			return eventbus.TopicInfo{}, ErrSessionClosed
		}
		return info, nil
	}
	return s.RefreshTopic(ctx, topicName)
}

// RefreshTopic fetches topic metadata and replaces the cached copy.
func (s *Session) RefreshTopic(ctx context.Context, topicName string) (eventbus.TopicInfo, error) {
	var info eventbus.TopicInfo
	err := s.call(ctx, "get topic", func(ctx context.Context) error {
		var err error
		info, err = s.transport.GetTopic(ctx, topicName)
		return err
	})
	if err != nil {
		return eventbus.TopicInfo{}, err
	}

	s.topicMu.Lock()
	s.topics[topicName] = info
	s.topicMu.Unlock()
	s.logger.Debug(ctx, "topic resolved", "topic", topicName, "schema_id", info.SchemaID)
	return info, nil
}

// observeSchema drops cached topic metadata when the server reports a
// schema id other than the cached one.
func (s *Session) observeSchema(topicName, schemaID string) {
	if topicName == "" || schemaID == "" {
		return
	}
	s.topicMu.Lock()
	defer s.topicMu.Unlock()
	if info, ok := s.topics[topicName]; ok && info.SchemaID != schemaID {
		delete(s.topics, topicName)
		s.logger.Info(context.Background(), "topic schema changed", "topic", topicName,
			"old_schema_id", info.SchemaID, "new_schema_id", schemaID)
	}
}

// GetSchema resolves a schema through the session cache.
func (s *Session) GetSchema(ctx context.Context, schemaID string) (*schema.Descriptor, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	ctx, cancel := s.bind(ctx)
	defer cancel()

	d, err := s.schemas.Resolve(ctx, schemaID, s.fetchSchema)
	if err != nil {
		if errors.Is(err, schema.ErrClosed) {
			return nil, ErrSessionClosed
		}
		return nil, s.closedOr(err)
	}
	return d, nil
}

func (s *Session) fetchSchema(ctx context.Context, schemaID string) (string, error) {
	var info eventbus.SchemaInfo
	err := s.call(ctx, "get schema", func(ctx context.Context) error {
		var err error
		info, err = s.transport.GetSchema(ctx, schemaID)
		return err
	})
	if errors.Is(err, eventbus.ErrNotFound) {
		return "", fmt.Errorf("%w: %v", schema.ErrSchemaNotFound, err)
	}
	if err != nil {
		return "", err
	}
	return info.SchemaJSON, nil
}
