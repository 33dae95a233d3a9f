package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
	"github.com/dmitrijs2005/sfpubsub/internal/common"
	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
	"github.com/dmitrijs2005/sfpubsub/internal/retry"
	"github.com/dmitrijs2005/sfpubsub/internal/schema"
)

var (
	ErrSessionClosed        = fmt.Errorf("session %w", common.ErrClosed)
	ErrSubscriptionClosed   = fmt.Errorf("subscription %w", common.ErrClosed)
	ErrPublishStreamClosed  = fmt.Errorf("publish stream %w", common.ErrClosed)
	ErrFlowControlViolation = errors.New("flow control violation")
	ErrPublishLimitExceeded = errors.New("publish in-flight limit exceeded")
	ErrPublishBatchTooLarge = fmt.Errorf("%w: publish batch exceeds in-flight limit", common.ErrInvalidArgument)
	ErrTopicNotSubscribable = errors.New("topic does not allow subscribe")
	ErrTopicNotPublishable  = errors.New("topic does not allow publish")
	ErrConcurrentReceive    = errors.New("receive already in progress")
)

// TransportError is a failure reported by the transport that survived the
// retry policy. Err wraps one of the eventbus sentinels when the failure was
// classified.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "pubsub: " + e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// FlowControlViolation reports a server delivering more events than the
// outstanding demand. It is fatal to the stream it happened on.
type FlowControlViolation struct {
	Requested int
	Delivered int
	Received  int
}

func (e *FlowControlViolation) Error() string {
	return fmt.Sprintf("flow control violation: received %d events with %d delivered of %d requested",
		e.Received, e.Delivered, e.Requested)
}

func (e *FlowControlViolation) Is(target error) bool { return target == ErrFlowControlViolation }

// PartialPublishError reports a publish batch where some events were
// rejected. Indices refer to the request order.
type PartialPublishError struct {
	Succeeded []int
	Failed    map[int]error
}

func (e *PartialPublishError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("#%d: %v", i, e.Failed[i]))
	}
	return fmt.Sprintf("publish: %d of %d events failed (%s)",
		len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(parts, "; "))
}

// handlerError marks an error returned by the application handler so the
// receive loop surfaces it untouched.
type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }

func (e *handlerError) Unwrap() error { return e.err }

func classify(err error) retry.ErrorKind {
	var fv *FlowControlViolation
	switch {
	case errors.As(err, &fv):
		return retry.KindFlowControl
	case errors.Is(err, eventbus.ErrUnauthenticated):
		return retry.KindAuthExpired
	case errors.Is(err, schema.ErrSchemaNotFound):
		return retry.KindSchemaNotFound
	case errors.Is(err, schema.ErrDecode), errors.Is(err, schema.ErrInvalidSchema):
		return retry.KindMalformed
	case errors.Is(err, eventbus.ErrUnavailable), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return retry.KindTransient
	case errors.Is(err, eventbus.ErrInvalidArgument),
		errors.Is(err, eventbus.ErrNotFound),
		errors.Is(err, eventbus.ErrPermissionDenied),
		errors.Is(err, eventbus.ErrMalformedResponse):
		return retry.KindMalformed
	default:
		return retry.KindUnknown
	}
}

// surface wraps transport failures for the caller. Typed errors from other
// layers pass through.
func surface(op string, err error) error {
	var (
		ae  *auth.Error
		se  *schema.Error
		fv  *FlowControlViolation
		te  *TransportError
		ppe *PartialPublishError
	)
	switch {
	case errors.As(err, &ae), errors.As(err, &se), errors.As(err, &fv), errors.As(err, &te), errors.As(err, &ppe):
		return err
	case errors.Is(err, ErrSessionClosed), errors.Is(err, schema.ErrClosed),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &TransportError{Op: op, Err: err}
}
