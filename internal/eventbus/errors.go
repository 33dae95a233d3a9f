package eventbus

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/sfpubsub/internal/common"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUnavailable       = errors.New("service unavailable")
	ErrNotFound          = common.ErrNotFound
	ErrInvalidArgument   = common.ErrInvalidArgument
	ErrMalformedResponse = errors.New("malformed response")
)

// mapError translates a gRPC status into a package sentinel, keeping the
// server message.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}

	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("rpc error: %w", err)
	}

	var sentinel error
	switch st.Code() {
	case codes.Unauthenticated:
		sentinel = ErrUnauthenticated
	case codes.PermissionDenied:
		sentinel = ErrPermissionDenied
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		sentinel = ErrUnavailable
	case codes.NotFound:
		sentinel = ErrNotFound
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		sentinel = ErrInvalidArgument
	case codes.Canceled:
		return context.Canceled
	default:
		return fmt.Errorf("rpc error: %w", err)
	}

	if st.Message() == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
