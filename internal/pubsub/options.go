package pubsub

import (
	"time"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/retry"
	"github.com/dmitrijs2005/sfpubsub/internal/schema"
)

const (
	// DefaultBatchSize is the demand a stream keeps outstanding.
	DefaultBatchSize = 100
	// MaxBatchSize is the largest num_requested the service accepts.
	MaxBatchSize = 100

	DefaultLowWaterRatio        = 0.5
	DefaultPublishInFlightLimit = 100
)

type Option func(*Session)

func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithRetryPolicy(p *retry.Policy) Option {
	return func(s *Session) { s.policy = p }
}

// WithBatchSize sets the default demand for subscriptions. Values are
// clamped to [1, MaxBatchSize].
func WithBatchSize(n int) Option {
	return func(s *Session) { s.batchSize = clampBatch(n) }
}

// WithLowWaterRatio sets the fraction of the batch size at or below which
// outstanding demand is topped up. 0 tops up only when demand is exhausted.
func WithLowWaterRatio(r float64) Option {
	return func(s *Session) {
		if r < 0 {
			r = 0
		}
		if r > 1 {
			r = 1
		}
		s.lowWaterRatio = r
	}
}

func WithPublishInFlightLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.publishLimit = n
		}
	}
}

// WithTokenStore shares a token store, e.g. to control the expiry margin.
func WithTokenStore(ts *auth.TokenStore) Option {
	return func(s *Session) { s.tokens = ts }
}

// WithSchemaCache shares c between sessions. The caller owns c: closing the
// session leaves it open, and the caller closes it once no session uses it.
func WithSchemaCache(c *schema.Cache) Option {
	return func(s *Session) { s.schemas = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func clampBatch(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}
