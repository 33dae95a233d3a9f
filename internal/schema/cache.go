// Package schema resolves event schemas by id and compiles them into Avro
// codecs.
//
// Cache coalesces concurrent misses for the same id into one upstream fetch
// and keeps every resolved descriptor for its lifetime. Schemas are versioned
// upstream, so an id never changes meaning and entries are never evicted.
//
// The shared fetch does not run on any single caller's context. A caller that
// gives up stops waiting without disturbing the others; Close aborts the fetch
// for everyone.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/metrics"
)

// FetchFunc retrieves the JSON definition of a schema. It should return an
// error matching ErrSchemaNotFound when the id is unknown upstream.
type FetchFunc func(ctx context.Context, schemaID string) (string, error)

type Cache struct {
	entries *gocache.Cache
	group   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	logger logging.Logger
}

type Option func(*Cache)

func WithLogger(l logging.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func New(opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		// no expiry and no janitor goroutine
		entries: gocache.New(gocache.NoExpiration, 0),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("module", "schema")
	return c
}

// Lookup returns a cached descriptor without fetching.
func (c *Cache) Lookup(schemaID string) (*Descriptor, bool) {
	v, ok := c.entries.Get(schemaID)
	if !ok {
		return nil, false
	}
	return v.(*Descriptor), true
}

// Resolve returns the descriptor for schemaID, calling fetch on a miss.
func (c *Cache) Resolve(ctx context.Context, schemaID string, fetch FetchFunc) (*Descriptor, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if d, ok := c.Lookup(schemaID); ok {
		return d, nil
	}

	ch := c.group.DoChan(schemaID, func() (any, error) {
		// a flight that started after another one stored the entry
		if d, ok := c.Lookup(schemaID); ok {
			return d, nil
		}
		return c.fetch(schemaID, fetch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Descriptor), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
}

func (c *Cache) fetch(schemaID string, fetch FetchFunc) (*Descriptor, error) {
	metrics.SchemaFetches.Inc()
	c.logger.Debug(c.ctx, "fetching schema", "schema_id", schemaID)

	def, err := fetch(c.ctx, schemaID)
	if err != nil {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		if errors.Is(err, ErrSchemaNotFound) {
			return nil, &Error{SchemaID: schemaID, Err: ErrSchemaNotFound}
		}
		return nil, fmt.Errorf("fetch schema %s: %w", schemaID, err)
	}

	d, err := Compile(schemaID, def)
	if err != nil {
		return nil, err
	}
	c.entries.Set(schemaID, d, gocache.NoExpiration)
	return d, nil
}

// Len reports the number of cached descriptors.
func (c *Cache) Len() int { return c.entries.ItemCount() }

// Close aborts in-flight fetches. Pending and later calls to Resolve return
// ErrClosed. Close is idempotent.
func (c *Cache) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.cancel()
	}
}
