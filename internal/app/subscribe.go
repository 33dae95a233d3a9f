package app

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/sfpubsub/internal/common"
	"github.com/dmitrijs2005/sfpubsub/internal/cursorstore"
	"github.com/dmitrijs2005/sfpubsub/internal/flagx"
	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/pubsub"
)

// subscribe streams a topic to the output. Without an explicit -from it
// resumes after the stored cursor, and the cursor is checkpointed every
// CheckpointInterval and on exit.
func (a *App) subscribe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("subscribe", flag.ContinueOnError)
	topic := fs.String("t", "", "topic name")
	from := fs.String("from", "latest", "earliest, latest or a hex replay id")
	rewind := fs.Int("rewind", 0, "resume N checkpoints before the stored cursor")
	limit := fs.Int("n", 0, "stop after n events, 0 for no limit")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-t", "-from", "-rewind", "-n"})); err != nil {
		return err
	}
	if *topic == "" {
		return fmt.Errorf("%w: -t is required", common.ErrInvalidArgument)
	}

	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "from" {
			explicit = true
		}
	})

	key := "subscribe:" + *topic
	pos, err := a.startPosition(ctx, key, *from, explicit, *rewind)
	if err != nil {
		return err
	}

	sub, err := a.session.Subscribe(ctx, pubsub.SubscribeRequest{TopicName: *topic, Position: pos})
	if err != nil {
		return err
	}
	defer sub.Close()

	return a.receive(ctx, sub, a.checkpointer(key), *limit)
}

// managed streams a managed subscription. The server keeps its checkpoint,
// so nothing is stored locally.
func (a *App) managed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("managed", flag.ContinueOnError)
	id := fs.String("id", "", "managed subscription id")
	name := fs.String("name", "", "managed subscription developer name")
	limit := fs.Int("n", 0, "stop after n events, 0 for no limit")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-id", "-name", "-n"})); err != nil {
		return err
	}

	sub, err := a.session.ManagedSubscribe(ctx, pubsub.ManagedSubscribeRequest{SubscriptionID: *id, DeveloperName: *name})
	if err != nil {
		return err
	}
	defer sub.Close()

	return a.receive(ctx, sub, nil, *limit)
}

// startPosition picks where a subscription starts: an earlier checkpoint
// when rewinding, else an explicit -from, else the stored cursor, else from.
func (a *App) startPosition(ctx context.Context, key, from string, explicit bool, rewind int) (pubsub.Position, error) {
	pos, err := parsePosition(from)
	if err != nil {
		return pubsub.Position{}, err
	}

	if rewind > 0 {
		if a.cursors == nil {
			return pubsub.Position{}, fmt.Errorf("%w: -rewind needs a cursor database", common.ErrInvalidArgument)
		}
		hist, err := a.cursors.History(ctx, key)
		if err != nil {
			return pubsub.Position{}, err
		}
		if rewind >= len(hist) {
			return pubsub.Position{}, fmt.Errorf("%w: only %d checkpoints stored for %s", common.ErrInvalidArgument, len(hist), key)
		}
		return pubsub.ResumeAt(hist[rewind].ReplayID), nil
	}

	if explicit || a.cursors == nil {
		return pos, nil
	}
	id, err := a.cursors.Load(ctx, key)
	if err != nil {
		return pubsub.Position{}, err
	}
	if id == nil {
		return pos, nil
	}
	a.logger.Info(ctx, "resuming from stored cursor", "key", key, "replay_id", pubsub.ReplayID(id).String())
	return pubsub.ResumeAt(id), nil
}

func parsePosition(s string) (pubsub.Position, error) {
	switch strings.ToLower(s) {
	case "", "latest":
		return pubsub.LatestPosition, nil
	case "earliest":
		return pubsub.EarliestPosition, nil
	}
	id, err := hex.DecodeString(s)
	if err != nil || len(id) == 0 {
		return pubsub.Position{}, fmt.Errorf("%w: position %q is not earliest, latest or a hex replay id", common.ErrInvalidArgument, s)
	}
	return pubsub.ResumeAt(id), nil
}

var errLimitReached = errors.New("event limit reached")

// receive prints events until ctx ends, limit events were handled or the
// subscription fails. cp may be nil.
func (a *App) receive(ctx context.Context, sub *pubsub.Subscription, cp *checkpointer, limit int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if cp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp.run(ctx, sub.Cursor, a.config.CheckpointInterval)
		}()
	}

	handled := 0
	err := sub.Receive(ctx, func(_ context.Context, ev *pubsub.Event) error {
		// the rest of a batch is still handed over after cancel
		if limit > 0 && handled >= limit {
			return errLimitReached
		}
		if err := a.writeEvent(ev); err != nil {
			return err
		}
		handled++
		if limit > 0 && handled >= limit {
			cancel()
		}
		return nil
	})
	if errors.Is(err, errLimitReached) {
		err = nil
	}

	cancel()
	wg.Wait()
	if cp != nil {
		if serr := cp.save(context.WithoutCancel(ctx), sub.Cursor()); serr != nil {
			a.logger.Error(ctx, "saving replay cursor", "key", cp.key, "error", serr)
		}
	}
	a.logger.Info(ctx, "subscription stopped", "handled", handled, "cursor", sub.Cursor().String())
	return err
}

// checkpointer writes a subscription's cursor to the store when it moves.
type checkpointer struct {
	store  *cursorstore.Store
	key    string
	logger logging.Logger

	mu   sync.Mutex
	last pubsub.ReplayID
}

// checkpointer returns nil when persistence is disabled.
func (a *App) checkpointer(key string) *checkpointer {
	if a.cursors == nil {
		return nil
	}
	return &checkpointer{store: a.cursors, key: key, logger: a.logger}
}

func (c *checkpointer) run(ctx context.Context, cursor func() pubsub.ReplayID, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// failures are retried on the next tick and on exit
			if err := c.save(ctx, cursor()); err != nil && ctx.Err() == nil {
				c.logger.Warn(ctx, "checkpoint failed", "key", c.key, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *checkpointer) save(ctx context.Context, id pubsub.ReplayID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == nil || id.Equal(c.last) {
		return nil
	}
	if err := c.store.Save(ctx, c.key, id); err != nil {
		return err
	}
	c.last = id
	return nil
}
