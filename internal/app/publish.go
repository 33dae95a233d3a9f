package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/sfpubsub/internal/common"
	"github.com/dmitrijs2005/sfpubsub/internal/flagx"
	"github.com/dmitrijs2005/sfpubsub/internal/pubsub"
)

var ErrPublishFailed = errors.New("publish failed")

// publish encodes JSON records with the topic schema and publishes them,
// either in one request or over a publish stream (-stream).
func (a *App) publish(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	topic := fs.String("t", "", "topic name")
	data := fs.String("d", "", "event fields as a JSON object; read from stdin when empty")
	stream := fs.Bool("stream", false, "publish over a publish stream")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-t", "-d", "-stream"})); err != nil {
		return err
	}
	if *topic == "" {
		return fmt.Errorf("%w: -t is required", common.ErrInvalidArgument)
	}

	var records []map[string]any
	var err error
	if *data != "" {
		records, err = readRecords(strings.NewReader(*data))
	} else {
		records, err = readRecords(a.in)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: no events to publish", common.ErrInvalidArgument)
	}

	events := make([]pubsub.PublishEvent, 0, len(records))
	for i, r := range records {
		ev, err := a.session.EncodeEvent(ctx, *topic, r)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}

	if *stream {
		return a.publishStream(ctx, *topic, events)
	}
	return a.publishBatch(ctx, *topic, events)
}

func (a *App) publishBatch(ctx context.Context, topic string, events []pubsub.PublishEvent) error {
	results, err := a.session.Publish(ctx, topic, events)
	for _, r := range results {
		if werr := a.writeResult(r); werr != nil {
			return werr
		}
	}
	return err
}

func (a *App) publishStream(ctx context.Context, topic string, events []pubsub.PublishEvent) error {
	ps, err := a.session.OpenPublishStream(ctx, topic)
	if err != nil {
		return err
	}
	defer ps.Close()

	failed := 0
	drain := func() error {
		r, err := ps.Recv(ctx)
		if err != nil {
			return err
		}
		if r.Err != nil {
			failed++
		}
		return a.writeResult(r)
	}

	for _, ev := range events {
		for {
			err := ps.Publish(ctx, ev)
			if errors.Is(err, pubsub.ErrPublishLimitExceeded) {
				if err := drain(); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			break
		}
	}
	for ps.InFlight() > 0 {
		if err := drain(); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d events rejected", ErrPublishFailed, failed, len(events))
	}
	return nil
}

// readRecords decodes a stream of JSON objects. Whitespace, including
// newlines, separates them.
func readRecords(r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	var records []map[string]any
	for {
		var rec map[string]any
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", common.ErrInvalidArgument, len(records), err)
		}
		records = append(records, rec)
	}
}
