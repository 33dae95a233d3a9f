package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/sfpubsub/internal/cursorstore"
	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/pubsub"
)

func TestCheckpointer_SavesWhenCursorMoves(t *testing.T) {
	ctx := context.Background()
	store, err := cursorstore.Open(ctx, filepath.Join(t.TempDir(), "cursors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := &checkpointer{store: store, key: "subscribe:" + testTopic, logger: logging.Nop()}
	require.NoError(t, c.save(ctx, nil))
	require.NoError(t, c.save(ctx, replayID(3)))
	require.NoError(t, c.save(ctx, replayID(3)))

	history, err := store.History(ctx, c.key)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCheckpointer_LogsFailedTick(t *testing.T) {
	store, err := cursorstore.Open(context.Background(), filepath.Join(t.TempDir(), "cursors.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	var buf bytes.Buffer
	c := &checkpointer{store: store, key: "subscribe:" + testTopic, logger: logging.New(&buf, "text", "debug")}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c.run(ctx, func() pubsub.ReplayID { return replayID(7) }, 5*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, "checkpoint failed")
	assert.Contains(t, out, "key=subscribe:"+testTopic)
	assert.Contains(t, out, "level=WARN")
}
