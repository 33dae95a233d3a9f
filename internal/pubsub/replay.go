package pubsub

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
)

// ReplayID is an opaque position in a topic's event stream.
type ReplayID []byte

func (r ReplayID) String() string { return hex.EncodeToString(r) }

func (r ReplayID) Equal(o ReplayID) bool { return bytes.Equal(r, o) }

func (r ReplayID) clone() ReplayID {
	if r == nil {
		return nil
	}
	return append(ReplayID(nil), r...)
}

// Position is where a subscription starts.
type Position struct {
	preset   eventbus.ReplayPreset
	replayID ReplayID
}

var (
	// LatestPosition delivers only events published after the stream opens.
	LatestPosition = Position{preset: eventbus.ReplayLatest}
	// EarliestPosition delivers every retained event.
	EarliestPosition = Position{preset: eventbus.ReplayEarliest}
)

// ResumeAt delivers events after id.
func ResumeAt(id ReplayID) Position {
	return Position{preset: eventbus.ReplayCustom, replayID: id.clone()}
}

func (p Position) Preset() eventbus.ReplayPreset { return p.preset }

func (p Position) ReplayID() ReplayID { return p.replayID.clone() }

func (p Position) String() string {
	if p.preset == eventbus.ReplayCustom {
		return "after " + p.replayID.String()
	}
	return p.preset.String()
}

// ReplayCursor is the replay id of the last acknowledged event. It is
// written by the receive loop and may be read from any goroutine.
type ReplayCursor struct {
	mu   sync.RWMutex
	last ReplayID
}

func (c *ReplayCursor) Last() ReplayID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last.clone()
}

func (c *ReplayCursor) advance(id ReplayID) {
	c.mu.Lock()
	c.last = id.clone()
	c.mu.Unlock()
}
