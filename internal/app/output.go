package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sfpubsub/internal/pubsub"
)

type eventLine struct {
	ReplayID string         `json:"replay_id"`
	ID       string         `json:"id"`
	SchemaID string         `json:"schema_id"`
	Fields   map[string]any `json:"fields"`
}

type resultLine struct {
	Index       int       `json:"index"`
	EventID     string    `json:"event_id"`
	ReplayID    string    `json:"replay_id,omitempty"`
	PublishTime time.Time `json:"publish_time"`
	Error       string    `json:"error,omitempty"`
}

type topicLine struct {
	TopicName    string `json:"topic_name"`
	TenantGUID   string `json:"tenant_guid"`
	CanPublish   bool   `json:"can_publish"`
	CanSubscribe bool   `json:"can_subscribe"`
	SchemaID     string `json:"schema_id"`
}

type cursorLine struct {
	Key       string    `json:"key"`
	ReplayID  string    `json:"replay_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// writeJSON prints v as one line on the app output.
func (a *App) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	a.outMu.Lock()
	defer a.outMu.Unlock()
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func (a *App) writeEvent(ev *pubsub.Event) error {
	return a.writeJSON(eventLine{
		ReplayID: ev.ReplayID.String(),
		ID:       ev.ID,
		SchemaID: ev.SchemaID,
		Fields:   ev.Fields,
	})
}

func (a *App) writeResult(r pubsub.PublishResult) error {
	line := resultLine{
		Index:       r.Index,
		EventID:     r.EventID,
		ReplayID:    r.ReplayID.String(),
		PublishTime: r.PublishTime,
	}
	if r.Err != nil {
		line.Error = r.Err.Error()
	}
	return a.writeJSON(line)
}
