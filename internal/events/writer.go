package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append inserts one event through tx, or through DB when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	var exec Execer = w.DB
	if tx != nil {
		exec = tx
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = exec.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

// Journal records scheduler events against tasks outside any transaction.
type Journal struct {
	Writer  Writer
	ActorID string
}

func (j Journal) Record(ctx context.Context, evtType, taskID string, payload map[string]any) error {
	actor := j.ActorID
	if actor == "" {
		actor = "scheduler"
	}
	return j.Writer.Append(ctx, nil, evtType, "task", taskID, actor, payload)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
