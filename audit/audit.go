// Package audit keeps a capped, append-only log of who did what. It is the
// history admins consult when a balance looks wrong; it is not a source of
// truth for balances.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
)

// DocumentKey is the store key holding the log.
const DocumentKey = "audit"

// DefaultLimit is how many entries are retained.
const DefaultLimit = 1000

type Entry struct {
	ID      string         `json:"id"`
	At      time.Time      `json:"at"`
	Actor   string         `json:"actor"`
	ActorID core.UserID    `json:"actor_id,omitempty"`
	Action  string         `json:"action"`
	OrderID int64          `json:"order_id,omitempty"`
	UserID  core.UserID    `json:"user_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type Log struct {
	store *docstore.Store
	limit int
	now   core.Clock
}

func New(store *docstore.Store, limit int, now core.Clock) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if now == nil {
		now = core.UTCNow
	}
	return &Log{store: store, limit: limit, now: now}
}

func newEntries() []Entry { return []Entry{} }

// Record appends e, filling ID and At, and drops the oldest entries beyond
// the limit.
func (l *Log) Record(ctx context.Context, actor core.Actor, e Entry) (Entry, error) {
	e.ID = uuid.NewString()
	e.At = l.now()
	e.Actor = actor.String()
	e.ActorID = actor.ID

	_, err := docstore.Mutate(ctx, l.store, DocumentKey, newEntries, func(entries *[]Entry) error {
		*entries = append(*entries, e)
		if over := len(*entries) - l.limit; over > 0 {
			*entries = append([]Entry(nil), (*entries)[over:]...)
		}
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("record audit %s: %w", e.Action, err)
	}
	return e, nil
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (l *Log) Recent(ctx context.Context, n int) ([]Entry, error) {
	entries, err := docstore.Load(ctx, l.store, DocumentKey, newEntries)
	if err != nil {
		return nil, fmt.Errorf("load audit: %w", err)
	}
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]Entry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}
