package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/quickcart/dbopen"
	"github.com/hazyhaar/quickcart/idgen"
)

// HistorySchema is the DDL for the cart_history table.
const HistorySchema = `
CREATE TABLE IF NOT EXISTS cart_history (
	event_id   TEXT PRIMARY KEY,
	timestamp  INTEGER NOT NULL,
	url        TEXT NOT NULL,
	site       TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	quantity   INTEGER NOT NULL,
	success    INTEGER NOT NULL,
	label      TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_cart_history_time ON cart_history(timestamp DESC);
`

// ErrHistoryClosed is returned by Notify after Close.
var ErrHistoryClosed = errors.New("notify: history closed")

// HistoryFilter narrows History.Query.
type HistoryFilter struct {
	Site         string
	FailuresOnly bool
	Limit        int // default 50
}

// History records every event in SQLite. Writes are queued and flushed by
// one goroutine; a full queue falls back to a synchronous insert.
type History struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan Event
	done   chan struct{}

	mu     sync.RWMutex // guards closed and sends on ch
	closed bool
}

// NewHistory applies HistorySchema to db and starts the flush loop.
func NewHistory(db *sql.DB, logger *slog.Logger) (*History, error) {
	if _, err := db.Exec(HistorySchema); err != nil {
		return nil, fmt.Errorf("notify: history schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &History{
		db:     db,
		newID:  idgen.Prefixed("cart_", idgen.Default),
		logger: logger,
		ch:     make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go h.flushLoop()
	return h, nil
}

func (h *History) Notify(ctx context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHistoryClosed
	}
	select {
	case h.ch <- ev:
		return nil
	default:
		h.logger.Warn("notify: history queue full, sync insert", "url", ev.URL)
		return h.insert(ctx, ev)
	}
}

func (h *History) flushLoop() {
	defer close(h.done)
	for ev := range h.ch {
		if err := h.insert(context.Background(), ev); err != nil {
			h.logger.Error("notify: history insert", "url", ev.URL, "error", err)
		}
	}
}

func (h *History) insert(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	success := 0
	if ev.Success {
		success = 1
	}
	_, err := dbopen.Exec(ctx, h.db, `
		INSERT INTO cart_history (event_id, timestamp, url, site, title, quantity, success, label, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.newID(), ev.Time.UnixMilli(), ev.URL, ev.Site, ev.Title, ev.Quantity, success, ev.Label, ev.Error)
	if err != nil {
		return fmt.Errorf("notify: history insert: %w", err)
	}
	return nil
}

// Close flushes queued events. Later Notify calls return ErrHistoryClosed.
func (h *History) Close() error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.ch)
	}
	h.mu.Unlock()
	<-h.done
	return nil
}

// Query returns recorded events, newest first.
func (h *History) Query(ctx context.Context, f HistoryFilter) ([]Event, error) {
	q := `SELECT timestamp, url, site, title, quantity, success, label, error
		FROM cart_history WHERE 1=1`
	var args []any
	if f.Site != "" {
		q += " AND site = ?"
		args = append(args, f.Site)
	}
	if f.FailuresOnly {
		q += " AND success = 0"
	}
	limit := 50
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("notify: query history: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			ts      int64
			success int
		)
		if err := rows.Scan(&ts, &ev.URL, &ev.Site, &ev.Title, &ev.Quantity, &success, &ev.Label, &ev.Error); err != nil {
			return nil, fmt.Errorf("notify: scan history: %w", err)
		}
		ev.Time = time.UnixMilli(ts).UTC()
		ev.Success = success == 1
		out = append(out, ev)
	}
	return out, rows.Err()
}
