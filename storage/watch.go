package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// WatchOptions tunes a Watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action runs.
	// Further changes restart it. 0 fires immediately.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher polls kv_store for writes made through other handles, typically
// another quickcart process sharing the database file.
type Watcher struct {
	s    *SQLite
	opts WatchOptions

	version atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// WatchStats are point-in-time counters.
type WatchStats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Reloads int64 `json:"reloads"`
}

// Watch creates a Watcher over s. Call OnChange to start polling.
func (s *SQLite) Watch(opts WatchOptions) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{s: s, opts: opts}
}

// current is the newest updated_at in kv_store. Set stores UnixMilli, so
// every committed write advances it.
func (w *Watcher) current(ctx context.Context) (int64, error) {
	var v int64
	err := w.s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM kv_store`).Scan(&v)
	return v, err
}

// Version is the last version the action was run for.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Stats returns the counters.
func (w *Watcher) Stats() WatchStats {
	return WatchStats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
}

// OnChange blocks until ctx is done, running action after each detected
// change. A failing action leaves the version unchanged so the next poll
// retries it.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if v, err := w.current(ctx); err != nil {
		log.Warn("storage: watch seed failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	pending := int64(-1)

	fire := func(v int64) {
		if err := action(); err != nil {
			w.errors.Add(1)
			log.Error("storage: watch reload failed", "version", v, "error", err)
			return
		}
		w.reloads.Add(1)
		w.version.Store(v)
		log.Debug("storage: watch reloaded", "version", v)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.current(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("storage: watch check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				fire(pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			if pending >= 0 {
				fire(pending)
				pending = -1
			}
		}
	}
}
