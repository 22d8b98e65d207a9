package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher routes performAddToCart to the adapter of the page's site.
type Dispatcher struct {
	sleep  Sleeper
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSleeper replaces the settle-delay implementation.
func WithSleeper(s Sleeper) Option { return func(d *Dispatcher) { d.sleep = s } }

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// NewDispatcher builds a Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{sleep: SleepContext, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Perform runs the add-to-cart procedure for hostname against dom.
// Unsupported hosts get ErrSiteNotSupported without any DOM access.
// DOM errors and panics are reported as failures, never returned.
func (d *Dispatcher) Perform(ctx context.Context, hostname string, dom DOM, quantity int) (res Result) {
	site, found := Match(hostname)
	if !found {
		d.logger.Debug("adapter: unsupported host", "host", hostname)
		return failure(ErrSiteNotSupported)
	}
	if quantity < 1 {
		quantity = 1
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("adapter: panic", "site", site.Name, "panic", r)
			res = failure(fmt.Sprint(r))
		}
	}()

	start := time.Now()
	res, err := site.Adapter.AddToCart(ctx, dom, quantity, step{delay: site.ClickDelay, sleep: d.sleep})
	if err != nil {
		d.logger.Warn("adapter: add to cart failed", "site", site.Name, "error", err)
		return failure(err.Error())
	}
	d.logger.Info("adapter: add to cart",
		"site", site.Name, "quantity", quantity,
		"success", res.Success, "duration_ms", time.Since(start).Milliseconds())
	return res
}
