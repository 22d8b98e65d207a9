// CLAUDE:SUMMARY Composition root: storage, preference store, background loop, dispatcher, browser host and notify sinks; runs popup sessions end to end.
// Package agent wires quickcart's contexts together. One Agent owns the
// background loop (preference store or a remote server), the browser host
// with one content loop per tab, and the notification sinks.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/hazyhaar/quickcart/adapter"
	"github.com/hazyhaar/quickcart/browser"
	"github.com/hazyhaar/quickcart/bus"
	"github.com/hazyhaar/quickcart/config"
	"github.com/hazyhaar/quickcart/notify"
	"github.com/hazyhaar/quickcart/popup"
	"github.com/hazyhaar/quickcart/prefs"
	"github.com/hazyhaar/quickcart/storage"
)

// AddRequest is one popup session: open url, optionally change the
// quantity, then add to cart.
type AddRequest struct {
	URL      string `json:"url"`
	Quantity *int   `json:"quantity,omitempty"`
}

// Agent is the running quickcart system.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger

	kv         storage.KV
	closeKV    func() error
	store      *prefs.Store
	router     *bus.Router
	background *bus.Loop

	disp    *adapter.Dispatcher
	manager *browser.Manager
	host    *browser.Host
	sinks   *notify.Router
	history *notify.History

	after  popup.AfterFunc
	runCtx context.Context
	cancel context.CancelFunc
}

type options struct {
	logger *slog.Logger
	kv     storage.KV
	opener browser.Opener
	sleep  adapter.Sleeper
	sinks  []notify.Sink
	after  popup.AfterFunc
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger of every component.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithKV replaces the configured storage backend.
func WithKV(kv storage.KV) Option { return func(o *options) { o.kv = kv } }

// WithOpener replaces Chrome as the page host.
func WithOpener(op browser.Opener) Option { return func(o *options) { o.opener = op } }

// WithSleeper replaces the adapters' settle delay.
func WithSleeper(s adapter.Sleeper) Option { return func(o *options) { o.sleep = s } }

// WithSinks adds notification sinks on top of the configured ones.
func WithSinks(s ...notify.Sink) Option { return func(o *options) { o.sinks = append(o.sinks, s...) } }

// WithAfterFunc replaces the popup label timers.
func WithAfterFunc(f popup.AfterFunc) Option { return func(o *options) { o.after = f } }

// New builds and starts an Agent from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Agent, error) {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	log := o.logger

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &Agent{cfg: cfg, logger: log, after: o.after, runCtx: runCtx, cancel: cancel, closeKV: func() error { return nil }}

	if err := a.openStorage(o.kv); err != nil {
		cancel()
		return nil, err
	}
	a.store = prefs.New(a.kv, prefs.WithLogger(log))
	a.store.Start(runCtx)
	select {
	case <-a.store.Ready():
	case <-ctx.Done():
		a.Close()
		return nil, ctx.Err()
	}

	a.router = bus.NewRouter(bus.WithLogger(log))
	a.store.Register(a.router)
	if remote := cfg.Background.Remote; remote != "" {
		h := bus.HTTPHandler(remote,
			bus.WithHTTPTimeout(cfg.Background.Timeout),
			bus.WithBasicAuth(cfg.Background.User, cfg.Background.Password))
		a.router.RegisterRemote(bus.ActionGetQuantity, h)
		a.router.RegisterRemote(bus.ActionSaveQuantity, h)
		log.Info("agent: background is remote", "endpoint", remote)
	}
	a.background = bus.NewLoop("background", a.router, bus.WithLoopLogger(log))
	a.watchStorage(runCtx)

	dopts := []adapter.Option{adapter.WithLogger(log)}
	if o.sleep != nil {
		dopts = append(dopts, adapter.WithSleeper(o.sleep))
	}
	a.disp = adapter.NewDispatcher(dopts...)

	opener := o.opener
	if opener == nil {
		a.manager = browser.NewManager(browser.Config{
			Remote:            cfg.Browser.Remote,
			Bin:               cfg.Browser.Bin,
			Mode:              browser.Mode(cfg.Browser.Mode),
			UserDataDir:       cfg.Browser.UserDataDir,
			IgnoreCertErrors:  cfg.Browser.IgnoreCertErrors,
			Block:             cfg.Browser.Block,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			XvfbDisplay:       cfg.Browser.XvfbDisplay,
			Logger:            log,
		})
		opener = browser.RodOpener(a.manager)
	}
	a.host = browser.NewHost(opener, a.disp, browser.WithHostLogger(log))

	sinks, err := buildSinks(cfg.Notify, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if db, ok := a.kv.(*storage.SQLite); ok && !cfg.Notify.NoHistory {
		if a.history, err = notify.NewHistory(db.DB, log); err != nil {
			a.Close()
			return nil, fmt.Errorf("agent: %w", err)
		}
		sinks = append(sinks, a.history)
	}
	a.sinks = notify.NewRouter(log, append(sinks, o.sinks...)...)
	return a, nil
}

func (a *Agent) openStorage(kv storage.KV) error {
	if kv != nil {
		a.kv = kv
		return nil
	}
	kv, closer, err := storage.Open(a.cfg.Storage.Backend, a.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	a.kv, a.closeKV = kv, closer
	return nil
}

// watchStorage reloads the store when another process writes the
// database, e.g. `quickcart quantity set` while `serve` runs. The reload is
// queued on the background loop behind pending saves.
func (a *Agent) watchStorage(ctx context.Context) {
	db, ok := a.kv.(*storage.SQLite)
	if !ok || a.cfg.Storage.WatchInterval <= 0 {
		return
	}
	bg := a.background
	w := db.Watch(storage.WatchOptions{Interval: a.cfg.Storage.WatchInterval, Logger: a.logger})
	go w.OnChange(ctx, func() error {
		_, err := bg.Call(ctx, bus.ActionReloadPreferences, nil)
		return err
	})
}

func buildSinks(cfg config.NotifyConfig, log *slog.Logger) ([]notify.Sink, error) {
	var sinks []notify.Sink
	if cfg.Stdout {
		sinks = append(sinks, notify.NewStdout(os.Stdout))
	}
	if cfg.Webhook != "" {
		opts := []notify.WebhookOption{notify.WithRetries(cfg.Retries), notify.WithWebhookLogger(log)}
		if cfg.AllowPrivate {
			opts = append(opts, notify.WithAllowPrivate())
		}
		w, err := notify.NewWebhook(cfg.Webhook, opts...)
		if err != nil {
			return nil, fmt.Errorf("agent: webhook: %w", err)
		}
		sinks = append(sinks, w)
	}
	return sinks, nil
}

// AddToCart runs one popup session for req in a new tab. view receives the
// popup updates and may be nil. Unsupported sites and page failures are
// reported in the Outcome; the error is for host failures only.
//
// ctx bounds opening the tab and loading the session. Once the add-to-cart
// sequence has started it runs to completion even if ctx is cancelled; only
// Close stops it.
func (a *Agent) AddToCart(ctx context.Context, req AddRequest, view popup.View) (popup.Outcome, error) {
	id, err := a.host.Open(ctx, req.URL)
	if err != nil {
		return popup.Outcome{}, fmt.Errorf("agent: open %s: %w", req.URL, err)
	}
	defer func() {
		if err := a.host.CloseTab(id); err != nil {
			a.logger.Warn("agent: close tab", "tab", id, "error", err)
		}
	}()

	rec := &popup.RecordingView{}
	var v popup.View = rec
	if view != nil {
		v = popup.MultiView(rec, view)
	}
	popts := []popup.Option{popup.WithLogger(a.logger)}
	if a.after != nil {
		popts = append(popts, popup.WithAfterFunc(a.after))
	}
	ctrl := popup.New(a.host.Tab(id), a.background, v, popts...)

	if !ctrl.LoadProductInfo(ctx) {
		return popup.Outcome{Error: rec.State().Error}, nil
	}
	qty := rec.State().Quantity
	if req.Quantity != nil {
		qty = ctrl.ChangeQuantity(ctx, strconv.Itoa(*req.Quantity))
	}
	run, stop := a.detach(ctx)
	defer stop()
	out := ctrl.TriggerAddToCart(run, qty)
	ctrl.Wait()

	a.notify(run, req.URL, rec.State().Title, out)
	return out, nil
}

// detach keeps ctx's values and drops its cancellation, binding the result
// to the agent's lifetime instead.
func (a *Agent) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	run, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unhook := context.AfterFunc(a.runCtx, cancel)
	return run, func() {
		unhook()
		cancel()
	}
}

func (a *Agent) notify(ctx context.Context, url, title string, out popup.Outcome) {
	if a.sinks.Len() == 0 {
		return
	}
	site, _ := adapter.Match(adapter.Hostname(url))
	ev := notify.Event{
		Time:     time.Now().UTC(),
		URL:      url,
		Site:     site.Name,
		Title:    title,
		Quantity: out.Quantity,
		Success:  out.Success,
		Label:    out.Label,
		Error:    out.Error,
	}
	if err := a.sinks.Notify(ctx, ev); err != nil {
		a.logger.Warn("agent: notify", "url", url, "error", err)
	}
}

// GetQuantity asks the background context for url's preference.
func (a *Agent) GetQuantity(ctx context.Context, url string) (prefs.Preference, error) {
	var p prefs.Preference
	err := bus.Send(ctx, a.background, bus.NewMessage(bus.ActionGetQuantity, url, 0), &p)
	return p, err
}

// SaveQuantity asks the background context to remember quantity for url.
// The value is not clamped here.
func (a *Agent) SaveQuantity(ctx context.Context, url string, quantity int) (prefs.SaveResult, error) {
	msg := bus.Message{Action: bus.ActionSaveQuantity, URL: url, Quantity: []byte(strconv.Itoa(quantity))}
	var r prefs.SaveResult
	err := bus.Send(ctx, a.background, msg, &r)
	return r, err
}

// ErrNoHistory is returned by History when no history is kept.
var ErrNoHistory = errors.New("agent: history needs sqlite storage")

// History lists recorded add-to-cart attempts, newest first.
func (a *Agent) History(ctx context.Context, f notify.HistoryFilter) ([]notify.Event, error) {
	if a.history == nil {
		return nil, ErrNoHistory
	}
	return a.history.Query(ctx, f)
}

// Quantities lists the local store's preferences.
func (a *Agent) Quantities() map[string]prefs.Preference { return a.store.Entries() }

// Background is the background context's caller.
func (a *Agent) Background() bus.Caller { return a.background }

// Sites lists the supported sites.
func (a *Agent) Sites() []adapter.Site { return adapter.Sites() }

// Close aborts running sequences, stops every loop and releases the
// browser and storage.
func (a *Agent) Close() error {
	a.cancel()
	var errs []error
	if a.host != nil {
		errs = append(errs, a.host.Close())
	}
	if a.background != nil {
		a.background.Close()
	}
	if a.sinks != nil {
		errs = append(errs, a.sinks.Close())
	}
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	errs = append(errs, a.closeKV())
	return errors.Join(errs...)
}
