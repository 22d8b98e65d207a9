package popup

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"log/slog"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"

	"github.com/hazyhaar/quickcart/adapter"
	"github.com/hazyhaar/quickcart/bus"
	"github.com/hazyhaar/quickcart/prefs"
)

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func())

// Controller drives one popup session.
type Controller struct {
	tabs     Tabs
	runtime  bus.Caller
	view     View
	after    AfterFunc
	sanitize func(string) string
	logger   *slog.Logger

	mu  sync.Mutex
	url string // product URL once loaded

	saves sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithAfterFunc replaces time.AfterFunc for label resets.
func WithAfterFunc(f AfterFunc) Option { return func(c *Controller) { c.after = f } }

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithSanitizer replaces the title sanitizer.
func WithSanitizer(f func(string) string) Option { return func(c *Controller) { c.sanitize = f } }

// New creates a Controller. runtime reaches the background context.
func New(tabs Tabs, runtime bus.Caller, view View, opts ...Option) *Controller {
	c := &Controller{
		tabs:     tabs,
		runtime:  runtime,
		view:     view,
		after:    func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		sanitize: plainText(bluemonday.StrictPolicy()),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// plainText strips markup with p and decodes the entities it leaves, so
// titles read as text in terminals and JSON.
func plainText(p *bluemonday.Policy) func(string) string {
	return func(s string) string { return html.UnescapeString(p.Sanitize(s)) }
}

// LoadProductInfo renders the session for the active tab. It returns false
// when an empty state was shown instead of the quantity control.
func (c *Controller) LoadProductInfo(ctx context.Context) bool {
	tab, err := c.tabs.ActiveTab(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoActiveTab) {
			c.logger.Warn("popup: active tab", "error", err)
		}
		c.view.ShowError(MsgNoActiveTab)
		return false
	}
	if !adapter.Supported(tab.URL) {
		c.view.ShowError(MsgUnsupported)
		return false
	}

	var pref prefs.Preference
	if err := bus.Send(ctx, c.runtime, bus.NewMessage(bus.ActionGetQuantity, tab.URL, 0), &pref); err != nil {
		c.logger.Warn("popup: get quantity", "url", tab.URL, "error", err)
	}
	qty := pref.Quantity
	if qty == 0 {
		qty = prefs.DefaultQuantity
	}
	qty = lo.Clamp(qty, MinQuantity, MaxQuantity)

	c.mu.Lock()
	c.url = tab.URL
	c.mu.Unlock()

	c.view.ShowProduct(c.sanitize(tab.Title), qty)
	c.view.SetButton(LabelIdle, true)
	return true
}

// ChangeQuantity handles an edit of the quantity field. raw is parsed like
// a form value; the clamped result is displayed, saved in the background
// and returned.
func (c *Controller) ChangeQuantity(ctx context.Context, raw string) int {
	qty, ok := adapter.ParseInt(raw)
	if !ok || qty == 0 {
		qty = 1
	}
	qty = lo.Clamp(qty, MinQuantity, MaxQuantity)
	c.view.SetQuantity(qty)

	c.mu.Lock()
	url := c.url
	c.mu.Unlock()
	if url == "" {
		return qty
	}

	c.saves.Add(1)
	go func() {
		defer c.saves.Done()
		var res prefs.SaveResult
		err := bus.Send(context.WithoutCancel(ctx), c.runtime, bus.NewMessage(bus.ActionSaveQuantity, url, qty), &res)
		if err != nil {
			c.logger.Warn("popup: save quantity", "url", url, "quantity", qty, "error", err)
		}
	}()
	return qty
}

// Wait blocks until pending quantity saves have completed.
func (c *Controller) Wait() { c.saves.Wait() }

// TriggerAddToCart asks the active tab's page context to add quantity
// units and shows the transient result label. Failures are reported in
// the Outcome only.
func (c *Controller) TriggerAddToCart(ctx context.Context, quantity int) Outcome {
	quantity = max(quantity, MinQuantity)
	c.view.SetButton(LabelBusy, false)

	tab, err := c.tabs.ActiveTab(ctx)
	if err != nil {
		return c.finish(Outcome{Label: LabelError, Error: MsgNoActiveTab, Quantity: quantity})
	}

	payload, err := json.Marshal(bus.NewMessage(bus.ActionPerformAddToCart, "", quantity))
	if err != nil {
		return c.finish(Outcome{Label: LabelFailed, Error: err.Error(), Quantity: quantity})
	}
	resp, err := c.tabs.SendMessage(ctx, tab.ID, bus.ActionPerformAddToCart, payload)
	if err != nil {
		c.logger.Warn("popup: send to tab", "tab", tab.ID, "error", err)
		return c.finish(Outcome{Label: LabelFailed, Error: err.Error(), Quantity: quantity})
	}

	var res adapter.Result
	if err := json.Unmarshal(resp, &res); err != nil {
		c.logger.Warn("popup: decode tab response", "tab", tab.ID, "error", err)
		return c.finish(Outcome{Label: LabelFailed, Error: err.Error(), Quantity: quantity})
	}
	if res.Success {
		return c.finish(Outcome{Success: true, Label: LabelAdded, Quantity: quantity})
	}
	msg := res.Error
	if msg == "" {
		msg = "Failed"
	}
	return c.finish(Outcome{Label: "❌ " + msg, Error: msg, Quantity: quantity})
}

// finish shows the result label and schedules the revert to idle.
func (c *Controller) finish(o Outcome) Outcome {
	delay := ResetAfterFailure
	if o.Success {
		delay = ResetAfterSuccess
	}
	c.view.SetButton(o.Label, false)
	c.after(delay, func() { c.view.SetButton(LabelIdle, true) })
	return o
}
