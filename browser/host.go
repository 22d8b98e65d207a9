package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/quickcart/adapter"
	"github.com/hazyhaar/quickcart/bus"
	"github.com/hazyhaar/quickcart/idgen"
	"github.com/hazyhaar/quickcart/kit"
	"github.com/hazyhaar/quickcart/popup"
)

// ErrTabClosed is returned when messaging a tab that is no longer open.
var ErrTabClosed = errors.New("browser: receiving end does not exist")

type tabEntry struct {
	page Page
	loop *bus.Loop
}

// Host keeps open pages, each with a content loop answering
// performAddToCart. The most recently opened tab is the active one.
type Host struct {
	open   Opener
	disp   *adapter.Dispatcher
	newID  idgen.Generator
	logger *slog.Logger

	mu     sync.Mutex
	tabs   map[string]*tabEntry
	active string
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the host logger.
func WithHostLogger(l *slog.Logger) HostOption { return func(h *Host) { h.logger = l } }

// WithIDGenerator sets the tab ID generator.
func WithIDGenerator(g idgen.Generator) HostOption { return func(h *Host) { h.newID = g } }

// NewHost creates a Host that opens pages with open and runs d in them.
func NewHost(open Opener, d *adapter.Dispatcher, opts ...HostOption) *Host {
	h := &Host{
		open:   open,
		disp:   d,
		newID:  idgen.Prefixed("tab_", idgen.Short(8)),
		logger: slog.Default(),
		tabs:   make(map[string]*tabEntry),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Open loads url in a new tab, starts its content loop and makes it active.
func (h *Host) Open(ctx context.Context, url string) (string, error) {
	page, err := h.open(ctx, url)
	if err != nil {
		return "", err
	}
	id := h.newID()

	router := bus.NewRouter(bus.WithLogger(h.logger))
	router.RegisterLocal(bus.ActionPerformAddToCart, bus.Chain(
		bus.Recovery(h.logger),
		bus.Logging(h.logger, bus.ActionPerformAddToCart),
	)(adapter.ContentHandler(h.disp, page)))

	loop := bus.NewLoop("content:"+id, router, bus.WithLoopLogger(h.logger))

	h.mu.Lock()
	h.tabs[id] = &tabEntry{page: page, loop: loop}
	h.active = id
	h.mu.Unlock()

	h.logger.Info("browser: tab opened", "tab", id, "url", page.URL())
	return id, nil
}

// Page returns the page of tab id.
func (h *Host) Page(id string) (Page, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.tabs[id]
	if !ok {
		return nil, false
	}
	return e.page, true
}

// ActiveTab implements popup.Tabs. Concurrent sessions should use Tab
// instead, since any Open moves the active tab.
func (h *Host) ActiveTab(ctx context.Context) (popup.Tab, error) {
	h.mu.Lock()
	id := h.active
	h.mu.Unlock()
	return h.describe(ctx, id)
}

// Tab returns a popup.Tabs whose active tab is always id.
func (h *Host) Tab(id string) popup.Tabs { return boundTab{h: h, id: id} }

func (h *Host) describe(ctx context.Context, id string) (popup.Tab, error) {
	h.mu.Lock()
	e := h.tabs[id]
	h.mu.Unlock()
	if e == nil {
		return popup.Tab{}, popup.ErrNoActiveTab
	}
	title, err := e.page.Title(ctx)
	if err != nil {
		h.logger.Debug("browser: title", "tab", id, "error", err)
	}
	return popup.Tab{ID: id, URL: e.page.URL(), Title: title}, nil
}

type boundTab struct {
	h  *Host
	id string
}

func (b boundTab) ActiveTab(ctx context.Context) (popup.Tab, error) { return b.h.describe(ctx, b.id) }

func (b boundTab) SendMessage(ctx context.Context, tabID, action string, payload []byte) ([]byte, error) {
	return b.h.SendMessage(ctx, tabID, action, payload)
}

// SendMessage implements popup.Tabs. The message is queued on the tab's
// content loop.
func (h *Host) SendMessage(ctx context.Context, tabID, action string, payload []byte) ([]byte, error) {
	h.mu.Lock()
	e := h.tabs[tabID]
	h.mu.Unlock()
	if e == nil {
		return nil, fmt.Errorf("browser: tab %s: %w", tabID, ErrTabClosed)
	}
	return e.loop.Call(kit.WithTabID(ctx, tabID), action, payload)
}

// CloseTab stops the tab's loop and closes its page.
func (h *Host) CloseTab(id string) error {
	h.mu.Lock()
	e := h.tabs[id]
	delete(h.tabs, id)
	if h.active == id {
		h.active = ""
	}
	h.mu.Unlock()
	if e == nil {
		return nil
	}
	e.loop.Close()
	if err := e.page.Close(); err != nil {
		return fmt.Errorf("browser: close tab %s: %w", id, err)
	}
	return nil
}

// Close closes every tab.
func (h *Host) Close() error {
	h.mu.Lock()
	ids := make([]string, 0, len(h.tabs))
	for id := range h.tabs {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := h.CloseTab(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
