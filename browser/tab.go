package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/quickcart/adapter"
)

// Tab is a live Chrome page.
type Tab struct {
	Page   *rod.Page
	url    string
	router *rod.HijackRouter
}

// OpenTab creates a stealth page, applies resource blocking and navigates
// to pageURL, waiting for the load event.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b, err := mgr.Browser(ctx)
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, url: pageURL}

	if len(mgr.cfg.Block) > 0 {
		t.router, err = blockResources(page, mgr.cfg.Block)
		if err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigationTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	if info, err := page.Info(); err == nil && info.URL != "" {
		t.url = info.URL
	}
	return t, nil
}

// URL is the page URL after redirects.
func (t *Tab) URL() string { return t.url }

// Hostname is the hostname of the page URL.
func (t *Tab) Hostname() string { return adapter.Hostname(t.url) }

// Title is the current document title.
func (t *Tab) Title(ctx context.Context) (string, error) {
	info, err := t.Page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.Title, nil
}

// DOM exposes the page document to adapters.
func (t *Tab) DOM() adapter.DOM { return rodDOM{page: t.Page} }

// Close closes the page.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
