package browser

import (
	"context"
	"fmt"
	"io"

	"github.com/hazyhaar/quickcart/adapter"
	"github.com/hazyhaar/quickcart/adapter/htmldom"
)

// Page is a page context a Host can run a content loop in.
type Page interface {
	adapter.Page
	URL() string
	Title(ctx context.Context) (string, error)
	Close() error
}

// Opener opens a page for url.
type Opener func(ctx context.Context, url string) (Page, error)

// RodOpener opens stealth Chrome tabs through mgr.
func RodOpener(mgr *Manager) Opener {
	return func(ctx context.Context, url string) (Page, error) {
		return OpenTab(ctx, mgr, url)
	}
}

// HTMLPage is an offline page backed by htmldom.
type HTMLPage struct {
	htmldom.Page
	Doc   *htmldom.Document
	url   string
	title string
}

func (p *HTMLPage) URL() string { return p.url }

func (p *HTMLPage) Title(context.Context) (string, error) { return p.title, nil }

func (p *HTMLPage) Close() error { return nil }

// HTMLOpener serves pages parsed from the readers returned by load.
func HTMLOpener(load func(ctx context.Context, url string) (io.ReadCloser, error)) Opener {
	return func(ctx context.Context, url string) (Page, error) {
		rc, err := load(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("browser: load %s: %w", url, err)
		}
		defer rc.Close()
		doc, err := htmldom.Parse(rc)
		if err != nil {
			return nil, err
		}
		p := &HTMLPage{Page: htmldom.NewPage(url, doc), Doc: doc, url: url}
		if el, _ := doc.QuerySelector(ctx, "title"); el != nil {
			p.title, _ = el.Text(ctx)
		}
		return p, nil
	}
}
