// Package adapter holds the per-site add-to-cart procedures and the
// dispatcher that picks one from a page hostname.
//
// Adapters only see the DOM through the interfaces below. The live
// implementation drives Chrome (package browser); htmldom works on parsed
// HTML for tests and dry runs.
package adapter

import "context"

// DOM is the subset of document operations adapters need.
type DOM interface {
	// QuerySelector returns the first element matching sel in document
	// order, or nil when nothing matches.
	QuerySelector(ctx context.Context, sel string) (Element, error)
	// QuerySelectorAll returns every match in document order.
	QuerySelectorAll(ctx context.Context, sel string) ([]Element, error)
}

// Element is one DOM node.
type Element interface {
	Text(ctx context.Context) (string, error) // innerText
	Attr(ctx context.Context, name string) (value string, ok bool, err error)
	Disabled(ctx context.Context) (bool, error)
	SetValue(ctx context.Context, value string) error
	// Dispatch fires a bubbling Event of the given type ("input", "change").
	Dispatch(ctx context.Context, eventType string) error
	Click(ctx context.Context) error
}

// Page is the page context a content handler runs in.
type Page interface {
	Hostname() string
	DOM() DOM
}
