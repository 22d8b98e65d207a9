package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/quickcart/adapter"
)

// rodDOM runs adapter queries against a live page. Element operations go
// through script so pages see the same events a content script produces.
type rodDOM struct {
	page *rod.Page
}

func (d rodDOM) QuerySelector(ctx context.Context, sel string) (adapter.Element, error) {
	els, err := d.QuerySelectorAll(ctx, sel)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func (d rodDOM) QuerySelectorAll(ctx context.Context, sel string) ([]adapter.Element, error) {
	// Elements does not wait for a match.
	els, err := d.page.Context(ctx).Elements(sel)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", sel, err)
	}
	out := make([]adapter.Element, len(els))
	for i, el := range els {
		out[i] = rodElement{el: el}
	}
	return out, nil
}

type rodElement struct {
	el *rod.Element
}

func (e rodElement) Text(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.innerText || ''`)
	if err != nil {
		return "", fmt.Errorf("browser: innerText: %w", err)
	}
	return res.Value.Str(), nil
}

func (e rodElement) Attr(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("browser: attribute %s: %w", name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e rodElement) Disabled(ctx context.Context) (bool, error) {
	res, err := e.el.Context(ctx).Eval(`() => !!this.disabled`)
	if err != nil {
		return false, fmt.Errorf("browser: disabled: %w", err)
	}
	return res.Value.Bool(), nil
}

func (e rodElement) SetValue(ctx context.Context, v string) error {
	if _, err := e.el.Context(ctx).Eval(`(v) => { this.value = v }`, v); err != nil {
		return fmt.Errorf("browser: set value: %w", err)
	}
	return nil
}

func (e rodElement) Dispatch(ctx context.Context, eventType string) error {
	if _, err := e.el.Context(ctx).Eval(`(t) => { this.dispatchEvent(new Event(t, {bubbles: true})) }`, eventType); err != nil {
		return fmt.Errorf("browser: dispatch %s: %w", eventType, err)
	}
	return nil
}

func (e rodElement) Click(ctx context.Context) error {
	if _, err := e.el.Context(ctx).Eval(`() => { this.click() }`); err != nil {
		return fmt.Errorf("browser: click: %w", err)
	}
	return nil
}
