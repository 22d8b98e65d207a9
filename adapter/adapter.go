package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Adapter performs the add-to-cart procedure for one site. A returned error
// is an unexpected DOM failure; expected outcomes come back in Result.
type Adapter interface {
	AddToCart(ctx context.Context, dom DOM, quantity int, s step) (Result, error)
}

// step carries the per-call pacing an adapter needs.
type step struct {
	delay time.Duration
	sleep Sleeper
}

func (s step) settle(ctx context.Context) error {
	return s.sleep(ctx, s.delay)
}

// usable reports whether el is present and enabled.
func usable(ctx context.Context, el Element) (bool, error) {
	if el == nil {
		return false, nil
	}
	disabled, err := el.Disabled(ctx)
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

// clickN clicks el n times, settling after each click.
func clickN(ctx context.Context, el Element, n int, s step) error {
	for i := 0; i < n; i++ {
		if err := el.Click(ctx); err != nil {
			return fmt.Errorf("click %d/%d: %w", i+1, n, err)
		}
		if err := s.settle(ctx); err != nil {
			return err
		}
	}
	return nil
}

// repeatAdapter has no quantity control: it clicks the button once per unit.
type repeatAdapter struct {
	buttonSelector string
}

func (a repeatAdapter) AddToCart(ctx context.Context, dom DOM, quantity int, s step) (Result, error) {
	btn, err := dom.QuerySelector(ctx, a.buttonSelector)
	if err != nil {
		return Result{}, err
	}
	found, err := usable(ctx, btn)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return failure(ErrButtonNotFound), nil
	}
	if err := clickN(ctx, btn, quantity, s); err != nil {
		return Result{}, err
	}
	return ok(), nil
}

// quantityAdapter sets a quantity input or select when the page has one,
// then locates the add-to-cart button by its visible text or aria-label.
type quantityAdapter struct {
	inputSelector  string
	selectSelector string
	scanSelector   string
	buttonText     string // lower case
}

func (a quantityAdapter) AddToCart(ctx context.Context, dom DOM, quantity int, s step) (Result, error) {
	set, err := a.setQuantity(ctx, dom, quantity)
	if err != nil {
		return Result{}, err
	}

	btn, err := a.findButton(ctx, dom)
	if err != nil {
		return Result{}, err
	}
	found, err := usable(ctx, btn)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return failure(ErrButtonNotFound), nil
	}

	clicks := quantity
	if set {
		clicks = 1
	}
	if err := clickN(ctx, btn, clicks, s); err != nil {
		return Result{}, err
	}
	return ok(), nil
}

// setQuantity writes quantity into the first quantity input, falling back to
// a quantity select. It reports whether a control was found.
func (a quantityAdapter) setQuantity(ctx context.Context, dom DOM, quantity int) (bool, error) {
	controls := []struct {
		selector string
		events   []string
	}{
		{a.inputSelector, []string{"input", "change"}},
		{a.selectSelector, []string{"change"}},
	}
	v := strconv.Itoa(quantity)
	for _, c := range controls {
		el, err := dom.QuerySelector(ctx, c.selector)
		if err != nil {
			return false, err
		}
		if el == nil {
			continue
		}
		if err := el.SetValue(ctx, v); err != nil {
			return false, fmt.Errorf("set quantity: %w", err)
		}
		for _, ev := range c.events {
			if err := el.Dispatch(ctx, ev); err != nil {
				return false, fmt.Errorf("dispatch %s: %w", ev, err)
			}
		}
		return true, nil
	}
	return false, nil
}

func (a quantityAdapter) findButton(ctx context.Context, dom DOM) (Element, error) {
	candidates, err := dom.QuerySelectorAll(ctx, a.scanSelector)
	if err != nil {
		return nil, err
	}
	for _, el := range candidates {
		text, err := el.Text(ctx)
		if err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(text), a.buttonText) {
			return el, nil
		}
		label, _, err := el.Attr(ctx, "aria-label")
		if err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(label), a.buttonText) {
			return el, nil
		}
	}
	return nil, nil
}
