// CLAUDE:SUMMARY Offline adapter.DOM over parsed HTML: cascadia selectors, recorded clicks/values/events for tests and dry runs.
// Package htmldom implements adapter.DOM on a parsed HTML document.
//
// It has no script engine: clicks, value writes and dispatched events are
// recorded on the document so callers can inspect what an adapter did.
package htmldom

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/quickcart/adapter"
)

// Op is one recorded mutation.
type Op struct {
	Kind  string // "click", "value" or "event"
	Node  *html.Node
	Value string // new value, or event type
}

// Document is a parsed page. It is safe for concurrent use.
type Document struct {
	root *html.Node

	mu      sync.Mutex
	ops     []Op
	queries int
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// MustParseString parses s and panics on error. Intended for tests.
func MustParseString(s string) *Document {
	d, err := Parse(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Document) QuerySelector(_ context.Context, sel string) (adapter.Element, error) {
	s, err := d.compile(sel)
	if err != nil {
		return nil, err
	}
	n := s.MatchFirst(d.root)
	if n == nil {
		return nil, nil
	}
	return &Element{doc: d, node: n}, nil
}

func (d *Document) QuerySelectorAll(_ context.Context, sel string) ([]adapter.Element, error) {
	s, err := d.compile(sel)
	if err != nil {
		return nil, err
	}
	nodes := s.MatchAll(d.root)
	out := make([]adapter.Element, len(nodes))
	for i, n := range nodes {
		out[i] = &Element{doc: d, node: n}
	}
	return out, nil
}

func (d *Document) compile(sel string) (cascadia.Selector, error) {
	d.mu.Lock()
	d.queries++
	d.mu.Unlock()
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("htmldom: selector %q: %w", sel, err)
	}
	return s, nil
}

func (d *Document) record(op Op) {
	d.mu.Lock()
	d.ops = append(d.ops, op)
	d.mu.Unlock()
}

// Ops returns the recorded mutations in order.
func (d *Document) Ops() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Op, len(d.ops))
	copy(out, d.ops)
	return out
}

// Queries is the number of selector lookups performed.
func (d *Document) Queries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries
}

// Clicks counts recorded clicks on elements matching sel.
func (d *Document) Clicks(sel string) int {
	c := 0
	for _, op := range d.matching(sel) {
		if op.Kind == "click" {
			c++
		}
	}
	return c
}

// Events lists event types dispatched on elements matching sel.
func (d *Document) Events(sel string) []string {
	var out []string
	for _, op := range d.matching(sel) {
		if op.Kind == "event" {
			out = append(out, op.Value)
		}
	}
	return out
}

// Value returns the current value of the first element matching sel.
func (d *Document) Value(sel string) string {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return ""
	}
	n := s.MatchFirst(d.root)
	if n == nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return value(n)
}

func (d *Document) matching(sel string) []Op {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil
	}
	var out []Op
	for _, op := range d.Ops() {
		if s.Match(op.Node) {
			out = append(out, op)
		}
	}
	return out
}

// Element wraps one node of a Document.
type Element struct {
	doc  *Document
	node *html.Node
}

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.node }

func (e *Element) Text(context.Context) (string, error) {
	var b strings.Builder
	collectText(e.node, &b)
	return strings.Join(strings.Fields(b.String()), " "), nil
}

func (e *Element) Attr(_ context.Context, name string) (string, bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, ok := attr(e.node, name)
	return v, ok, nil
}

// Disabled mirrors the disabled property: the attribute's presence.
func (e *Element) Disabled(context.Context) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	_, ok := attr(e.node, "disabled")
	return ok, nil
}

func (e *Element) SetValue(_ context.Context, v string) error {
	e.doc.mu.Lock()
	if e.node.DataAtom == atom.Select {
		selectOption(e.node, v)
	} else {
		setAttr(e.node, "value", v)
	}
	e.doc.mu.Unlock()
	e.doc.record(Op{Kind: "value", Node: e.node, Value: v})
	return nil
}

func (e *Element) Dispatch(_ context.Context, eventType string) error {
	e.doc.record(Op{Kind: "event", Node: e.node, Value: eventType})
	return nil
}

func (e *Element) Click(context.Context) error {
	e.doc.record(Op{Kind: "click", Node: e.node})
	return nil
}

func collectText(n *html.Node, b *strings.Builder) {
	switch {
	case n.Type == html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, v string) {
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = v
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: v})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// selectOption marks the option whose value is v as selected. No match
// leaves the select without a selection, like assigning an unknown value.
func selectOption(sel *html.Node, v string) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Option {
			if optionValue(n) == v {
				setAttr(n, "selected", "")
			} else {
				removeAttr(n, "selected")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel)
}

func optionValue(n *html.Node) string {
	if v, ok := attr(n, "value"); ok {
		return v
	}
	var b strings.Builder
	collectText(n, &b)
	return strings.TrimSpace(b.String())
}

func value(n *html.Node) string {
	if n.DataAtom != atom.Select {
		v, _ := attr(n, "value")
		return v
	}
	var found string
	var walk func(*html.Node) bool
	walk = func(c *html.Node) bool {
		if c.Type == html.ElementNode && c.DataAtom == atom.Option {
			if _, ok := attr(c, "selected"); ok {
				found = optionValue(c)
				return true
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			if walk(k) {
				return true
			}
		}
		return false
	}
	walk(n)
	return found
}

// Page binds a Document to a hostname.
type Page struct {
	Host string
	Doc  *Document
}

// NewPage derives the hostname from rawURL.
func NewPage(rawURL string, doc *Document) Page {
	return Page{Host: adapter.Hostname(rawURL), Doc: doc}
}

func (p Page) Hostname() string { return p.Host }
func (p Page) DOM() adapter.DOM { return p.Doc }
