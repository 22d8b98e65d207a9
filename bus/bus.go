// Package bus is the message-passing boundary between quickcart's three
// contexts: popup, background and page. It mirrors the host messaging
// primitive of a browser extension: a JSON message with an "action" field
// goes in, one JSON response comes back.
//
//	router := bus.NewRouter()
//	store.Register(router) // saveQuantity, getQuantity
//	background := bus.NewLoop("background", router)
//	defer background.Close()
//
//	var resp prefs.Preference
//	err := bus.Send(ctx, background, bus.NewMessage(bus.ActionGetQuantity, u, 0), &resp)
//
// A Router resolves actions to handlers. A Loop serialises calls onto a
// single goroutine so handlers within one context never run concurrently.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Actions of the message protocol.
const (
	ActionSaveQuantity     = "saveQuantity"
	ActionGetQuantity      = "getQuantity"
	ActionPerformAddToCart = "performAddToCart"

	// ActionReloadPreferences re-reads the persisted mapping. It is sent by
	// the storage watcher only and is not served over HTTP.
	ActionReloadPreferences = "reloadPreferences"
)

// Handler is a transport-agnostic message handler: JSON in, JSON out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Caller delivers a message for an action and returns its single response.
// Router, Loop and remote transports all implement it.
type Caller interface {
	Call(ctx context.Context, action string, payload []byte) ([]byte, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, action string, payload []byte) ([]byte, error)

func (f CallerFunc) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	return f(ctx, action, payload)
}

// Message is the request envelope. Quantity is raw so that page-context
// handlers can apply their own lenient integer parsing.
type Message struct {
	Action   string          `json:"action"`
	URL      string          `json:"url,omitempty"`
	Quantity json.RawMessage `json:"quantity,omitempty"`
}

// NewMessage builds a Message with an integer quantity. q <= 0 omits it.
func NewMessage(action, url string, q int) Message {
	m := Message{Action: action, URL: url}
	if q > 0 {
		m.Quantity = json.RawMessage(fmt.Sprintf("%d", q))
	}
	return m
}

// Send marshals msg, calls c and decodes the response into out (if non-nil).
func Send(ctx context.Context, c Caller, msg Message, out any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", msg.Action, err)
	}
	resp, err := c.Call(ctx, msg.Action, payload)
	if err != nil {
		return err
	}
	if out == nil || len(resp) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("bus: decode %s response: %w", msg.Action, err)
	}
	return nil
}
