// CLAUDE:SUMMARY Popup session controller: load product info for the active tab, persist quantity edits, trigger add-to-cart and drive transient button labels.
// Package popup is the interactive front of quickcart. A Controller renders
// one session for the active tab through a View, talks to the background
// context over a bus.Caller and to the page context through Tabs.
package popup

import (
	"context"
	"errors"
	"time"
)

// Quantity bounds of the input control.
const (
	MinQuantity = 1
	MaxQuantity = 10
)

// Button labels.
const (
	LabelIdle   = "🛒 Add to Cart"
	LabelBusy   = "⏳ Adding..."
	LabelAdded  = "✅ Added!"
	LabelError  = "❌ Error"
	LabelFailed = "❌ Failed"
)

// Empty-state messages.
const (
	MsgNoActiveTab = "No active tab found"
	MsgUnsupported = "This site is not supported yet"
)

// Label reset delays.
const (
	ResetAfterSuccess = 2500 * time.Millisecond
	ResetAfterFailure = 2000 * time.Millisecond
)

// ErrNoActiveTab is returned by Tabs when no tab is focused.
var ErrNoActiveTab = errors.New("popup: no active tab")

// Tab is the active-tab introspection result.
type Tab struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Tabs is the host's tab API.
type Tabs interface {
	ActiveTab(ctx context.Context) (Tab, error)
	// SendMessage delivers a message to the page context of tab id.
	SendMessage(ctx context.Context, tabID, action string, payload []byte) ([]byte, error)
}

// View renders popup state.
type View interface {
	ShowError(msg string)
	ShowProduct(title string, quantity int)
	SetQuantity(quantity int)
	SetButton(label string, enabled bool)
}

// Outcome summarises one add-to-cart attempt.
type Outcome struct {
	Success  bool   `json:"success"`
	Label    string `json:"label"`
	Error    string `json:"error,omitempty"`
	Quantity int    `json:"quantity"`
}
