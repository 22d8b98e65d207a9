// Package notify delivers add-to-cart results to output backends: stdout
// JSON lines, Slack-compatible webhooks and an SQLite history.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Event is one finished add-to-cart attempt.
type Event struct {
	Time     time.Time `json:"time"`
	URL      string    `json:"url"`
	Site     string    `json:"site,omitempty"`
	Title    string    `json:"title,omitempty"`
	Quantity int       `json:"quantity"`
	Success  bool      `json:"success"`
	Label    string    `json:"label"`
	Error    string    `json:"error,omitempty"`
}

// Text is the one-line human summary.
func (e Event) Text() string {
	name := e.Title
	if name == "" {
		name = e.URL
	}
	if e.Success {
		return fmt.Sprintf("quickcart: added %d × %s (%s)", e.Quantity, name, e.Site)
	}
	return fmt.Sprintf("quickcart: add to cart failed for %s: %s", name, e.Error)
}

// Sink is an output backend.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
	Close() error
}
