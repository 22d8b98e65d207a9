package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/hazyhaar/quickcart/bus"
)

// ContentHandler answers performAddToCart inside page. The quantity is
// parsed leniently: a number or numeric string, defaulting and floored to 1.
func ContentHandler(d *Dispatcher, page Page) bus.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var msg bus.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("adapter: decode message: %w", err)
		}
		res := d.Perform(ctx, page.Hostname(), page.DOM(), ParseQuantity(msg.Quantity))
		return json.Marshal(res)
	}
}

// ParseQuantity decodes a loosely typed quantity. Missing, null, non-numeric
// and sub-1 values yield 1; fractional numbers truncate toward zero.
func ParseQuantity(raw json.RawMessage) int {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return 1
	}
	n := 1
	switch x := v.(type) {
	case float64:
		n = int(x)
	case string:
		if p, ok := ParseInt(x); ok {
			n = p
		}
	}
	return max(n, 1)
}

// ParseInt parses the leading base-10 integer of s after optional leading
// whitespace and sign, ignoring any trailing characters. ok is false when
// no digit is found.
func ParseInt(s string) (n int, ok bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}
