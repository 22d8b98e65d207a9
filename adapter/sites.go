// CLAUDE:SUMMARY Fixed, ordered table of the five supported retailers and the pure hostname matcher.
package adapter

import (
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Settle delays after each add-to-cart click.
const (
	ClickDelayGameStop = 400 * time.Millisecond
	ClickDelayDefault  = 500 * time.Millisecond
)

// Site describes one supported retailer.
type Site struct {
	Name       string        `json:"name"`
	Host       string        `json:"host"` // matched as a substring of the hostname
	ClickDelay time.Duration `json:"click_delay"`
	Adapter    Adapter       `json:"-"`
}

// sites is ordered; the first match wins.
var sites = []Site{
	{
		Name:       "GameStop",
		Host:       "gamestop.com",
		ClickDelay: ClickDelayGameStop,
		Adapter: quantityAdapter{
			inputSelector:  `input[name*="qty"], input[id*="qty"], input[name*="quantity"], input[type="number"]`,
			selectSelector: `select[name*="qty"], select[name*="quantity"]`,
			scanSelector:   `button, [role="button"], a.button`,
			buttonText:     "add to cart",
		},
	},
	{
		Name:       "Best Buy",
		Host:       "bestbuy.com",
		ClickDelay: ClickDelayDefault,
		Adapter:    repeatAdapter{buttonSelector: `button[class*="add-to-cart"], button[class*="addToCart"]`},
	},
	{
		Name:       "Target",
		Host:       "target.com",
		ClickDelay: ClickDelayDefault,
		Adapter:    repeatAdapter{buttonSelector: `button[data-test*="addToCart"]`},
	},
	{
		Name:       "Walmart",
		Host:       "walmart.com",
		ClickDelay: ClickDelayDefault,
		Adapter:    repeatAdapter{buttonSelector: `button[class*="add-to-cart"], button[data-automation-id*="add-to-cart"]`},
	},
	{
		Name:       "Pokémon Center",
		Host:       "pokemoncenter.com",
		ClickDelay: ClickDelayDefault,
		Adapter:    repeatAdapter{buttonSelector: `button[name="add"]`},
	},
}

// Sites returns the supported sites in dispatch order.
func Sites() []Site {
	out := make([]Site, len(sites))
	copy(out, sites)
	return out
}

// Match returns the first site whose Host is a substring of hostname.
func Match(hostname string) (Site, bool) {
	return lo.Find(sites, func(s Site) bool {
		return strings.Contains(hostname, s.Host)
	})
}

// Hostname extracts the hostname of rawURL, or "" when it has none.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Supported reports whether rawURL's hostname matches a supported site.
func Supported(rawURL string) bool {
	_, ok := Match(Hostname(rawURL))
	return ok
}
