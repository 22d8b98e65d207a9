package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/quickcart/agent"
	"github.com/hazyhaar/quickcart/browser"
	"github.com/hazyhaar/quickcart/config"
	"github.com/hazyhaar/quickcart/dbopen"
	"github.com/hazyhaar/quickcart/notify"
	"github.com/hazyhaar/quickcart/popup"
	"github.com/hazyhaar/quickcart/prefs"
	"github.com/hazyhaar/quickcart/storage"
)

const bestBuyURL = "https://www.bestbuy.com/site/console/6543.p"

var testImpl = &mcp.Implementation{Name: "quickcart-test", Version: "0.1.0"}

// pages serves fixed HTML and keeps every page it opened.
type pages struct {
	html map[string]string

	mu     sync.Mutex
	opened map[string]*browser.HTMLPage
}

func (p *pages) opener() browser.Opener {
	inner := browser.HTMLOpener(func(_ context.Context, url string) (io.ReadCloser, error) {
		h, ok := p.html[url]
		if !ok {
			return nil, errors.New("net::ERR_NAME_NOT_RESOLVED")
		}
		return io.NopCloser(strings.NewReader(h)), nil
	})
	return func(ctx context.Context, url string) (browser.Page, error) {
		pg, err := inner(ctx, url)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.opened[url] = pg.(*browser.HTMLPage)
		p.mu.Unlock()
		return pg, nil
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testAgent(t *testing.T, web *pages, mutate func(*config.Config), extra ...agent.Option) *agent.Agent {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	if web == nil {
		web = &pages{}
	}
	web.opened = make(map[string]*browser.HTMLPage)
	opts := append([]agent.Option{
		agent.WithLogger(quiet()),
		agent.WithKV(storage.NewMemory()),
		agent.WithOpener(web.opener()),
		agent.WithSleeper(func(context.Context, time.Duration) error { return nil }),
		agent.WithAfterFunc(func(_ time.Duration, f func()) { f() }),
	}, extra...)
	a, err := agent.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testServer(t *testing.T, b Backend, cfg config.ServerConfig) *httptest.Server {
	t.Helper()
	if cfg.MaxBody == 0 {
		cfg.MaxBody = 64 << 10
	}
	ts := httptest.NewServer(New(b, cfg, WithLogger(quiet())).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func TestHealth(t *testing.T) {
	ts := testServer(t, testAgent(t, nil, nil), config.ServerConfig{})
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestSites(t *testing.T) {
	ts := testServer(t, testAgent(t, nil, nil), config.ServerConfig{})
	resp, err := http.Get(ts.URL + "/api/sites")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []siteInfo
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("sites = %d, want 5", len(got))
	}
	if got[0].Name != "GameStop" || got[0].ClickDelayMS != 400 {
		t.Errorf("first site = %+v", got[0])
	}
	if got[1].ClickDelayMS != 500 {
		t.Errorf("Best Buy delay = %d, want 500", got[1].ClickDelayMS)
	}
}

func TestMessage_SaveThenGet(t *testing.T) {
	a := testAgent(t, nil, nil)
	ts := testServer(t, a, config.ServerConfig{})

	resp, body := post(t, ts.URL+"/api/message", `{"action":"saveQuantity","url":"`+bestBuyURL+`","quantity":5}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d: %s", resp.StatusCode, body)
	}
	var sr prefs.SaveResult
	if err := json.Unmarshal([]byte(body), &sr); err != nil || !sr.Success {
		t.Fatalf("save = %s (%v)", body, err)
	}

	_, body = post(t, ts.URL+"/api/message", `{"action":"getQuantity","url":"`+bestBuyURL+`"}`)
	var p prefs.Preference
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatal(err)
	}
	if p.Quantity != 5 {
		t.Fatalf("quantity = %d, want 5", p.Quantity)
	}
	if got := a.Quantities()[bestBuyURL].Quantity; got != 5 {
		t.Fatalf("store quantity = %d, want 5", got)
	}
}

func TestMessage_Rejects(t *testing.T) {
	ts := testServer(t, testAgent(t, nil, nil), config.ServerConfig{})

	cases := []struct {
		name string
		body string
		want int
	}{
		{"page action", `{"action":"performAddToCart","quantity":2}`, http.StatusBadRequest},
		{"unknown action", `{"action":"checkout"}`, http.StatusNotFound},
		{"bad json", `{"action":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := post(t, ts.URL+"/api/message", tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tc.want, body)
			}
		})
	}
}

func TestMessage_BodyLimit(t *testing.T) {
	ts := testServer(t, testAgent(t, nil, nil), config.ServerConfig{MaxBody: 64})
	big := `{"action":"getQuantity","url":"https://www.bestbuy.com/` + strings.Repeat("a", 200) + `"}`
	resp, _ := post(t, ts.URL+"/api/message", big)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestCart(t *testing.T) {
	web := &pages{html: map[string]string{
		bestBuyURL: `<html><head><title>Console</title></head><body>
			<button class="add-to-cart-button">Add to Cart</button></body></html>`,
	}}
	a := testAgent(t, web, nil)
	ts := testServer(t, a, config.ServerConfig{})

	resp, body := post(t, ts.URL+"/api/cart", `{"url":"`+bestBuyURL+`","quantity":2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out popup.Outcome
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Label != popup.LabelAdded || out.Quantity != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	if n := web.opened[bestBuyURL].Doc.Clicks("button"); n != 2 {
		t.Fatalf("clicks = %d, want 2", n)
	}
	if got := a.Quantities()[bestBuyURL].Quantity; got != 2 {
		t.Fatalf("remembered = %d, want 2", got)
	}
}

func TestCart_Errors(t *testing.T) {
	ts := testServer(t, testAgent(t, nil, nil), config.ServerConfig{})

	resp, _ := post(t, ts.URL+"/api/cart", `{"quantity":2}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url: status = %d, want 400", resp.StatusCode)
	}
	resp, _ = post(t, ts.URL+"/api/cart", `{"url":"`+bestBuyURL+`"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("unreachable page: status = %d, want 502", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ts := testServer(t, testAgent(t, nil, nil), config.ServerConfig{User: "ops", PasswordHash: string(hash)})

	get := func(path, user, pass string) int {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get("/health", "", ""); code != http.StatusOK {
		t.Errorf("health without auth = %d, want 200", code)
	}
	if code := get("/api/sites", "", ""); code != http.StatusUnauthorized {
		t.Errorf("no credentials = %d, want 401", code)
	}
	if code := get("/api/sites", "ops", "wrong"); code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", code)
	}
	if code := get("/api/sites", "root", "s3cret"); code != http.StatusUnauthorized {
		t.Errorf("wrong user = %d, want 401", code)
	}
	if code := get("/api/sites", "ops", "s3cret"); code != http.StatusOK {
		t.Errorf("valid credentials = %d, want 200", code)
	}
}

// A second agent whose background is this server's /api/message shares
// its preferences.
func TestRemoteBackground(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	home := testAgent(t, nil, nil)
	ts := testServer(t, home, config.ServerConfig{User: "agent", PasswordHash: string(hash)})

	satellite := testAgent(t, nil, func(c *config.Config) {
		c.Background.Remote = ts.URL + "/api/message"
		c.Background.User = "agent"
		c.Background.Password = "pw"
	})
	ctx := context.Background()

	if r, err := satellite.SaveQuantity(ctx, bestBuyURL, 7); err != nil || !r.Success {
		t.Fatalf("remote save = %+v, %v", r, err)
	}
	if got := home.Quantities()[bestBuyURL].Quantity; got != 7 {
		t.Fatalf("home store = %d, want 7", got)
	}
	p, err := satellite.GetQuantity(ctx, bestBuyURL)
	if err != nil {
		t.Fatal(err)
	}
	if p.Quantity != 7 {
		t.Fatalf("remote get = %d, want 7", p.Quantity)
	}
	if len(satellite.Quantities()) != 0 {
		t.Errorf("satellite local store = %v, want empty", satellite.Quantities())
	}
}

func TestHistory(t *testing.T) {
	web := &pages{html: map[string]string{
		bestBuyURL: `<html><body><button class="add-to-cart-button">Add to Cart</button></body></html>`,
	}}
	kv, err := storage.NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	a := testAgent(t, web, nil, agent.WithKV(kv))
	ts := testServer(t, a, config.ServerConfig{})

	if resp, body := post(t, ts.URL+"/api/cart", `{"url":"`+bestBuyURL+`"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("cart status = %d: %s", resp.StatusCode, body)
	}

	var evs []notify.Event
	deadline := time.Now().Add(2 * time.Second)
	for len(evs) == 0 && time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/history?site=Best+Buy&limit=5")
		if err != nil {
			t.Fatal(err)
		}
		json.NewDecoder(resp.Body).Decode(&evs)
		resp.Body.Close()
		if len(evs) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if len(evs) != 1 || !evs[0].Success || evs[0].Quantity != 1 {
		t.Fatalf("history = %+v", evs)
	}
}

func TestHistory_MemoryStorage(t *testing.T) {
	ts := testServer(t, testAgent(t, nil, nil), config.ServerConfig{})
	resp, err := http.Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
