package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/quickcart/adapter"
	"github.com/hazyhaar/quickcart/browser"
	"github.com/hazyhaar/quickcart/config"
	"github.com/hazyhaar/quickcart/dbopen"
	"github.com/hazyhaar/quickcart/notify"
	"github.com/hazyhaar/quickcart/popup"
	"github.com/hazyhaar/quickcart/storage"
)

// fakeWeb serves fixed HTML and remembers every page it opened.
type fakeWeb struct {
	html map[string]string

	mu     sync.Mutex
	pages  map[string]*browser.HTMLPage
	sleeps []time.Duration
	resets []time.Duration
}

func newFakeWeb(html map[string]string) *fakeWeb {
	return &fakeWeb{html: html, pages: make(map[string]*browser.HTMLPage)}
}

func (w *fakeWeb) opener() browser.Opener {
	inner := browser.HTMLOpener(func(_ context.Context, url string) (io.ReadCloser, error) {
		h, ok := w.html[url]
		if !ok {
			return nil, errors.New("net::ERR_NAME_NOT_RESOLVED")
		}
		return io.NopCloser(strings.NewReader(h)), nil
	})
	return func(ctx context.Context, url string) (browser.Page, error) {
		p, err := inner(ctx, url)
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		w.pages[url] = p.(*browser.HTMLPage)
		w.mu.Unlock()
		return p, nil
	}
}

func (w *fakeWeb) sleep(_ context.Context, d time.Duration) error {
	w.mu.Lock()
	w.sleeps = append(w.sleeps, d)
	w.mu.Unlock()
	return nil
}

func (w *fakeWeb) after(d time.Duration, f func()) {
	w.mu.Lock()
	w.resets = append(w.resets, d)
	w.mu.Unlock()
	f()
}

type memSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *memSink) Notify(_ context.Context, ev notify.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *memSink) Close() error { return nil }

func newTestAgent(t *testing.T, web *fakeWeb, extra ...Option) (*Agent, *storage.Memory) {
	t.Helper()
	kv := storage.NewMemory()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	opts := append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithKV(kv),
		WithOpener(web.opener()),
		WithSleeper(web.sleep),
		WithAfterFunc(web.after),
	}, extra...)
	a, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a, kv
}

func intp(n int) *int { return &n }

const bestBuyURL = "https://www.bestbuy.com/product/123"

func TestBestBuySession(t *testing.T) {
	web := newFakeWeb(map[string]string{
		bestBuyURL: `<html><head><title>Console - Best Buy</title></head><body>
			<button class="c-button add-to-cart-button">Add to Cart</button></body></html>`,
	})
	sink := &memSink{}
	a, _ := newTestAgent(t, web, WithSinks(sink))
	ctx := context.Background()

	if p, _ := a.GetQuantity(ctx, bestBuyURL); p.Quantity != 1 {
		t.Fatalf("fresh quantity = %d, want 1", p.Quantity)
	}

	view := &popup.RecordingView{}
	out, err := a.AddToCart(ctx, AddRequest{URL: bestBuyURL, Quantity: intp(3)}, view)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Label != popup.LabelAdded || out.Quantity != 3 {
		t.Fatalf("outcome = %+v", out)
	}

	if p, _ := a.GetQuantity(ctx, bestBuyURL); p.Quantity != 3 {
		t.Fatalf("saved quantity = %d, want 3", p.Quantity)
	}
	if n := web.pages[bestBuyURL].Doc.Clicks("button"); n != 3 {
		t.Fatalf("clicks = %d, want 3", n)
	}
	if len(web.sleeps) != 3 || web.sleeps[0] != adapter.ClickDelayDefault {
		t.Fatalf("settle delays = %v", web.sleeps)
	}
	if len(web.resets) != 1 || web.resets[0] != popup.ResetAfterSuccess {
		t.Fatalf("label resets = %v", web.resets)
	}

	st := view.State()
	want := []string{popup.LabelIdle, popup.LabelBusy, popup.LabelAdded, popup.LabelIdle}
	if strings.Join(st.Labels, "|") != strings.Join(want, "|") {
		t.Fatalf("labels = %v, want %v", st.Labels, want)
	}
	if st.Title != "Console - Best Buy" {
		t.Fatalf("title = %q", st.Title)
	}

	if len(sink.events) != 1 || sink.events[0].Site != "Best Buy" || !sink.events[0].Success {
		t.Fatalf("events = %+v", sink.events)
	}
}

func TestRememberedQuantityIsUsed(t *testing.T) {
	web := newFakeWeb(map[string]string{
		bestBuyURL: `<button class="add-to-cart">Add</button>`,
	})
	a, _ := newTestAgent(t, web)
	ctx := context.Background()
	a.SaveQuantity(ctx, bestBuyURL, 2)

	out, err := a.AddToCart(ctx, AddRequest{URL: bestBuyURL}, nil)
	if err != nil || !out.Success || out.Quantity != 2 {
		t.Fatalf("outcome = %+v, err = %v", out, err)
	}
	if n := web.pages[bestBuyURL].Doc.Clicks("button"); n != 2 {
		t.Fatalf("clicks = %d, want 2", n)
	}
}

func TestUnsupportedSite(t *testing.T) {
	url := "https://www.example.com"
	web := newFakeWeb(map[string]string{url: `<button class="add-to-cart">Add</button>`})
	a, kv := newTestAgent(t, web)

	view := &popup.RecordingView{}
	out, err := a.AddToCart(context.Background(), AddRequest{URL: url, Quantity: intp(4)}, view)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success || out.Error != popup.MsgUnsupported {
		t.Fatalf("outcome = %+v", out)
	}
	st := view.State()
	if st.Error != popup.MsgUnsupported || st.Shown || len(st.Labels) != 0 {
		t.Fatalf("view = %+v, want empty state", st)
	}
	if doc := web.pages[url].Doc; doc.Queries() != 0 || len(doc.Ops()) != 0 {
		t.Fatal("unsupported page was touched")
	}
	if _, found, _ := kv.Get(context.Background(), "productSettings"); found {
		t.Fatal("nothing should be saved for unsupported sites")
	}
}

func TestGameStopQuantityInput(t *testing.T) {
	url := "https://www.gamestop.com/consoles/switch/123.html"
	web := newFakeWeb(map[string]string{url: `
		<input type="number" name="quantity" value="1">
		<button class="add-to-cart btn">Add to Cart</button>`})
	a, _ := newTestAgent(t, web)

	out, err := a.AddToCart(context.Background(), AddRequest{URL: url, Quantity: intp(5)}, nil)
	if err != nil || !out.Success {
		t.Fatalf("outcome = %+v, err = %v", out, err)
	}
	doc := web.pages[url].Doc
	if v := doc.Value("input"); v != "5" {
		t.Fatalf("input = %q, want 5", v)
	}
	if ev := doc.Events("input"); strings.Join(ev, ",") != "input,change" {
		t.Fatalf("events = %v", ev)
	}
	if n := doc.Clicks("button"); n != 1 {
		t.Fatalf("clicks = %d, want exactly 1", n)
	}
	if len(web.sleeps) != 1 || web.sleeps[0] != adapter.ClickDelayGameStop {
		t.Fatalf("settle delays = %v", web.sleeps)
	}
}

func TestQuantityClampedBeforeSave(t *testing.T) {
	web := newFakeWeb(map[string]string{bestBuyURL: `<button class="add-to-cart">Add</button>`})
	a, _ := newTestAgent(t, web)
	ctx := context.Background()

	out, _ := a.AddToCart(ctx, AddRequest{URL: bestBuyURL, Quantity: intp(15)}, nil)
	if out.Quantity != 10 {
		t.Fatalf("quantity = %d, want 10", out.Quantity)
	}
	if p, _ := a.GetQuantity(ctx, bestBuyURL); p.Quantity != 10 {
		t.Fatalf("saved = %d, want 10", p.Quantity)
	}
}

func TestButtonMissingIsOutcomeNotError(t *testing.T) {
	url := "https://www.walmart.com/ip/42"
	web := newFakeWeb(map[string]string{url: `<button>Buy now</button>`})
	a, _ := newTestAgent(t, web)

	out, err := a.AddToCart(context.Background(), AddRequest{URL: url}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success || out.Label != "❌ "+adapter.ErrButtonNotFound {
		t.Fatalf("outcome = %+v", out)
	}
	if len(web.resets) != 1 || web.resets[0] != popup.ResetAfterFailure {
		t.Fatalf("resets = %v", web.resets)
	}
}

func TestOpenFailure(t *testing.T) {
	a, _ := newTestAgent(t, newFakeWeb(nil))
	if _, err := a.AddToCart(context.Background(), AddRequest{URL: "https://www.target.com/x"}, nil); err == nil {
		t.Fatal("expected open error")
	}
}

func TestSaveQuantityStoresAsGiven(t *testing.T) {
	a, _ := newTestAgent(t, newFakeWeb(nil))
	ctx := context.Background()
	if r, err := a.SaveQuantity(ctx, "u", 25); err != nil || !r.Success {
		t.Fatalf("save = %+v, %v", r, err)
	}
	if q := a.Quantities()["u"].Quantity; q != 25 {
		t.Fatalf("stored = %d, want 25 (no clamp at the store)", q)
	}
}

func TestBadWebhookConfig(t *testing.T) {
	cfg, _ := config.Load("")
	cfg.Notify.Webhook = "http://127.0.0.1/hook"
	_, err := New(context.Background(), cfg, WithKV(storage.NewMemory()), WithOpener(newFakeWeb(nil).opener()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if !errors.Is(err, notify.ErrUnsafeURL) {
		t.Fatalf("err = %v, want ErrUnsafeURL", err)
	}
}

func TestHistoryWithSQLite(t *testing.T) {
	web := newFakeWeb(map[string]string{
		bestBuyURL: `<html><head><title>Console</title></head><body>
			<button class="add-to-cart-button">Add to Cart</button></body></html>`,
	})
	db, err := storage.NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := newTestAgent(t, web, WithKV(db))
	ctx := context.Background()

	if _, err := a.AddToCart(ctx, AddRequest{URL: bestBuyURL, Quantity: intp(2)}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddToCart(ctx, AddRequest{URL: "https://example.com/x"}, nil); err == nil {
		t.Fatal("expected open error for unknown page")
	}

	// Inserts are flushed in the background.
	var evs []notify.Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		evs, err = a.History(ctx, notify.HistoryFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(evs) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(evs) != 1 {
		t.Fatalf("history = %+v, want one event", evs)
	}
	if ev := evs[0]; !ev.Success || ev.Site != "Best Buy" || ev.Quantity != 2 || ev.Title != "Console" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestHistoryNeedsSQLite(t *testing.T) {
	a, _ := newTestAgent(t, newFakeWeb(nil))
	if _, err := a.History(context.Background(), notify.HistoryFilter{}); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("err = %v, want ErrNoHistory", err)
	}
}

func TestForeignWriteReloadsStore(t *testing.T) {
	db, err := storage.NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Storage.WatchInterval = 10 * time.Millisecond
	cfg.Notify.NoHistory = true
	a, err := New(context.Background(), cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithKV(db),
		WithOpener(newFakeWeb(nil).opener()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })

	time.Sleep(40 * time.Millisecond) // let the watcher take its seed

	// Written behind the agent's back, as another quickcart process would.
	ctx := context.Background()
	if err := db.Set(ctx, "productSettings", []byte(`{"`+bestBuyURL+`":{"quantity":5}}`)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, _ := a.GetQuantity(ctx, bestBuyURL); p.Quantity == 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("quantity not reloaded: %+v", a.Quantities())
}

func TestConcurrentSessionsKeepTheirTabs(t *testing.T) {
	const n = 20
	pages := make(map[string]string)
	bestBuy := func(i int) string { return fmt.Sprintf("%s?s=%d", bestBuyURL, i) }
	target := func(i int) string { return fmt.Sprintf("https://www.target.com/p/figure/-/A-%d", i) }
	for i := 0; i < n; i++ {
		pages[bestBuy(i)] = `<button class="add-to-cart-button">Add to Cart</button>`
		pages[target(i)] = `<button data-test="shippingButton-addToCart">Add to cart</button>`
	}
	web := newFakeWeb(pages)
	a, _ := newTestAgent(t, web)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		for _, req := range []AddRequest{
			{URL: bestBuy(i), Quantity: intp(2)},
			{URL: target(i), Quantity: intp(1)},
		} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := a.AddToCart(ctx, req, nil)
				if err != nil || !out.Success || out.Quantity != *req.Quantity {
					t.Errorf("%s: outcome = %+v, err = %v", req.URL, out, err)
				}
			}()
		}
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if c := web.pages[bestBuy(i)].Doc.Clicks("button"); c != 2 {
			t.Errorf("%s: clicks = %d, want 2", bestBuy(i), c)
		}
		if c := web.pages[target(i)].Doc.Clicks("button"); c != 1 {
			t.Errorf("%s: clicks = %d, want 1", target(i), c)
		}
	}
}

func TestCancelledCallerDoesNotStopSequence(t *testing.T) {
	web := newFakeWeb(map[string]string{
		bestBuyURL: `<button class="add-to-cart-button">Add to Cart</button>`,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps int
	settle := func(sctx context.Context, d time.Duration) error {
		sleeps++
		cancel() // the HTTP client hangs up after the first click
		return sctx.Err()
	}
	a, _ := newTestAgent(t, web, WithSleeper(settle))

	out, err := a.AddToCart(ctx, AddRequest{URL: bestBuyURL, Quantity: intp(3)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Err() == nil {
		t.Fatal("caller context should be cancelled")
	}
	if !out.Success || out.Quantity != 3 {
		t.Fatalf("outcome = %+v", out)
	}
	if n := web.pages[bestBuyURL].Doc.Clicks("button"); n != 3 || sleeps != 3 {
		t.Fatalf("clicks = %d, sleeps = %d; want 3 and 3", n, sleeps)
	}
}

func TestCloseStopsSequence(t *testing.T) {
	web := newFakeWeb(map[string]string{
		bestBuyURL: `<button class="add-to-cart-button">Add to Cart</button>`,
	})
	started := make(chan struct{})
	var once sync.Once
	settle := func(sctx context.Context, d time.Duration) error {
		once.Do(func() { close(started) })
		<-sctx.Done()
		return sctx.Err()
	}
	a, _ := newTestAgent(t, web, WithSleeper(settle))

	done := make(chan popup.Outcome, 1)
	go func() {
		out, _ := a.AddToCart(context.Background(), AddRequest{URL: bestBuyURL, Quantity: intp(5)}, nil)
		done <- out
	}()
	<-started

	closed := make(chan struct{})
	go func() {
		a.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a running sequence")
	}
	if out := <-done; out.Success {
		t.Fatalf("outcome = %+v, want failure after Close", out)
	}
}
