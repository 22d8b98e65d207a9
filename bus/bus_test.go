package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func echo(_ context.Context, payload []byte) ([]byte, error) { return payload, nil }

func TestRouter_LocalCall(t *testing.T) {
	r := NewRouter()
	r.RegisterLocal("echo", echo)

	resp, err := r.Call(context.Background(), "echo", []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp) != "hello" {
		t.Fatalf("got %q, want %q", resp, "hello")
	}
}

func TestRouter_ActionNotFound(t *testing.T) {
	r := NewRouter()
	_, err := r.Call(context.Background(), "nope", nil)
	var anf *ErrActionNotFound
	if !errors.As(err, &anf) {
		t.Fatalf("expected ErrActionNotFound, got %T: %v", err, err)
	}
	if anf.Action != "nope" {
		t.Fatalf("got action %q", anf.Action)
	}
}

func TestRouter_RemoteShadowsLocal(t *testing.T) {
	r := NewRouter()
	r.RegisterLocal("a", func(context.Context, []byte) ([]byte, error) { return []byte("local"), nil })
	r.RegisterRemote("a", func(context.Context, []byte) ([]byte, error) { return []byte("remote"), nil })

	resp, err := r.Call(context.Background(), "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "remote" {
		t.Fatalf("got %q, want remote", resp)
	}
}

func TestRouter_Actions(t *testing.T) {
	r := NewRouter()
	r.RegisterLocal("b", echo)
	r.RegisterLocal("a", echo)
	r.RegisterRemote("a", echo)

	got := r.Actions()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Actions() = %v", got)
	}
}

func TestLoop_SerialFIFO(t *testing.T) {
	var (
		mu       sync.Mutex
		order    []int
		inFlight int32
		maxSeen  int32
	)
	r := NewRouter()
	r.RegisterLocal("work", func(_ context.Context, payload []byte) ([]byte, error) {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxSeen) {
			atomic.StoreInt32(&maxSeen, n)
		}
		time.Sleep(2 * time.Millisecond)
		var v int
		json.Unmarshal(payload, &v)
		mu.Lock()
		order = append(order, v)
		mu.Unlock()
		atomic.AddInt32(&inFlight, -1)
		return payload, nil
	})

	l := NewLoop("test", r)
	defer l.Close()

	// Sequential submissions from one caller keep their order.
	for i := 0; i < 5; i++ {
		p, _ := json.Marshal(i)
		if _, err := l.Call(context.Background(), "work", p); err != nil {
			t.Fatal(err)
		}
	}

	// Concurrent submissions never overlap inside the loop.
	var wg sync.WaitGroup
	for i := 5; i < 15; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, _ := json.Marshal(i)
			l.Call(context.Background(), "work", p)
		}(i)
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("max concurrent handlers = %d, want 1", maxSeen)
	}
	for i := 0; i < 5; i++ {
		if order[i] != i {
			t.Fatalf("order[%d] = %d, want %d", i, order[i], i)
		}
	}
	if len(order) != 15 {
		t.Fatalf("handled %d messages, want 15", len(order))
	}
}

func TestLoop_ClosedRejects(t *testing.T) {
	l := NewLoop("test", NewRouter())
	l.Close()
	l.Close() // idempotent

	_, err := l.Call(context.Background(), "x", nil)
	if !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("got %v, want ErrLoopClosed", err)
	}
}

func TestLoop_ContextCancelWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	r := NewRouter()
	r.RegisterLocal("block", func(context.Context, []byte) ([]byte, error) {
		<-release
		return nil, nil
	})
	l := NewLoop("test", r)
	defer func() {
		close(release)
		l.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Call(ctx, "block", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}

func TestSend_RoundTrip(t *testing.T) {
	r := NewRouter()
	r.RegisterLocal(ActionGetQuantity, func(_ context.Context, payload []byte) ([]byte, error) {
		var m Message
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"url": m.URL, "quantity": 4})
	})

	var out struct {
		URL      string `json:"url"`
		Quantity int    `json:"quantity"`
	}
	err := Send(context.Background(), r, NewMessage(ActionGetQuantity, "https://x.test/p", 0), &out)
	if err != nil {
		t.Fatal(err)
	}
	if out.URL != "https://x.test/p" || out.Quantity != 4 {
		t.Fatalf("got %+v", out)
	}
}

func TestNewMessage_QuantityEncoding(t *testing.T) {
	data, _ := json.Marshal(NewMessage(ActionSaveQuantity, "u", 3))
	if string(data) != `{"action":"saveQuantity","url":"u","quantity":3}` {
		t.Fatalf("got %s", data)
	}
	data, _ = json.Marshal(NewMessage(ActionGetQuantity, "u", 0))
	if string(data) != `{"action":"getQuantity","url":"u"}` {
		t.Fatalf("got %s", data)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(slog.Default())(func(context.Context, []byte) ([]byte, error) {
		panic("boom")
	})
	_, err := h(context.Background(), nil)
	var p *ErrPanic
	if !errors.As(err, &p) {
		t.Fatalf("expected ErrPanic, got %T: %v", err, err)
	}
	if p.Value != "boom" {
		t.Fatalf("panic value = %v", p.Value)
	}
}

func TestTimeout(t *testing.T) {
	h := Timeout(10 * time.Millisecond)(func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if _, err := h(context.Background(), nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) HandlerMiddleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, p []byte) ([]byte, error) {
				order = append(order, name)
				return next(ctx, p)
			}
		}
	}
	Chain(mw("a"), mw("b"), Logging(slog.Default(), "x"))(echo)(context.Background(), nil)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v", order)
	}
}

func TestHTTPHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "quickcart" || p != "secret" {
			t.Errorf("basic auth = %q %q %v", u, p, ok)
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	defer srv.Close()

	h := HTTPHandler(srv.URL, WithBasicAuth("quickcart", "secret"))
	resp, err := h(context.Background(), []byte(`{"action":"getQuantity"}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != `{"action":"getQuantity"}` {
		t.Fatalf("got %s", resp)
	}
}

func TestHTTPHandler_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := HTTPHandler(srv.URL)(context.Background(), nil)
	var st *ErrRemoteStatus
	if !errors.As(err, &st) {
		t.Fatalf("expected ErrRemoteStatus, got %T: %v", err, err)
	}
	if st.Status != http.StatusBadGateway || st.Body != "nope" {
		t.Fatalf("got %+v", st)
	}
}
