package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/quickcart/idgen"
	"github.com/hazyhaar/quickcart/kit"
)

// Loop is one context's event loop: a single goroutine that executes calls
// one at a time, in arrival order, against the wrapped Caller. Each Call has
// exactly one resolution point: its reply, ctx cancellation, or
// ErrLoopClosed.
//
// A handler must not Close its own Loop.
type Loop struct {
	name   string
	next   Caller
	jobs   chan job
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	newID  idgen.Generator
	logger *slog.Logger
}

type job struct {
	ctx     context.Context
	action  string
	payload []byte
	reply   chan reply
}

type reply struct {
	resp []byte
	err  error
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets a custom logger.
func WithLoopLogger(l *slog.Logger) LoopOption {
	return func(lp *Loop) { lp.logger = l }
}

// NewLoop starts a loop named name (for logs) that forwards to next.
func NewLoop(name string, next Caller, opts ...LoopOption) *Loop {
	l := &Loop{
		name:   name,
		next:   next,
		jobs:   make(chan job),
		done:   make(chan struct{}),
		newID:  idgen.Short(8),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Call enqueues a message and waits for its response.
func (l *Loop) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	if kit.GetRequestID(ctx) == "" {
		ctx = kit.WithRequestID(ctx, l.newID())
	}
	j := job{ctx: ctx, action: action, payload: payload, reply: make(chan reply, 1)}

	select {
	case l.jobs <- j:
	case <-l.done:
		return nil, ErrLoopClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting messages and waits for the in-flight one to finish.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case j := <-l.jobs:
			l.logger.DebugContext(j.ctx, "bus: dispatch",
				"loop", l.name,
				"action", j.action,
				"request_id", kit.GetRequestID(j.ctx))
			resp, err := l.next.Call(j.ctx, j.action, j.payload)
			j.reply <- reply{resp: resp, err: err}
		}
	}
}
