package bus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Router resolves actions to handlers. Remote handlers take priority over
// local ones, so a CLI popup can route background actions to a running
// quickcart server while keeping page actions in-process.
type Router struct {
	mu     sync.RWMutex
	local  map[string]Handler
	remote map[string]Handler
	logger *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates an empty Router.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		local:  make(map[string]Handler),
		remote: make(map[string]Handler),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers an in-process handler for action.
func (r *Router) RegisterLocal(action string, h Handler) {
	r.mu.Lock()
	r.local[action] = h
	r.mu.Unlock()
}

// RegisterRemote registers a remote handler (typically HTTPHandler) for
// action. It shadows any local handler.
func (r *Router) RegisterRemote(action string, h Handler) {
	r.mu.Lock()
	r.remote[action] = h
	r.mu.Unlock()
}

// Actions lists every routable action, sorted.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.local)+len(r.remote))
	for a := range r.local {
		seen[a] = struct{}{}
	}
	for a := range r.remote {
		seen[a] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Call dispatches a message: remote handler, then local handler, then
// ErrActionNotFound.
func (r *Router) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	remoteH := r.remote[action]
	localH := r.local[action]
	r.mu.RUnlock()

	if remoteH != nil {
		r.logger.DebugContext(ctx, "bus: routing remote", "action", action)
		return remoteH(ctx, payload)
	}
	if localH != nil {
		r.logger.DebugContext(ctx, "bus: routing local", "action", action)
		return localH(ctx, payload)
	}
	return nil, &ErrActionNotFound{Action: action}
}
