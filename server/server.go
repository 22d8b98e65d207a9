// CLAUDE:SUMMARY HTTP API (chi) and MCP tools over an Agent: health, sites, background messages, cart sessions; bcrypt Basic auth.
// Package server exposes a running quickcart agent over HTTP and MCP.
//
//	POST /api/message   background actions (getQuantity, saveQuantity)
//	POST /api/cart      {url, quantity?} → popup Outcome
//	GET  /api/sites     supported sites
//	GET  /api/history   recorded add-to-cart attempts
//	     /mcp           MCP streamable HTTP
//
// /api/message is what bus.HTTPHandler on a remote agent talks to.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/quickcart/adapter"
	"github.com/hazyhaar/quickcart/agent"
	"github.com/hazyhaar/quickcart/bus"
	"github.com/hazyhaar/quickcart/config"
	"github.com/hazyhaar/quickcart/notify"
	"github.com/hazyhaar/quickcart/popup"
	"github.com/hazyhaar/quickcart/prefs"
	"github.com/hazyhaar/quickcart/shield"
)

// Version is reported by /health and the MCP implementation.
const Version = "1.0.0"

// Backend is what the server needs from an agent.
type Backend interface {
	AddToCart(ctx context.Context, req agent.AddRequest, view popup.View) (popup.Outcome, error)
	GetQuantity(ctx context.Context, url string) (prefs.Preference, error)
	SaveQuantity(ctx context.Context, url string, quantity int) (prefs.SaveResult, error)
	Quantities() map[string]prefs.Preference
	History(ctx context.Context, f notify.HistoryFilter) ([]notify.Event, error)
	Background() bus.Caller
	Sites() []adapter.Site
}

// Server serves one Backend.
type Server struct {
	backend Backend
	cfg     config.ServerConfig
	logger  *slog.Logger
	mcp     *mcp.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New builds a Server and registers its MCP tools.
func New(b Backend, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{backend: b, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "quickcart",
		Version: Version,
	}, nil)
	s.RegisterMCP(s.mcp)
	return s
}

// MCP returns the MCP server, e.g. to run it over stdio.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.cfg.MaxBody) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	})

	r.Group(func(r chi.Router) {
		if s.cfg.PasswordHash != "" {
			r.Use(basicAuth(s.cfg.User, s.cfg.PasswordHash))
		}
		r.Get("/api/sites", s.handleSites)
		r.Get("/api/history", s.handleHistory)
		r.Post("/api/message", s.handleMessage)
		r.Post("/api/cart", s.handleCart)

		mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
		r.Handle("/mcp", mcpHandler)
		r.Handle("/mcp/*", mcpHandler)
	})
	return r
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("server: stopped")
	return nil
}

// siteInfo is the wire form of adapter.Site.
type siteInfo struct {
	Name         string `json:"name"`
	Host         string `json:"host"`
	ClickDelayMS int64  `json:"click_delay_ms"`
}

func (s *Server) sites() []siteInfo {
	return lo.Map(s.backend.Sites(), func(st adapter.Site, _ int) siteInfo {
		return siteInfo{Name: st.Name, Host: st.Host, ClickDelayMS: st.ClickDelay.Milliseconds()}
	})
}

func (s *Server) handleSites(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sites())
}

// handleMessage relays one background message. Page actions are refused:
// they belong to a tab, not to the background context.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	var msg bus.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid message: %w", err))
		return
	}
	switch msg.Action {
	case bus.ActionGetQuantity, bus.ActionSaveQuantity:
	case bus.ActionPerformAddToCart:
		writeError(w, http.StatusBadRequest, errors.New("performAddToCart is a page action; use /api/cart"))
		return
	default:
		writeError(w, http.StatusNotFound, &bus.ErrActionNotFound{Action: msg.Action})
		return
	}

	resp, err := s.backend.Background().Call(r.Context(), msg.Action, body)
	if err != nil {
		shield.GetLogger(r.Context()).Error("server: message", "action", msg.Action, "error", err)
		var nf *bus.ErrActionNotFound
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f := notify.HistoryFilter{
		Site:         r.URL.Query().Get("site"),
		FailuresOnly: r.URL.Query().Get("failures") == "true",
		Limit:        queryInt(r, "limit", 50),
	}
	evs, err := s.backend.History(r.Context(), f)
	if errors.Is(err, agent.ErrNoHistory) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if evs == nil {
		evs = []notify.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	var req agent.AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	out, err := s.backend.AddToCart(r.Context(), req, nil)
	if err != nil {
		shield.GetLogger(r.Context()).Error("server: cart", "url", req.URL, "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// basicAuth checks HTTP Basic credentials against a bcrypt hash.
func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="quickcart"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
