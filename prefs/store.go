// Package prefs is the background context's preference store: a durable
// mapping from exact page URL to a remembered add-to-cart quantity.
//
// The whole mapping lives in memory and is written back, in full, to a
// single storage key on every save. URLs are not normalised: a query string
// or a trailing slash makes a different key.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/hazyhaar/quickcart/bus"
	"github.com/hazyhaar/quickcart/storage"
)

// SettingsKey is the storage key holding the serialised mapping.
const SettingsKey = "productSettings"

// DefaultQuantity is returned for URLs with no saved preference.
const DefaultQuantity = 1

// Preference is the remembered setting for one URL.
type Preference struct {
	Quantity int `json:"quantity"`
}

// SaveResult is the response to a save.
type SaveResult struct {
	Success bool `json:"success"`
}

// Store owns the URL→Preference mapping.
type Store struct {
	kv     storage.KV
	key    string
	logger *slog.Logger

	mu       sync.RWMutex
	settings map[string]Preference

	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKey overrides SettingsKey.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// New creates an empty Store over kv. Call Start or Load to read the
// persisted mapping.
func New(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		key:      SettingsKey,
		logger:   slog.Default(),
		settings: make(map[string]Preference),
		ready:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start loads the persisted mapping in the background. Reads issued before
// the load completes see an empty mapping.
func (s *Store) Start(ctx context.Context) {
	go func() {
		if err := s.Load(ctx); err != nil {
			s.logger.Warn("prefs: initial load failed", "error", err)
		}
	}()
}

// Ready is closed once the first Load attempt has finished.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Load replaces the in-memory mapping with the persisted one. A missing key
// leaves the mapping empty. Once the store is registered on a loop, reload
// with ActionReloadPreferences so it cannot interleave with a save.
func (s *Store) Load(ctx context.Context) error {
	defer s.readyOnce.Do(func() { close(s.ready) })

	data, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("prefs: load: %w", err)
	}
	if !found {
		return nil
	}

	loaded := make(map[string]Preference)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("prefs: decode %s: %w", s.key, err)
	}

	s.mu.Lock()
	s.settings = loaded
	s.mu.Unlock()
	s.logger.Debug("prefs: loaded", "entries", len(loaded))
	return nil
}

// GetQuantity returns the remembered preference for url, or
// {Quantity: DefaultQuantity}. A stored quantity below 1 reads as 1. It
// never fails.
func (s *Store) GetQuantity(url string) Preference {
	s.mu.RLock()
	p, ok := s.settings[url]
	s.mu.RUnlock()
	if !ok || p.Quantity < 1 {
		return Preference{Quantity: DefaultQuantity}
	}
	return p
}

// SaveQuantity records quantity for url and persists the whole mapping.
// The value is stored as given. Persist failures are logged, not returned.
func (s *Store) SaveQuantity(ctx context.Context, url string, quantity int) SaveResult {
	s.mu.Lock()
	s.settings[url] = Preference{Quantity: quantity}
	data, err := json.Marshal(s.settings)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("prefs: encode failed", "error", err)
		return SaveResult{Success: true}
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.logger.Warn("prefs: persist failed", "url", url, "error", err)
	}
	return SaveResult{Success: true}
}

// Entries returns a copy of the mapping.
func (s *Store) Entries() map[string]Preference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.settings)
}

// Register installs the saveQuantity, getQuantity and reloadPreferences
// handlers on r.
func (s *Store) Register(r *bus.Router) {
	r.RegisterLocal(bus.ActionSaveQuantity, s.handleSave)
	r.RegisterLocal(bus.ActionGetQuantity, s.handleGet)
	r.RegisterLocal(bus.ActionReloadPreferences, s.handleReload)
}

func (s *Store) handleReload(ctx context.Context, _ []byte) ([]byte, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return json.Marshal(SaveResult{Success: true})
}

func (s *Store) handleSave(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		URL      string `json:"url"`
		Quantity int    `json:"quantity"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("prefs: saveQuantity: unmarshal: %w", err)
	}
	return json.Marshal(s.SaveQuantity(ctx, req.URL, req.Quantity))
}

func (s *Store) handleGet(_ context.Context, payload []byte) ([]byte, error) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("prefs: getQuantity: unmarshal: %w", err)
	}
	return json.Marshal(s.GetQuantity(req.URL))
}
