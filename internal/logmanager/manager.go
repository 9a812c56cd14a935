// Package logmanager fans log entries out to every writable store and merges
// reads from every readable one.
package logmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/store"
)

type Option func(*Manager)

// WithEnabled sets the initial logging switch. Managers are enabled by default.
func WithEnabled(enabled bool) Option {
	return func(m *Manager) { m.enabled.Store(enabled) }
}

// Manager holds the registered stores in registration order.
type Manager struct {
	mu      sync.RWMutex
	stores  []domain.Store
	enabled atomic.Bool
}

func New(opts ...Option) *Manager {
	m := &Manager{}
	m.enabled.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register appends s. Registering the same store twice is allowed; reads
// deduplicate entries by log id.
func (m *Manager) Register(s domain.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores = append(m.stores, s)
	log.Info().Str("store", s.Name()).Bool("readable", s.Readable()).Bool("writable", s.Writable()).Msg("logmanager: store registered")
}

// Stores returns a snapshot of the registered stores.
func (m *Manager) Stores() []domain.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Store(nil), m.stores...)
}

func (m *Manager) Enabled() bool { return m.enabled.Load() }

func (m *Manager) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

func (m *Manager) readable() []domain.Store {
	var out []domain.Store
	for _, s := range m.Stores() {
		if s.Readable() {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) writable() []domain.Store {
	var out []domain.Store
	for _, s := range m.Stores() {
		if s.Writable() {
			out = append(out, s)
		}
	}
	return out
}

// Write hands entry to every writable store in registration order. A failing
// store never stops the others; failures are collected into a *WriteError.
func (m *Manager) Write(ctx context.Context, entry *domain.LogEntry) error {
	if entry == nil {
		return fmt.Errorf("logmanager.Manager.Write: nil entry: %w", domain.ErrInvalidEntry)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("logmanager.Manager.Write: %w", err)
	}
	if !m.Enabled() {
		return nil
	}

	targets := m.writable()
	if len(targets) == 0 {
		log.Debug().Str("chat", entry.Key().String()).Msg("logmanager: no writable store, entry dropped")
		return nil
	}

	werr := &WriteError{Attempted: len(targets)}
	for _, s := range targets {
		if err := s.AddEntry(ctx, entry); err != nil {
			log.Warn().Err(err).Str("store", s.Name()).Str("log_id", entry.LogID).Msg("logmanager: add entry failed")
			werr.Failures = append(werr.Failures, StoreError{Store: s.Name(), Err: err})
		}
	}
	if len(werr.Failures) > 0 {
		return werr
	}
	return nil
}

// gather runs fn on every readable store concurrently and returns the results
// in registration order. A store that fails contributes the zero value.
func gather[T any](ctx context.Context, m *Manager, op string, fn func(context.Context, domain.Store) (T, error)) []T {
	stores := m.readable()
	results := make([]T, len(stores))

	var g errgroup.Group
	for i, s := range stores {
		g.Go(func() error {
			v, err := fn(ctx, s)
			if err != nil {
				log.Warn().Err(err).Str("store", s.Name()).Str("op", op).Msg("logmanager: read failed")
				return nil
			}
			results[i] = v
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (m *Manager) Exists(ctx context.Context, key domain.ChatKey) bool {
	found := gather(ctx, m, "exists", func(ctx context.Context, s domain.Store) (bool, error) {
		return s.Exists(ctx, key)
	})
	for _, ok := range found {
		if ok {
			return true
		}
	}
	return false
}

// Dates returns the union of every store's dates, ascending.
func (m *Manager) Dates(ctx context.Context, key domain.ChatKey) []string {
	perStore := gather(ctx, m, "dates", func(ctx context.Context, s domain.Store) ([]string, error) {
		return s.Dates(ctx, key)
	})

	seen := make(map[string]struct{})
	var out []string
	for _, dates := range perStore {
		for _, d := range dates {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// Chats merges chat lists. When several stores know a chat, the one
// registered first is reported.
func (m *Manager) Chats(ctx context.Context, account string) []domain.ChatInfo {
	perStore := gather(ctx, m, "chats", func(ctx context.Context, s domain.Store) ([]domain.ChatInfo, error) {
		return s.Chats(ctx, account)
	})

	type chatID struct {
		id   string
		room bool
	}
	seen := make(map[chatID]struct{})
	var out []domain.ChatInfo
	for _, chats := range perStore {
		for _, c := range chats {
			k := chatID{id: c.ChatID, room: c.IsChatroom}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) MessagesForDate(ctx context.Context, key domain.ChatKey, date string) []*domain.LogEntry {
	return mergeEntries(gather(ctx, m, "messages_for_date", func(ctx context.Context, s domain.Store) ([]*domain.LogEntry, error) {
		return s.MessagesForDate(ctx, key, date)
	}))
}

func (m *Manager) RecentMessages(ctx context.Context, key domain.ChatKey) []*domain.LogEntry {
	return mergeEntries(gather(ctx, m, "recent_messages", func(ctx context.Context, s domain.Store) ([]*domain.LogEntry, error) {
		return s.RecentMessages(ctx, key)
	}))
}

// FilteredMessages returns the newest limit entries accepted by filter
// across all stores, oldest first.
func (m *Manager) FilteredMessages(ctx context.Context, key domain.ChatKey, limit int, filter domain.EntryFilter) []*domain.LogEntry {
	if limit <= 0 {
		return nil
	}
	merged := mergeEntries(gather(ctx, m, "filtered_messages", func(ctx context.Context, s domain.Store) ([]*domain.LogEntry, error) {
		return s.FilteredMessages(ctx, key, limit, filter)
	}))
	return store.Tail(merged, limit)
}

func (m *Manager) Search(ctx context.Context, text string) []domain.SearchHit {
	return concatHits(gather(ctx, m, "search", func(ctx context.Context, s domain.Store) ([]domain.SearchHit, error) {
		return s.Search(ctx, text)
	}))
}

func (m *Manager) SearchInChat(ctx context.Context, key domain.ChatKey, text string) []domain.SearchHit {
	return concatHits(gather(ctx, m, "search_in_chat", func(ctx context.Context, s domain.Store) ([]domain.SearchHit, error) {
		return s.SearchInChat(ctx, key, text)
	}))
}

func (m *Manager) Clear(ctx context.Context) error {
	return m.clear("Clear", func(c domain.Clearer) error { return c.Clear(ctx) })
}

func (m *Manager) ClearAccount(ctx context.Context, account string) error {
	return m.clear("ClearAccount", func(c domain.Clearer) error { return c.ClearAccount(ctx, account) })
}

func (m *Manager) ClearChat(ctx context.Context, key domain.ChatKey) error {
	return m.clear("ClearChat", func(c domain.Clearer) error { return c.ClearChat(ctx, key) })
}

func (m *Manager) clear(op string, fn func(domain.Clearer) error) error {
	var errs []error
	for _, s := range m.writable() {
		c, ok := s.(domain.Clearer)
		if !ok {
			continue
		}
		if err := fn(c); err != nil {
			errs = append(errs, StoreError{Store: s.Name(), Err: err})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("logmanager.Manager.%s: %w", op, err)
	}
	return nil
}

// mergeEntries flattens per-store results, drops repeated log ids and orders
// the rest by timestamp. Ties keep registration order.
func mergeEntries(perStore [][]*domain.LogEntry) []*domain.LogEntry {
	seen := make(map[string]struct{})
	var out []*domain.LogEntry
	for _, entries := range perStore {
		for _, e := range entries {
			if e.LogID != "" {
				if _, ok := seen[e.LogID]; ok {
					continue
				}
				seen[e.LogID] = struct{}{}
			}
			out = append(out, e)
		}
	}
	store.SortEntries(out)
	return out
}

func concatHits(perStore [][]domain.SearchHit) []domain.SearchHit {
	var out []domain.SearchHit
	for _, hits := range perStore {
		out = append(out, hits...)
	}
	return out
}
