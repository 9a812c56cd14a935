// Package memory is a volatile Store kept entirely in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/store"
)

const DefaultRecentWindow = 20

// Store keeps entries per chat in arrival order.
type Store struct {
	store.Capability

	mu     sync.RWMutex
	chats  map[domain.ChatKey][]*domain.LogEntry
	recent int
}

var (
	_ domain.Store   = (*Store)(nil)
	_ domain.Clearer = (*Store)(nil)
)

func New(capability store.Capability, recentWindow int) *Store {
	if recentWindow <= 0 {
		recentWindow = DefaultRecentWindow
	}
	return &Store{
		Capability: capability,
		chats:      make(map[domain.ChatKey][]*domain.LogEntry),
		recent:     recentWindow,
	}
}

// Factory adapts New to the store registry.
func Factory(recentWindow int) store.Factory {
	return func(_ context.Context, spec store.Spec) (domain.Store, error) {
		return New(store.CapabilityOf(spec), recentWindow), nil
	}
}

func (s *Store) Exists(_ context.Context, key domain.ChatKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats[key]) > 0, nil
}

func (s *Store) AddEntry(_ context.Context, entry *domain.LogEntry) error {
	if !s.Writable() {
		return fmt.Errorf("memory.Store.AddEntry(%s): %w", s.Name(), domain.ErrReadOnly)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("memory.Store.AddEntry: %w", err)
	}

	cp := *entry
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[entry.Key()] = append(s.chats[entry.Key()], &cp)
	return nil
}

func (s *Store) Dates(_ context.Context, key domain.ChatKey) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var dates []string
	for _, e := range s.chats[key] {
		d := e.Date()
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}
	return dates, nil
}

func (s *Store) MessagesForDate(_ context.Context, key domain.ChatKey, date string) ([]*domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.LogEntry
	for _, e := range s.chats[key] {
		if e.Date() == date {
			out = append(out, e)
		}
	}
	store.SortEntries(out)
	return out, nil
}

func (s *Store) RecentMessages(_ context.Context, key domain.ChatKey) ([]*domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]*domain.LogEntry(nil), s.chats[key]...)
	store.SortEntries(out)
	return store.Tail(out, s.recent), nil
}

func (s *Store) Chats(_ context.Context, account string) ([]domain.ChatInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ChatInfo
	for key, entries := range s.chats {
		if key.Account != account || len(entries) == 0 {
			continue
		}
		out = append(out, domain.ChatInfo{
			Account:      key.Account,
			ChatID:       key.ChatID,
			IsChatroom:   key.IsChatroom,
			Store:        s.Name(),
			MessageCount: int64(len(entries)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *Store) Search(_ context.Context, text string) ([]domain.SearchHit, error) {
	m := store.NewMatcher(text)
	if m.Empty() {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]domain.ChatKey, 0, len(s.chats))
	for key := range s.chats {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var hits []domain.SearchHit
	for _, key := range keys {
		hits = append(hits, s.searchLocked(key, m)...)
	}
	return hits, nil
}

func (s *Store) SearchInChat(_ context.Context, key domain.ChatKey, text string) ([]domain.SearchHit, error) {
	m := store.NewMatcher(text)
	if m.Empty() {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchLocked(key, m), nil
}

// searchLocked reports one hit per matching day.
func (s *Store) searchLocked(key domain.ChatKey, m store.Matcher) []domain.SearchHit {
	var hits []domain.SearchHit
	seen := make(map[string]struct{})
	for _, e := range s.chats[key] {
		d := e.Date()
		if _, ok := seen[d]; ok || !m.Match(e.Body) {
			continue
		}
		seen[d] = struct{}{}
		hits = append(hits, domain.SearchHit{
			Account:    key.Account,
			ChatID:     key.ChatID,
			IsChatroom: key.IsChatroom,
			Ref:        "memory:" + s.Name() + ":" + key.String(),
			Date:       d,
		})
	}
	return hits
}

func (s *Store) FilteredMessages(ctx context.Context, key domain.ChatKey, limit int, filter domain.EntryFilter) ([]*domain.LogEntry, error) {
	out, err := store.FilterByDay(ctx, s, key, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("memory.Store.FilteredMessages: %w", err)
	}
	return out, nil
}

func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = make(map[domain.ChatKey][]*domain.LogEntry)
	return nil
}

func (s *Store) ClearAccount(_ context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.chats {
		if key.Account == account {
			delete(s.chats, key)
		}
	}
	return nil
}

func (s *Store) ClearChat(_ context.Context, key domain.ChatKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, key)
	return nil
}

// Len returns the number of entries held for key.
func (s *Store) Len(key domain.ChatKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats[key])
}

// String is used in log fields.
func (s *Store) String() string {
	return "memory:" + s.Name()
}
