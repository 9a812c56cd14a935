// Package query answers history questions on top of the merged log manager view.
package query

import (
	"context"
	"slices"
	"sort"

	"github.com/gosuda/chatlog/internal/domain"
)

// Reader is the merged read view the service needs; *logmanager.Manager
// satisfies it.
type Reader interface {
	Dates(ctx context.Context, key domain.ChatKey) []string
	MessagesForDate(ctx context.Context, key domain.ChatKey, date string) []*domain.LogEntry
	FilteredMessages(ctx context.Context, key domain.ChatKey, limit int, filter domain.EntryFilter) []*domain.LogEntry
	Chats(ctx context.Context, account string) []domain.ChatInfo
	Search(ctx context.Context, text string) []domain.SearchHit
	SearchInChat(ctx context.Context, key domain.ChatKey, text string) []domain.SearchHit
}

// Summary is the compact form returned for "last messages" queries.
type Summary struct {
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

type Service struct {
	reader Reader
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// LastN returns up to n of the newest entries of key in chronological order.
// Days are visited newest first and each day is read from its end, so only
// the days needed to reach n are fetched.
func (s *Service) LastN(ctx context.Context, key domain.ChatKey, n int) []*domain.LogEntry {
	if n <= 0 {
		return []*domain.LogEntry{}
	}

	dates := s.reader.Dates(ctx, key)
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	out := make([]*domain.LogEntry, 0, n)
	for _, date := range dates {
		if len(out) >= n {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}

		day := s.reader.MessagesForDate(ctx, key, date)
		for i := len(day) - 1; i >= 0 && len(out) < n; i-- {
			out = append(out, day[i])
		}
	}

	slices.Reverse(out)
	return out
}

// RecentSummaries is LastN reduced to sender, body and time.
func (s *Service) RecentSummaries(ctx context.Context, key domain.ChatKey, n int) []Summary {
	entries := s.LastN(ctx, key, n)
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		sender := domain.UnknownEntity().ID
		if e.Sender != nil {
			sender = e.Sender.ID
		}
		out = append(out, Summary{SenderID: sender, Body: e.Body, Timestamp: e.Timestamp})
	}
	return out
}

// Filtered returns the newest n entries of the given signal kinds, oldest
// first. No kinds means every kind.
func (s *Service) Filtered(ctx context.Context, key domain.ChatKey, n int, kinds ...domain.SignalKind) []*domain.LogEntry {
	if n <= 0 {
		return []*domain.LogEntry{}
	}

	var filter domain.EntryFilter
	if len(kinds) > 0 {
		filter = func(e *domain.LogEntry) bool { return slices.Contains(kinds, e.Signal) }
	}
	return nonNil(s.reader.FilteredMessages(ctx, key, n, filter))
}

func (s *Service) Dates(ctx context.Context, key domain.ChatKey) []string {
	dates := s.reader.Dates(ctx, key)
	if dates == nil {
		return []string{}
	}
	return dates
}

func (s *Service) MessagesForDate(ctx context.Context, key domain.ChatKey, date string) []*domain.LogEntry {
	return nonNil(s.reader.MessagesForDate(ctx, key, date))
}

func (s *Service) Chats(ctx context.Context, account string) []domain.ChatInfo {
	chats := s.reader.Chats(ctx, account)
	if chats == nil {
		return []domain.ChatInfo{}
	}
	return chats
}

func (s *Service) Search(ctx context.Context, text string) []domain.SearchHit {
	return nonNilHits(s.reader.Search(ctx, text))
}

func (s *Service) SearchInChat(ctx context.Context, key domain.ChatKey, text string) []domain.SearchHit {
	return nonNilHits(s.reader.SearchInChat(ctx, key, text))
}

// nonNil keeps JSON responses as [] rather than null.
func nonNil(entries []*domain.LogEntry) []*domain.LogEntry {
	if entries == nil {
		return []*domain.LogEntry{}
	}
	return entries
}

func nonNilHits(hits []domain.SearchHit) []domain.SearchHit {
	if hits == nil {
		return []domain.SearchHit{}
	}
	return hits
}
