package v1

import (
	"context"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/query"
)

// HistoryService abstracts the read side for handler testing.
// *query.Service satisfies this interface.
type HistoryService interface {
	Chats(ctx context.Context, account string) []domain.ChatInfo
	Dates(ctx context.Context, key domain.ChatKey) []string
	MessagesForDate(ctx context.Context, key domain.ChatKey, date string) []*domain.LogEntry
	RecentSummaries(ctx context.Context, key domain.ChatKey, n int) []query.Summary
	Filtered(ctx context.Context, key domain.ChatKey, n int, kinds ...domain.SignalKind) []*domain.LogEntry
	Search(ctx context.Context, text string) []domain.SearchHit
	SearchInChat(ctx context.Context, key domain.ChatKey, text string) []domain.SearchHit
}

// HistoryClearer removes stored history. *logmanager.Manager satisfies this
// interface.
type HistoryClearer interface {
	Clear(ctx context.Context) error
	ClearAccount(ctx context.Context, account string) error
	ClearChat(ctx context.Context, key domain.ChatKey) error
}

// FavouriteStore abstracts the favourite contacts registry.
// *favourite.Registry satisfies this interface.
type FavouriteStore interface {
	List(ctx context.Context) (map[string][]string, error)
	Add(ctx context.Context, account, contact string) (bool, error)
	Remove(ctx context.Context, account, contact string) (bool, error)
}
