package domain

import "context"

// ChatInfo describes a conversation a store holds history for.
type ChatInfo struct {
	Account      string `json:"account"`
	ChatID       string `json:"chat_id"`
	IsChatroom   bool   `json:"is_chatroom"`
	Store        string `json:"store"`
	MessageCount int64  `json:"message_count,omitempty"`
}

// Key returns the conversation address of the chat.
func (c ChatInfo) Key() ChatKey {
	return ChatKey{Account: c.Account, ChatID: c.ChatID, IsChatroom: c.IsChatroom}
}

// SearchHit points at a day of a conversation that matched a search.
type SearchHit struct {
	Account    string `json:"account"`
	ChatID     string `json:"chat_id"`
	IsChatroom bool   `json:"is_chatroom"`
	Ref        string `json:"ref"`
	Date       string `json:"date"`
}

// EntryFilter selects entries for FilteredMessages. A nil filter accepts all.
type EntryFilter func(entry *LogEntry) bool

// Store is a persistence and query backend. Optional capabilities a store
// cannot serve return empty results, never errors.
type Store interface {
	Name() string
	Readable() bool
	Writable() bool

	Exists(ctx context.Context, key ChatKey) (bool, error)
	AddEntry(ctx context.Context, entry *LogEntry) error
	Dates(ctx context.Context, key ChatKey) ([]string, error)
	MessagesForDate(ctx context.Context, key ChatKey, date string) ([]*LogEntry, error)
	RecentMessages(ctx context.Context, key ChatKey) ([]*LogEntry, error)
	Chats(ctx context.Context, account string) ([]ChatInfo, error)
	Search(ctx context.Context, text string) ([]SearchHit, error)
	SearchInChat(ctx context.Context, key ChatKey, text string) ([]SearchHit, error)
	FilteredMessages(ctx context.Context, key ChatKey, limit int, filter EntryFilter) ([]*LogEntry, error)
}

// Clearer is implemented by stores that can delete history.
type Clearer interface {
	Clear(ctx context.Context) error
	ClearAccount(ctx context.Context, account string) error
	ClearChat(ctx context.Context, key ChatKey) error
}
