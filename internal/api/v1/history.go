package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/query"
	"github.com/gosuda/chatlog/internal/server/middleware"
)

// ChatInput addresses one conversation.
type ChatInput struct {
	Account  string `query:"account" required:"true" minLength:"1" doc:"Account the chat belongs to"`
	ChatID   string `query:"chat_id" required:"true" minLength:"1" doc:"Contact or room identifier"`
	Chatroom bool   `query:"chatroom" doc:"Whether chat_id names a room"`
}

func (in ChatInput) key() domain.ChatKey {
	return domain.ChatKey{Account: in.Account, ChatID: in.ChatID, IsChatroom: in.Chatroom}
}

type ListChatsInput struct {
	Account string `query:"account" required:"true" minLength:"1"`
}

type ListChatsOutput struct {
	Body []domain.ChatInfo
}

type ListDatesOutput struct {
	Body []string
}

type MessagesForDateInput struct {
	ChatInput
	Date string `query:"date" required:"true" pattern:"^[0-9]{8}$" doc:"Day as YYYYMMDD (UTC)"`
}

type EntriesOutput struct {
	Body []*domain.LogEntry
}

type LastMessagesInput struct {
	ChatInput
	Count int `query:"count" default:"20" minimum:"0" maximum:"1000"`
}

type LastMessagesOutput struct {
	Body []query.Summary
}

type FilteredInput struct {
	ChatInput
	Count  int    `query:"count" default:"20" minimum:"1" maximum:"1000"`
	Signal string `query:"signal" default:"message" enum:"message,sent,send_error,lost_message,status_changed,call_ended"`
}

type SearchInput struct {
	Query string `query:"q" required:"true" minLength:"1"`
}

type SearchInChatInput struct {
	ChatInput
	Query string `query:"q" required:"true" minLength:"1"`
}

type SearchOutput struct {
	Body []domain.SearchHit
}

type ClearHistoryInput struct {
	Account  string `query:"account" doc:"Limit clearing to this account"`
	ChatID   string `query:"chat_id" doc:"Limit clearing to this chat; requires account"`
	Chatroom bool   `query:"chatroom"`
}

func requireAccount(ctx context.Context, account string) error {
	if !middleware.CanRead(ctx, account) {
		return huma.Error403Forbidden("account not permitted")
	}
	return nil
}

func RegisterHistoryRoutes(api huma.API, svc HistoryService, clearer HistoryClearer) {
	huma.Register(api, huma.Operation{
		OperationID: "list-chats",
		Method:      http.MethodGet,
		Path:        "/chats",
		Summary:     "List conversations with stored history",
		Tags:        []string{"History"},
	}, func(ctx context.Context, input *ListChatsInput) (*ListChatsOutput, error) {
		if err := requireAccount(ctx, input.Account); err != nil {
			return nil, err
		}
		return &ListChatsOutput{Body: svc.Chats(ctx, input.Account)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dates",
		Method:      http.MethodGet,
		Path:        "/history/dates",
		Summary:     "List days with history for a chat",
		Tags:        []string{"History"},
	}, func(ctx context.Context, input *ChatInput) (*ListDatesOutput, error) {
		if err := requireAccount(ctx, input.Account); err != nil {
			return nil, err
		}
		return &ListDatesOutput{Body: svc.Dates(ctx, input.key())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/history/messages",
		Summary:     "Get every entry of a chat for one day",
		Tags:        []string{"History"},
	}, func(ctx context.Context, input *MessagesForDateInput) (*EntriesOutput, error) {
		if err := requireAccount(ctx, input.Account); err != nil {
			return nil, err
		}
		if _, err := domain.ParseDate(input.Date); err != nil {
			return nil, huma.Error400BadRequest("invalid date", err)
		}
		return &EntriesOutput{Body: svc.MessagesForDate(ctx, input.key(), input.Date)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "last-messages",
		Method:      http.MethodGet,
		Path:        "/history/last",
		Summary:     "Get the newest messages of a chat as summaries",
		Tags:        []string{"History"},
	}, func(ctx context.Context, input *LastMessagesInput) (*LastMessagesOutput, error) {
		if err := requireAccount(ctx, input.Account); err != nil {
			return nil, err
		}
		return &LastMessagesOutput{Body: svc.RecentSummaries(ctx, input.key(), input.Count)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "filtered-messages",
		Method:      http.MethodGet,
		Path:        "/history/filtered",
		Summary:     "Get the newest entries of one signal kind",
		Tags:        []string{"History"},
	}, func(ctx context.Context, input *FilteredInput) (*EntriesOutput, error) {
		if err := requireAccount(ctx, input.Account); err != nil {
			return nil, err
		}
		return &EntriesOutput{Body: svc.Filtered(ctx, input.key(), input.Count, domain.SignalKind(input.Signal))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodGet,
		Path:        "/search",
		Summary:     "Search every conversation",
		Tags:        []string{"Search"},
	}, func(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
		hits := svc.Search(ctx, input.Query)
		allowed := hits[:0:0]
		for _, h := range hits {
			if middleware.CanRead(ctx, h.Account) {
				allowed = append(allowed, h)
			}
		}
		return &SearchOutput{Body: allowed}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-in-chat",
		Method:      http.MethodGet,
		Path:        "/history/search",
		Summary:     "Search one conversation",
		Tags:        []string{"Search"},
	}, func(ctx context.Context, input *SearchInChatInput) (*SearchOutput, error) {
		if err := requireAccount(ctx, input.Account); err != nil {
			return nil, err
		}
		return &SearchOutput{Body: svc.SearchInChat(ctx, input.key(), input.Query)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-history",
		Method:        http.MethodDelete,
		Path:          "/history",
		Summary:       "Clear stored history",
		Description:   "Without account every store is cleared; with account only that account; with chat_id only that chat.",
		Tags:          []string{"History"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *ClearHistoryInput) (*struct{}, error) {
		if !middleware.CanAdmin(ctx) {
			return nil, huma.Error403Forbidden("admin token required")
		}

		var err error
		switch {
		case input.Account == "" && input.ChatID != "":
			return nil, huma.Error400BadRequest("chat_id requires account")
		case input.Account == "":
			err = clearer.Clear(ctx)
		case input.ChatID == "":
			err = clearer.ClearAccount(ctx, input.Account)
		default:
			err = clearer.ClearChat(ctx, domain.ChatKey{Account: input.Account, ChatID: input.ChatID, IsChatroom: input.Chatroom})
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to clear history", err)
		}
		return nil, nil
	})
}
