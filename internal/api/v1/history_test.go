package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/chatlog/internal/api/v1"
	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/query"
)

func newHistoryAPI(t *testing.T, clearer v1.HistoryClearer) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	v1.RegisterHistoryRoutes(api, historyService(t), clearer)
	return api
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

// ---------------------------------------------------------------------------
// GET /chats
// ---------------------------------------------------------------------------

func TestListChats(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		api := newHistoryAPI(t, nil)
		resp := api.GetCtx(readerCtx("acc"), "/chats?account=acc")
		require.Equal(t, http.StatusOK, resp.Code)

		chats := decode[[]domain.ChatInfo](t, resp.Body.Bytes())
		require.Len(t, chats, 2)
		assert.Equal(t, "bob@example.com", chats[0].ChatID)
		assert.EqualValues(t, 3, chats[0].MessageCount)
		assert.True(t, chats[1].IsChatroom)
	})

	t.Run("other_account_forbidden", func(t *testing.T) {
		t.Parallel()

		api := newHistoryAPI(t, nil)
		resp := api.GetCtx(readerCtx("someone-else"), "/chats?account=acc")
		assert.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("missing_account", func(t *testing.T) {
		t.Parallel()

		api := newHistoryAPI(t, nil)
		resp := api.Get("/chats")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /history/dates, /history/messages
// ---------------------------------------------------------------------------

func TestListDates(t *testing.T) {
	t.Parallel()

	api := newHistoryAPI(t, nil)

	resp := api.Get("/history/dates?account=acc&chat_id=bob@example.com")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"20240101", "20240102"}, decode[[]string](t, resp.Body.Bytes()))

	resp = api.Get("/history/dates?account=acc&chat_id=nobody")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decode[[]string](t, resp.Body.Bytes()))
}

func TestMessagesForDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody []string
	}{
		{name: "day_in_order", query: "date=20240101", wantCode: http.StatusOK, wantBody: []string{"morning", "lunch?"}},
		{name: "empty_day", query: "date=20240301", wantCode: http.StatusOK, wantBody: []string{}},
		{name: "malformed_date", query: "date=2024-01-01", wantCode: http.StatusUnprocessableEntity},
		{name: "impossible_date", query: "date=20241399", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := newHistoryAPI(t, nil)
			resp := api.Get("/history/messages?account=acc&chat_id=bob@example.com&" + tt.query)
			require.Equal(t, tt.wantCode, resp.Code, resp.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}

			entries := decode[[]domain.LogEntry](t, resp.Body.Bytes())
			bodies := make([]string, 0, len(entries))
			for _, e := range entries {
				bodies = append(bodies, e.Body)
			}
			assert.Equal(t, tt.wantBody, bodies)
		})
	}
}

// ---------------------------------------------------------------------------
// GET /history/last, /history/filtered
// ---------------------------------------------------------------------------

func TestLastMessages(t *testing.T) {
	t.Parallel()

	api := newHistoryAPI(t, nil)

	resp := api.Get("/history/last?account=acc&chat_id=bob@example.com&count=2")
	require.Equal(t, http.StatusOK, resp.Code)

	got := decode[[]query.Summary](t, resp.Body.Bytes())
	require.Len(t, got, 2)
	assert.Equal(t, query.Summary{SenderID: "me@example.com", Body: "lunch?", Timestamp: at(1, 10)}, got[0])
	assert.Equal(t, "lunch was fun", got[1].Body)

	resp = api.Get("/history/last?account=acc&chat_id=bob@example.com&count=0")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decode[[]query.Summary](t, resp.Body.Bytes()))
}

func TestFilteredMessages(t *testing.T) {
	t.Parallel()

	api := newHistoryAPI(t, nil)

	resp := api.Get("/history/filtered?account=acc&chat_id=bob@example.com&signal=sent")
	require.Equal(t, http.StatusOK, resp.Code)
	entries := decode[[]domain.LogEntry](t, resp.Body.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "lunch?", entries[0].Body)

	resp = api.Get("/history/filtered?account=acc&chat_id=bob@example.com&count=1")
	require.Equal(t, http.StatusOK, resp.Code)
	entries = decode[[]domain.LogEntry](t, resp.Body.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "lunch was fun", entries[0].Body, "defaults to message signal")

	resp = api.Get("/history/filtered?account=acc&chat_id=bob@example.com&signal=bogus")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

// ---------------------------------------------------------------------------
// GET /search, /history/search
// ---------------------------------------------------------------------------

func TestSearch(t *testing.T) {
	t.Parallel()

	t.Run("all_accounts", func(t *testing.T) {
		t.Parallel()

		api := newHistoryAPI(t, nil)
		resp := api.Get("/search?q=lunch")
		require.Equal(t, http.StatusOK, resp.Code)
		hits := decode[[]domain.SearchHit](t, resp.Body.Bytes())
		assert.Len(t, hits, 3, "two bob days and one room day")
	})

	t.Run("hits_limited_to_permitted_accounts", func(t *testing.T) {
		t.Parallel()

		api := newHistoryAPI(t, nil)
		resp := api.GetCtx(readerCtx("other"), "/search?q=lunch")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Empty(t, decode[[]domain.SearchHit](t, resp.Body.Bytes()))
	})

	t.Run("in_chat", func(t *testing.T) {
		t.Parallel()

		api := newHistoryAPI(t, nil)
		resp := api.Get("/history/search?account=acc&chat_id=lounge&chatroom=true&q=lunch")
		require.Equal(t, http.StatusOK, resp.Code)
		hits := decode[[]domain.SearchHit](t, resp.Body.Bytes())
		require.Len(t, hits, 1)
		assert.Equal(t, "20240102", hits[0].Date)
	})
}

// ---------------------------------------------------------------------------
// DELETE /history
// ---------------------------------------------------------------------------

func TestClearHistory(t *testing.T) {
	t.Parallel()

	errDisk := errors.New("disk gone")

	tests := []struct {
		name     string
		ctx      context.Context
		query    string
		fail     bool
		wantCode int
		wantCall string
	}{
		{name: "everything", ctx: adminCtx(), query: "", wantCode: http.StatusNoContent, wantCall: "clear"},
		{name: "account", ctx: adminCtx(), query: "?account=acc", wantCode: http.StatusNoContent, wantCall: "account:acc"},
		{name: "chat", ctx: adminCtx(), query: "?account=acc&chat_id=lounge&chatroom=true", wantCode: http.StatusNoContent, wantCall: "chat:acc#room:lounge"},
		{name: "chat_without_account", ctx: adminCtx(), query: "?chat_id=lounge", wantCode: http.StatusBadRequest},
		{name: "reader_forbidden", ctx: readerCtx("acc"), query: "?account=acc", wantCode: http.StatusForbidden},
		{name: "store_failure", ctx: adminCtx(), query: "?account=acc", fail: true, wantCode: http.StatusInternalServerError, wantCall: "account:acc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var called string
			result := func(call string) error {
				called = call
				if tt.fail {
					return errDisk
				}
				return nil
			}
			clearer := &mockClearer{
				clearFunc:        func(context.Context) error { return result("clear") },
				clearAccountFunc: func(_ context.Context, account string) error { return result("account:" + account) },
				clearChatFunc:    func(_ context.Context, key domain.ChatKey) error { return result("chat:" + key.String()) },
			}

			api := newHistoryAPI(t, clearer)
			resp := api.DeleteCtx(tt.ctx, "/history"+tt.query)

			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantCall, called)
		})
	}
}
