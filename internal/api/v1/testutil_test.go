package v1_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatlog/internal/auth"
	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/logmanager"
	"github.com/gosuda/chatlog/internal/query"
	"github.com/gosuda/chatlog/internal/server/middleware"
	"github.com/gosuda/chatlog/internal/store"
	"github.com/gosuda/chatlog/internal/store/memory"
)

// ---------------------------------------------------------------------------
// Context helpers: inject claims for DoCtx
// ---------------------------------------------------------------------------

func readerCtx(accounts ...string) context.Context {
	return middleware.WithClaims(context.Background(), &auth.Claims{Accounts: accounts})
}

func adminCtx() context.Context {
	return middleware.WithClaims(context.Background(), &auth.Claims{Accounts: []string{auth.AllAccounts}, Admin: true})
}

// ---------------------------------------------------------------------------
// History fixture
// ---------------------------------------------------------------------------

var (
	bobKey  = domain.ChatKey{Account: "acc", ChatID: "bob@example.com"}
	roomKey = domain.ChatKey{Account: "acc", ChatID: "lounge", IsChatroom: true}
	bob     = domain.NewContactEntity("bob@example.com", "Bob", "")
	me      = domain.NewSelfEntity("me@example.com", "Me", "")
)

func at(day, hour int) int64 {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC).Unix()
}

// historyService returns a query service over one memory store holding:
//
//	bob  20240101 09:00 "morning"       (message)
//	bob  20240101 10:00 "lunch?"        (sent)
//	bob  20240102 08:00 "lunch was fun" (message)
//	room 20240102 12:00 "LUNCH crew"    (message)
func historyService(t *testing.T) *query.Service {
	t.Helper()

	m := logmanager.New()
	m.Register(memory.New(store.NewCapability("mem", true, true), 10))

	write := func(key domain.ChatKey, sender domain.Entity, signal domain.SignalKind, body string, ts int64) {
		e := &domain.LogEntry{
			LogID:      domain.NewLogID(fmt.Sprintf("/%s", key), ts, 1),
			Account:    key.Account,
			ChatID:     key.ChatID,
			IsChatroom: key.IsChatroom,
			Direction:  domain.DirectionIncoming,
			Signal:     signal,
			Sender:     &sender,
			Body:       body,
			Timestamp:  ts,
		}
		require.NoError(t, m.Write(context.Background(), e))
	}

	write(bobKey, bob, domain.SignalMessage, "morning", at(1, 9))
	write(bobKey, me, domain.SignalSent, "lunch?", at(1, 10))
	write(bobKey, bob, domain.SignalMessage, "lunch was fun", at(2, 8))
	write(roomKey, bob, domain.SignalMessage, "LUNCH crew", at(2, 12))

	return query.NewService(m)
}

// ---------------------------------------------------------------------------
// Mock HistoryClearer
// ---------------------------------------------------------------------------

type mockClearer struct {
	clearFunc        func(ctx context.Context) error
	clearAccountFunc func(ctx context.Context, account string) error
	clearChatFunc    func(ctx context.Context, key domain.ChatKey) error
}

func (m *mockClearer) Clear(ctx context.Context) error {
	return m.clearFunc(ctx)
}

func (m *mockClearer) ClearAccount(ctx context.Context, account string) error {
	return m.clearAccountFunc(ctx, account)
}

func (m *mockClearer) ClearChat(ctx context.Context, key domain.ChatKey) error {
	return m.clearChatFunc(ctx, key)
}

// ---------------------------------------------------------------------------
// Mock FavouriteStore
// ---------------------------------------------------------------------------

type mockFavourites struct {
	listFunc   func(ctx context.Context) (map[string][]string, error)
	addFunc    func(ctx context.Context, account, contact string) (bool, error)
	removeFunc func(ctx context.Context, account, contact string) (bool, error)
}

func (m *mockFavourites) List(ctx context.Context) (map[string][]string, error) {
	return m.listFunc(ctx)
}

func (m *mockFavourites) Add(ctx context.Context, account, contact string) (bool, error) {
	return m.addFunc(ctx, account, contact)
}

func (m *mockFavourites) Remove(ctx context.Context, account, contact string) (bool, error) {
	return m.removeFunc(ctx, account, contact)
}
