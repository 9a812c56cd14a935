package query_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/logmanager"
	"github.com/gosuda/chatlog/internal/query"
	"github.com/gosuda/chatlog/internal/store"
	"github.com/gosuda/chatlog/internal/store/memory"
)

var (
	bob = domain.NewContactEntity("bob", "Bob", "")
	key = domain.ChatKey{Account: "acc", ChatID: "bob"}
)

func entry(body string, day, hour int) *domain.LogEntry {
	ts := time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC).Unix()
	return &domain.LogEntry{
		LogID:     domain.NewLogID("/chan/bob", ts, uint64(len(body))),
		Account:   key.Account,
		ChatID:    key.ChatID,
		Direction: domain.DirectionIncoming,
		Signal:    domain.SignalMessage,
		Sender:    &bob,
		Body:      body,
		Timestamp: ts,
	}
}

// countingReader records how many days LastN fetched.
type countingReader struct {
	*logmanager.Manager
	dayReads atomic.Int32
}

func (r *countingReader) MessagesForDate(ctx context.Context, key domain.ChatKey, date string) []*domain.LogEntry {
	r.dayReads.Add(1)
	return r.Manager.MessagesForDate(ctx, key, date)
}

func newService(t *testing.T, entries ...*domain.LogEntry) (*query.Service, *countingReader) {
	t.Helper()

	s := memory.New(store.NewCapability("mem", true, true), 0)
	for _, e := range entries {
		require.NoError(t, s.AddEntry(context.Background(), e))
	}
	m := logmanager.New()
	m.Register(s)

	r := &countingReader{Manager: m}
	return query.NewService(r), r
}

func bodies(entries []*domain.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Body)
	}
	return out
}

func TestService_LastN(t *testing.T) {
	t.Parallel()

	day1a := entry("day1 early", 1, 8)
	day1b := entry("day1 late", 1, 18)
	day2 := entry("day2 only", 2, 9)

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{name: "spans two days", n: 2, want: []string{"day1 late", "day2 only"}},
		{name: "newest day only", n: 1, want: []string{"day2 only"}},
		{name: "fewer than n returns all", n: 10, want: []string{"day1 early", "day1 late", "day2 only"}},
		{name: "zero", n: 0, want: []string{}},
		{name: "negative", n: -3, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, _ := newService(t, day1a, day1b, day2)
			got := svc.LastN(context.Background(), key, tt.n)
			assert.Equal(t, tt.want, bodies(got))
		})
	}
}

func TestService_LastNStopsReadingDays(t *testing.T) {
	t.Parallel()

	svc, r := newService(t,
		entry("old", 1, 1),
		entry("mid", 2, 1),
		entry("new-1", 3, 1),
		entry("new-2", 3, 2),
	)

	got := svc.LastN(context.Background(), key, 2)
	assert.Equal(t, []string{"new-1", "new-2"}, bodies(got))
	assert.EqualValues(t, 1, r.dayReads.Load(), "older days are not fetched once n is reached")
}

// emptyDayReader reports a date that has no messages.
type emptyDayReader struct {
	*countingReader
}

func (r emptyDayReader) Dates(ctx context.Context, key domain.ChatKey) []string {
	return append(r.countingReader.Dates(ctx, key), "20240105")
}

func TestService_LastNSkipsEmptyDay(t *testing.T) {
	t.Parallel()

	_, inner := newService(t, entry("a", 1, 1), entry("b", 2, 1))
	svc := query.NewService(emptyDayReader{inner})

	got := svc.LastN(context.Background(), key, 2)
	assert.Equal(t, []string{"a", "b"}, bodies(got))
}

func TestService_RecentSummaries(t *testing.T) {
	t.Parallel()

	lost := &domain.LogEntry{
		LogID:     "lost-1",
		Account:   key.Account,
		ChatID:    key.ChatID,
		Signal:    domain.SignalLostMessage,
		Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Unix(),
	}
	svc, _ := newService(t, entry("hello", 1, 1), lost)

	got := svc.RecentSummaries(context.Background(), key, 5)
	require.Len(t, got, 2)
	assert.Equal(t, query.Summary{SenderID: "bob", Body: "hello", Timestamp: entry("hello", 1, 1).Timestamp}, got[0])
	assert.Equal(t, "unknown", got[1].SenderID)
}

func TestService_Filtered(t *testing.T) {
	t.Parallel()

	sendErr := entry("failed", 2, 1)
	sendErr.Signal = domain.SignalSendError
	svc, _ := newService(t, entry("a", 1, 1), sendErr, entry("b", 3, 1))

	got := svc.Filtered(context.Background(), key, 5, domain.SignalSendError)
	assert.Equal(t, []string{"failed"}, bodies(got))

	all := svc.Filtered(context.Background(), key, 2)
	assert.Equal(t, []string{"failed", "b"}, bodies(all))

	assert.Empty(t, svc.Filtered(context.Background(), key, 0))
}

func TestService_EmptyResultsAreNotNil(t *testing.T) {
	t.Parallel()

	svc := query.NewService(logmanager.New())
	ctx := context.Background()

	assert.NotNil(t, svc.Dates(ctx, key))
	assert.NotNil(t, svc.MessagesForDate(ctx, key, "20240101"))
	assert.NotNil(t, svc.Chats(ctx, "acc"))
	assert.NotNil(t, svc.Search(ctx, "x"))
	assert.NotNil(t, svc.SearchInChat(ctx, key, "x"))
	assert.NotNil(t, svc.LastN(ctx, key, 3))
}

func TestService_Passthrough(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t, entry("pizza tonight", 1, 1))
	ctx := context.Background()

	assert.Equal(t, []string{"20240101"}, svc.Dates(ctx, key))
	assert.Len(t, svc.MessagesForDate(ctx, key, "20240101"), 1)
	assert.Len(t, svc.Chats(ctx, "acc"), 1)
	assert.Len(t, svc.Search(ctx, "PIZZA"), 1)
	assert.Len(t, svc.SearchInChat(ctx, key, "pizza"), 1)
}
