package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/gosuda/chatlog/internal/domain"
)

// DayReader is the part of a store that FilterByDay walks.
type DayReader interface {
	Dates(ctx context.Context, key domain.ChatKey) ([]string, error)
	MessagesForDate(ctx context.Context, key domain.ChatKey, date string) ([]*domain.LogEntry, error)
}

// FilterByDay returns the newest limit entries of key accepted by filter,
// oldest first. Days are visited newest first and stop being read once the
// limit is reached.
func FilterByDay(ctx context.Context, r DayReader, key domain.ChatKey, limit int, filter domain.EntryFilter) ([]*domain.LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	dates, err := r.Dates(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("store.FilterByDay: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	out := make([]*domain.LogEntry, 0, limit)
	for _, date := range dates {
		entries, err := r.MessagesForDate(ctx, key, date)
		if err != nil {
			return nil, fmt.Errorf("store.FilterByDay(%s): %w", date, err)
		}
		for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
			if filter == nil || filter(entries[i]) {
				out = append(out, entries[i])
			}
		}
		if len(out) == limit {
			break
		}
	}

	slices.Reverse(out)
	return out, nil
}

// SortEntries orders entries by timestamp, keeping arrival order for ties.
func SortEntries(entries []*domain.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})
}

// Tail returns the last n entries.
func Tail(entries []*domain.LogEntry, n int) []*domain.LogEntry {
	if n <= 0 {
		return nil
	}
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// Matcher performs case-insensitive substring matching with Unicode case folding.
type Matcher struct {
	needle string
}

func NewMatcher(text string) Matcher {
	return Matcher{needle: cases.Fold().String(strings.TrimSpace(text))}
}

// Empty reports whether the search text was blank.
func (m Matcher) Empty() bool { return m.needle == "" }

// Match reports whether haystack contains the needle.
func (m Matcher) Match(haystack string) bool {
	if m.needle == "" {
		return false
	}
	return strings.Contains(cases.Fold().String(haystack), m.needle)
}
