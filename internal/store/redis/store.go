package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/store"
)

const keyPrefix = "chatlog:log:"

// Store keeps a bounded recent window and per-day lists for each chat and
// publishes every new entry on EntryChannel. It has no search capability.
//
// Keys, per chat (<chat> is "c:<id>" or "r:<id>"):
//
//	chatlog:log:<account>:chats             hash  <chat> -> message count
//	chatlog:log:<account>:<chat>:ids        set   stored log ids
//	chatlog:log:<account>:<chat>:dates      set   YYYYMMDD
//	chatlog:log:<account>:<chat>:day:<date> list  JSON entries
//	chatlog:log:<account>:<chat>:recent     list  JSON entries, trimmed
type Store struct {
	store.Capability

	client *redis.Client
	recent int
	ttl    time.Duration
}

var (
	_ domain.Store   = (*Store)(nil)
	_ domain.Clearer = (*Store)(nil)
)

// NewStore builds a Store on client. A positive ttl expires a chat's keys
// after that much inactivity.
func NewStore(capability store.Capability, client *redis.Client, recentWindow int, ttl time.Duration) *Store {
	if recentWindow <= 0 {
		recentWindow = 20
	}
	return &Store{Capability: capability, client: client, recent: recentWindow, ttl: ttl}
}

// Factory adapts NewStore to the store registry. All redis stores share client.
func Factory(client *redis.Client, recentWindow int, ttl time.Duration) store.Factory {
	return func(_ context.Context, spec store.Spec) (domain.Store, error) {
		return NewStore(store.CapabilityOf(spec), client, recentWindow, ttl), nil
	}
}

// addEntryScript stores one entry unless its log id is already recorded.
// Key types are checked before the first write and the id is recorded last,
// so a failed call leaves nothing that would make a retry skip the entry.
//
// KEYS: ids, day, dates, recent, chats
// ARGV: log id, entry JSON, date, -recent window, chat field, ttl ms
//
//nolint:gochecknoglobals // compiled once
var addEntryScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
	return 0
end
local want = {set = {KEYS[1], KEYS[3]}, list = {KEYS[2], KEYS[4]}, hash = {KEYS[5]}}
for kind, names in pairs(want) do
	for _, k in ipairs(names) do
		local t = redis.call('TYPE', k)
		if type(t) == 'table' then t = t.ok end
		if t ~= 'none' and t ~= kind then
			return redis.error_reply('WRONGTYPE ' .. k .. ' holds ' .. t)
		end
	end
end
redis.call('RPUSH', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[3])
redis.call('RPUSH', KEYS[4], ARGV[2])
redis.call('LTRIM', KEYS[4], ARGV[4], -1)
redis.call('HINCRBY', KEYS[5], ARGV[5], 1)
redis.call('SADD', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[6])
if ttl > 0 then
	for i = 1, 4 do
		redis.call('PEXPIRE', KEYS[i], ttl)
	end
end
return 1
`)

func chatField(key domain.ChatKey) string {
	if key.IsChatroom {
		return "r:" + key.ChatID
	}
	return "c:" + key.ChatID
}

func chatsKey(account string) string {
	return keyPrefix + account + ":chats"
}

func chatPrefix(key domain.ChatKey) string {
	return keyPrefix + key.Account + ":" + chatField(key)
}

func dayKey(key domain.ChatKey, date string) string {
	return chatPrefix(key) + ":day:" + date
}

func (s *Store) Exists(ctx context.Context, key domain.ChatKey) (bool, error) {
	ok, err := s.client.HExists(ctx, chatsKey(key.Account), chatField(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis.Store.Exists: %w", err)
	}
	return ok, nil
}

func (s *Store) AddEntry(ctx context.Context, entry *domain.LogEntry) error {
	if !s.Writable() {
		return fmt.Errorf("redis.Store.AddEntry(%s): %w", s.Name(), domain.ErrReadOnly)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("redis.Store.AddEntry: %w", err)
	}
	if entry.LogID == "" {
		return fmt.Errorf("redis.Store.AddEntry: empty log id: %w", domain.ErrInvalidEntry)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis.Store.AddEntry: marshal: %w", err)
	}

	key := entry.Key()
	prefix := chatPrefix(key)

	keys := []string{prefix + ":ids", dayKey(key, entry.Date()), prefix + ":dates", prefix + ":recent", chatsKey(key.Account)}
	added, err := addEntryScript.Run(ctx, s.client, keys,
		entry.LogID, raw, entry.Date(), -s.recent, chatField(key), s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis.Store.AddEntry: %w", err)
	}
	if added == 0 {
		return nil
	}

	if err := s.client.Publish(ctx, EntryChannel(key), raw).Err(); err != nil {
		log.Warn().Err(err).Str("store", s.Name()).Str("chat", key.String()).Msg("redis store: publish live entry")
	}

	return nil
}

func (s *Store) Dates(ctx context.Context, key domain.ChatKey) ([]string, error) {
	dates, err := s.client.SMembers(ctx, chatPrefix(key)+":dates").Result()
	if err != nil {
		return nil, fmt.Errorf("redis.Store.Dates: %w", err)
	}
	sort.Strings(dates)
	return dates, nil
}

func (s *Store) MessagesForDate(ctx context.Context, key domain.ChatKey, date string) ([]*domain.LogEntry, error) {
	out, err := s.readList(ctx, dayKey(key, date))
	if err != nil {
		return nil, fmt.Errorf("redis.Store.MessagesForDate: %w", err)
	}
	store.SortEntries(out)
	return out, nil
}

func (s *Store) RecentMessages(ctx context.Context, key domain.ChatKey) ([]*domain.LogEntry, error) {
	out, err := s.readList(ctx, chatPrefix(key)+":recent")
	if err != nil {
		return nil, fmt.Errorf("redis.Store.RecentMessages: %w", err)
	}
	store.SortEntries(out)
	return out, nil
}

func (s *Store) Chats(ctx context.Context, account string) ([]domain.ChatInfo, error) {
	counts, err := s.client.HGetAll(ctx, chatsKey(account)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.Store.Chats: %w", err)
	}

	out := make([]domain.ChatInfo, 0, len(counts))
	for field, count := range counts {
		kind, id, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		info := domain.ChatInfo{Account: account, ChatID: id, IsChatroom: kind == "r", Store: s.Name()}
		_, _ = fmt.Sscan(count, &info.MessageCount)
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b domain.ChatInfo) int {
		return strings.Compare(a.Key().String(), b.Key().String())
	})
	return out, nil
}

func (s *Store) Search(context.Context, string) ([]domain.SearchHit, error) {
	return nil, nil
}

func (s *Store) SearchInChat(context.Context, domain.ChatKey, string) ([]domain.SearchHit, error) {
	return nil, nil
}

func (s *Store) FilteredMessages(ctx context.Context, key domain.ChatKey, limit int, filter domain.EntryFilter) ([]*domain.LogEntry, error) {
	out, err := store.FilterByDay(ctx, s, key, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("redis.Store.FilteredMessages: %w", err)
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.deleteMatching(ctx, keyPrefix+"*"); err != nil {
		return fmt.Errorf("redis.Store.Clear: %w", err)
	}
	return nil
}

func (s *Store) ClearAccount(ctx context.Context, account string) error {
	if err := s.deleteMatching(ctx, keyPrefix+globEscape(account)+":*"); err != nil {
		return fmt.Errorf("redis.Store.ClearAccount: %w", err)
	}
	return nil
}

func (s *Store) ClearChat(ctx context.Context, key domain.ChatKey) error {
	if err := s.deleteMatching(ctx, globEscape(chatPrefix(key))+":*"); err != nil {
		return fmt.Errorf("redis.Store.ClearChat: %w", err)
	}
	if err := s.client.HDel(ctx, chatsKey(key.Account), chatField(key)).Err(); err != nil {
		return fmt.Errorf("redis.Store.ClearChat: %w", err)
	}
	return nil
}

func (s *Store) deleteMatching(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	return s.client.Del(ctx, batch...).Err()
}

func (s *Store) readList(ctx context.Context, key string) ([]*domain.LogEntry, error) {
	raws, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*domain.LogEntry, 0, len(raws))
	for _, raw := range raws {
		var e domain.LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			log.Warn().Err(err).Str("store", s.Name()).Str("key", key).Msg("redis store: skipping corrupt entry")
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string {
	return globReplacer.Replace(s)
}
