// Package postgres is a history Store backed by PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/store"
)

type Store struct {
	store.Capability

	pool   *pgxpool.Pool
	recent int
}

var (
	_ domain.Store   = (*Store)(nil)
	_ domain.Clearer = (*Store)(nil)
)

func New(ctx context.Context, capability store.Capability, dsn string, maxConns int32, recentWindow int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	if recentWindow <= 0 {
		recentWindow = 20
	}
	s := &Store{Capability: capability, pool: pool, recent: recentWindow}

	if err = s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Factory adapts New to the store registry. spec.Location overrides dsn.
func Factory(dsn string, maxConns int32, recentWindow int) store.Factory {
	return func(ctx context.Context, spec store.Spec) (domain.Store, error) {
		target := dsn
		if spec.Location != "" {
			target = spec.Location
		}
		return New(ctx, store.CapabilityOf(spec), target, maxConns, recentWindow)
	}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chatlog_entries (
			log_id      TEXT PRIMARY KEY,
			account     TEXT NOT NULL,
			chat_id     TEXT NOT NULL,
			is_chatroom BOOLEAN NOT NULL,
			day         TEXT NOT NULL,
			ts          BIGINT NOT NULL,
			body        TEXT NOT NULL DEFAULT '',
			entry       JSONB NOT NULL,
			seq         BIGSERIAL
		)`,
		`CREATE INDEX IF NOT EXISTS chatlog_entries_chat_day
			ON chatlog_entries (account, chat_id, is_chatroom, day, ts)`,
	}
	for _, st := range stmts {
		if _, err := s.pool.Exec(ctx, st); err != nil {
			return fmt.Errorf("postgres.Store.ensureSchema: %w", err)
		}
	}

	return nil
}

func (s *Store) Exists(ctx context.Context, key domain.ChatKey) (bool, error) {
	var ok bool

	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chatlog_entries WHERE account = $1 AND chat_id = $2 AND is_chatroom = $3)`,
		key.Account, key.ChatID, key.IsChatroom,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres.Store.Exists: %w", err)
	}

	return ok, nil
}

func (s *Store) AddEntry(ctx context.Context, entry *domain.LogEntry) error {
	if !s.Writable() {
		return fmt.Errorf("postgres.Store.AddEntry(%s): %w", s.Name(), domain.ErrReadOnly)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("postgres.Store.AddEntry: %w", err)
	}
	if entry.LogID == "" {
		return fmt.Errorf("postgres.Store.AddEntry: empty log id: %w", domain.ErrInvalidEntry)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("postgres.Store.AddEntry: marshal: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO chatlog_entries (log_id, account, chat_id, is_chatroom, day, ts, body, entry)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (log_id) DO NOTHING`,
		entry.LogID, entry.Account, entry.ChatID, entry.IsChatroom, entry.Date(), entry.Timestamp, entry.Body, raw,
	)
	if err != nil {
		return fmt.Errorf("postgres.Store.AddEntry: %w", err)
	}

	return nil
}

func (s *Store) Dates(ctx context.Context, key domain.ChatKey) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT day FROM chatlog_entries
		 WHERE account = $1 AND chat_id = $2 AND is_chatroom = $3
		 ORDER BY day`,
		key.Account, key.ChatID, key.IsChatroom,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres.Store.Dates: %w", err)
	}

	dates, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres.Store.Dates: rows: %w", err)
	}

	return dates, nil
}

func (s *Store) MessagesForDate(ctx context.Context, key domain.ChatKey, date string) ([]*domain.LogEntry, error) {
	entries, err := s.queryEntries(ctx,
		`SELECT entry FROM chatlog_entries
		 WHERE account = $1 AND chat_id = $2 AND is_chatroom = $3 AND day = $4
		 ORDER BY ts, seq`,
		key.Account, key.ChatID, key.IsChatroom, date,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres.Store.MessagesForDate: %w", err)
	}

	return entries, nil
}

func (s *Store) RecentMessages(ctx context.Context, key domain.ChatKey) ([]*domain.LogEntry, error) {
	entries, err := s.queryEntries(ctx,
		`SELECT entry FROM (
			SELECT entry, ts, seq FROM chatlog_entries
			WHERE account = $1 AND chat_id = $2 AND is_chatroom = $3
			ORDER BY ts DESC, seq DESC
			LIMIT $4
		 ) recent ORDER BY ts, seq`,
		key.Account, key.ChatID, key.IsChatroom, s.recent,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres.Store.RecentMessages: %w", err)
	}

	return entries, nil
}

func (s *Store) Chats(ctx context.Context, account string) ([]domain.ChatInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id, is_chatroom, COUNT(*) FROM chatlog_entries
		 WHERE account = $1
		 GROUP BY chat_id, is_chatroom
		 ORDER BY chat_id, is_chatroom`,
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres.Store.Chats: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatInfo
	for rows.Next() {
		info := domain.ChatInfo{Account: account, Store: s.Name()}

		err = rows.Scan(&info.ChatID, &info.IsChatroom, &info.MessageCount)
		if err != nil {
			return nil, fmt.Errorf("postgres.Store.Chats: scan: %w", err)
		}
		out = append(out, info)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres.Store.Chats: rows: %w", err)
	}

	return out, nil
}

func (s *Store) Search(ctx context.Context, text string) ([]domain.SearchHit, error) {
	return s.search(ctx, nil, text)
}

func (s *Store) SearchInChat(ctx context.Context, key domain.ChatKey, text string) ([]domain.SearchHit, error) {
	return s.search(ctx, &key, text)
}

// search matches bodies with store.Matcher so that folding agrees with the
// other backends.
func (s *Store) search(ctx context.Context, key *domain.ChatKey, text string) ([]domain.SearchHit, error) {
	m := store.NewMatcher(text)
	if m.Empty() {
		return nil, nil
	}

	query := `SELECT account, chat_id, is_chatroom, day, body FROM chatlog_entries WHERE body <> ''`
	var args []any
	if key != nil {
		query += ` AND account = $1 AND chat_id = $2 AND is_chatroom = $3`
		args = append(args, key.Account, key.ChatID, key.IsChatroom)
	}
	query += ` ORDER BY account, chat_id, is_chatroom, day, ts`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres.Store.search: %w", err)
	}
	defer rows.Close()

	var hits []domain.SearchHit
	seen := make(map[domain.SearchHit]struct{})
	for rows.Next() {
		var (
			hit  domain.SearchHit
			body string
		)

		err = rows.Scan(&hit.Account, &hit.ChatID, &hit.IsChatroom, &hit.Date, &body)
		if err != nil {
			return nil, fmt.Errorf("postgres.Store.search: scan: %w", err)
		}
		hit.Ref = "postgres:" + s.Name()
		if _, dup := seen[hit]; dup || !m.Match(body) {
			continue
		}
		seen[hit] = struct{}{}
		hits = append(hits, hit)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres.Store.search: rows: %w", err)
	}

	return hits, nil
}

func (s *Store) FilteredMessages(ctx context.Context, key domain.ChatKey, limit int, filter domain.EntryFilter) ([]*domain.LogEntry, error) {
	out, err := store.FilterByDay(ctx, s, key, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("postgres.Store.FilteredMessages: %w", err)
	}

	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chatlog_entries`); err != nil {
		return fmt.Errorf("postgres.Store.Clear: %w", err)
	}

	return nil
}

func (s *Store) ClearAccount(ctx context.Context, account string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chatlog_entries WHERE account = $1`, account); err != nil {
		return fmt.Errorf("postgres.Store.ClearAccount: %w", err)
	}

	return nil
}

func (s *Store) ClearChat(ctx context.Context, key domain.ChatKey) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM chatlog_entries WHERE account = $1 AND chat_id = $2 AND is_chatroom = $3`,
		key.Account, key.ChatID, key.IsChatroom,
	)
	if err != nil {
		return fmt.Errorf("postgres.Store.ClearChat: %w", err)
	}

	return nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*domain.LogEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.LogEntry
	for rows.Next() {
		var raw []byte

		err = rows.Scan(&raw)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		var e domain.LogEntry
		if err = json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %w: %w", domain.ErrInvalidEntry, err)
		}
		out = append(out, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return out, nil
}
