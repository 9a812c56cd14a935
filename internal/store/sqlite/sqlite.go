// Package sqlite is a history Store backed by a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/store"
)

type Store struct {
	store.Capability

	db     *sql.DB
	recent int
}

var (
	_ domain.Store   = (*Store)(nil)
	_ domain.Clearer = (*Store)(nil)
)

// DSNForFile returns the connection string used for an on-disk database.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func New(capability store.Capability, dsn string, recentWindow int) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	db.SetMaxOpenConns(1)

	if recentWindow <= 0 {
		recentWindow = 20
	}
	s := &Store{Capability: capability, db: db, recent: recentWindow}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Factory adapts New to the store registry; spec.Location is the database
// file, defaulting to <defaultDir>/<name>.db.
func Factory(defaultDir string, recentWindow int) store.Factory {
	return func(_ context.Context, spec store.Spec) (domain.Store, error) {
		path := spec.Location
		if path == "" {
			path = filepath.Join(defaultDir, store.CapabilityOf(spec).Name()+".db")
		}
		dsn, err := DSNForFile(path)
		if err != nil {
			return nil, err
		}
		return New(store.CapabilityOf(spec), dsn, recentWindow)
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
		  log_id TEXT PRIMARY KEY,
		  account TEXT NOT NULL,
		  chat_id TEXT NOT NULL,
		  is_chatroom INTEGER NOT NULL,
		  day TEXT NOT NULL,
		  ts INTEGER NOT NULL,
		  signal TEXT NOT NULL,
		  body TEXT NOT NULL DEFAULT '',
		  entry_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS entries_by_chat_day
		  ON entries(account, chat_id, is_chatroom, day, ts);`,
		`CREATE TABLE IF NOT EXISTS message_counts (
		  account TEXT NOT NULL,
		  chat_id TEXT NOT NULL,
		  is_chatroom INTEGER NOT NULL,
		  day TEXT NOT NULL,
		  count INTEGER NOT NULL DEFAULT 0,
		  PRIMARY KEY (account, chat_id, is_chatroom, day)
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key domain.ChatKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM message_counts WHERE account = ? AND chat_id = ? AND is_chatroom = ? LIMIT 1`,
		key.Account, key.ChatID, boolInt(key.IsChatroom),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "sqlite store: exists")
	}
	return true, nil
}

// AddEntry inserts the entry and bumps its day counter in one transaction.
// Entries whose log id is already stored are ignored.
func (s *Store) AddEntry(ctx context.Context, entry *domain.LogEntry) error {
	if !s.Writable() {
		return errors.Wrapf(domain.ErrReadOnly, "sqlite store %s", s.Name())
	}
	if err := entry.Validate(); err != nil {
		return errors.Wrap(err, "sqlite store: add entry")
	}
	if entry.LogID == "" {
		return errors.Wrap(domain.ErrInvalidEntry, "sqlite store: empty log id")
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "sqlite store: marshal entry")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO entries (log_id, account, chat_id, is_chatroom, day, ts, signal, body, entry_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(log_id) DO NOTHING
	`, entry.LogID, entry.Account, entry.ChatID, boolInt(entry.IsChatroom), entry.Date(), entry.Timestamp,
		string(entry.Signal), entry.Body, string(raw))
	if err != nil {
		return errors.Wrap(err, "sqlite store: insert entry")
	}

	if n, _ := res.RowsAffected(); n > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_counts (account, chat_id, is_chatroom, day, count)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT(account, chat_id, is_chatroom, day) DO UPDATE SET count = message_counts.count + 1
		`, entry.Account, entry.ChatID, boolInt(entry.IsChatroom), entry.Date())
		if err != nil {
			return errors.Wrap(err, "sqlite store: bump count")
		}
	}

	return errors.Wrap(tx.Commit(), "sqlite store: commit")
}

func (s *Store) Dates(ctx context.Context, key domain.ChatKey) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day FROM message_counts WHERE account = ? AND chat_id = ? AND is_chatroom = ? ORDER BY day`,
		key.Account, key.ChatID, boolInt(key.IsChatroom),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: dates")
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan date")
		}
		dates = append(dates, d)
	}
	return dates, errors.Wrap(rows.Err(), "sqlite store: dates rows")
}

func (s *Store) MessagesForDate(ctx context.Context, key domain.ChatKey, date string) ([]*domain.LogEntry, error) {
	return s.queryEntries(ctx, `
		SELECT entry_json FROM entries
		WHERE account = ? AND chat_id = ? AND is_chatroom = ? AND day = ?
		ORDER BY ts, rowid
	`, key.Account, key.ChatID, boolInt(key.IsChatroom), date)
}

func (s *Store) RecentMessages(ctx context.Context, key domain.ChatKey) ([]*domain.LogEntry, error) {
	entries, err := s.queryEntries(ctx, `
		SELECT entry_json FROM (
			SELECT entry_json, ts, rowid FROM entries
			WHERE account = ? AND chat_id = ? AND is_chatroom = ?
			ORDER BY ts DESC, rowid DESC
			LIMIT ?
		) ORDER BY ts, rowid
	`, key.Account, key.ChatID, boolInt(key.IsChatroom), s.recent)
	return entries, err
}

func (s *Store) Chats(ctx context.Context, account string) ([]domain.ChatInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, is_chatroom, SUM(count) FROM message_counts
		WHERE account = ?
		GROUP BY chat_id, is_chatroom
		ORDER BY chat_id, is_chatroom
	`, account)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: chats")
	}
	defer rows.Close()

	var out []domain.ChatInfo
	for rows.Next() {
		info := domain.ChatInfo{Account: account, Store: s.Name()}
		var room int
		if err := rows.Scan(&info.ChatID, &room, &info.MessageCount); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan chat")
		}
		info.IsChatroom = room != 0
		out = append(out, info)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: chats rows")
}

func (s *Store) Search(ctx context.Context, text string) ([]domain.SearchHit, error) {
	return s.search(ctx, nil, text)
}

func (s *Store) SearchInChat(ctx context.Context, key domain.ChatKey, text string) ([]domain.SearchHit, error) {
	return s.search(ctx, &key, text)
}

// search matches bodies in Go so that case folding covers all of Unicode;
// SQLite LIKE only folds ASCII.
func (s *Store) search(ctx context.Context, key *domain.ChatKey, text string) ([]domain.SearchHit, error) {
	m := store.NewMatcher(text)
	if m.Empty() {
		return nil, nil
	}

	query := `SELECT account, chat_id, is_chatroom, day, body FROM entries WHERE body <> ''`
	var args []any
	if key != nil {
		query += ` AND account = ? AND chat_id = ? AND is_chatroom = ?`
		args = append(args, key.Account, key.ChatID, boolInt(key.IsChatroom))
	}
	query += ` ORDER BY account, chat_id, is_chatroom, day, ts`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: search")
	}
	defer rows.Close()

	var hits []domain.SearchHit
	seen := make(map[domain.SearchHit]struct{})
	for rows.Next() {
		var (
			hit  domain.SearchHit
			room int
			body string
		)
		if err := rows.Scan(&hit.Account, &hit.ChatID, &room, &hit.Date, &body); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan hit")
		}
		hit.IsChatroom = room != 0
		hit.Ref = "sqlite:" + s.Name()
		if _, dup := seen[hit]; dup || !m.Match(body) {
			continue
		}
		seen[hit] = struct{}{}
		hits = append(hits, hit)
	}
	return hits, errors.Wrap(rows.Err(), "sqlite store: search rows")
}

func (s *Store) FilteredMessages(ctx context.Context, key domain.ChatKey, limit int, filter domain.EntryFilter) ([]*domain.LogEntry, error) {
	out, err := store.FilterByDay(ctx, s, key, limit, filter)
	return out, errors.Wrap(err, "sqlite store: filtered messages")
}

func (s *Store) Clear(ctx context.Context) error {
	return s.exec(ctx, "clear", ``)
}

func (s *Store) ClearAccount(ctx context.Context, account string) error {
	return s.exec(ctx, "clear account", ` WHERE account = ?`, account)
}

func (s *Store) ClearChat(ctx context.Context, key domain.ChatKey) error {
	return s.exec(ctx, "clear chat", ` WHERE account = ? AND chat_id = ? AND is_chatroom = ?`,
		key.Account, key.ChatID, boolInt(key.IsChatroom))
}

// exec deletes matching rows from both tables.
func (s *Store) exec(ctx context.Context, op, where string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "sqlite store: %s", op)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"entries", "message_counts"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+where, args...); err != nil {
			return errors.Wrapf(err, "sqlite store: %s %s", op, table)
		}
	}
	return errors.Wrapf(tx.Commit(), "sqlite store: %s commit", op)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*domain.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: query entries")
	}
	defer rows.Close()

	var out []*domain.LogEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan entry")
		}
		var e domain.LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, errors.Wrap(err, "sqlite store: decode entry")
		}
		out = append(out, &e)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: entries rows")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
