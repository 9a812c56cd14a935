// Package file stores history as JSON lines, one file per chat and day:
//
//	<base>/<account>/<chat>/<YYYYMMDD>.log
//	<base>/<account>/chatrooms/<room>/<YYYYMMDD>.log
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/store"
)

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755

	roomsDir = "chatrooms"
	logExt   = ".log"
)

// Store is a directory of per-day append-only JSON-lines files.
type Store struct {
	store.Capability

	base   string
	recent int
	locks  sync.Map // file path -> *sync.Mutex
}

var (
	_ domain.Store   = (*Store)(nil)
	_ domain.Clearer = (*Store)(nil)
)

// New opens a file store rooted at dir, creating it when writable.
func New(capability store.Capability, dir string, recentWindow int) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file: base directory is empty")
	}
	if capability.Writable() {
		if err := os.MkdirAll(dir, defaultDirMode); err != nil {
			return nil, fmt.Errorf("file.New: mkdir: %w", err)
		}
	}
	if recentWindow <= 0 {
		recentWindow = 20
	}
	return &Store{Capability: capability, base: dir, recent: recentWindow}, nil
}

// Factory adapts New to the store registry; spec.Location is the base directory.
func Factory(defaultDir string, recentWindow int) store.Factory {
	return func(_ context.Context, spec store.Spec) (domain.Store, error) {
		dir := spec.Location
		if dir == "" {
			dir = filepath.Join(defaultDir, spec.Name)
		}
		return New(store.CapabilityOf(spec), dir, recentWindow)
	}
}

// Dir returns the base directory.
func (s *Store) Dir() string { return s.base }

func (s *Store) Exists(_ context.Context, key domain.ChatKey) (bool, error) {
	info, err := os.Stat(s.chatDir(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("file.Store.Exists: %w", err)
	}
	return info.IsDir(), nil
}

func (s *Store) AddEntry(_ context.Context, entry *domain.LogEntry) error {
	if !s.Writable() {
		return fmt.Errorf("file.Store.AddEntry(%s): %w", s.Name(), domain.ErrReadOnly)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("file.Store.AddEntry: %w", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("file.Store.AddEntry: marshal: %w", err)
	}
	line = append(line, '\n')

	dir := s.chatDir(entry.Key())
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return fmt.Errorf("file.Store.AddEntry: mkdir: %w", err)
	}

	path := filepath.Join(dir, entry.Date()+logExt)
	mu := s.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return fmt.Errorf("file.Store.AddEntry: open: %w", err)
	}
	defer f.Close()

	// A crash mid-append leaves an unterminated line; close it off so this
	// entry starts on its own line.
	torn, err := unterminated(f)
	if err != nil {
		return fmt.Errorf("file.Store.AddEntry: %w", err)
	}
	if torn {
		line = append([]byte{'\n'}, line...)
	}

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("file.Store.AddEntry: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("file.Store.AddEntry: sync: %w", err)
	}
	return nil
}

// unterminated reports whether f is non-empty and does not end in a newline.
func unterminated(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("read tail: %w", err)
	}
	return last[0] != '\n', nil
}

func (s *Store) Dates(_ context.Context, key domain.ChatKey) ([]string, error) {
	entries, err := os.ReadDir(s.chatDir(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file.Store.Dates: %w", err)
	}

	var dates []string
	for _, e := range entries {
		if date, ok := dateOf(e); ok {
			dates = append(dates, date)
		}
	}
	return dates, nil
}

func (s *Store) MessagesForDate(_ context.Context, key domain.ChatKey, date string) ([]*domain.LogEntry, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return nil, nil
	}

	path := filepath.Join(s.chatDir(key), date+logExt)
	entries, err := s.readDay(path)
	if err != nil {
		return nil, fmt.Errorf("file.Store.MessagesForDate: %w", err)
	}
	store.SortEntries(entries)
	return entries, nil
}

func (s *Store) RecentMessages(ctx context.Context, key domain.ChatKey) ([]*domain.LogEntry, error) {
	out, err := store.FilterByDay(ctx, s, key, s.recent, nil)
	if err != nil {
		return nil, fmt.Errorf("file.Store.RecentMessages: %w", err)
	}
	return out, nil
}

func (s *Store) Chats(_ context.Context, account string) ([]domain.ChatInfo, error) {
	accountDir := filepath.Join(s.base, escape(account))

	var out []domain.ChatInfo
	add := func(dir string, isRoom bool) error {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() || (!isRoom && e.Name() == roomsDir) {
				continue
			}
			id, err := url.PathUnescape(e.Name())
			if err != nil {
				continue
			}
			out = append(out, domain.ChatInfo{Account: account, ChatID: id, IsChatroom: isRoom, Store: s.Name()})
		}
		return nil
	}

	if err := add(accountDir, false); err != nil {
		return nil, fmt.Errorf("file.Store.Chats: %w", err)
	}
	if err := add(filepath.Join(accountDir, roomsDir), true); err != nil {
		return nil, fmt.Errorf("file.Store.Chats: rooms: %w", err)
	}
	return out, nil
}

func (s *Store) Search(_ context.Context, text string) ([]domain.SearchHit, error) {
	m := store.NewMatcher(text)
	if m.Empty() {
		return nil, nil
	}

	var hits []domain.SearchHit
	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if _, ok := dateOf(d); !ok {
			return nil
		}
		hit, ok := s.hitFor(path)
		if !ok {
			return nil
		}
		if s.dayMatches(path, m) {
			hits = append(hits, hit)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file.Store.Search: %w", err)
	}
	return hits, nil
}

func (s *Store) SearchInChat(ctx context.Context, key domain.ChatKey, text string) ([]domain.SearchHit, error) {
	m := store.NewMatcher(text)
	if m.Empty() {
		return nil, nil
	}

	dates, err := s.Dates(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("file.Store.SearchInChat: %w", err)
	}
	sort.Strings(dates)

	var hits []domain.SearchHit
	for _, date := range dates {
		path := filepath.Join(s.chatDir(key), date+logExt)
		if s.dayMatches(path, m) {
			hits = append(hits, domain.SearchHit{
				Account: key.Account, ChatID: key.ChatID, IsChatroom: key.IsChatroom, Ref: path, Date: date,
			})
		}
	}
	return hits, nil
}

func (s *Store) FilteredMessages(ctx context.Context, key domain.ChatKey, limit int, filter domain.EntryFilter) ([]*domain.LogEntry, error) {
	out, err := store.FilterByDay(ctx, s, key, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("file.Store.FilteredMessages: %w", err)
	}
	return out, nil
}

func (s *Store) Clear(context.Context) error {
	entries, err := os.ReadDir(s.base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file.Store.Clear: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.base, e.Name())); err != nil {
			return fmt.Errorf("file.Store.Clear: %w", err)
		}
	}
	return nil
}

func (s *Store) ClearAccount(_ context.Context, account string) error {
	if err := os.RemoveAll(filepath.Join(s.base, escape(account))); err != nil {
		return fmt.Errorf("file.Store.ClearAccount: %w", err)
	}
	return nil
}

func (s *Store) ClearChat(_ context.Context, key domain.ChatKey) error {
	if err := os.RemoveAll(s.chatDir(key)); err != nil {
		return fmt.Errorf("file.Store.ClearChat: %w", err)
	}
	return nil
}

func (s *Store) chatDir(key domain.ChatKey) string {
	if key.IsChatroom {
		return filepath.Join(s.base, escape(key.Account), roomsDir, escape(key.ChatID))
	}
	return filepath.Join(s.base, escape(key.Account), escape(key.ChatID))
}

func (s *Store) lockFor(path string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex) //nolint:forcetypeassert // only *sync.Mutex is stored
}

// hitFor maps a day file back to the chat it belongs to.
func (s *Store) hitFor(path string) (domain.SearchHit, bool) {
	rel, err := filepath.Rel(s.base, path)
	if err != nil {
		return domain.SearchHit{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	var hit domain.SearchHit
	switch {
	case len(parts) == 3:
		hit.ChatID = parts[1]
	case len(parts) == 4 && parts[1] == roomsDir:
		hit.ChatID = parts[2]
		hit.IsChatroom = true
	default:
		return domain.SearchHit{}, false
	}

	account, err1 := url.PathUnescape(parts[0])
	chatID, err2 := url.PathUnescape(hit.ChatID)
	if err1 != nil || err2 != nil {
		return domain.SearchHit{}, false
	}
	hit.Account = account
	hit.ChatID = chatID
	hit.Date = strings.TrimSuffix(parts[len(parts)-1], logExt)
	hit.Ref = path
	return hit, true
}

func (s *Store) dayMatches(path string, m store.Matcher) bool {
	entries, err := s.readDay(path)
	if err != nil {
		log.Warn().Err(err).Str("store", s.Name()).Str("path", path).Msg("file store: search skipped unreadable day")
		return false
	}
	for _, e := range entries {
		if m.Match(e.Body) {
			return true
		}
	}
	return false
}

// readDay decodes every complete line of a day file. A trailing line
// without newline is a write interrupted by a crash and is ignored.
func (s *Store) readDay(path string) ([]*domain.LogEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*domain.LogEntry
	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				log.Debug().Str("path", path).Int("line", lineNo).Msg("file store: ignoring partial trailing line")
			}
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		var e domain.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			log.Warn().Err(err).Str("path", path).Int("line", lineNo).Msg("file store: skipping corrupt line")
			continue
		}
		out = append(out, &e)
	}
}

func dateOf(e fs.DirEntry) (string, bool) {
	if e.IsDir() || !strings.HasSuffix(e.Name(), logExt) {
		return "", false
	}
	date := strings.TrimSuffix(e.Name(), logExt)
	if _, err := domain.ParseDate(date); err != nil {
		return "", false
	}
	return date, true
}

// escape turns an identifier into a single safe path component.
func escape(id string) string {
	esc := url.PathEscape(id)
	switch esc {
	case "":
		return "%00"
	case ".", "..":
		return strings.ReplaceAll(esc, ".", "%2E")
	case roomsDir:
		return "chatroom%73"
	}
	return esc
}
