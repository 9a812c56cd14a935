// Package favourite keeps the set of favourite contacts per account in a
// plain text file, one "<account> <contact id>" pair per line.
package favourite

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/chain"
)

const FileName = "favourite-contacts.txt"

// ErrInvalidContact is returned for empty ids or accounts containing spaces.
var ErrInvalidContact = errors.New("favourite: invalid account or contact id") //nolint:gochecknoglobals // sentinel error

// Registry loads the file once in the background; calls made before the
// load finishes wait for it.
type Registry struct {
	path string

	mu       sync.RWMutex
	contacts map[string]map[string]struct{}
	raw      []byte

	saveMu sync.Mutex
	loaded *chain.Chain
}

// Open starts loading path and returns immediately.
func Open(ctx context.Context, path string) *Registry {
	r := &Registry{
		path:     path,
		contacts: make(map[string]map[string]struct{}),
	}
	r.loaded = chain.New(ctx, func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("favourite: load failed, continuing with what was read")
			return
		}
		log.Debug().Str("path", path).Msg("favourite: contacts loaded")
	})
	_ = r.loaded.Append(r.readFile)
	_ = r.loaded.Append(r.parse)
	r.loaded.Continue()
	return r
}

func (r *Registry) readFile(_ context.Context, c *chain.Chain) {
	go func() {
		raw, err := os.ReadFile(r.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Debug().Str("path", r.path).Msg("favourite: file does not exist yet")
			c.Continue()
		case err != nil:
			c.Terminate(fmt.Errorf("favourite.Registry: open: %w", err))
		default:
			r.raw = raw
			c.Continue()
		}
	}()
}

func (r *Registry) parse(_ context.Context, c *chain.Chain) {
	r.mu.Lock()
	sc := bufio.NewScanner(bytes.NewReader(r.raw))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		account, contact, ok := strings.Cut(line, " ")
		if !ok || account == "" || contact == "" {
			log.Debug().Str("line", line).Msg("favourite: skipping malformed line")
			continue
		}
		r.addLocked(account, contact)
	}
	r.raw = nil
	r.mu.Unlock()

	if err := sc.Err(); err != nil {
		c.Terminate(fmt.Errorf("favourite.Registry: parse: %w", err))
		return
	}
	c.Continue()
}

func (r *Registry) addLocked(account, contact string) bool {
	set, ok := r.contacts[account]
	if !ok {
		set = make(map[string]struct{})
		r.contacts[account] = set
	}
	if _, ok := set[contact]; ok {
		return false
	}
	set[contact] = struct{}{}
	return true
}

// wait blocks until loading finished. A failed load is not an error for
// callers; the registry serves whatever it managed to read.
func (r *Registry) wait(ctx context.Context) error {
	select {
	case <-r.loaded.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns every account's favourites, sorted.
func (r *Registry) List(ctx context.Context) (map[string][]string, error) {
	if err := r.wait(ctx); err != nil {
		return nil, fmt.Errorf("favourite.Registry.List: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.contacts))
	for account, set := range r.contacts {
		if len(set) == 0 {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[account] = ids
	}
	return out, nil
}

// Add marks contact as a favourite of account and reports whether it was new.
func (r *Registry) Add(ctx context.Context, account, contact string) (bool, error) {
	if err := validate(account, contact); err != nil {
		return false, fmt.Errorf("favourite.Registry.Add: %w", err)
	}
	if err := r.wait(ctx); err != nil {
		return false, fmt.Errorf("favourite.Registry.Add: %w", err)
	}

	r.mu.Lock()
	added := r.addLocked(account, contact)
	r.mu.Unlock()

	if !added {
		return false, nil
	}
	if err := r.save(); err != nil {
		return true, fmt.Errorf("favourite.Registry.Add: %w", err)
	}
	return true, nil
}

// Remove unmarks contact and reports whether it was a favourite.
func (r *Registry) Remove(ctx context.Context, account, contact string) (bool, error) {
	if err := validate(account, contact); err != nil {
		return false, fmt.Errorf("favourite.Registry.Remove: %w", err)
	}
	if err := r.wait(ctx); err != nil {
		return false, fmt.Errorf("favourite.Registry.Remove: %w", err)
	}

	r.mu.Lock()
	set := r.contacts[account]
	_, removed := set[contact]
	delete(set, contact)
	if len(set) == 0 {
		delete(r.contacts, account)
	}
	r.mu.Unlock()

	if !removed {
		return false, nil
	}
	if err := r.save(); err != nil {
		return true, fmt.Errorf("favourite.Registry.Remove: %w", err)
	}
	return true, nil
}

// save rewrites the whole file through a temporary file and a rename.
func (r *Registry) save() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	var buf bytes.Buffer
	r.mu.RLock()
	accounts := make([]string, 0, len(r.contacts))
	for account := range r.contacts {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		ids := make([]string, 0, len(r.contacts[account]))
		for id := range r.contacts[account] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			buf.WriteString(account + " " + id + "\n")
		}
	}
	r.mu.RUnlock()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("save: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".favourites-*")
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("save: rename: %w", err)
	}
	return nil
}

func validate(account, contact string) error {
	if account == "" || contact == "" || strings.ContainsAny(account, " \n") || strings.Contains(contact, "\n") {
		return ErrInvalidContact
	}
	return nil
}
