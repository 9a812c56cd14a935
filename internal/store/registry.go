// Package store builds configured history backends and holds the read
// helpers they share.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/domain"
)

// ErrUnknownBackend is returned when a requested backend kind is not registered.
var ErrUnknownBackend = errors.New("store: unknown backend kind") //nolint:gochecknoglobals // sentinel error

type Kind string

const (
	KindFile     Kind = "file"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindRedis    Kind = "redis"
	KindMemory   Kind = "memory"
)

// Spec describes one configured backend instance.
type Spec struct {
	Kind     Kind
	Name     string
	Writable bool
	Readable bool
	Location string // directory, file path or DSN; meaning is backend specific
}

// Factory creates a Store for a spec.
type Factory func(ctx context.Context, spec Spec) (domain.Store, error)

// Registry maps backend kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Kind]Factory),
	}
}

// Register adds a factory for a backend kind. Registering a kind twice is a
// caller error: it is logged and the later factory replaces the earlier one.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.factories[kind]; dup {
		log.Warn().Str("kind", string(kind)).Msg("store: backend kind registered twice, replacing factory")
	}
	r.factories[kind] = factory
}

// Build instantiates the backend described by spec.
func (r *Registry) Build(ctx context.Context, spec Spec) (domain.Store, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("store.Registry.Build(%q): %w", spec.Kind, ErrUnknownBackend)
	}

	s, err := factory(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("store.Registry.Build(%q): %w", spec.Kind, err)
	}

	return s, nil
}

// Available returns registered backend kinds in sorted order.
func (r *Registry) Available() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := slices.Collect(func(yield func(Kind) bool) {
		for kind := range r.factories {
			if !yield(kind) {
				return
			}
		}
	})
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}
