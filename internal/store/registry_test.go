package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/store"
)

// --- stub Store for registry tests ---

type stubStore struct {
	store.Capability
}

func (stubStore) Exists(context.Context, domain.ChatKey) (bool, error)         { return false, nil }
func (stubStore) AddEntry(context.Context, *domain.LogEntry) error             { return nil }
func (stubStore) Dates(context.Context, domain.ChatKey) ([]string, error)      { return nil, nil }
func (stubStore) Chats(context.Context, string) ([]domain.ChatInfo, error)     { return nil, nil }
func (stubStore) Search(context.Context, string) ([]domain.SearchHit, error)   { return nil, nil }
func (stubStore) RecentMessages(context.Context, domain.ChatKey) ([]*domain.LogEntry, error) {
	return nil, nil
}

func (stubStore) MessagesForDate(context.Context, domain.ChatKey, string) ([]*domain.LogEntry, error) {
	return nil, nil
}

func (stubStore) SearchInChat(context.Context, domain.ChatKey, string) ([]domain.SearchHit, error) {
	return nil, nil
}

func (stubStore) FilteredMessages(context.Context, domain.ChatKey, int, domain.EntryFilter) ([]*domain.LogEntry, error) {
	return nil, nil
}

var _ domain.Store = stubStore{}

func stubFactory(_ context.Context, spec store.Spec) (domain.Store, error) {
	return stubStore{Capability: store.CapabilityOf(spec)}, nil
}

func TestRegistry_RegisterAndBuild(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		reg := store.NewRegistry()
		reg.Register(store.KindMemory, stubFactory)

		s, err := reg.Build(context.Background(), store.Spec{
			Kind: store.KindMemory, Name: "volatile", Writable: true, Readable: false,
		})

		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, "volatile", s.Name())
		assert.True(t, s.Writable())
		assert.False(t, s.Readable())
	})

	t.Run("unknown kind returns ErrUnknownBackend", func(t *testing.T) {
		t.Parallel()

		reg := store.NewRegistry()

		s, err := reg.Build(context.Background(), store.Spec{Kind: "xml"})

		require.Error(t, err)
		assert.Nil(t, s)
		assert.True(t, errors.Is(err, store.ErrUnknownBackend))
		assert.Contains(t, err.Error(), `"xml"`)
	})

	t.Run("factory error is wrapped", func(t *testing.T) {
		t.Parallel()

		reg := store.NewRegistry()
		boom := errors.New("disk on fire")
		reg.Register(store.KindFile, func(context.Context, store.Spec) (domain.Store, error) {
			return nil, boom
		})

		_, err := reg.Build(context.Background(), store.Spec{Kind: store.KindFile})

		require.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, store.ErrUnknownBackend)
	})

	t.Run("name defaults to kind", func(t *testing.T) {
		t.Parallel()

		reg := store.NewRegistry()
		reg.Register(store.KindSQLite, stubFactory)

		s, err := reg.Build(context.Background(), store.Spec{Kind: store.KindSQLite, Readable: true})

		require.NoError(t, err)
		assert.Equal(t, "sqlite", s.Name())
	})
}

func TestRegistry_DuplicateRegistrationReplaces(t *testing.T) {
	t.Parallel()

	reg := store.NewRegistry()
	reg.Register(store.KindFile, func(context.Context, store.Spec) (domain.Store, error) {
		return stubStore{Capability: store.NewCapability("first", true, true)}, nil
	})
	reg.Register(store.KindFile, func(context.Context, store.Spec) (domain.Store, error) {
		return stubStore{Capability: store.NewCapability("second", true, true)}, nil
	})

	s, err := reg.Build(context.Background(), store.Spec{Kind: store.KindFile})

	require.NoError(t, err)
	assert.Equal(t, "second", s.Name())
	assert.Equal(t, []store.Kind{store.KindFile}, reg.Available())
}

func TestRegistry_Available(t *testing.T) {
	t.Parallel()

	reg := store.NewRegistry()
	assert.Empty(t, reg.Available())

	reg.Register(store.KindSQLite, stubFactory)
	reg.Register(store.KindFile, stubFactory)
	reg.Register(store.KindRedis, stubFactory)

	assert.Equal(t, []store.Kind{store.KindFile, store.KindRedis, store.KindSQLite}, reg.Available())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	reg := store.NewRegistry()
	var wg sync.WaitGroup

	for range 10 {
		wg.Go(func() {
			reg.Register(store.KindMemory, stubFactory)
		})
		wg.Go(func() {
			_, _ = reg.Build(context.Background(), store.Spec{Kind: store.KindMemory})
		})
		wg.Go(func() {
			_ = reg.Available()
		})
	}

	wg.Wait()

	_, err := reg.Build(context.Background(), store.Spec{Kind: store.KindMemory})
	require.NoError(t, err)
}
