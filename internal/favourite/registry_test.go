package favourite_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatlog/internal/favourite"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), favourite.FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRegistry_LoadsBeforeServing(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "acc1 bob@example.com\nacc1 alice@example.com\n\nbroken-line\nacc2 carol with spaces\r\n")
	r := favourite.Open(context.Background(), path)

	// Issued immediately; must observe the loaded file.
	got, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"acc1": {"alice@example.com", "bob@example.com"},
		"acc2": {"carol with spaces"},
	}, got)
}

func TestRegistry_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	r := favourite.Open(context.Background(), filepath.Join(t.TempDir(), "nested", favourite.FileName))
	got, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegistry_AddRemovePersist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", favourite.FileName)
	r := favourite.Open(ctx, path)

	added, err := r.Add(ctx, "acc", "bob")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = r.Add(ctx, "acc", "bob")
	require.NoError(t, err)
	assert.False(t, added, "second add is a no-op")

	_, err = r.Add(ctx, "acc", "alice")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "acc alice\nacc bob\n", string(raw))

	removed, err := r.Remove(ctx, "acc", "bob")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Remove(ctx, "acc", "nobody")
	require.NoError(t, err)
	assert.False(t, removed)

	reopened := favourite.Open(ctx, path)
	got, err := reopened.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"acc": {"alice"}}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestRegistry_InvalidInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := favourite.Open(ctx, filepath.Join(t.TempDir(), favourite.FileName))

	tests := []struct {
		name    string
		account string
		contact string
	}{
		{name: "empty account", contact: "bob"},
		{name: "empty contact", account: "acc"},
		{name: "space in account", account: "my acc", contact: "bob"},
		{name: "newline in contact", account: "acc", contact: "bob\nevil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := r.Add(ctx, tt.account, tt.contact)
			require.ErrorIs(t, err, favourite.ErrInvalidContact)
		})
	}
}

func TestRegistry_ConcurrentAdds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), favourite.FileName)
	r := favourite.Open(ctx, path)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		wg.Go(func() {
			_, err := r.Add(ctx, "acc", id)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	reopened := favourite.Open(ctx, path)
	got, err := reopened.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got["acc"])
}

func TestRegistry_UnreadableFileServesEmpty(t *testing.T) {
	t.Parallel()

	// A directory where the file should be makes the read fail.
	path := filepath.Join(t.TempDir(), favourite.FileName)
	require.NoError(t, os.Mkdir(path, 0o750))

	r := favourite.Open(context.Background(), path)
	got, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
