package rawstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/matchlog/internal/record"
)

func mustRecord(t *testing.T, id record.ID, payload string) record.Record {
	t.Helper()
	rec, err := record.New(id, []byte(payload))
	require.NoError(t, err)
	return rec
}

// createTestStores returns one fresh instance of each local backend.
func createTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sq, err := OpenSQLite(filepath.Join(dir, "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	ds, err := OpenDir(filepath.Join(dir, "raw"))
	require.NoError(t, err)

	mem := NewMemory()
	cached, err := NewCached(NewMemory(), 16)
	require.NoError(t, err)

	return map[string]Store{
		"sqlite": sq,
		"dir":    ds,
		"memory": mem,
		"cached": cached,
	}
}

func TestStore_WriteIsIdempotent(t *testing.T) {
	for name, s := range createTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := mustRecord(t, 42, `{"code":200,"n":1}`)

			exists, err := s.Exists(ctx, 42)
			require.NoError(t, err)
			assert.False(t, exists)

			written, err := s.Write(ctx, rec)
			require.NoError(t, err)
			assert.True(t, written)

			// A second delivery with a different payload neither errors
			// nor replaces the first.
			written, err = s.Write(ctx, mustRecord(t, 42, `{"code":200,"n":2}`))
			require.NoError(t, err)
			assert.False(t, written)

			exists, err = s.Exists(ctx, 42)
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestSQLiteStore_KeepsFirstCopy(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	first := mustRecord(t, 7, `{"v":1}`)
	_, err = s.Write(ctx, first)
	require.NoError(t, err)
	_, err = s.Write(ctx, mustRecord(t, 7, `{"v":2}`))
	require.NoError(t, err)

	got, ok, err := s.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Hash, got.Hash)
	assert.JSONEq(t, `{"v":1}`, string(got.Payload))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s1.Write(ctx, mustRecord(t, 1, `{}`))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()
	exists, err := s2.Exists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDirStore_FileLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDir(dir)
	require.NoError(t, err)

	_, err = s.Write(context.Background(), mustRecord(t, 1001, `{"code":200}`))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "1001.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"code":200}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not remain")
}

func TestCached_SkipsBackendForKnownIDs(t *testing.T) {
	mem := NewMemory()
	c, err := NewCached(mem, 4)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Write(ctx, mustRecord(t, 1, `{}`))
	require.NoError(t, err)
	written, err := c.Write(ctx, mustRecord(t, 1, `{}`))
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, 1, mem.Writes(1), "second write answered from cache")

	require.NoError(t, mem.Close())
	exists, err := c.Exists(ctx, 1)
	require.NoError(t, err, "known ID answered from cache")
	assert.True(t, exists)

	_, err = c.Exists(ctx, 2)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemory_FailWrites(t *testing.T) {
	m := NewMemory()
	boom := assert.AnError
	m.FailWrites(boom)
	_, err := m.Write(context.Background(), mustRecord(t, 1, `{}`))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.Len())
}

func TestOpen_Locations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, "sqlite:"+filepath.Join(dir, "r.db"), Options{})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	s, err = Open(ctx, "dir:"+filepath.Join(dir, "raw"), Options{CacheSize: 8})
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, s)

	s, err = Open(ctx, "mem:", Options{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(ctx, "no-scheme", Options{})
	assert.Error(t, err)
	_, err = Open(ctx, "ftp://host/x", Options{})
	assert.ErrorContains(t, err, "unknown scheme")
	_, err = Open(ctx, "sqlite:", Options{})
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "games/raw/55.json", objectKey("games/raw", 55))
	assert.Equal(t, "55.json", objectKey("", 55))
}
