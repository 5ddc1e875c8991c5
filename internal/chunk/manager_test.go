package chunk_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polytronicgr/chunkdb/internal/chunk"
	"github.com/polytronicgr/chunkdb/internal/model"
)

func newManager(t *testing.T, dir string, maxItems int) *chunk.Manager {
	t.Helper()
	m := chunk.NewManager(&chunk.ManagerConfig{
		DataDir:           dir,
		MaxChunkItemCount: maxItems,
		MaxChunkSize:      1 << 30,
	}, nil, nil, nil)
	require.NoError(t, m.Load())
	return m
}

func TestManager_BootstrapEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, 100)

	assert.Equal(t, 1, m.ChunkCount())
	assert.Equal(t, []string{"-inf-+inf"}, m.Ranges())

	// The bootstrap chunk is persisted immediately.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "-inf-+inf.data", entries[0].Name())
}

func TestManager_AddGetRemove(t *testing.T) {
	m := newManager(t, t.TempDir(), 100)

	d := mustDoc(t, "doc-1", `{"n":1}`)
	added, err := m.Add(d)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.Add(d)
	require.NoError(t, err)
	assert.False(t, added, "duplicate id routes to the same chunk and is reported")

	got, ok := m.Get("doc-1")
	require.True(t, ok)
	assert.True(t, d.Equals(got))

	removed, ok := m.Remove("doc-1")
	require.True(t, ok)
	assert.True(t, d.Equals(removed))

	_, ok = m.Get("doc-1")
	assert.False(t, ok)
}

func TestManager_Update(t *testing.T) {
	m := newManager(t, t.TempDir(), 100)

	old := mustDoc(t, "doc-1", `{"n":1}`)
	updated := mustDoc(t, "doc-1", `{"n":2}`)
	_, err := m.Add(old)
	require.NoError(t, err)

	assert.True(t, m.Update("doc-1", updated, old))
	assert.False(t, m.Update("doc-1", updated, old), "second CAS with the stale expectation must fail")

	got, _ := m.Get("doc-1")
	assert.True(t, updated.Equals(got))
}

func TestManager_SplitsPastThreshold(t *testing.T) {
	m := newManager(t, t.TempDir(), 10)

	for i := 0; i < 40; i++ {
		d := mustDoc(t, fmt.Sprintf("doc-%03d", i), fmt.Sprintf(`{"n":%d}`, i))
		added, err := m.Add(d)
		require.NoError(t, err)
		require.True(t, added)
	}

	assert.Greater(t, m.ChunkCount(), 1, "chunk past the item threshold must split")
	assert.Equal(t, 40, m.DocumentCount())

	// The split chunks still tile the keyspace: every document remains
	// reachable.
	for i := 0; i < 40; i++ {
		_, ok := m.Get(model.ObjectID(fmt.Sprintf("doc-%03d", i)))
		assert.True(t, ok, "doc-%03d lost across splits", i)
	}
}

func TestManager_MergesUnderfullChunks(t *testing.T) {
	m := newManager(t, t.TempDir(), 10)

	for i := 0; i < 40; i++ {
		d := mustDoc(t, fmt.Sprintf("doc-%03d", i), `{"x":1}`)
		_, err := m.Add(d)
		require.NoError(t, err)
	}
	grown := m.ChunkCount()
	require.Greater(t, grown, 1)

	for i := 0; i < 40; i++ {
		m.Remove(model.ObjectID(fmt.Sprintf("doc-%03d", i)))
	}

	assert.Equal(t, 0, m.DocumentCount())
	assert.Less(t, m.ChunkCount(), grown, "underfull neighbors must merge back")

	// Whatever the final shape, the chunks still cover the keyspace.
	ranges := m.Ranges()
	assert.Contains(t, ranges[0], "-inf")
	assert.Contains(t, ranges[len(ranges)-1], "+inf")
}

func TestManager_Query(t *testing.T) {
	m := newManager(t, t.TempDir(), 5)

	for i := 0; i < 20; i++ {
		d := mustDoc(t, fmt.Sprintf("doc-%03d", i), fmt.Sprintf(`{"n":%d}`, i))
		_, err := m.Add(d)
		require.NoError(t, err)
	}

	results := m.Query([]model.Predicate{model.PredicateFunc(func(d model.Document) bool {
		return d.ID >= "doc-010"
	})})
	require.Len(t, results, 10)
	for i := 1; i < len(results); i++ {
		assert.Less(t, results[i-1].ID, results[i].ID, "cross-chunk query preserves key order")
	}
}

func TestManager_SaveAllAndReload(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, 5)

	for i := 0; i < 23; i++ {
		d := mustDoc(t, fmt.Sprintf("doc-%03d", i), fmt.Sprintf(`{"n":%d}`, i))
		_, err := m.Add(d)
		require.NoError(t, err)
	}
	require.NoError(t, m.SaveAll())

	reloaded := newManager(t, dir, 5)
	assert.Equal(t, m.ChunkCount(), reloaded.ChunkCount())
	assert.Equal(t, 23, reloaded.DocumentCount())
	assert.Equal(t, m.Ranges(), reloaded.Ranges())

	for i := 0; i < 23; i++ {
		id := model.ObjectID(fmt.Sprintf("doc-%03d", i))
		want, _ := m.Get(id)
		got, ok := reloaded.Get(id)
		require.True(t, ok)
		assert.True(t, want.Equals(got))
	}
}

func TestManager_LoadRejectsBrokenTiling(t *testing.T) {
	dir := t.TempDir()

	// Two snapshots with a gap between "g" and "m".
	left := chunk.New(chunk.NegativeInfinity(), chunk.MarkerAt("g"), dir, nil)
	right := chunk.New(chunk.MarkerAt("m"), chunk.PositiveInfinity(), dir, nil)
	require.NoError(t, left.Save())
	require.NoError(t, right.Save())

	m := chunk.NewManager(&chunk.ManagerConfig{
		DataDir:           dir,
		MaxChunkItemCount: 10,
		MaxChunkSize:      1 << 30,
	}, nil, nil, nil)
	assert.Error(t, m.Load())
}
