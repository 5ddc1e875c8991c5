package chunk_test

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polytronicgr/chunkdb/internal/chunk"
	"github.com/polytronicgr/chunkdb/internal/model"
)

func mustDoc(t *testing.T, id string, body string) model.Document {
	t.Helper()
	doc, err := model.NewDocument(model.ObjectID(id), []byte(body))
	require.NoError(t, err)
	return doc
}

func fullRangeChunk(t *testing.T) *chunk.Chunk {
	t.Helper()
	return chunk.New(chunk.NegativeInfinity(), chunk.PositiveInfinity(), t.TempDir(), nil)
}

func TestChunk_TryAdd(t *testing.T) {
	c := fullRangeChunk(t)

	d1 := mustDoc(t, "doc-1", `{"n":1}`)
	d2 := mustDoc(t, "doc-1", `{"n":2}`)

	assert.True(t, c.TryAdd(d1.ID, d1))
	assert.False(t, c.TryAdd(d2.ID, d2), "duplicate id must be reported, not overwrite")

	got, ok := c.TryGet("doc-1")
	require.True(t, ok)
	assert.True(t, d1.Equals(got), "resident value must remain the first one")
	assert.Equal(t, 1, c.Count())
}

func TestChunk_TryRemove(t *testing.T) {
	c := fullRangeChunk(t)
	d := mustDoc(t, "doc-1", `{"n":1}`)
	require.True(t, c.TryAdd(d.ID, d))

	removed, ok := c.TryRemove("doc-1")
	require.True(t, ok)
	assert.True(t, d.Equals(removed))
	assert.Equal(t, 0, c.Count())

	_, ok = c.TryRemove("doc-1")
	assert.False(t, ok, "removing an absent key is a reported failure")
}

func TestChunk_TryUpdate(t *testing.T) {
	c := fullRangeChunk(t)
	old := mustDoc(t, "doc-1", `{"n":1}`)
	updated := mustDoc(t, "doc-1", `{"n":2}`)
	require.True(t, c.TryAdd(old.ID, old))

	// Expected value is compared by value, not identity: a structurally
	// equal copy must be accepted.
	oldCopy := mustDoc(t, "doc-1", `{"n":1}`)
	assert.True(t, c.TryUpdate("doc-1", updated, oldCopy))

	got, ok := c.TryGet("doc-1")
	require.True(t, ok)
	assert.True(t, updated.Equals(got))

	// A stale expectation fails silently and leaves the value alone.
	assert.False(t, c.TryUpdate("doc-1", mustDoc(t, "doc-1", `{"n":3}`), old))
	got, _ = c.TryGet("doc-1")
	assert.True(t, updated.Equals(got))

	// Absent key fails the same way.
	assert.False(t, c.TryUpdate("missing", updated, old))
}

func TestChunk_Query(t *testing.T) {
	c := fullRangeChunk(t)
	for i := 0; i < 10; i++ {
		d := mustDoc(t, fmt.Sprintf("doc-%02d", i), fmt.Sprintf(`{"n":%d}`, i))
		require.True(t, c.TryAdd(d.ID, d))
	}

	even := model.PredicateFunc(func(d model.Document) bool {
		return d.ID[len(d.ID)-1]%2 == 0
	})
	lowHalf := model.PredicateFunc(func(d model.Document) bool {
		return d.ID < "doc-05"
	})

	all := c.Query(nil)
	assert.Len(t, all, 10)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID, "results must come back in key order")
	}

	// All predicates must match.
	results := c.Query([]model.Predicate{even, lowHalf})
	require.Len(t, results, 3)
	assert.Equal(t, model.ObjectID("doc-00"), results[0].ID)
	assert.Equal(t, model.ObjectID("doc-02"), results[1].ID)
	assert.Equal(t, model.ObjectID("doc-04"), results[2].ID)
}

func TestChunk_SplitInvariant(t *testing.T) {
	c := fullRangeChunk(t)
	ids := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, id := range ids {
		d := mustDoc(t, id, `{"v":true}`)
		require.True(t, c.TryAdd(d.ID, d))
	}

	originalStart := c.Start()
	originalEnd := c.End()

	right, err := c.Split()
	require.NoError(t, err)

	// Ranges tile the original range exactly.
	assert.True(t, c.Start().Equal(originalStart))
	assert.True(t, right.End().Equal(originalEnd))
	assert.True(t, c.End().Equal(right.Start()))

	// Lower half (rounding down) stays, upper half moves, boundary is
	// the minimum key of the right chunk.
	assert.Equal(t, 3, c.Count())
	assert.Equal(t, 4, right.Count())
	assert.True(t, right.Start().Equal(chunk.MarkerAt("d")))

	// Every entry lands in exactly one chunk, order preserved.
	leftDocs := c.Query(nil)
	rightDocs := right.Query(nil)
	var combined []string
	for _, d := range leftDocs {
		combined = append(combined, string(d.ID))
	}
	for _, d := range rightDocs {
		combined = append(combined, string(d.ID))
	}
	assert.Equal(t, ids, combined)

	for _, d := range leftDocs {
		assert.Less(t, d.ID, rightDocs[0].ID)
	}
}

func TestChunk_SplitSingleEntry(t *testing.T) {
	c := fullRangeChunk(t)
	d := mustDoc(t, "only", `{"v":1}`)
	require.True(t, c.TryAdd(d.ID, d))

	right, err := c.Split()
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count())
	assert.Equal(t, 1, right.Count())
	assert.True(t, c.End().Equal(chunk.MarkerAt("only")))
}

func TestChunk_SplitEmpty(t *testing.T) {
	c := fullRangeChunk(t)
	_, err := c.Split()
	assert.Error(t, err, "splitting an empty chunk is a contract violation")
}

func TestChunk_MergeInvariant(t *testing.T) {
	dir := t.TempDir()
	left := chunk.New(chunk.NegativeInfinity(), chunk.MarkerAt("m"), dir, nil)
	right := chunk.New(chunk.MarkerAt("m"), chunk.PositiveInfinity(), dir, nil)

	la := mustDoc(t, "a", `{"v":1}`)
	lb := mustDoc(t, "b", `{"v":2}`)
	rn := mustDoc(t, "n", `{"v":3}`)
	rz := mustDoc(t, "z", `{"v":4}`)
	require.True(t, left.TryAdd(la.ID, la))
	require.True(t, left.TryAdd(lb.ID, lb))
	require.True(t, right.TryAdd(rn.ID, rn))
	require.True(t, right.TryAdd(rz.ID, rz))

	require.NoError(t, left.Merge(right))

	assert.True(t, left.Start().Equal(chunk.NegativeInfinity()))
	assert.True(t, left.End().Equal(chunk.PositiveInfinity()))
	assert.Equal(t, 4, left.Count())

	docs := left.Query(nil)
	var ids []string
	for _, d := range docs {
		ids = append(ids, string(d.ID))
	}
	assert.Equal(t, []string{"a", "b", "n", "z"}, ids)
}

func TestChunk_MergeNonAdjacent(t *testing.T) {
	dir := t.TempDir()
	left := chunk.New(chunk.NegativeInfinity(), chunk.MarkerAt("g"), dir, nil)
	right := chunk.New(chunk.MarkerAt("m"), chunk.PositiveInfinity(), dir, nil)

	err := left.Merge(right)
	assert.Error(t, err, "merging non-adjacent chunks must be rejected")
}

func TestChunk_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := chunk.New(chunk.NegativeInfinity(), chunk.MarkerAt("zz"), dir, nil)
	for _, id := range []string{"c", "a", "b"} {
		d := mustDoc(t, id, fmt.Sprintf(`{"id":%q}`, id))
		require.True(t, c.TryAdd(d.ID, d))
	}

	require.NoError(t, c.Save())

	loaded, err := chunk.Load(c.Filename(), nil)
	require.NoError(t, err)

	assert.True(t, loaded.Start().Equal(c.Start()))
	assert.True(t, loaded.End().Equal(c.End()))
	assert.Equal(t, c.Count(), loaded.Count())

	want := c.Query(nil)
	got := loaded.Query(nil)
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equals(got[i]))
	}
}

func TestChunk_SaveCleanIsNoop(t *testing.T) {
	c := fullRangeChunk(t)
	d := mustDoc(t, "a", `{"v":1}`)
	require.True(t, c.TryAdd(d.ID, d))
	require.NoError(t, c.Save())

	// A clean chunk performs zero I/O: remove the snapshot and confirm
	// a second save does not recreate it.
	require.NoError(t, os.Remove(c.Filename()))
	require.NoError(t, c.Save())
	_, err := os.Stat(c.Filename())
	assert.True(t, os.IsNotExist(err))
}

func TestChunk_SaveAfterMutationWritesAgain(t *testing.T) {
	c := fullRangeChunk(t)
	d := mustDoc(t, "a", `{"v":1}`)
	require.True(t, c.TryAdd(d.ID, d))
	require.NoError(t, c.Save())

	d2 := mustDoc(t, "b", `{"v":2}`)
	require.True(t, c.TryAdd(d2.ID, d2))
	require.NoError(t, os.Remove(c.Filename()))
	require.NoError(t, c.Save())

	_, err := os.Stat(c.Filename())
	assert.NoError(t, err, "a dirty chunk must be rewritten")
}

func TestChunk_Delete(t *testing.T) {
	c := fullRangeChunk(t)
	d := mustDoc(t, "a", `{"v":1}`)
	require.True(t, c.TryAdd(d.ID, d))
	require.NoError(t, c.Save())

	require.NoError(t, c.Delete())
	_, err := os.Stat(c.Filename())
	assert.True(t, os.IsNotExist(err))

	// Deleting an already-absent snapshot is not an error.
	assert.NoError(t, c.Delete())
}

func TestChunk_LoadCorrupted(t *testing.T) {
	dir := t.TempDir()

	path := dir + "/broken.data"
	require.NoError(t, os.WriteFile(path, []byte("-inf\n"), 0644))
	_, err := chunk.Load(path, nil)
	assert.Error(t, err, "missing end marker line must be rejected")

	path2 := dir + "/broken2.data"
	require.NoError(t, os.WriteFile(path2, []byte("-inf\n+inf\nnot-json\n"), 0644))
	_, err = chunk.Load(path2, nil)
	assert.Error(t, err, "unparseable document line must be rejected")
}

func TestChunk_ConcurrentDisjointKeys(t *testing.T) {
	c := fullRangeChunk(t)

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("w%d-k%03d", w, i)
				d, err := model.NewDocument(model.ObjectID(id), []byte(fmt.Sprintf(`{"w":%d,"i":%d}`, w, i)))
				if err != nil {
					t.Errorf("failed to build document %s: %v", id, err)
					return
				}
				if !c.TryAdd(d.ID, d) {
					t.Errorf("unexpected duplicate for %s", id)
					return
				}
				if _, ok := c.TryGet(d.ID); !ok {
					t.Errorf("missing %s right after add", id)
					return
				}
				// Remove every other key again.
				if i%2 == 1 {
					if _, ok := c.TryRemove(d.ID); !ok {
						t.Errorf("failed to remove %s", id)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	// Final resident set equals the sequential-equivalent outcome.
	assert.Equal(t, workers*perWorker/2, c.Count())
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i += 2 {
			_, ok := c.TryGet(model.ObjectID(fmt.Sprintf("w%d-k%03d", w, i)))
			assert.True(t, ok)
		}
	}
}
