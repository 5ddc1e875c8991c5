package chunk

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/polytronicgr/chunkdb/internal/errors"
	"github.com/polytronicgr/chunkdb/internal/model"
)

const btreeDegree = 16

// snapshotSuffix is appended to the canonical "{start}-{end}" identity.
const snapshotSuffix = ".data"

func docLess(a, b model.Document) bool {
	return a.ID < b.ID
}

// Chunk is an ordered map from ObjectID to Document bounded by the
// half-open range [start, end). All access goes through the chunk's own
// lock; readers run concurrently, structural writers are exclusive.
//
// Dirtiness is tracked with a monotonic version counter rather than a
// boolean flag: Save records the version it snapshotted and marks only
// that version persisted, so a mutation landing between the snapshot
// read and the bookkeeping update keeps the chunk dirty.
type Chunk struct {
	mu    sync.RWMutex
	start Marker
	end   Marker
	tree  *btree.BTreeG[model.Document]
	bytes int64

	version   uint64 // bumped on every mutation
	persisted uint64 // last version written to disk

	dir    string
	logger *zap.Logger
}

// New creates an empty chunk covering [start, end) backed by the given
// snapshot directory. A freshly created chunk is dirty.
func New(start, end Marker, dir string, logger *zap.Logger) *Chunk {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunk{
		start:   start,
		end:     end,
		tree:    btree.NewG(btreeDegree, docLess),
		version: 1,
		dir:     dir,
		logger:  logger,
	}
}

// Start returns the inclusive lower bound marker.
func (c *Chunk) Start() Marker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start
}

// End returns the exclusive upper bound marker.
func (c *Chunk) End() Marker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.end
}

// Owns reports whether the key falls inside the chunk's range.
func (c *Chunk) Owns(id model.ObjectID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start.Covers(id) && !c.end.Covers(id)
}

// Count returns the number of resident documents.
func (c *Chunk) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Len()
}

// SizeBytes returns the approximate resident size of the chunk.
func (c *Chunk) SizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}

// Query returns every resident document matching all predicates, in key
// order. It holds the read lock for the duration of the scan.
func (c *Chunk) Query(predicates []model.Predicate) []model.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var results []model.Document
	c.tree.Ascend(func(doc model.Document) bool {
		for _, p := range predicates {
			if !p.Matches(doc) {
				return true
			}
		}
		results = append(results, doc)
		return true
	})
	return results
}

// TryAdd inserts the document under the given id. It returns false
// without mutating if the id already exists.
func (c *Chunk) TryAdd(id model.ObjectID, doc model.Document) bool {
	doc.ID = id

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tree.Get(model.Document{ID: id}); ok {
		return false
	}
	c.tree.ReplaceOrInsert(doc)
	c.bytes += int64(doc.Size())
	c.version++
	return true
}

// TryGet looks up a document by id under the read lock.
func (c *Chunk) TryGet(id model.ObjectID) (model.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Get(model.Document{ID: id})
}

// TryRemove deletes a document by id, returning the removed value.
// Absent keys are a reported failure, not an error.
func (c *Chunk) TryRemove(id model.ObjectID) (model.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.tree.Delete(model.Document{ID: id})
	if !ok {
		return model.Document{}, false
	}
	c.bytes -= int64(doc.Size())
	c.version++
	return doc, true
}

// TryUpdate replaces the value under id only if the current value equals
// expectedOld. This compare-and-swap is the chunk's sole conflict
// detection primitive; mismatch and absence both return false.
func (c *Chunk) TryUpdate(id model.ObjectID, newValue, expectedOld model.Document) bool {
	newValue.ID = id

	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.tree.Get(model.Document{ID: id})
	if !ok || !current.Equals(expectedOld) {
		return false
	}
	c.tree.ReplaceOrInsert(newValue)
	c.bytes += int64(newValue.Size()) - int64(current.Size())
	c.version++
	return true
}

// Split partitions the chunk at the midpoint by key order. The lower
// half of the entries (rounding down) remains in the receiver; the upper
// half moves to the returned chunk. The boundary marker is derived from
// the minimum key of the upper half, so the two ranges tile the original
// range exactly regardless of key distribution. Both chunks come out
// dirty. Splitting an empty chunk is a contract error.
func (c *Chunk) Split() (*Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.tree.Len()
	if n == 0 {
		return nil, errors.EmptySplit()
	}

	docs := make([]model.Document, 0, n)
	c.tree.Ascend(func(doc model.Document) bool {
		docs = append(docs, doc)
		return true
	})

	keep := n / 2
	moved := docs[keep:]
	boundary := MarkerAt(moved[0].ID)

	right := New(boundary, c.end, c.dir, c.logger)
	for _, doc := range moved {
		right.tree.ReplaceOrInsert(doc)
		right.bytes += int64(doc.Size())
		c.tree.Delete(doc)
		c.bytes -= int64(doc.Size())
	}

	c.end = boundary
	c.version++

	c.logger.Info("chunk split",
		zap.String("left", c.identityLocked()),
		zap.String("right", right.identityLocked()),
		zap.Int("left_count", c.tree.Len()),
		zap.Int("right_count", right.tree.Len()))

	return right, nil
}

// Merge copies every entry of the right-hand neighbor into the receiver
// and extends the receiver's range over it. Both chunks are locked, the
// receiver first, so merges must always run left into right. Merging
// non-adjacent chunks is a contract violation.
func (c *Chunk) Merge(next *Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next.mu.Lock()
	defer next.mu.Unlock()

	if !c.end.Equal(next.start) {
		return errors.NotAdjacent(c.end.String(), next.start.String())
	}

	next.tree.Ascend(func(doc model.Document) bool {
		c.tree.ReplaceOrInsert(doc)
		c.bytes += int64(doc.Size())
		return true
	})
	c.end = next.end
	c.version++

	c.logger.Info("chunk merged",
		zap.String("into", c.identityLocked()),
		zap.Int("count", c.tree.Len()))
	return nil
}

// Identity returns the canonical "{start}-{end}" form naming the chunk.
func (c *Chunk) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identityLocked()
}

func (c *Chunk) identityLocked() string {
	return fmt.Sprintf("%s-%s", c.start, c.end)
}

// Filename returns the path of the chunk's snapshot file.
func (c *Chunk) Filename() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filenameLocked()
}

func (c *Chunk) filenameLocked() string {
	return filepath.Join(c.dir, c.identityLocked()+snapshotSuffix)
}

// Save persists the chunk snapshot: line 1 start marker, line 2 end
// marker, then one line per document in key order. A clean chunk is a
// no-op with zero I/O.
func (c *Chunk) Save() error {
	c.mu.RLock()
	if c.version == c.persisted {
		c.mu.RUnlock()
		return nil
	}
	snapshotVersion := c.version
	filename := c.filenameLocked()

	var buf bytes.Buffer
	buf.WriteString(c.start.String())
	buf.WriteByte('\n')
	buf.WriteString(c.end.String())
	buf.WriteByte('\n')

	var encodeErr error
	c.tree.Ascend(func(doc model.Document) bool {
		line, err := doc.MarshalLine()
		if err != nil {
			encodeErr = err
			return false
		}
		buf.Write(line)
		buf.WriteByte('\n')
		return true
	})
	c.mu.RUnlock()

	if encodeErr != nil {
		return errors.SnapshotIO("failed to encode chunk snapshot", encodeErr)
	}
	if err := os.WriteFile(filename, buf.Bytes(), 0644); err != nil {
		return errors.SnapshotIO("failed to write chunk snapshot", err)
	}

	c.mu.Lock()
	if snapshotVersion > c.persisted {
		c.persisted = snapshotVersion
	}
	c.mu.Unlock()

	c.logger.Debug("chunk saved",
		zap.String("file", filename),
		zap.Uint64("version", snapshotVersion))
	return nil
}

// Delete removes the persisted snapshot file. In-memory state is left
// untouched.
func (c *Chunk) Delete() error {
	filename := c.Filename()
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return errors.SnapshotIO("failed to delete chunk snapshot", err)
	}
	return nil
}

// Load reconstructs a chunk from a snapshot file. The loaded chunk is
// clean until the next mutation.
func Load(path string, logger *zap.Logger) (*Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.SnapshotIO("failed to open chunk snapshot", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return nil, errors.CorruptedSnapshot(path, "missing start marker line")
	}
	start, err := ParseMarker(scanner.Text())
	if err != nil {
		return nil, errors.CorruptedSnapshot(path, "unparseable start marker")
	}
	if !scanner.Scan() {
		return nil, errors.CorruptedSnapshot(path, "missing end marker line")
	}
	end, err := ParseMarker(scanner.Text())
	if err != nil {
		return nil, errors.CorruptedSnapshot(path, "unparseable end marker")
	}

	c := New(start, end, filepath.Dir(path), logger)
	for scanner.Scan() {
		doc, err := model.ParseDocument(scanner.Bytes())
		if err != nil {
			return nil, errors.CorruptedSnapshot(path, err.Error())
		}
		c.tree.ReplaceOrInsert(doc)
		c.bytes += int64(doc.Size())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.SnapshotIO("failed to read chunk snapshot", err)
	}

	c.persisted = c.version
	return c, nil
}
