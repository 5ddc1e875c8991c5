package chunk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/polytronicgr/chunkdb/internal/errors"
	"github.com/polytronicgr/chunkdb/internal/metrics"
	"github.com/polytronicgr/chunkdb/internal/model"
	"github.com/polytronicgr/chunkdb/internal/util/workerpool"
)

// ManagerConfig holds chunk set configuration
type ManagerConfig struct {
	DataDir           string
	MaxChunkItemCount int
	MaxChunkSize      int64
}

// Manager owns the ordered set of chunks tiling the full keyspace. It
// routes keys to the owning chunk, splits chunks past the configured
// thresholds and merges underfull neighbors. Each chunk carries its own
// lock, so operations on different ranges proceed in parallel; the
// manager's lock only guards the chunk table itself.
type Manager struct {
	mu     sync.RWMutex
	chunks []*Chunk // ordered by start marker

	cfg     *ManagerConfig
	pool    *workerpool.Pool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewManager creates a chunk manager. The worker pool and metrics may be
// nil; saves then run synchronously and unobserved.
func NewManager(cfg *ManagerConfig, pool *workerpool.Pool, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		pool:    pool,
		metrics: m,
		logger:  logger,
	}
}

// Load rebuilds the chunk set from the snapshot files in the data
// directory. An empty directory bootstraps a single chunk spanning the
// whole keyspace.
func (m *Manager) Load() error {
	entries, err := os.ReadDir(m.cfg.DataDir)
	if err != nil {
		return errors.SnapshotIO("failed to read data directory", err)
	}

	var chunks []*Chunk
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		c, err := Load(filepath.Join(m.cfg.DataDir, entry.Name()), m.logger)
		if err != nil {
			return err
		}
		chunks = append(chunks, c)
	}

	if len(chunks) == 0 {
		c := New(NegativeInfinity(), PositiveInfinity(), m.cfg.DataDir, m.logger)
		if err := c.Save(); err != nil {
			return err
		}
		m.mu.Lock()
		m.chunks = []*Chunk{c}
		m.mu.Unlock()
		m.logger.Info("bootstrapped empty chunk set", zap.String("dir", m.cfg.DataDir))
		m.refreshGauges()
		return nil
	}

	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Start().Compare(chunks[j].Start()) < 0
	})
	if err := validateTiling(chunks); err != nil {
		return err
	}

	m.mu.Lock()
	m.chunks = chunks
	m.mu.Unlock()
	m.logger.Info("chunk set loaded",
		zap.String("dir", m.cfg.DataDir),
		zap.Int("chunks", len(chunks)))
	m.refreshGauges()
	return nil
}

// validateTiling checks that the loaded chunks exactly cover the
// keyspace with no gaps or overlaps.
func validateTiling(chunks []*Chunk) error {
	if !chunks[0].Start().Equal(NegativeInfinity()) {
		return errors.BrokenTiling(fmt.Sprintf("first chunk starts at %s, not the keyspace start", chunks[0].Start()))
	}
	if !chunks[len(chunks)-1].End().Equal(PositiveInfinity()) {
		return errors.BrokenTiling(fmt.Sprintf("last chunk ends at %s, not the keyspace end", chunks[len(chunks)-1].End()))
	}
	for i := 1; i < len(chunks); i++ {
		if !chunks[i-1].End().Equal(chunks[i].Start()) {
			return errors.BrokenTiling(fmt.Sprintf("gap or overlap between chunks %s and %s",
				chunks[i-1].Identity(), chunks[i].Identity()))
		}
	}
	return nil
}

// locate finds the chunk owning the key. With an intact tiling this
// never fails.
func (m *Manager) locate(id model.ObjectID) *Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := sort.Search(len(m.chunks), func(i int) bool {
		return !m.chunks[i].End().Covers(id)
	})
	if i < len(m.chunks) && m.chunks[i].Owns(id) {
		return m.chunks[i]
	}
	return nil
}

// Add routes the document to its owning chunk and inserts it. A false
// return means the id already exists. A split is triggered when the
// chunk crosses the item-count or byte-size threshold.
func (m *Manager) Add(doc model.Document) (bool, error) {
	ch := m.locate(doc.ID)
	if ch == nil {
		return false, errors.BrokenTiling(fmt.Sprintf("no chunk owns key %q", doc.ID))
	}
	if !ch.TryAdd(doc.ID, doc) {
		return false, nil
	}
	if m.metrics != nil {
		m.metrics.AddsTotal.Inc()
	}

	if ch.Count() > m.cfg.MaxChunkItemCount || ch.SizeBytes() > m.cfg.MaxChunkSize {
		if err := m.split(ch); err != nil {
			return true, err
		}
	}
	m.refreshGauges()
	return true, nil
}

// Get looks up a document by id.
func (m *Manager) Get(id model.ObjectID) (model.Document, bool) {
	if m.metrics != nil {
		m.metrics.GetsTotal.Inc()
	}
	ch := m.locate(id)
	if ch == nil {
		return model.Document{}, false
	}
	return ch.TryGet(id)
}

// Remove deletes a document by id, returning the removed value. Chunks
// left underfull are merged into a neighbor.
func (m *Manager) Remove(id model.ObjectID) (model.Document, bool) {
	ch := m.locate(id)
	if ch == nil {
		return model.Document{}, false
	}
	doc, ok := ch.TryRemove(id)
	if !ok {
		return model.Document{}, false
	}
	if m.metrics != nil {
		m.metrics.RemovesTotal.Inc()
	}

	if ch.Count() < m.cfg.MaxChunkItemCount/4 {
		m.maybeMerge(ch)
	}
	m.refreshGauges()
	return doc, true
}

// Update performs a compare-and-swap on the owning chunk.
func (m *Manager) Update(id model.ObjectID, newValue, expectedOld model.Document) bool {
	ch := m.locate(id)
	if ch == nil {
		return false
	}
	ok := ch.TryUpdate(id, newValue, expectedOld)
	if m.metrics != nil {
		m.metrics.UpdatesTotal.Inc()
		if !ok {
			m.metrics.UpdateConflicts.Inc()
		}
	}
	return ok
}

// Query scans every chunk in range order and returns the documents
// matching all predicates.
func (m *Manager) Query(predicates []model.Predicate) []model.Document {
	start := time.Now()

	m.mu.RLock()
	chunks := make([]*Chunk, len(m.chunks))
	copy(chunks, m.chunks)
	m.mu.RUnlock()

	var results []model.Document
	for _, ch := range chunks {
		results = append(results, ch.Query(predicates)...)
	}

	if m.metrics != nil {
		m.metrics.QueriesTotal.Inc()
		m.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
	return results
}

// split divides the chunk and inserts the new right-hand chunk into the
// table. The pre-split snapshot file is removed once the chunk's
// identity has changed.
func (m *Manager) split(ch *Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(ch)
	if i < 0 {
		// Already merged away by a concurrent structural change.
		return nil
	}

	// Re-check under the table lock so concurrent adds trigger one split.
	if ch.Count() <= m.cfg.MaxChunkItemCount && ch.SizeBytes() <= m.cfg.MaxChunkSize {
		return nil
	}

	staleFile := ch.Filename()
	right, err := ch.Split()
	if err != nil {
		return err
	}

	m.chunks = append(m.chunks, nil)
	copy(m.chunks[i+2:], m.chunks[i+1:])
	m.chunks[i+1] = right

	if staleFile != ch.Filename() {
		if err := os.Remove(staleFile); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove stale chunk snapshot",
				zap.String("file", staleFile), zap.Error(err))
		}
	}
	if m.metrics != nil {
		m.metrics.SplitsTotal.Inc()
	}
	return nil
}

// maybeMerge folds an underfull chunk into a neighbor when the combined
// size stays comfortably below the split threshold.
func (m *Manager) maybeMerge(ch *Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(ch)
	if i < 0 || len(m.chunks) < 2 {
		return
	}

	// Prefer absorbing the right neighbor; fall back to being absorbed
	// by the left one when ch is the last chunk.
	left, right := ch, (*Chunk)(nil)
	if i+1 < len(m.chunks) {
		right = m.chunks[i+1]
	} else {
		left, right = m.chunks[i-1], ch
		i--
	}

	if left.Count()+right.Count() > m.cfg.MaxChunkItemCount/2 {
		return
	}

	staleFile := left.Filename()
	if err := left.Merge(right); err != nil {
		// Adjacency is guaranteed by the table order; a failure here is
		// a broken invariant worth surfacing loudly.
		m.logger.Error("chunk merge contract violation", zap.Error(err))
		return
	}
	m.chunks = append(m.chunks[:i+1], m.chunks[i+2:]...)

	if err := right.Delete(); err != nil {
		m.logger.Warn("failed to delete merged chunk snapshot", zap.Error(err))
	}
	if staleFile != left.Filename() {
		if err := os.Remove(staleFile); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove stale chunk snapshot",
				zap.String("file", staleFile), zap.Error(err))
		}
	}
	if m.metrics != nil {
		m.metrics.MergesTotal.Inc()
	}
}

// indexOf returns the table position of the chunk, or -1. Callers hold
// the table lock.
func (m *Manager) indexOf(ch *Chunk) int {
	for i, c := range m.chunks {
		if c == ch {
			return i
		}
	}
	return -1
}

// SaveAll persists every dirty chunk synchronously.
func (m *Manager) SaveAll() error {
	m.mu.RLock()
	chunks := make([]*Chunk, len(m.chunks))
	copy(chunks, m.chunks)
	m.mu.RUnlock()

	for _, ch := range chunks {
		start := time.Now()
		if err := ch.Save(); err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.SnapshotsTotal.Inc()
			m.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		}
	}
	return nil
}

// ScheduleSave submits a snapshot pass to the worker pool, falling back
// to a synchronous save when no pool is configured.
func (m *Manager) ScheduleSave() {
	if m.pool == nil {
		if err := m.SaveAll(); err != nil {
			m.logger.Error("chunk snapshot pass failed", zap.Error(err))
		}
		return
	}
	err := m.pool.Submit(workerpool.Task{
		ID: "chunk-snapshot-pass",
		Fn: func(_ context.Context) error {
			return m.SaveAll()
		},
	})
	if err != nil {
		m.logger.Warn("chunk snapshot pass not scheduled", zap.Error(err))
	}
}

// ChunkCount returns the number of live chunks.
func (m *Manager) ChunkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// DocumentCount returns the number of resident documents across chunks.
func (m *Manager) DocumentCount() int {
	m.mu.RLock()
	chunks := make([]*Chunk, len(m.chunks))
	copy(chunks, m.chunks)
	m.mu.RUnlock()

	total := 0
	for _, ch := range chunks {
		total += ch.Count()
	}
	return total
}

// Ranges returns the chunk identities in keyspace order.
func (m *Manager) Ranges() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, len(m.chunks))
	for i, ch := range m.chunks {
		ids[i] = ch.Identity()
	}
	return ids
}

func (m *Manager) refreshGauges() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	chunks := make([]*Chunk, len(m.chunks))
	copy(chunks, m.chunks)
	m.mu.RUnlock()

	var docs int
	var bytes int64
	for _, ch := range chunks {
		docs += ch.Count()
		bytes += ch.SizeBytes()
	}
	m.metrics.ChunksTotal.Set(float64(len(chunks)))
	m.metrics.DocumentsTotal.Set(float64(docs))
	m.metrics.ResidentBytes.Set(float64(bytes))
}
