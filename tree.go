package grove

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
)

// Tree is a durable, ordered key-value store: a B+Tree over a page file
// with a write-ahead log. All state lives in the handle; independent trees
// are fully isolated.
//
// Concurrency: Insert and Delete serialize through an exclusive lock that
// also covers their WAL appends. Get and cursor steps take a shared lock
// per call and may run concurrently with each other.
type Tree struct {
	mu     sync.RWMutex
	pager  *pager
	wal    *wal
	cache  *freelru.SyncedLRU[PageID, *node]
	cmp    Compare
	order  int
	logger Logger
	closed bool

	// Effective entry size limits for this tree's order, never above the
	// MaxKeySize/MaxValueSize caps.
	maxKeyLen   int
	maxEntryLen int

	stats treeStats
}

// Stats are lightweight operation counters, readable at any time.
type Stats struct {
	PageReads   uint64
	PageWrites  uint64
	WALRecords  uint64
	Splits      uint64
	Merges      uint64
	CacheHits   uint64
	CacheMisses uint64
}

type treeStats struct {
	pageReads   atomic.Uint64
	pageWrites  atomic.Uint64
	walRecords  atomic.Uint64
	splits      atomic.Uint64
	merges      atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

func hashPageID(id PageID) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return uint32(xxhash.Sum64(b[:]))
}

// Open opens or creates the tree at path. The WAL lives alongside the data
// file at path+".wal" and is replayed before Open returns, so a handle is
// always consistent with every committed mutation.
func Open(path string, options ...Option) (*Tree, error) {
	opts := defaultOptions()
	for _, opt := range options {
		opt(&opts)
	}

	// Order is validated before any I/O.
	if opts.order != 0 && (opts.order < MinOrder || opts.order > MaxOrder) {
		return nil, fmt.Errorf("order %d: %w", opts.order, ErrInvalidOrder)
	}
	createOrder := opts.order
	if createOrder == 0 {
		createOrder = DefaultOrder
	}

	pg, err := openPager(path, createOrder)
	if err != nil {
		return nil, err
	}

	m := pg.getMeta()
	order := int(m.order)
	if order < MinOrder || order > MaxOrder {
		pg.close()
		return nil, fmt.Errorf("persisted order %d: %w", order, ErrInvalidOrder)
	}
	// The header page is authoritative; a conflicting caller-supplied order
	// would corrupt occupancy invariants.
	if opts.order != 0 && opts.order != order {
		pg.close()
		return nil, fmt.Errorf("order %d conflicts with persisted order %d: %w",
			opts.order, order, ErrInvalidOrder)
	}

	w, err := openWAL(path+".wal", opts.syncMode, opts.bytesPerSync, m.lastLSN)
	if err != nil {
		pg.close()
		return nil, err
	}

	cache, err := freelru.NewSynced[PageID, *node](uint32(opts.cacheSize), hashPageID)
	if err != nil {
		w.close()
		pg.close()
		return nil, err
	}

	maxKeyLen := maxBranchKey(order)
	if maxKeyLen > MaxKeySize {
		maxKeyLen = MaxKeySize
	}

	t := &Tree{
		pager:       pg,
		wal:         w,
		cache:       cache,
		cmp:         opts.compare,
		order:       order,
		logger:      opts.logger,
		maxKeyLen:   maxKeyLen,
		maxEntryLen: maxLeafEntry(order),
	}

	if err := t.recover(m.checkpointLSN); err != nil {
		w.close()
		pg.close()
		return nil, err
	}

	return t, nil
}

// recover replays committed WAL batches into the page file, reloads the
// header in case replay rewrote it, then checkpoints so the log starts
// empty.
func (t *Tree) recover(fromLSN uint64) error {
	applied, err := t.wal.replay(fromLSN, func(rec walRecord) error {
		switch rec.kind {
		case recordFree:
			t.pager.free(rec.pageID)
			return nil
		case recordAlloc:
			// The persisted freelist may predate this allocation; take the
			// page back off it so it is not handed out twice.
			t.pager.removeFree(rec.pageID)
			return nil
		}
		page := &Page{}
		copy(page.data[:], rec.data)
		return t.pager.writeImage(rec.pageID, page)
	})
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	if applied > 0 {
		if err := t.pager.reloadMeta(); err != nil {
			return fmt.Errorf("recovery: %w", err)
		}
		t.logger.Info("wal replay complete", "records", applied)
	}

	return t.checkpointLocked()
}

// checkpointLocked flushes page effects, persists freelist and header, and
// truncates the WAL. Callers must guarantee no concurrent mutation.
func (t *Tree) checkpointLocked() error {
	if err := t.wal.forceSync(); err != nil {
		return err
	}
	flushed := t.wal.lastLSN()
	if err := t.pager.checkpoint(flushed); err != nil {
		return err
	}
	if err := t.wal.checkpoint(flushed); err != nil {
		return err
	}
	t.logger.Info("checkpoint complete", "lsn", flushed)
	return nil
}

// Checkpoint forces all WAL effects into the data file and truncates the
// log. Open does this automatically after replay; long-running processes
// may call it to bound recovery time.
func (t *Tree) Checkpoint() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTreeClosed
	}
	return t.checkpointLocked()
}

// Close checkpoints and releases the handle. The data file and WAL are
// fsynced before Close returns.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTreeClosed
	}
	t.closed = true

	err := t.checkpointLocked()

	if werr := t.wal.close(); err == nil {
		err = werr
	}
	if perr := t.pager.close(); err == nil {
		err = perr
	}
	t.cache.Purge()

	return err
}

// Order returns the branching factor persisted in the header page.
func (t *Tree) Order() int {
	return t.order
}

// Height returns the current tree height (1 when the root is a leaf).
func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := t.pager.getMeta()
	return int(m.height)
}

// Stat returns a snapshot of the operation counters.
func (t *Tree) Stat() Stats {
	return Stats{
		PageReads:   t.stats.pageReads.Load(),
		PageWrites:  t.stats.pageWrites.Load(),
		WALRecords:  t.stats.walRecords.Load(),
		Splits:      t.stats.splits.Load(),
		Merges:      t.stats.merges.Load(),
		CacheHits:   t.stats.cacheHits.Load(),
		CacheMisses: t.stats.cacheMisses.Load(),
	}
}

// Get returns the value stored under key. Absence is not an error: the
// second return is false and the error nil when the key is not present.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, false, ErrTreeClosed
	}
	if len(key) == 0 {
		return nil, false, ErrKeyEmpty
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return nil, false, err
	}

	i, found := leaf.locate(t.cmp, key)
	if !found {
		return nil, false, nil
	}

	// Copy out so the caller's slice survives later mutations.
	return append([]byte(nil), leaf.values[i]...), true, nil
}

// findLeaf descends from the root to the leaf responsible for key.
// Caller must hold at least the shared lock.
func (t *Tree) findLeaf(key []byte) (*node, error) {
	m := t.pager.getMeta()

	n, err := t.loadNode(m.rootPageID)
	if err != nil {
		return nil, err
	}
	for !n.isLeaf {
		i := n.childIndex(t.cmp, key)
		n, err = t.loadNode(n.children[i])
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// loadNode resolves a PageID to a decoded node through the read cache.
// An unresolvable or wrong-kind page is a structural inconsistency.
func (t *Tree) loadNode(id PageID) (*node, error) {
	if id < 2 {
		return nil, fmt.Errorf("page %d is not a node: %w", id, ErrCorruptPage)
	}

	if n, ok := t.cache.Get(id); ok {
		t.stats.cacheHits.Add(1)
		return n, nil
	}
	t.stats.cacheMisses.Add(1)

	page, err := t.pager.readPage(id)
	if err != nil {
		if errors.Is(err, ErrChecksumMismatch) {
			t.logger.Error("page checksum mismatch", "page", id)
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("page %d unresolvable: %w", id, ErrCorruptPage)
		}
		return nil, err
	}
	t.stats.pageReads.Add(1)

	flags := page.header().flags
	if flags&(leafPageFlag|branchPageFlag) == 0 {
		return nil, fmt.Errorf("page %d has kind %#x, expected a node: %w", id, flags, ErrCorruptPage)
	}

	n := &node{}
	if err := n.deserialize(page); err != nil {
		return nil, fmt.Errorf("page %d: %w", id, err)
	}
	if n.pageID != id {
		return nil, fmt.Errorf("page %d claims id %d: %w", id, n.pageID, ErrCorruptPage)
	}

	t.cache.Add(id, n)
	return n, nil
}

// mutation is the working state of one insert or delete: cloned dirty
// nodes, allocations, frees, and pending header changes. Nothing touches
// the cache, the WAL, or the page file until commit, so an aborted
// mutation leaves no trace.
type mutation struct {
	tree       *Tree
	kind       uint8 // recordInsert or recordDelete
	targetLeaf PageID
	dirty      map[PageID]*node
	allocated  []PageID
	freed      []PageID

	rootPageID PageID
	height     uint32
	shapeDirty bool // root, height, or page count changed
}

func (t *Tree) newMutation(kind uint8) *mutation {
	m := t.pager.getMeta()
	return &mutation{
		tree:       t,
		kind:       kind,
		dirty:      make(map[PageID]*node),
		rootPageID: m.rootPageID,
		height:     m.height,
	}
}

// load reads a node, preferring this mutation's dirty copies.
func (m *mutation) load(id PageID) (*node, error) {
	if n, ok := m.dirty[id]; ok {
		return n, nil
	}
	return m.tree.loadNode(id)
}

// modify returns this mutation's dirty clone of n, creating it on first
// touch. Later changes to the same page land on the one clone.
func (m *mutation) modify(n *node) *node {
	if existing, ok := m.dirty[n.pageID]; ok {
		return existing
	}
	cloned := n.clone()
	m.dirty[cloned.pageID] = cloned
	return cloned
}

// alloc claims a page for a new node. Rolled back on abort.
func (m *mutation) alloc() PageID {
	id := m.tree.pager.allocate()
	m.allocated = append(m.allocated, id)
	m.shapeDirty = true
	return id
}

// free releases a node's page and drops it from the dirty set.
func (m *mutation) free(n *node) {
	delete(m.dirty, n.pageID)
	m.freed = append(m.freed, n.pageID)
}

// setRoot records a root change (split or collapse).
func (m *mutation) setRoot(id PageID, height uint32) {
	m.rootPageID = id
	m.height = height
	m.shapeDirty = true
}

// abort returns allocated pages to the freelist and discards everything
// else. The cache and disk were never touched.
func (m *mutation) abort() {
	for _, id := range m.allocated {
		m.tree.pager.free(id)
	}
}

// failCommit handles a data-file write failure after the WAL sync: the
// batch is durable in the log but the page file is in an unknown state, so
// the handle is closed and the next Open re-applies the batch from the log.
// Caller must hold the exclusive lock.
func (t *Tree) failCommit(err error) error {
	t.closed = true
	t.logger.Error("page write failed after commit, closing handle", "error", err)
	t.wal.close()
	t.pager.close()
	t.cache.Purge()
	return err
}

// commit serializes the dirty set, makes it durable in the WAL
// (log-before-data), applies it to the page file, and publishes the new
// nodes to the cache. Record order inside the batch is by page ID for
// determinism; the trailing commit marker makes the batch atomic on replay.
func (m *mutation) commit() error {
	t := m.tree

	if len(m.dirty) == 0 && len(m.freed) == 0 && !m.shapeDirty {
		return nil
	}

	ids := make([]PageID, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	images := make([]*Page, len(ids))
	for i, id := range ids {
		page, err := m.dirty[id].serialize()
		if err != nil {
			m.abort()
			return err
		}
		page.stampChecksum()
		images[i] = page
	}

	structural := recordSplit
	if m.kind == recordDelete {
		structural = recordMerge
	}

	var lastLSN uint64
	for i, id := range ids {
		kind := structural
		if id == m.targetLeaf {
			kind = m.kind
		}
		lsn, err := t.wal.append(kind, id, images[i].data[:])
		if err != nil {
			m.abort()
			return err
		}
		lastLSN = lsn
		t.stats.walRecords.Add(1)
	}
	for _, id := range m.freed {
		lsn, err := t.wal.append(recordFree, id, nil)
		if err != nil {
			m.abort()
			return err
		}
		lastLSN = lsn
		t.stats.walRecords.Add(1)
	}
	// Allocations are logged too: the persisted freelist is only rewritten
	// at checkpoints, so replay must learn which free pages this batch
	// claimed.
	for _, id := range m.allocated {
		lsn, err := t.wal.append(recordAlloc, id, nil)
		if err != nil {
			m.abort()
			return err
		}
		lastLSN = lsn
		t.stats.walRecords.Add(1)
	}

	var newMeta meta
	var metaImg *Page
	if m.shapeDirty {
		newMeta = t.pager.getMeta()
		newMeta.rootPageID = m.rootPageID
		newMeta.height = m.height
		newMeta.seq++
		newMeta.lastLSN = lastLSN
		newMeta.checksum = newMeta.calculateChecksum()
		metaImg = metaPage(&newMeta)
		if _, err := t.wal.append(recordMeta, PageID(newMeta.seq%2), metaImg.data[:]); err != nil {
			m.abort()
			return err
		}
		t.stats.walRecords.Add(1)
	}

	if _, err := t.wal.append(recordCommit, 0, nil); err != nil {
		m.abort()
		return err
	}
	t.stats.walRecords.Add(1)

	// Durability point: the mutation is committed once this returns.
	if err := t.wal.sync(); err != nil {
		m.abort()
		return err
	}

	for i, id := range ids {
		if err := t.pager.writeImage(id, images[i]); err != nil {
			return t.failCommit(err)
		}
		t.stats.pageWrites.Add(1)
	}
	for _, id := range m.freed {
		t.pager.free(id)
		t.cache.Remove(id)
	}
	if m.shapeDirty {
		if err := t.pager.setMeta(newMeta, metaImg); err != nil {
			return t.failCommit(err)
		}
	}

	for _, id := range ids {
		t.cache.Add(id, m.dirty[id])
	}

	return nil
}
