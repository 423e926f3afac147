package grove

import (
	"fmt"
	"os"
	"sync"
)

// pager owns the backing page file: the dual header pages, the persisted
// freelist, and all page-granular reads and writes. It is the single
// writer-of-record for the file; the tree's locking discipline guarantees
// at most one mutator, and the pager's own mutex covers meta and freelist
// access from checkpoints.
type pager struct {
	mu       sync.Mutex
	file     *os.File
	meta     meta
	freelist *freelist
}

// openPager opens or creates the page file. order is used only when the
// file is new; for an existing file the persisted order is authoritative.
func openPager(path string, order int) (*pager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	pg := &pager{
		file:     file,
		freelist: newFreelist(),
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := pg.initialize(order); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		if err := pg.load(); err != nil {
			file.Close()
			return nil, err
		}
	}

	return pg, nil
}

// initialize lays out a fresh file: header pages 0 and 1, one freelist page
// at 2, and a root leaf at 3.
func (pg *pager) initialize(order int) error {
	pg.meta = meta{
		magic:         MagicNumber,
		version:       FormatVersion,
		pageSize:      PageSize,
		order:         uint32(order),
		height:        1,
		rootPageID:    3,
		freelistID:    2,
		freelistPages: 1,
		numPages:      4,
	}

	root := &node{pageID: 3, isLeaf: true}
	rootPage, err := root.serialize()
	if err != nil {
		return err
	}
	if err := pg.writePage(3, rootPage); err != nil {
		return err
	}

	if err := pg.writeFreelistLocked(); err != nil {
		return err
	}

	// Write both header copies so either is a valid starting point.
	pg.meta.checksum = pg.meta.calculateChecksum()
	for id := PageID(0); id <= 1; id++ {
		if err := pg.writePage(id, metaPage(&pg.meta)); err != nil {
			return err
		}
	}

	return fdatasync(pg.file)
}

// loadMeta reads both header pages and returns the newest valid copy.
func (pg *pager) loadMeta() (*meta, error) {
	page0, err0 := pg.readPageNoVerify(0)
	page1, err1 := pg.readPageNoVerify(1)

	var m *meta
	for _, candidate := range []*Page{page0, page1} {
		if candidate == nil {
			continue
		}
		cm := candidate.readMeta()
		if cm.validate() != nil {
			continue
		}
		if m == nil || cm.seq > m.seq {
			copied := *cm
			m = &copied
		}
	}
	if m == nil {
		return nil, fmt.Errorf("both header pages invalid (%v, %v): %w", err0, err1, ErrCorruptPage)
	}
	return m, nil
}

// reloadMeta re-reads the header after WAL replay may have rewritten it.
// The in-memory freelist is kept: replayed frees are already applied to it
// and the persisted region predates them.
func (pg *pager) reloadMeta() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	m, err := pg.loadMeta()
	if err != nil {
		return err
	}
	pg.meta = *m
	return nil
}

// load reads the header and the freelist it points at.
func (pg *pager) load() error {
	m, err := pg.loadMeta()
	if err != nil {
		return err
	}
	pg.meta = *m

	pages := make([]*Page, pg.meta.freelistPages)
	for i := range pages {
		page, err := pg.readPage(pg.meta.freelistID + PageID(i))
		if err != nil {
			return fmt.Errorf("freelist page %d: %w", pg.meta.freelistID+PageID(i), err)
		}
		pages[i] = page
	}
	pg.freelist.deserialize(pages)

	return nil
}

// allocate returns a page ID from the freelist, or extends the file.
func (pg *pager) allocate() PageID {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if id := pg.freelist.allocate(); id != 0 {
		return id
	}

	id := PageID(pg.meta.numPages)
	pg.meta.numPages++
	return id
}

// free returns a page to the freelist. Safe immediately: mutations are
// exclusive, so no live node references the page by the time it is freed.
func (pg *pager) free(id PageID) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	pg.freelist.free(id)
}

// removeFree takes id off the freelist if it is there. Recovery applies
// logged allocations with it so a freelist persisted before the allocation
// does not hand the page out again.
func (pg *pager) removeFree(id PageID) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	pg.freelist.remove(id)
}

// readPage reads and checksum-verifies one page. A mismatch fails only this
// read.
func (pg *pager) readPage(id PageID) (*Page, error) {
	page, err := pg.readPageNoVerify(id)
	if err != nil {
		return nil, err
	}
	if err := page.verifyChecksum(); err != nil {
		return nil, fmt.Errorf("page %d: %w", id, err)
	}
	return page, nil
}

func (pg *pager) readPageNoVerify(id PageID) (*Page, error) {
	page := &Page{}
	n, err := pg.file.ReadAt(page.data[:], int64(id)*PageSize)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	if n != PageSize {
		return nil, fmt.Errorf("read page %d: short read of %d bytes", id, n)
	}
	return page, nil
}

// writePage stamps the page ID and checksum, then writes the page. Used for
// pages built in place (freelist, headers).
func (pg *pager) writePage(id PageID, page *Page) error {
	page.header().pageID = id
	page.stampChecksum()
	return pg.writeImage(id, page)
}

// writeImage writes page bytes exactly as given. Used for images that were
// already stamped and logged to the WAL, so the disk bytes match the log.
func (pg *pager) writeImage(id PageID, page *Page) error {
	n, err := pg.file.WriteAt(page.data[:], int64(id)*PageSize)
	if err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	if n != PageSize {
		return fmt.Errorf("write page %d: short write of %d bytes", id, n)
	}
	return nil
}

// metaPage builds a header page image for m. The page ID alternates with
// the header sequence number so a torn write never destroys the newest
// surviving copy.
func metaPage(m *meta) *Page {
	page := &Page{}
	page.writeHeader(&pageHeader{
		pageID: PageID(m.seq % 2),
		flags:  metaPageFlag,
	})
	page.writeMeta(m)
	page.stampChecksum()
	return page
}

// putMeta persists a new header revision and adopts it in memory.
// Caller must hold pg.mu or have exclusive access.
func (pg *pager) putMeta(m meta) error {
	m.checksum = m.calculateChecksum()
	if err := pg.writeImage(PageID(m.seq%2), metaPage(&m)); err != nil {
		return err
	}
	pg.meta = m
	return nil
}

// setMeta adopts a header revision whose page image was already built and
// WAL-logged, so the disk bytes match the log exactly.
func (pg *pager) setMeta(m meta, img *Page) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if err := pg.writeImage(PageID(m.seq%2), img); err != nil {
		return err
	}
	pg.meta = m
	return nil
}

// getMeta returns a copy of the current header.
func (pg *pager) getMeta() meta {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.meta
}

// writeFreelistLocked serializes the freelist into its reserved region,
// relocating the region to the end of the file when it has outgrown it.
// Caller must hold pg.mu or have exclusive access.
func (pg *pager) writeFreelistLocked() error {
	needed := pg.freelist.pagesNeeded()

	if uint64(needed) > pg.meta.freelistPages {
		// Recycle the old region and claim a fresh one at the end.
		for i := uint64(0); i < pg.meta.freelistPages; i++ {
			pg.freelist.free(pg.meta.freelistID + PageID(i))
		}
		needed = pg.freelist.pagesNeeded()

		pg.meta.freelistID = PageID(pg.meta.numPages)
		pg.meta.freelistPages = uint64(needed)
		pg.meta.numPages += uint64(needed)
	}

	pages := make([]*Page, needed)
	for i := range pages {
		pages[i] = &Page{}
	}
	pg.freelist.serialize(pages)

	for i, page := range pages {
		if err := pg.writePage(pg.meta.freelistID+PageID(i), page); err != nil {
			return err
		}
	}

	return nil
}

// checkpoint makes every page effect durable and persists the freelist and
// a new header revision. flushedLSN becomes the recovery floor.
func (pg *pager) checkpoint(flushedLSN uint64) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if err := fdatasync(pg.file); err != nil {
		return err
	}

	if err := pg.writeFreelistLocked(); err != nil {
		return err
	}

	m := pg.meta
	m.seq++
	m.lastLSN = flushedLSN
	m.checkpointLSN = flushedLSN
	if err := pg.putMeta(m); err != nil {
		return err
	}

	return fdatasync(pg.file)
}

func (pg *pager) close() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	return pg.file.Close()
}
