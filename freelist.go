package grove

import (
	"encoding/binary"
	"sort"
)

// freelist tracks free pages for reuse. Pages land here only once no live
// node references them; with mutations serialized under the tree's
// exclusive lock, a page freed by a merge is immediately safe to recycle.
//
// Persisted layout (spanning freelistPages contiguous pages, after each
// page header): [count: 8][id: 8]...
type freelist struct {
	ids []PageID // sorted ascending
}

func newFreelist() *freelist {
	return &freelist{ids: make([]PageID, 0)}
}

// allocate returns a free page ID, or 0 if none is available.
func (f *freelist) allocate() PageID {
	if len(f.ids) == 0 {
		return 0
	}
	id := f.ids[len(f.ids)-1]
	f.ids = f.ids[:len(f.ids)-1]
	return id
}

// free adds a page ID to the free list. Duplicate frees are ignored so that
// WAL replay stays idempotent.
func (f *freelist) free(id PageID) {
	i := sort.Search(len(f.ids), func(i int) bool { return f.ids[i] >= id })
	if i < len(f.ids) && f.ids[i] == id {
		return
	}
	f.ids = append(f.ids, 0)
	copy(f.ids[i+1:], f.ids[i:])
	f.ids[i] = id
}

// remove drops id from the free list if present. Replay uses it to mirror
// logged allocations against a persisted freelist that predates them, so a
// missing id is not an error.
func (f *freelist) remove(id PageID) {
	i := sort.Search(len(f.ids), func(i int) bool { return f.ids[i] >= id })
	if i < len(f.ids) && f.ids[i] == id {
		f.ids = append(f.ids[:i], f.ids[i+1:]...)
	}
}

func (f *freelist) size() int {
	return len(f.ids)
}

// pagesNeeded returns the number of pages required to persist the freelist.
func (f *freelist) pagesNeeded() int {
	total := 8 + len(f.ids)*8
	perPage := PageSize - pageHeaderSize
	pages := (total + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}
	return pages
}

// serialize writes the freelist into the given pages. Headers are filled
// with the freelist flag; the pager stamps page IDs and checksums on write.
func (f *freelist) serialize(pages []*Page) {
	buf := make([]byte, 8+len(f.ids)*8)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(f.ids)))
	for i, id := range f.ids {
		binary.LittleEndian.PutUint64(buf[8+i*8:], uint64(id))
	}

	offset := 0
	for _, page := range pages {
		page.writeHeader(&pageHeader{flags: freelistPageFlag})
		n := copy(page.data[pageHeaderSize:], buf[offset:])
		offset += n
	}
}

// deserialize reads the freelist back from its pages.
func (f *freelist) deserialize(pages []*Page) {
	f.ids = f.ids[:0]

	buf := make([]byte, 0, len(pages)*(PageSize-pageHeaderSize))
	for _, page := range pages {
		buf = append(buf, page.data[pageHeaderSize:]...)
	}

	if len(buf) < 8 {
		return
	}
	count := binary.LittleEndian.Uint64(buf[0:8])
	offset := 8
	for i := uint64(0); i < count; i++ {
		if offset+8 > len(buf) {
			break
		}
		f.ids = append(f.ids, PageID(binary.LittleEndian.Uint64(buf[offset:])))
		offset += 8
	}
}
