package grove

import (
	"encoding/binary"
	"hash/crc32"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

const (
	PageSize = 4096

	leafPageFlag     uint16 = 0x01
	branchPageFlag   uint16 = 0x02
	freelistPageFlag uint16 = 0x04
	metaPageFlag     uint16 = 0x08

	pageHeaderSize    = 40 // pageID(8) + flags(2) + numKeys(2) + padding(4) + checksum(8) + nextLeaf(8) + prevLeaf(8)
	leafElementSize   = 8
	branchElementSize = 16

	// checksumOffset is where the 8-byte page checksum lives inside the header.
	// The checksum covers every page byte except these eight.
	checksumOffset = 16

	// MagicNumber for file format identification ("grov" in hex)
	MagicNumber uint32 = 0x67726f76

	FormatVersion uint16 = 1
)

// PageID identifies a fixed-size page within the backing file. PageID 0 and 1
// are the dual header pages; 0 is therefore also usable as a nil sentinel in
// tree pointers.
type PageID uint64

// Page is a raw disk page (4096 bytes)
//
// LEAF PAGE LAYOUT:
// ┌─────────────────────────────────────────────────────────────────────┐
// │ header (40 bytes)                                                   │
// │ pageID, flags, numKeys, padding, checksum, nextLeaf, prevLeaf       │
// ├─────────────────────────────────────────────────────────────────────┤
// │ leafElement[0] (8 bytes)                                            │
// │ keyOffset, keySize, valueOffset, valueSize                          │
// ├─────────────────────────────────────────────────────────────────────┤
// │ ...                                                                 │
// ├─────────────────────────────────────────────────────────────────────┤
// │ leafElement[N-1] (8 bytes)                                          │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Data area (variable, packed from end backward):                     │
// │   ← key[0] | value[0] | key[1] | value[1] | ... | key[N-1] | val[N] │
// │   Elements grow forward →              Data grows backward ←        │
// └─────────────────────────────────────────────────────────────────────┘
//
// BRANCH PAGE LAYOUT:
// ┌─────────────────────────────────────────────────────────────────────┐
// │ header (40 bytes)                                                   │
// ├─────────────────────────────────────────────────────────────────────┤
// │ branchElement[0..N-1] (16 bytes each)                               │
// │ keyOffset, keySize, reserved, childID                               │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Data area (variable, packed from end backward, reserve last 8):     │
// │   ← key[0] | key[1] | ... | key[N-1]        children[0] (8 bytes)→  │
// │   branchElement[0..N-1].childID stores children[1..N]               │
// │   children[0] is at a FIXED location: last 8 bytes (PageSize-8)     │
// └─────────────────────────────────────────────────────────────────────┘
type Page struct {
	data [PageSize]byte
}

// pageHeader is the fixed-size header at the start of each page.
// Layout: [pageID: 8][flags: 2][numKeys: 2][padding: 4][checksum: 8][nextLeaf: 8][prevLeaf: 8]
type pageHeader struct {
	pageID   PageID // 8 bytes
	flags    uint16 // 2 bytes (leaf/branch/freelist/meta)
	numKeys  uint16 // 2 bytes
	padding  uint32 // 4 bytes (alignment)
	checksum uint64 // 8 bytes - xxhash64 of the page with this field zeroed
	nextLeaf PageID // 8 bytes - next leaf in key order (0 if none)
	prevLeaf PageID // 8 bytes - prev leaf in key order (0 if none)
}

// leafElement is slot metadata for a key-value pair in a leaf page.
// Layout: [keyOffset: 2][keySize: 2][valueOffset: 2][valueSize: 2]
type leafElement struct {
	keyOffset   uint16
	keySize     uint16
	valueOffset uint16
	valueSize   uint16
}

// branchElement is slot metadata for a routing key and child pointer in a
// branch page. Branch nodes only store keys, no values.
// Layout: [keyOffset: 2][keySize: 2][reserved: 4][childID: 8]
type branchElement struct {
	keyOffset uint16
	keySize   uint16
	reserved  uint32
	childID   PageID
}

func (p *Page) header() *pageHeader {
	return (*pageHeader)(unsafe.Pointer(&p.data[0]))
}

func (p *Page) leafElements() []leafElement {
	h := p.header()
	if h.numKeys == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&p.data[pageHeaderSize])
	return unsafe.Slice((*leafElement)(ptr), h.numKeys)
}

func (p *Page) branchElements() []branchElement {
	h := p.header()
	if h.numKeys == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&p.data[pageHeaderSize])
	return unsafe.Slice((*branchElement)(ptr), h.numKeys)
}

func (p *Page) writeHeader(h *pageHeader) {
	*p.header() = *h
}

func (p *Page) writeLeafElement(idx int, e *leafElement) {
	ptr := unsafe.Pointer(&p.data[pageHeaderSize+idx*leafElementSize])
	*(*leafElement)(ptr) = *e
}

func (p *Page) writeBranchElement(idx int, e *branchElement) {
	ptr := unsafe.Pointer(&p.data[pageHeaderSize+idx*branchElementSize])
	*(*branchElement)(ptr) = *e
}

// slice returns a byte range from the data area, bounds-checked against the
// page size.
func (p *Page) slice(offset, size uint16) ([]byte, error) {
	start := int(offset)
	end := start + int(size)

	if end > PageSize {
		return nil, ErrPageOverflow
	}
	if start > end {
		return nil, ErrInvalidOffset
	}

	return p.data[start:end], nil
}

// writeBranchFirstChild writes children[0] to its fixed location at the end
// of the page.
func (p *Page) writeBranchFirstChild(childID PageID) {
	offset := PageSize - 8
	*(*PageID)(unsafe.Pointer(&p.data[offset])) = childID
}

func (p *Page) readBranchFirstChild() PageID {
	offset := PageSize - 8
	return *(*PageID)(unsafe.Pointer(&p.data[offset]))
}

// sum computes the page checksum: xxhash64 over every byte except the
// checksum field itself.
func (p *Page) sum() uint64 {
	d := xxhash.New()
	_, _ = d.Write(p.data[:checksumOffset])
	_, _ = d.Write(p.data[checksumOffset+8:])
	return d.Sum64()
}

// stampChecksum recomputes and stores the page checksum. Must be the last
// write to the page before it goes to the WAL or the data file.
func (p *Page) stampChecksum() {
	p.header().checksum = p.sum()
}

// verifyChecksum validates the stored checksum against the page contents.
func (p *Page) verifyChecksum() error {
	if p.header().checksum != p.sum() {
		return ErrChecksumMismatch
	}
	return nil
}

// meta is the tree header stored in pages 0 and 1. The two copies are
// written alternately (seq % 2) so a torn header write never destroys the
// last good one.
// Layout: [magic: 4][version: 2][pageSize: 2][order: 4][height: 4]
//         [rootPageID: 8][freelistID: 8][freelistPages: 8]
//         [lastLSN: 8][checkpointLSN: 8][numPages: 8][seq: 8][checksum: 4]
// Total: 76 bytes
type meta struct {
	magic         uint32 // 4 bytes: "grov"
	version       uint16 // 2 bytes: format version
	pageSize      uint16 // 2 bytes: page size (4096)
	order         uint32 // 4 bytes: branching factor, authoritative on reopen
	height        uint32 // 4 bytes: tree height (1 = root is a leaf)
	rootPageID    PageID // 8 bytes: root of the tree
	freelistID    PageID // 8 bytes: first freelist page
	freelistPages uint64 // 8 bytes: number of contiguous freelist pages
	lastLSN       uint64 // 8 bytes: highest LSN assigned
	checkpointLSN uint64 // 8 bytes: records at or below this are durable in pages
	numPages      uint64 // 8 bytes: total pages allocated
	seq           uint64 // 8 bytes: header write sequence, picks the newer copy
	checksum      uint32 // 4 bytes: CRC32 of the fields above
}

const metaPayloadSize = 72 // all fields except checksum

func (p *Page) writeMeta(m *meta) {
	ptr := unsafe.Pointer(&p.data[pageHeaderSize])
	*(*meta)(ptr) = *m
}

func (p *Page) readMeta() *meta {
	ptr := unsafe.Pointer(&p.data[pageHeaderSize])
	return (*meta)(ptr)
}

// calculateChecksum computes CRC32 over all fields except checksum itself.
func (m *meta) calculateChecksum() uint32 {
	var buf [metaPayloadSize]byte
	b := buf[:0]

	b = binary.LittleEndian.AppendUint32(b, m.magic)
	b = binary.LittleEndian.AppendUint16(b, m.version)
	b = binary.LittleEndian.AppendUint16(b, m.pageSize)
	b = binary.LittleEndian.AppendUint32(b, m.order)
	b = binary.LittleEndian.AppendUint32(b, m.height)
	b = binary.LittleEndian.AppendUint64(b, uint64(m.rootPageID))
	b = binary.LittleEndian.AppendUint64(b, uint64(m.freelistID))
	b = binary.LittleEndian.AppendUint64(b, m.freelistPages)
	b = binary.LittleEndian.AppendUint64(b, m.lastLSN)
	b = binary.LittleEndian.AppendUint64(b, m.checkpointLSN)
	b = binary.LittleEndian.AppendUint64(b, m.numPages)
	b = binary.LittleEndian.AppendUint64(b, m.seq)

	return crc32.ChecksumIEEE(b)
}

// validate checks magic, version, page size, and the CRC.
func (m *meta) validate() error {
	if m.magic != MagicNumber {
		return ErrInvalidMagicNumber
	}
	if m.version != FormatVersion {
		return ErrInvalidVersion
	}
	if m.pageSize != PageSize {
		return ErrInvalidPageSize
	}
	if m.checksum != m.calculateChecksum() {
		return ErrChecksumMismatch
	}
	return nil
}
