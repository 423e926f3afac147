package grove

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Record kinds. Page-image records are tagged with the logical operation
// that produced them; replay treats them all as page redo.
const (
	recordInsert     uint8 = 1 // page image written by an insert
	recordDelete     uint8 = 2 // page image written by a delete
	recordSplit      uint8 = 3 // page image written by a node split
	recordMerge      uint8 = 4 // page image written by a merge or rebalance
	recordMeta       uint8 = 5 // header page image (root/height/page count)
	recordFree       uint8 = 6 // page returned to the freelist, no payload
	recordCheckpoint uint8 = 7 // checkpoint marker, payload = flushed LSN
	recordCommit     uint8 = 8 // ends one mutation's batch of records
	recordAlloc      uint8 = 9 // page claimed for a new node, no payload
)

// walRecordHeaderSize is the fixed prefix of every record:
// [LSN:8][Kind:1][PageID:8][PayloadLen:4]
// followed by the payload and an 8-byte xxhash64 of header+payload.
const walRecordHeaderSize = 8 + 1 + 8 + 4

const walChecksumSize = 8

// wal implements write-ahead logging for crash recovery. Records carry
// strictly increasing LSNs; recovery is redo-only because no page is ever
// mutated ahead of its WAL record.
type wal struct {
	mu     sync.Mutex
	file   *os.File
	offset int64 // current append position

	lsn uint64 // last assigned LSN

	syncMode       SyncMode
	bytesPerSync   int
	bytesSinceSync int
}

// walRecord is one decoded WAL record, surfaced during replay.
type walRecord struct {
	lsn    uint64
	kind   uint8
	pageID PageID
	data   []byte
}

// openWAL opens or creates a WAL file with the given sync mode. lastLSN
// seeds the sequence counter from the header page; replay may advance it
// further.
func openWAL(path string, syncMode SyncMode, bytesPerSync int, lastLSN uint64) (*wal, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, err
	}

	return &wal{
		file:         file,
		offset:       info.Size(),
		lsn:          lastLSN,
		syncMode:     syncMode,
		bytesPerSync: bytesPerSync,
	}, nil
}

// append writes one record and returns its LSN. In synchronous mode the
// record is not durable until the caller's sync call; append itself only
// hands the bytes to the OS.
func (w *wal) append(kind uint8, pageID PageID, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.appendLocked(kind, pageID, payload)
}

func (w *wal) appendLocked(kind uint8, pageID PageID, payload []byte) (uint64, error) {
	w.lsn++
	lsn := w.lsn

	buf := make([]byte, walRecordHeaderSize+len(payload)+walChecksumSize)
	binary.LittleEndian.PutUint64(buf[0:8], lsn)
	buf[8] = kind
	binary.LittleEndian.PutUint64(buf[9:17], uint64(pageID))
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(payload)))
	copy(buf[walRecordHeaderSize:], payload)

	sum := xxhash.Sum64(buf[:walRecordHeaderSize+len(payload)])
	binary.LittleEndian.PutUint64(buf[walRecordHeaderSize+len(payload):], sum)

	if _, err := w.file.Write(buf); err != nil {
		return 0, fmt.Errorf("wal append: %w", err)
	}

	w.offset += int64(len(buf))
	w.bytesSinceSync += len(buf)

	return lsn, nil
}

// sync conditionally fsyncs based on the configured sync mode.
func (w *wal) sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.syncMode {
	case SyncEveryCommit:
		return w.syncUnsafe()

	case SyncBytes:
		if w.bytesSinceSync >= w.bytesPerSync {
			return w.syncUnsafe()
		}
		return nil

	case SyncOff:
		return nil

	default:
		return fmt.Errorf("unknown wal sync mode: %d", w.syncMode)
	}
}

// forceSync unconditionally fsyncs regardless of sync mode. Used during
// close and checkpoint.
func (w *wal) forceSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.syncUnsafe()
}

// syncUnsafe fsyncs and resets the byte counter. Caller must hold w.mu.
func (w *wal) syncUnsafe() error {
	if err := fdatasync(w.file); err != nil {
		return err
	}
	w.bytesSinceSync = 0
	return nil
}

// replay scans the log from the beginning and invokes apply for every
// record with LSN > fromLSN, in LSN order. Records are buffered until their
// mutation's commit marker so a batch applies atomically or not at all. A
// checksum mismatch or a short read is the torn tail of the last unfinished
// write and ends the scan cleanly, discarding any uncommitted batch;
// structural corruption before that (an unknown kind, an LSN that does not
// increase) is reported as an error. The sequence counter advances to the
// highest LSN seen.
func (w *wal) replay(fromLSN uint64, apply func(rec walRecord) error) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	applied := 0
	var prevLSN uint64 // last LSN seen in the file, for monotonicity checks
	var pending []walRecord
	header := make([]byte, walRecordHeaderSize)

	for {
		if _, err := io.ReadFull(w.file, header); err != nil {
			// EOF here is the clean end of the log; an unexpected EOF is a
			// torn header write. Either way replay is done.
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return applied, fmt.Errorf("wal replay: %w", err)
		}

		lsn := binary.LittleEndian.Uint64(header[0:8])
		kind := header[8]
		pageID := PageID(binary.LittleEndian.Uint64(header[9:17]))
		payloadLen := binary.LittleEndian.Uint32(header[17:21])

		if payloadLen > PageSize {
			// Length field is garbage; treat as a torn tail only if nothing
			// valid follows, which we cannot know. Report it.
			return applied, fmt.Errorf("wal replay: record %d has invalid payload length %d: %w",
				lsn, payloadLen, ErrCorruptPage)
		}

		body := make([]byte, int(payloadLen)+walChecksumSize)
		if _, err := io.ReadFull(w.file, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break // torn payload write
			}
			return applied, fmt.Errorf("wal replay: %w", err)
		}

		sum := binary.LittleEndian.Uint64(body[payloadLen:])
		d := xxhash.New()
		_, _ = d.Write(header)
		_, _ = d.Write(body[:payloadLen])
		if sum != d.Sum64() {
			break // torn tail write, true end of log
		}

		if kind < recordInsert || kind > recordAlloc {
			return applied, fmt.Errorf("wal replay: unknown record kind %d at lsn %d", kind, lsn)
		}
		if lsn <= prevLSN {
			return applied, fmt.Errorf("wal replay: lsn %d not increasing after %d", lsn, prevLSN)
		}
		prevLSN = lsn

		switch kind {
		case recordCheckpoint:
			// Effects at or below the marker's LSN are already in pages.

		case recordCommit:
			for _, rec := range pending {
				if rec.lsn <= fromLSN {
					continue // already durable in pages
				}
				if err := apply(rec); err != nil {
					return applied, fmt.Errorf("wal replay: apply record %d: %w", rec.lsn, err)
				}
				applied++
			}
			pending = pending[:0]

		default:
			pending = append(pending, walRecord{lsn: lsn, kind: kind, pageID: pageID, data: body[:payloadLen]})
		}
	}
	// A batch without its commit marker never happened.

	if prevLSN > w.lsn {
		w.lsn = prevLSN
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return applied, err
	}

	return applied, nil
}

// checkpoint declares every record at or below flushedLSN durable in the
// data file and truncates the log when that covers everything written.
// Mutations are serialized with checkpoints, so in practice the whole log
// is always covered; the guard only skips truncation otherwise.
func (w *wal) checkpoint(flushedLSN uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if flushedLSN < w.lsn {
		// Records past the flushed point are still needed; leave a marker
		// recording the durable floor instead of truncating.
		var payload [8]byte
		binary.LittleEndian.PutUint64(payload[:], flushedLSN)
		_, err := w.appendLocked(recordCheckpoint, 0, payload[:])
		return err
	}

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	newOffset, err := w.file.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}
	w.offset = newOffset
	w.bytesSinceSync = 0

	return nil
}

// lastLSN returns the highest LSN assigned so far.
func (w *wal) lastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsn
}

func (w *wal) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Close()
}
