package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/duskdb/duskdb/dberr"
)

// LogRecordType identifies the kind of entry appended to the write-ahead
// log (spec §4.5 "C6 WAL / checkpoint").
type LogRecordType byte

const (
	LogPageWrite  LogRecordType = 1 // full after-image of one page
	LogConfirm    LogRecordType = 2 // confirm marker: everything before this LSN for this txn is durable
	LogCheckpoint LogRecordType = 3 // checkpoint-complete marker
)

// logHeaderSize is the size of the log file's fixed header.
const logHeaderSize = 16

var logMagic = [4]byte{'D', 'W', 'A', 'L'}

// logRecordHeaderSize is LSN(8) + Type(1) + PageID(4) + TxnID(4) + DataLen(4).
const logRecordHeaderSize = 8 + 1 + 4 + 4 + 4
const logRecordChecksumSize = 8 // xxh3 64-bit

// LogRecord is one entry in the write-ahead log.
type LogRecord struct {
	LSN    uint64
	Type   LogRecordType
	PageID uint32
	TxnID  uint32
	Data   []byte // full PageSize after-image for LogPageWrite; empty otherwise
}

// WAL durably stages page writes ahead of the data file under a
// confirm-marker protocol: a page write is visible to recovery only once a
// LogConfirm record for its transaction has been appended and fsynced.
// Checkpoint then replays confirmed records into the data file and
// truncates the log.
type WAL struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	nextLSN   uint64
	records   []LogRecord
	confirmed uint64 // highest LSN covered by a LogConfirm so far
}

// OpenWAL opens or creates the log file for dbPath (dbPath + ".wal"),
// replaying any existing header and records.
func OpenWAL(dbPath string) (*WAL, error) {
	logPath := dbPath + ".wal"
	file, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: wal: open: %v", dberr.ErrIO, err)
	}

	w := &WAL{file: file, path: logPath, nextLSN: 1}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: wal: stat: %v", dberr.ErrIO, err)
	}

	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		if err := w.readHeader(); err != nil {
			file.Close()
			return nil, err
		}
		if err := w.loadRecords(); err != nil {
			file.Close()
			return nil, err
		}
	}

	return w, nil
}

// Close closes the underlying log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// LogPageWrite appends the full after-image of a page under txnID. It is
// not durable (not visible to recovery) until Confirm is called for txnID
// and the log is fsynced.
func (w *WAL) LogPageWrite(txnID, pageID uint32, afterImage []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN
	w.nextLSN++

	rec := LogRecord{LSN: lsn, Type: LogPageWrite, PageID: pageID, TxnID: txnID, Data: append([]byte(nil), afterImage...)}
	if err := w.appendRecord(&rec); err != nil {
		return 0, err
	}
	w.records = append(w.records, rec)
	return lsn, nil
}

// Confirm appends and fsyncs a confirm marker for txnID: every page write
// for that transaction logged so far becomes durable and eligible for
// checkpoint replay.
func (w *WAL) Confirm(txnID uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN
	w.nextLSN++
	rec := LogRecord{LSN: lsn, Type: LogConfirm, TxnID: txnID}
	if err := w.appendRecord(&rec); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: wal: fsync confirm: %v", dberr.ErrIO, err)
	}
	w.confirmed = lsn
	w.records = append(w.records, rec)
	return nil
}

// Sync forces an fsync of the log without appending a marker.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: wal: fsync: %v", dberr.ErrIO, err)
	}
	return nil
}

// ConfirmedPageWrites returns, per transaction, the LogPageWrite records
// that were followed by a LogConfirm record for the same txn, in log
// order. Writes whose transaction never confirmed are not durable and are
// dropped, implementing crash recovery's "replay confirmed pages only".
func (w *WAL) ConfirmedPageWrites() []LogRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := make(map[uint32][]LogRecord)
	var out []LogRecord
	for _, r := range w.records {
		switch r.Type {
		case LogPageWrite:
			pending[r.TxnID] = append(pending[r.TxnID], r)
		case LogConfirm:
			out = append(out, pending[r.TxnID]...)
			delete(pending, r.TxnID)
		}
	}
	return out
}

// HasUnconfirmedWrites reports whether the tail of the log holds page
// writes for a transaction that never reached a confirm marker.
func (w *WAL) HasUnconfirmedWrites(txnID uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.records) - 1; i >= 0; i-- {
		r := w.records[i]
		if r.TxnID != txnID {
			continue
		}
		return r.Type == LogPageWrite
	}
	return false
}

// Truncate discards all records after a successful checkpoint, keeping
// only the header.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(logHeaderSize); err != nil {
		return fmt.Errorf("%w: wal: truncate: %v", dberr.ErrIO, err)
	}
	if _, err := w.file.Seek(logHeaderSize, io.SeekStart); err != nil {
		return fmt.Errorf("%w: wal: seek: %v", dberr.ErrIO, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: wal: fsync truncate: %v", dberr.ErrIO, err)
	}
	w.records = nil
	w.confirmed = 0
	return nil
}

// RecordCount reports how many records are currently buffered from the log.
func (w *WAL) RecordCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

func (w *WAL) writeHeader() error {
	var hdr [logHeaderSize]byte
	copy(hdr[0:4], logMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], 1)
	if _, err := w.file.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: wal: write header: %v", dberr.ErrIO, err)
	}
	return nil
}

func (w *WAL) readHeader() error {
	var hdr [logHeaderSize]byte
	if _, err := w.file.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: wal: read header: %v", dberr.ErrIO, err)
	}
	if hdr[0] != logMagic[0] || hdr[1] != logMagic[1] || hdr[2] != logMagic[2] || hdr[3] != logMagic[3] {
		return fmt.Errorf("%w: wal: bad magic", dberr.ErrCorruption)
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != 1 {
		return fmt.Errorf("%w: wal: unsupported version %d", dberr.ErrCorruption, version)
	}
	return nil
}

func (w *WAL) appendRecord(rec *LogRecord) error {
	dataLen := len(rec.Data)
	total := logRecordHeaderSize + dataLen + logRecordChecksumSize
	buf := make([]byte, total)

	off := 0
	binary.LittleEndian.PutUint64(buf[off:], rec.LSN)
	off += 8
	buf[off] = byte(rec.Type)
	off++
	binary.LittleEndian.PutUint32(buf[off:], rec.PageID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], rec.TxnID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(dataLen))
	off += 4
	if dataLen > 0 {
		copy(buf[off:], rec.Data)
		off += dataLen
	}

	sum := xxh3.Hash(buf[:off])
	binary.LittleEndian.PutUint64(buf[off:], sum)

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("%w: wal: seek end: %v", dberr.ErrIO, err)
	}
	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("%w: wal: append record: %v", dberr.ErrIO, err)
	}
	return nil
}

// loadRecords replays the log from disk, stopping at the first record that
// fails its checksum or is truncated mid-write — the crash-safe boundary.
func (w *WAL) loadRecords() error {
	w.records = nil
	offset := int64(logHeaderSize)
	hdrBuf := make([]byte, logRecordHeaderSize)

	for {
		n, err := w.file.ReadAt(hdrBuf, offset)
		if err == io.EOF || n < logRecordHeaderSize {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: wal: read record header: %v", dberr.ErrIO, err)
		}

		lsn := binary.LittleEndian.Uint64(hdrBuf[0:8])
		rtype := LogRecordType(hdrBuf[8])
		pageID := binary.LittleEndian.Uint32(hdrBuf[9:13])
		txnID := binary.LittleEndian.Uint32(hdrBuf[13:17])
		dataLen := binary.LittleEndian.Uint32(hdrBuf[17:21])

		remaining := int(dataLen) + logRecordChecksumSize
		tail := make([]byte, remaining)
		n, err = w.file.ReadAt(tail, offset+int64(logRecordHeaderSize))
		if err == io.EOF || n < remaining {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: wal: read record data: %v", dberr.ErrIO, err)
		}

		full := make([]byte, logRecordHeaderSize+int(dataLen))
		copy(full, hdrBuf)
		copy(full[logRecordHeaderSize:], tail[:dataLen])
		want := binary.LittleEndian.Uint64(tail[dataLen:])
		if xxh3.Hash(full) != want {
			break
		}

		var data []byte
		if dataLen > 0 {
			data = append([]byte(nil), tail[:dataLen]...)
		}
		rec := LogRecord{LSN: lsn, Type: rtype, PageID: pageID, TxnID: txnID, Data: data}
		w.records = append(w.records, rec)

		if lsn >= w.nextLSN {
			w.nextLSN = lsn + 1
		}
		if rtype == LogConfirm && lsn > w.confirmed {
			w.confirmed = lsn
		}

		offset += int64(logRecordHeaderSize) + int64(remaining)
	}

	return nil
}
