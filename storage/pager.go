package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/snappy"

	"github.com/duskdb/duskdb/dberr"
)

// CollectionMeta is the catalog entry for one collection: its first data
// block page and the next record id to hand out (spec §4.6 "C8 header /
// collection catalog").
type CollectionMeta struct {
	ID           uint32
	Name         string
	FirstPageID  uint32
	NextRecordID uint64
}

// IndexDef describes one persisted secondary index.
type IndexDef struct {
	Collection string
	Field      string
	Unique     bool
	RootPageID uint32
}

// VectorIndexDef describes one persisted vector (approximate k-NN) index.
type VectorIndexDef struct {
	Collection string
	Field      string
	Metric     string // "cosine" | "euclidean" | "dot"
	Dimensions int
	RootPageID uint32
}

// ErrReadOnly is returned when a write is attempted against a read-only
// pager.
var ErrReadOnly = fmt.Errorf("%w: database is read-only", dberr.ErrUsage)

// cycleGuardBase and cycleGuardScale bound the number of page hops Pager
// will follow down a chain before declaring it cyclic (spec §4.7):
// (dataPages + logRecords + 10) * 255, the scale allowing for legitimately
// long overflow chains.
const cycleGuardBase = 10
const cycleGuardScale = 255

// txSlotTimeout bounds how long a transaction's first write waits for
// another transaction's write slot to free up before giving up with
// dberr.ErrLockTimeout. Mirrors lock.DefaultTimeout; kept as its own
// constant so that storage does not import package lock.
const txSlotTimeout = 60 * time.Second

// txState is one open transaction's private, copy-on-write view of the
// pages it has touched: writes land in dirty, never in the shared cache, so
// no other transaction or confirmed-only reader can observe them before
// Commit (spec §4.6 C7 "per-context local page index").
type txState struct {
	id       uint32
	undoLog  map[uint32]*Page // pageID -> before-image; RollbackTx does not consult it
	dirty    map[uint32]*Page // pageID -> this transaction's own uncommitted version
	newPages map[uint32]bool  // pages allocated fresh by this transaction
}

// Pager is the single-writer, multi-reader disk service: it owns the page
// cache, the write-ahead log, and the collection/index catalog. At most one
// transaction actually holds the write slot (active) at a time, matching
// the engine's single-writer design; BeginTx itself never blocks, only the
// first write of a transaction waits for the slot (spec §4.4/§4.6).
type Pager struct {
	mu   sync.RWMutex
	file StorageFile
	path string
	wal  *WAL
	lock *fileLock

	totalPages  uint32
	collections map[string]*CollectionMeta
	indexDefs   []IndexDef
	vectorDefs  []VectorIndexDef
	readOnly    bool
	salt        []byte // non-nil only while initializing a brand-new encrypted file

	cache *pageCache

	nextTxnID uint32
	active    *txState
	slotFree  *sync.Cond
}

// OpenPager opens or creates the database file at path for read-write use.
func OpenPager(path string) (*Pager, error) { return openPager(path, false, "") }

// OpenPagerReadOnly opens path rejecting every write with ErrReadOnly.
func OpenPagerReadOnly(path string) (*Pager, error) { return openPager(path, true, "") }

// OpenPagerEncrypted opens or creates an AES-CBC encrypted database file
// (spec §6's Password connection option), deriving the cipher key from
// password with PBKDF2.
func OpenPagerEncrypted(path, password string) (*Pager, error) { return openPager(path, false, password) }

// OpenPagerEncryptedReadOnly opens an encrypted path rejecting every write.
func OpenPagerEncryptedReadOnly(path, password string) (*Pager, error) {
	return openPager(path, true, password)
}

// OpenPagerMemory opens a volatile, lock-free pager backed by an in-memory
// buffer (spec §6: ":memory:" connection).
func OpenPagerMemory() (*Pager, error) {
	p := &Pager{
		file:        NewMemFile(),
		collections: make(map[string]*CollectionMeta),
		cache:       newPageCache(DefaultCacheLimit),
	}
	p.slotFree = sync.NewCond(&p.mu)
	if err := p.initMetaPage(); err != nil {
		return nil, err
	}
	return p, nil
}

func openPager(path string, readOnly bool, password string) (*Pager, error) {
	lock, err := lockFile(path)
	if err != nil {
		return nil, err
	}

	var file StorageFile
	var salt []byte
	if password != "" {
		file, salt, err = NewStreamFile(path, password, readOnly)
	} else {
		flags := os.O_RDWR | os.O_CREATE
		if readOnly {
			flags = os.O_RDONLY
		}
		var f *os.File
		f, err = os.OpenFile(path, flags, 0644)
		if f != nil {
			file = &osFile{f}
		}
	}
	if err != nil {
		lock.unlock()
		return nil, fmt.Errorf("%w: pager: open: %v", dberr.ErrIO, err)
	}

	p := &Pager{
		file:        file,
		path:        path,
		lock:        lock,
		salt:        salt,
		collections: make(map[string]*CollectionMeta),
		cache:       newPageCache(DefaultCacheLimit),
		readOnly:    readOnly,
	}
	p.slotFree = sync.NewCond(&p.mu)

	info, err := file.Stat()
	if err != nil {
		file.Close()
		lock.unlock()
		return nil, fmt.Errorf("%w: pager: stat: %v", dberr.ErrIO, err)
	}

	if info.Size() == 0 {
		if readOnly {
			file.Close()
			lock.unlock()
			return nil, fmt.Errorf("%w: pager: cannot create database read-only", dberr.ErrUsage)
		}
		if err := p.initMetaPage(); err != nil {
			file.Close()
			lock.unlock()
			return nil, err
		}
	} else {
		if err := p.loadMetaPage(); err != nil {
			file.Close()
			lock.unlock()
			return nil, err
		}
	}
	p.salt = nil

	if !readOnly {
		wal, err := OpenWAL(path)
		if err != nil {
			file.Close()
			lock.unlock()
			return nil, err
		}
		p.wal = wal
		if err := p.recoverFromWAL(); err != nil {
			wal.Close()
			file.Close()
			lock.unlock()
			return nil, err
		}
	}

	return p, nil
}

// Close flushes the catalog, closes the WAL and the underlying file, and
// releases the OS-level lock.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.readOnly {
		if err := p.flushMeta(); err != nil {
			return err
		}
		if p.wal != nil {
			if err := p.wal.Close(); err != nil {
				return err
			}
		}
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("%w: pager: close: %v", dberr.ErrIO, err)
	}
	if p.lock != nil {
		return p.lock.unlock()
	}
	return nil
}

// ---------- Disk service (C4): page I/O ----------

// readPageAt returns the confirmed view of pageID: the shared cache, or the
// data file. Dirty, uncommitted pages never live here (see txState.dirty),
// so this is always safe for a reader that holds no transaction.
func (p *Pager) readPageAt(pageID uint32) (*Page, error) {
	if page, ok := p.cache.get(pageID); ok {
		return page, nil
	}
	var buf [PageSize]byte
	off := int64(pageID) * PageSize
	if _, err := p.file.ReadAt(buf[:], off); err != nil {
		return nil, fmt.Errorf("%w: pager: read page %d: %v", dberr.ErrIO, pageID, err)
	}
	page := &Page{Data: buf}
	p.cache.putClean(pageID, page)
	return page, nil
}

// readPageForTxn resolves pageID the way txnID would see it: its own
// not-yet-committed write if one exists, else the last confirmed version.
// txnID 0 always gets the confirmed view, regardless of what transaction (if
// any) currently holds the write slot — this is what keeps an autocommit
// read or an unrelated reader from ever observing another transaction's
// uncommitted write (spec §4.6 C7, the dirty-read isolation scenario).
func (p *Pager) readPageForTxn(pageID, txnID uint32) (*Page, error) {
	if txnID != 0 && p.active != nil && p.active.id == txnID {
		if pg, ok := p.active.dirty[pageID]; ok {
			return pg, nil
		}
	}
	return p.readPageAt(pageID)
}

// ReadPage returns pageID as txnID sees it (see readPageForTxn). Pass 0 for
// a confirmed-only read outside any transaction.
func (p *Pager) ReadPage(pageID, txnID uint32) (*Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readPageForTxn(pageID, txnID)
}

// ensureSlot claims the pager's single write-transaction slot for txnID,
// waiting up to txSlotTimeout if another transaction currently holds it.
// txnID 0 (a direct, non-transactional write — catalog flush, DDL) never
// touches the slot at all. BeginTx itself never calls this: minting a
// transaction id is always instant, only its first write can block.
func (p *Pager) ensureSlot(txnID uint32) error {
	if txnID == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil && p.active.id == txnID {
		return nil
	}
	deadline := time.Now().Add(txSlotTimeout)
	for p.active != nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: pager: write transaction slot held by another transaction", dberr.ErrLockTimeout)
		}
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.slotFree.Broadcast()
			p.mu.Unlock()
		})
		p.slotFree.Wait()
		timer.Stop()
	}
	p.active = &txState{id: txnID, undoLog: make(map[uint32]*Page), dirty: make(map[uint32]*Page), newPages: make(map[uint32]bool)}
	return nil
}

// WritePage stages a page write under txnID. Inside a transaction (txnID
// != 0) the before-image is captured for rollback and the after-image is
// appended to the WAL under the transaction's id and kept in its private
// overlay; the page becomes visible to anyone else only once Commit merges
// it into the shared cache. txnID 0 (bootstrap, catalog flush, DDL) writes
// straight to the data file, as before.
func (p *Pager) WritePage(page *Page, txnID uint32) error {
	if err := p.ensureSlot(txnID); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writePageLocked(page, txnID)
}

func (p *Pager) writePageLocked(page *Page, txnID uint32) error {
	if p.readOnly {
		return ErrReadOnly
	}
	pageID := page.PageID()

	if txnID != 0 {
		ts := p.active
		if _, captured := ts.undoLog[pageID]; !captured && !ts.newPages[pageID] {
			before, err := p.readPageAt(pageID)
			if err == nil {
				cp := *before
				ts.undoLog[pageID] = &cp
			}
		}
		page.SetTxnID(txnID)
		page.SetConfirmed(false)
		if p.wal != nil {
			if _, err := p.wal.LogPageWrite(txnID, pageID, page.Data[:]); err != nil {
				return err
			}
		}
		ts.dirty[pageID] = page
		return nil
	}

	if _, err := p.file.WriteAt(page.Data[:], int64(pageID)*PageSize); err != nil {
		return fmt.Errorf("%w: pager: write page %d: %v", dberr.ErrIO, pageID, err)
	}
	p.cache.putClean(pageID, page)
	return nil
}

// AllocatePage pulls a page off the free list if one is available, else
// extends the file by one page, and returns it zeroed with the given type.
func (p *Pager) AllocatePage(ptype PageType, txnID uint32) (*Page, error) {
	if err := p.ensureSlot(txnID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocatePageLocked(ptype, txnID)
}

func (p *Pager) allocatePageLocked(ptype PageType, txnID uint32) (*Page, error) {
	if p.readOnly {
		return nil, ErrReadOnly
	}

	headerPage, err := p.readPageForTxn(0, txnID)
	if err == nil {
		freeID := headerPage.NextFreePageID()
		if freeID != 0 {
			free, err := p.readPageForTxn(freeID, txnID)
			if err == nil {
				headerPage.SetNextFreePageID(free.NextFreePageID())
				if err := p.writePageLocked(headerPage, txnID); err != nil {
					return nil, err
				}
				page := NewPage(ptype, freeID)
				if txnID != 0 {
					p.active.newPages[freeID] = true
				}
				return page, nil
			}
		}
	}

	id := p.totalPages
	p.totalPages++
	if txnID != 0 {
		p.active.newPages[id] = true
	}
	return NewPage(ptype, id), nil
}

// FreePage returns a page to the free list, threading it onto the header
// page's free chain.
func (p *Pager) FreePage(pageID, txnID uint32) error {
	if err := p.ensureSlot(txnID); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	headerPage, err := p.readPageForTxn(0, txnID)
	if err != nil {
		return err
	}
	freed := NewPage(PageTypeEmpty, pageID)
	freed.SetNextFreePageID(headerPage.NextFreePageID())
	if err := p.writePageLocked(freed, txnID); err != nil {
		return err
	}
	headerPage.SetNextFreePageID(pageID)
	return p.writePageLocked(headerPage, txnID)
}

// ---------- Transaction / snapshot (C7) ----------

// BeginTx mints a fresh monotonic transaction id and returns immediately: it
// never blocks and never fails. The id carries no resource of its own until
// the transaction's first write claims the pager's write slot (ensureSlot);
// a transaction that only ever reads never touches the slot at all.
func (p *Pager) BeginTx() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextTxnID++
	return p.nextTxnID, nil
}

// InTx reports whether a transaction currently holds the pager's write
// slot (i.e. has performed at least one write).
func (p *Pager) InTx() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active != nil
}

// CommitTx appends a confirm marker for the active transaction's writes,
// merges its dirty pages into the shared cache, flushes the catalog, frees
// the write slot, and wakes any transaction waiting on it. A no-op if no
// transaction currently holds the slot (a read-only transaction that never
// wrote anything).
func (p *Pager) CommitTx() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil
	}
	ts := p.active

	if p.wal != nil {
		if err := p.wal.Confirm(ts.id); err != nil {
			return err
		}
	}
	for pageID, page := range ts.dirty {
		page.SetConfirmed(true)
		p.cache.putClean(pageID, page)
	}

	if err := p.flushMetaLocked(); err != nil {
		return err
	}

	p.active = nil
	p.slotFree.Broadcast()
	return nil
}

// RollbackTx discards the active transaction's private overlay. Since dirty
// pages never touched the shared cache or the data file, rollback needs no
// restore step at all: the overlay is simply dropped. Pages the transaction
// allocated (txState.newPages) are abandoned rather than returned to the
// free list — a documented simplification (see DESIGN.md) that costs page
// numbers, never correctness. A no-op if no transaction holds the slot.
func (p *Pager) RollbackTx() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil
	}
	p.active = nil
	p.slotFree.Broadcast()
	return nil
}

// ---------- Checkpoint (part of C6) ----------

// Checkpoint replays every confirmed WAL record into the data file, fsyncs
// it, and truncates the log. Safe to call while readers hold snapshots:
// readers never consult the WAL directly, only the cache and the data file
// as of their own BeginTx snapshot.
func (p *Pager) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readOnly || p.wal == nil {
		return nil
	}
	if p.active != nil {
		return fmt.Errorf("%w: cannot checkpoint inside a transaction", dberr.ErrConcurrency)
	}

	for _, rec := range p.wal.ConfirmedPageWrites() {
		off := int64(rec.PageID) * PageSize
		if _, err := p.file.WriteAt(rec.Data, off); err != nil {
			return fmt.Errorf("%w: pager: checkpoint write page %d: %v", dberr.ErrIO, rec.PageID, err)
		}
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("%w: pager: checkpoint fsync: %v", dberr.ErrIO, err)
	}
	if err := p.wal.Truncate(); err != nil {
		return err
	}
	p.cache.clear()
	return nil
}

func (p *Pager) recoverFromWAL() error {
	for _, rec := range p.wal.ConfirmedPageWrites() {
		off := int64(rec.PageID) * PageSize
		if _, err := p.file.WriteAt(rec.Data, off); err != nil {
			return fmt.Errorf("%w: pager: recovery write page %d: %v", dberr.ErrIO, rec.PageID, err)
		}
	}
	if p.wal.RecordCount() > 0 {
		if err := p.file.Sync(); err != nil {
			return fmt.Errorf("%w: pager: recovery fsync: %v", dberr.ErrIO, err)
		}
		if err := p.wal.Truncate(); err != nil {
			return err
		}
	}
	return p.loadMetaPage()
}

// ---------- Header / collection catalog (C8) ----------

func (p *Pager) initMetaPage() error {
	header := NewPage(PageTypeHeader, 0)
	if p.salt != nil {
		copy(header.Data[headerSaltOffset:headerSaltOffset+saltSize], p.salt)
	}
	p.totalPages = 1
	if err := p.writePageLocked(header, 0); err != nil {
		return err
	}
	return nil
}

// meta page layout, starting at PageHeaderSize+saltSize (the 16 bytes right
// after the common header are always reserved for the encryption salt,
// spec §6, even on a non-encrypted file, where they stay zero):
//
//	[totalPages:u32][numCollections:u16]
//	per collection: [id:u32][nameLen:u16][name][firstPageID:u32][nextRecordID:u64]
//	[numIndexDefs:u16]
//	per index: [collLen:u16][coll][fieldLen:u16][field][unique:byte][rootPageID:u32]
//	[numVectorDefs:u16]
//	per vector index: [collLen:u16][coll][fieldLen:u16][field][metricLen:u16][metric][dims:u16][rootPageID:u32]
func (p *Pager) flushMeta() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushMetaLocked()
}

func (p *Pager) flushMetaLocked() error {
	buf := make([]byte, 0, 512)
	tmp := make([]byte, 8)

	binary.LittleEndian.PutUint32(tmp, p.totalPages)
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint16(tmp, uint16(len(p.collections)))
	buf = append(buf, tmp[:2]...)
	for _, c := range p.collections {
		binary.LittleEndian.PutUint32(tmp, c.ID)
		buf = append(buf, tmp[:4]...)
		binary.LittleEndian.PutUint16(tmp, uint16(len(c.Name)))
		buf = append(buf, tmp[:2]...)
		buf = append(buf, c.Name...)
		binary.LittleEndian.PutUint32(tmp, c.FirstPageID)
		buf = append(buf, tmp[:4]...)
		binary.LittleEndian.PutUint64(tmp, c.NextRecordID)
		buf = append(buf, tmp[:8]...)
	}

	binary.LittleEndian.PutUint16(tmp, uint16(len(p.indexDefs)))
	buf = append(buf, tmp[:2]...)
	for _, idx := range p.indexDefs {
		buf = appendLenPrefixed(buf, idx.Collection)
		buf = appendLenPrefixed(buf, idx.Field)
		if idx.Unique {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		binary.LittleEndian.PutUint32(tmp, idx.RootPageID)
		buf = append(buf, tmp[:4]...)
	}

	binary.LittleEndian.PutUint16(tmp, uint16(len(p.vectorDefs)))
	buf = append(buf, tmp[:2]...)
	for _, v := range p.vectorDefs {
		buf = appendLenPrefixed(buf, v.Collection)
		buf = appendLenPrefixed(buf, v.Field)
		buf = appendLenPrefixed(buf, v.Metric)
		binary.LittleEndian.PutUint16(tmp, uint16(v.Dimensions))
		buf = append(buf, tmp[:2]...)
		binary.LittleEndian.PutUint32(tmp, v.RootPageID)
		buf = append(buf, tmp[:4]...)
	}

	compressed := snappy.Encode(nil, buf)

	page, err := p.readPageAt(0)
	if err != nil {
		return err
	}
	page.SetType(PageTypeHeader)
	if len(compressed)+4 > PageSize-PageHeaderSize-saltSize {
		return fmt.Errorf("%w: pager: catalog too large for header page", dberr.ErrCorruption)
	}
	binary.LittleEndian.PutUint32(page.Data[PageHeaderSize+saltSize:], uint32(len(compressed)))
	copy(page.Data[PageHeaderSize+saltSize+4:], compressed)
	return p.writePageLocked(page, 0)
}

func appendLenPrefixed(buf []byte, s string) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, uint16(len(s)))
	buf = append(buf, tmp...)
	return append(buf, s...)
}

func readLenPrefixed(data []byte, off int) (string, int, error) {
	if off+2 > len(data) {
		return "", 0, fmt.Errorf("%w: pager: truncated catalog string", dberr.ErrCorruption)
	}
	n := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if off+n > len(data) {
		return "", 0, fmt.Errorf("%w: pager: truncated catalog string", dberr.ErrCorruption)
	}
	return string(data[off : off+n]), off + n, nil
}

func (p *Pager) loadMetaPage() error {
	var buf [PageSize]byte
	if _, err := p.file.ReadAt(buf[:], 0); err != nil {
		return fmt.Errorf("%w: pager: read header page: %v", dberr.ErrIO, err)
	}
	page := &Page{Data: buf}
	if err := page.ValidateType(PageTypeHeader); err != nil {
		return err
	}

	compLen := binary.LittleEndian.Uint32(page.Data[PageHeaderSize+saltSize:])
	start := PageHeaderSize + saltSize + 4
	if start+int(compLen) > len(page.Data) {
		return fmt.Errorf("%w: pager: header page catalog length out of range (wrong password?)", dberr.ErrCorruption)
	}
	compressed := page.Data[start : start+int(compLen)]
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("%w: pager: decode catalog: %v", dberr.ErrCorruption, err)
	}

	off := 0
	p.totalPages = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	numColl := int(binary.LittleEndian.Uint16(raw[off:]))
	off += 2

	p.collections = make(map[string]*CollectionMeta, numColl)
	for i := 0; i < numColl; i++ {
		id := binary.LittleEndian.Uint32(raw[off:])
		off += 4
		name, noff, err := readLenPrefixed(raw, off)
		if err != nil {
			return err
		}
		off = noff
		firstPageID := binary.LittleEndian.Uint32(raw[off:])
		off += 4
		nextRecordID := binary.LittleEndian.Uint64(raw[off:])
		off += 8
		p.collections[name] = &CollectionMeta{ID: id, Name: name, FirstPageID: firstPageID, NextRecordID: nextRecordID}
	}

	numIdx := int(binary.LittleEndian.Uint16(raw[off:]))
	off += 2
	p.indexDefs = make([]IndexDef, 0, numIdx)
	for i := 0; i < numIdx; i++ {
		coll, noff, err := readLenPrefixed(raw, off)
		if err != nil {
			return err
		}
		off = noff
		field, noff, err := readLenPrefixed(raw, off)
		if err != nil {
			return err
		}
		off = noff
		unique := raw[off] != 0
		off++
		root := binary.LittleEndian.Uint32(raw[off:])
		off += 4
		p.indexDefs = append(p.indexDefs, IndexDef{Collection: coll, Field: field, Unique: unique, RootPageID: root})
	}

	numVec := int(binary.LittleEndian.Uint16(raw[off:]))
	off += 2
	p.vectorDefs = make([]VectorIndexDef, 0, numVec)
	for i := 0; i < numVec; i++ {
		coll, noff, err := readLenPrefixed(raw, off)
		if err != nil {
			return err
		}
		off = noff
		field, noff, err := readLenPrefixed(raw, off)
		if err != nil {
			return err
		}
		off = noff
		metric, noff, err := readLenPrefixed(raw, off)
		if err != nil {
			return err
		}
		off = noff
		dims := int(binary.LittleEndian.Uint16(raw[off:]))
		off += 2
		root := binary.LittleEndian.Uint32(raw[off:])
		off += 4
		p.vectorDefs = append(p.vectorDefs, VectorIndexDef{Collection: coll, Field: field, Metric: metric, Dimensions: dims, RootPageID: root})
	}

	return nil
}

// GetOrCreateCollection returns the catalog entry for name, creating a new
// empty collection (no first page yet) if it does not exist.
func (p *Pager) GetOrCreateCollection(name string) (*CollectionMeta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.collections[name]; ok {
		return c, nil
	}
	if p.readOnly {
		return nil, ErrReadOnly
	}
	c := &CollectionMeta{ID: uint32(len(p.collections) + 1), Name: name, FirstPageID: 0, NextRecordID: 1}
	p.collections[name] = c
	return c, nil
}

// Collections lists every known collection name.
func (p *Pager) Collections() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.collections))
	for name := range p.collections {
		out = append(out, name)
	}
	return out
}

// DropCollection removes name and every page on its data chain from the
// catalog and returns them to the free list.
func (p *Pager) DropCollection(name string) error {
	p.mu.Lock()
	c, ok := p.collections[name]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: unknown collection %q", dberr.ErrUsage, name)
	}
	first := c.FirstPageID
	delete(p.collections, name)
	kept := p.indexDefs[:0:0]
	for _, idx := range p.indexDefs {
		if idx.Collection != name {
			kept = append(kept, idx)
		}
	}
	p.indexDefs = kept
	keptVec := p.vectorDefs[:0:0]
	for _, v := range p.vectorDefs {
		if v.Collection != name {
			keptVec = append(keptVec, v)
		}
	}
	p.vectorDefs = keptVec
	p.mu.Unlock()

	for pageID := first; pageID != 0; {
		page, err := p.ReadPage(pageID, 0)
		if err != nil {
			return err
		}
		next := page.NextPageID()
		if err := p.FreePage(pageID, 0); err != nil {
			return err
		}
		pageID = next
	}
	return nil
}

// RenameCollection renames an existing collection's catalog entry in
// place, leaving its data pages, record ids, and secondary/vector index
// definitions untouched (the index definitions are keyed by collection
// name and must be re-pointed by the caller).
func (p *Pager) RenameCollection(oldName, newName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.collections[newName]; exists {
		return fmt.Errorf("%w: collection %q already exists", dberr.ErrUsage, newName)
	}
	c, ok := p.collections[oldName]
	if !ok {
		return fmt.Errorf("%w: unknown collection %q", dberr.ErrUsage, oldName)
	}
	delete(p.collections, oldName)
	c.Name = newName
	p.collections[newName] = c
	for i := range p.indexDefs {
		if p.indexDefs[i].Collection == oldName {
			p.indexDefs[i].Collection = newName
		}
	}
	for i := range p.vectorDefs {
		if p.vectorDefs[i].Collection == oldName {
			p.vectorDefs[i].Collection = newName
		}
	}
	return nil
}

// NextRecordID atomically hands out the next record id for a collection.
func (p *Pager) NextRecordID(name string) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown collection %q", dberr.ErrUsage, name)
	}
	id := c.NextRecordID
	c.NextRecordID++
	return id, nil
}

// AddIndexDef registers a persisted secondary index.
func (p *Pager) AddIndexDef(def IndexDef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.indexDefs {
		if d.Collection == def.Collection && d.Field == def.Field {
			return fmt.Errorf("%w: index on %s.%s already exists", dberr.ErrUsage, def.Collection, def.Field)
		}
	}
	p.indexDefs = append(p.indexDefs, def)
	return nil
}

// RemoveIndexDef drops a persisted secondary index definition.
func (p *Pager) RemoveIndexDef(collection, field string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.indexDefs[:0:0]
	for _, d := range p.indexDefs {
		if d.Collection != collection || d.Field != field {
			kept = append(kept, d)
		}
	}
	p.indexDefs = kept
}

// IndexDefs returns every persisted secondary index definition.
func (p *Pager) IndexDefs() []IndexDef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]IndexDef(nil), p.indexDefs...)
}

// AddVectorIndexDef registers a persisted vector index.
func (p *Pager) AddVectorIndexDef(def VectorIndexDef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectorDefs = append(p.vectorDefs, def)
}

// VectorIndexDefs returns every persisted vector index definition.
func (p *Pager) VectorIndexDefs() []VectorIndexDef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]VectorIndexDef(nil), p.vectorDefs...)
}

// ---------- Cache introspection ----------

func (p *Pager) CacheStats() (hits, misses uint64, size, capacity int) { return p.cache.stats() }
func (p *Pager) CacheHitRate() float64                                 { return p.cache.hitRate() }
func (p *Pager) ExtendPages() uint64                                   { return p.cache.extendPageCount() }
func (p *Pager) TotalPages() uint32                                    { p.mu.RLock(); defer p.mu.RUnlock(); return p.totalPages }
func (p *Pager) WALPath() string                                       { return p.path + ".wal" }

// cycleGuard returns the maximum number of page hops a chain walk may take
// before it is declared a corrupt cycle (spec §4.7).
func (p *Pager) cycleGuard() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dataPages := int(p.totalPages)
	logPages := 0
	if p.wal != nil {
		logPages = p.wal.RecordCount()
	}
	return (dataPages + logPages + cycleGuardBase) * cycleGuardScale
}
