// Package storage implements the durable paged-file primitives of duskdb:
// the page codec, the LRU page cache, the disk/log routing service, the
// write-ahead log and checkpoint procedure, the per-transaction snapshot,
// the header/collection catalog, and the variable-length document block
// chains built on top of them.
package storage

import (
	"encoding/binary"

	"github.com/duskdb/duskdb/dberr"
)

// PageSize is the fixed size of every page in the file, including the
// header page.
const PageSize = 8192

// PageHeaderSize is the size, in bytes, of the common page header present
// at the front of every page (spec §6).
const PageHeaderSize = 32

// PageType tags the payload semantics of a page.
type PageType byte

const (
	PageTypeEmpty  PageType = 0
	PageTypeHeader PageType = 1
	PageTypeColl   PageType = 2
	PageTypeIndex  PageType = 3
	PageTypeData   PageType = 4
	PageTypeVector PageType = 5
)

// Address is a (page, slot) pair identifying a stored item within a page's
// slotted store. The sentinel EmptyAddress denotes "no address".
type Address struct {
	PageID uint32
	Slot   uint16
}

// EmptyAddress is the sentinel empty address (spec §3).
var EmptyAddress = Address{PageID: 0xFFFFFFFF, Slot: 0xFFFF}

// IsEmpty reports whether a is the sentinel empty address.
func (a Address) IsEmpty() bool { return a == EmptyAddress }

// Pack encodes a as a single uint64 (PageID in the high 32 bits, Slot in
// the low 16), so it can be stored as an index value alongside plain
// record ids.
func (a Address) Pack() uint64 {
	return uint64(a.PageID)<<32 | uint64(a.Slot)
}

// UnpackAddress reverses Pack.
func UnpackAddress(v uint64) Address {
	return Address{PageID: uint32(v >> 32), Slot: uint16(v)}
}

// header field byte offsets, all little-endian.
const (
	offPageID     = 0
	offPrevID     = 4
	offNextID     = 8
	offType       = 12
	offItemsCount = 13
	offUsedBytes  = 15
	offFragBytes  = 17
	offFreePageID = 19
	offTxnID      = 23
	offConfirmed  = 27
	offCollID     = 28
)

const slotEntrySize = 4 // offset(u16) + length(u16)

// Page is one fixed-size unit of I/O. Content grows upward from the header;
// the slot table grows downward from the footer.
type Page struct {
	Data [PageSize]byte
}

// NewPage allocates a zeroed page of the given type and id.
func NewPage(ptype PageType, pageID uint32) *Page {
	p := &Page{}
	binary.LittleEndian.PutUint32(p.Data[offPageID:], pageID)
	p.Data[offType] = byte(ptype)
	return p
}

func (p *Page) PageID() uint32     { return binary.LittleEndian.Uint32(p.Data[offPageID:]) }
func (p *Page) PrevPageID() uint32 { return binary.LittleEndian.Uint32(p.Data[offPrevID:]) }
func (p *Page) NextPageID() uint32 { return binary.LittleEndian.Uint32(p.Data[offNextID:]) }
func (p *Page) Type() PageType     { return PageType(p.Data[offType]) }
func (p *Page) ItemsCount() uint16 { return binary.LittleEndian.Uint16(p.Data[offItemsCount:]) }
func (p *Page) UsedBytes() uint16  { return binary.LittleEndian.Uint16(p.Data[offUsedBytes:]) }
func (p *Page) FragBytes() uint16  { return binary.LittleEndian.Uint16(p.Data[offFragBytes:]) }
func (p *Page) NextFreePageID() uint32 {
	return binary.LittleEndian.Uint32(p.Data[offFreePageID:])
}
func (p *Page) TxnID() uint32        { return binary.LittleEndian.Uint32(p.Data[offTxnID:]) }
func (p *Page) Confirmed() bool      { return p.Data[offConfirmed] != 0 }
func (p *Page) CollectionID() uint32 { return binary.LittleEndian.Uint32(p.Data[offCollID:]) }

func (p *Page) SetPrevPageID(id uint32) { binary.LittleEndian.PutUint32(p.Data[offPrevID:], id) }
func (p *Page) SetNextPageID(id uint32) { binary.LittleEndian.PutUint32(p.Data[offNextID:], id) }
func (p *Page) SetType(t PageType)      { p.Data[offType] = byte(t) }
func (p *Page) setItemsCount(n uint16)  { binary.LittleEndian.PutUint16(p.Data[offItemsCount:], n) }
func (p *Page) setUsedBytes(n uint16)   { binary.LittleEndian.PutUint16(p.Data[offUsedBytes:], n) }
func (p *Page) setFragBytes(n uint16)   { binary.LittleEndian.PutUint16(p.Data[offFragBytes:], n) }
func (p *Page) SetNextFreePageID(id uint32) {
	binary.LittleEndian.PutUint32(p.Data[offFreePageID:], id)
}
func (p *Page) SetTxnID(id uint32) { binary.LittleEndian.PutUint32(p.Data[offTxnID:], id) }
func (p *Page) SetConfirmed(v bool) {
	if v {
		p.Data[offConfirmed] = 1
	} else {
		p.Data[offConfirmed] = 0
	}
}
func (p *Page) SetCollectionID(id uint32) { binary.LittleEndian.PutUint32(p.Data[offCollID:], id) }

// contentEnd is the first free byte after the highest-used content byte.
func (p *Page) contentEnd() uint16 { return PageHeaderSize + p.UsedBytes() }

// slotTableStart is the first byte (from the top) occupied by the slot
// table, which grows downward from the footer.
func (p *Page) slotTableStart() uint16 {
	return PageSize - p.ItemsCount()*slotEntrySize
}

// FreeBytes returns the contiguous free space between content and slots.
func (p *Page) FreeBytes() int {
	return int(p.slotTableStart()) - int(p.contentEnd())
}

func (p *Page) slotOffset(i uint16) (offset, length uint16) {
	base := PageSize - (i+1)*slotEntrySize
	offset = binary.LittleEndian.Uint16(p.Data[base:])
	length = binary.LittleEndian.Uint16(p.Data[base+2:])
	return
}

func (p *Page) setSlot(i uint16, offset, length uint16) {
	base := PageSize - (i+1)*slotEntrySize
	binary.LittleEndian.PutUint16(p.Data[base:], offset)
	binary.LittleEndian.PutUint16(p.Data[base+2:], length)
}

// deletedSentinel marks a slot whose content has been freed. The slot index
// stays valid (and reusable) but Read/Update on it fail.
const deletedSentinel = 0xFFFF

// Insert appends bytes into the page's slotted store and returns the new
// slot index, or ok=false if there isn't enough contiguous free space
// (caller should defragment or allocate a new page).
func (p *Page) Insert(data []byte) (slot uint16, ok bool) {
	needed := len(data) + slotEntrySize
	if p.FreeBytes() < needed {
		return 0, false
	}
	off := p.contentEnd()
	copy(p.Data[off:], data)
	idx := p.ItemsCount()
	p.setSlot(idx, off, uint16(len(data)))
	p.setItemsCount(idx + 1)
	p.setUsedBytes(p.UsedBytes() + uint16(len(data)))
	return idx, true
}

// Read returns the bytes stored at slot, or ok=false if the slot is out of
// range or has been deleted.
func (p *Page) Read(slot uint16) (data []byte, ok bool) {
	if slot >= p.ItemsCount() {
		return nil, false
	}
	off, length := p.slotOffset(slot)
	if length == deletedSentinel {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, p.Data[off:off+length])
	return out, true
}

// Update overwrites the bytes at slot in place when the new value is no
// larger than the old one's reserved space; otherwise it frees the old
// bytes (counted as fragmentation) and re-inserts at the content tail,
// returning the (possibly different) slot index.
func (p *Page) Update(slot uint16, data []byte) (newSlot uint16, ok bool) {
	if slot >= p.ItemsCount() {
		return 0, false
	}
	off, length := p.slotOffset(slot)
	if length == deletedSentinel {
		return 0, false
	}
	if len(data) <= int(length) {
		copy(p.Data[off:], data)
		if len(data) < int(length) {
			p.setFragBytes(p.FragBytes() + (length - uint16(len(data))))
		}
		p.setSlot(slot, off, uint16(len(data)))
		return slot, true
	}
	// Doesn't fit: free old slot, try to append fresh bytes.
	p.setSlot(slot, off, deletedSentinel)
	p.setFragBytes(p.FragBytes() + length)
	if p.FreeBytes() < len(data)+slotEntrySize {
		return 0, false
	}
	newOff := p.contentEnd()
	copy(p.Data[newOff:], data)
	p.setSlot(slot, newOff, uint16(len(data)))
	p.setUsedBytes(p.UsedBytes() + uint16(len(data)))
	return slot, true
}

// Delete frees the bytes at slot; the slot index itself remains reserved
// (so other structures' addresses referencing it fail cleanly instead of
// silently pointing at reused content).
func (p *Page) Delete(slot uint16) bool {
	if slot >= p.ItemsCount() {
		return false
	}
	_, length := p.slotOffset(slot)
	if length == deletedSentinel {
		return false
	}
	p.setSlot(slot, 0, deletedSentinel)
	p.setFragBytes(p.FragBytes() + length)
	return true
}

// FragmentationRatio is the share of used content bytes that is dead
// (deleted) space; Defragment is worth calling once this crosses ~25%.
func (p *Page) FragmentationRatio() float64 {
	used := p.UsedBytes()
	if used == 0 {
		return 0
	}
	return float64(p.FragBytes()) / float64(used)
}

// Defragment compacts live content to the front of the content area,
// rewriting each live slot's offset in place. Slot indexes are stable
// across the call: only the byte offsets they point to change.
func (p *Page) Defragment() {
	n := p.ItemsCount()
	type liveSlot struct {
		idx  uint16
		data []byte
	}
	live := make([]liveSlot, 0, n)
	for i := uint16(0); i < n; i++ {
		_, length := p.slotOffset(i)
		if length == deletedSentinel {
			continue
		}
		b, ok := p.Read(i)
		if !ok {
			continue
		}
		live = append(live, liveSlot{idx: i, data: b})
	}
	off := uint16(PageHeaderSize)
	for _, ls := range live {
		copy(p.Data[off:], ls.data)
		p.setSlot(ls.idx, off, uint16(len(ls.data)))
		off += uint16(len(ls.data))
	}
	p.setUsedBytes(off - PageHeaderSize)
	p.setFragBytes(0)
}

// ValidateType returns dberr.ErrCorruption if the page's type tag does not
// match want; a mismatch on read is always a fatal corruption signal
// (spec §4.1).
func (p *Page) ValidateType(want PageType) error {
	if p.Type() != want {
		return dberr.ErrCorruption
	}
	return nil
}
