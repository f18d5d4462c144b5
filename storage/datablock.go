package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/snappy"

	"github.com/duskdb/duskdb/dberr"
)

// MaxKeyLength is the hard limit on an index key's encoded byte length
// (spec §9).
const MaxKeyLength = 1023

// MaxDocumentSize is the hard limit on one document's encoded byte length,
// including its overflow chain.
const MaxDocumentSize = 16 << 20

// Data service (C9): stores a document's encoded bytes as one or more
// chained Data pages hanging off a collection's page chain, compressing
// the payload with snappy before it ever touches a page.

// overflowHeaderSize is the extra bytes datablock prefixes onto a record's
// compressed payload: the total uncompressed length, used to size the
// final reassembly buffer.
const overflowHeaderSize = 4

// InsertRecord compresses doc, chains it across as many Data pages as
// needed starting from a freshly allocated first page, and returns the
// Address of its first slot. The caller is responsible for threading that
// first page onto the collection's page chain and recording the address
// wherever it is indexed by record id. txnID scopes the writes to a single
// transaction's private overlay (0 for a direct, non-transactional write).
func (p *Pager) InsertRecord(collID uint32, doc *Document, txnID uint32) (Address, error) {
	raw, err := doc.Encode()
	if err != nil {
		return EmptyAddress, err
	}
	if len(raw) > MaxDocumentSize {
		return EmptyAddress, fmt.Errorf("%w: document exceeds %d bytes", dberr.ErrValidation, MaxDocumentSize)
	}
	compressed := snappy.Encode(nil, raw)

	payload := make([]byte, overflowHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(payload, uint32(len(raw)))
	copy(payload[overflowHeaderSize:], compressed)

	return p.writeChain(collID, PageTypeData, payload, txnID)
}

// InsertRecordBytes chains raw, uncompressed bytes across one or more
// pages of type ptype, used by callers (the index package's snapshot
// flush) that need a page chain without the document codec.
func (p *Pager) InsertRecordBytes(collID uint32, ptype PageType, payload []byte, txnID uint32) (Address, error) {
	return p.writeChain(collID, ptype, payload, txnID)
}

// ReadRecordBytes reassembles the raw bytes written by InsertRecordBytes.
func (p *Pager) ReadRecordBytes(addr Address, txnID uint32) ([]byte, error) {
	return p.readChain(addr, txnID)
}

// writeChain splits payload across pages of type ptype, each holding one
// slot, and links them via NextPageID. Returns the Address of the first
// page/slot.
func (p *Pager) writeChain(collID uint32, ptype PageType, payload []byte, txnID uint32) (Address, error) {
	const chunkSize = PageSize - PageHeaderSize - slotEntrySize - 8 // leave room for chain continuation marker

	var firstAddr Address
	var prevPage *Page
	guard := p.cycleGuard()
	off := 0

	for {
		if guard <= 0 {
			return EmptyAddress, fmt.Errorf("%w: record chain exceeds guard length", dberr.ErrCorruption)
		}
		guard--

		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[off:end]

		page, err := p.AllocatePage(ptype, txnID)
		if err != nil {
			return EmptyAddress, err
		}
		page.SetCollectionID(collID)
		slot, ok := page.Insert(chunk)
		if !ok {
			return EmptyAddress, fmt.Errorf("%w: chunk does not fit a fresh page", dberr.ErrCorruption)
		}
		if err := p.WritePage(page, txnID); err != nil {
			return EmptyAddress, err
		}

		if prevPage != nil {
			prevPage.SetNextPageID(page.PageID())
			if err := p.WritePage(prevPage, txnID); err != nil {
				return EmptyAddress, err
			}
		} else {
			firstAddr = Address{PageID: page.PageID(), Slot: slot}
		}
		prevPage = page
		off = end
		if off >= len(payload) {
			break
		}
	}
	return firstAddr, nil
}

// ReadRecord walks the Data page chain starting at addr, reassembles the
// compressed payload, decompresses, and decodes the document.
func (p *Pager) ReadRecord(addr Address, txnID uint32) (*Document, error) {
	raw, err := p.readChain(addr, txnID)
	if err != nil {
		return nil, err
	}
	if len(raw) < overflowHeaderSize {
		return nil, fmt.Errorf("%w: truncated record payload", dberr.ErrCorruption)
	}
	uncompressedLen := binary.LittleEndian.Uint32(raw)
	decoded, err := snappy.Decode(make([]byte, 0, uncompressedLen), raw[overflowHeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: decompress record: %v", dberr.ErrCorruption, err)
	}
	return Decode(decoded)
}

func (p *Pager) readChain(addr Address, txnID uint32) ([]byte, error) {
	var out []byte
	pageID := addr.PageID
	slot := addr.Slot
	guard := p.cycleGuard()
	seen := make(map[uint32]bool)

	for {
		if guard <= 0 {
			return nil, fmt.Errorf("%w: record chain exceeds guard length", dberr.ErrCorruption)
		}
		guard--
		if seen[pageID] {
			return nil, fmt.Errorf("%w: cyclic record chain at page %d", dberr.ErrCorruption, pageID)
		}
		seen[pageID] = true

		page, err := p.ReadPage(pageID, txnID)
		if err != nil {
			return nil, err
		}
		chunk, ok := page.Read(slot)
		if !ok {
			return nil, fmt.Errorf("%w: dangling record address (page %d slot %d)", dberr.ErrCorruption, pageID, slot)
		}
		out = append(out, chunk...)

		next := page.NextPageID()
		if next == 0 {
			break
		}
		pageID = next
		slot = 0
	}
	return out, nil
}

// UpdateRecord frees the existing chain starting at addr and writes doc as
// a fresh chain, returning its new Address. Callers must update whatever
// index entry referenced the old Address.
func (p *Pager) UpdateRecord(collID uint32, addr Address, doc *Document, txnID uint32) (Address, error) {
	if err := p.freeChain(addr, txnID); err != nil {
		return EmptyAddress, err
	}
	return p.InsertRecord(collID, doc, txnID)
}

// DeleteRecord frees every page in the chain starting at addr.
func (p *Pager) DeleteRecord(addr Address, txnID uint32) error {
	return p.freeChain(addr, txnID)
}

func (p *Pager) freeChain(addr Address, txnID uint32) error {
	pageID := addr.PageID
	guard := p.cycleGuard()
	for pageID != 0 {
		if guard <= 0 {
			return fmt.Errorf("%w: record chain exceeds guard length", dberr.ErrCorruption)
		}
		guard--
		page, err := p.ReadPage(pageID, txnID)
		if err != nil {
			return err
		}
		next := page.NextPageID()
		if err := p.FreePage(pageID, txnID); err != nil {
			return err
		}
		pageID = next
	}
	return nil
}
