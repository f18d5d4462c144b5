package query

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/duskdb/duskdb/dberr"
	"github.com/duskdb/duskdb/expr"
	"github.com/duskdb/duskdb/index"
	"github.com/duskdb/duskdb/lock"
	"github.com/duskdb/duskdb/storage"
)

// collHandle bundles the bookkeeping indexes every collection carries
// beyond its user-declared secondary/vector indexes: a unique index on
// "_id" resolving to a record id, and a unique index resolving a record
// id to the Address its current document chain starts at. Together they
// play the role of spec §4.8's "PK index" and "PK chain": a secondary
// index value never points at a page address directly, only at a record
// id, and locIndex is the one place that record id resolves to storage.
type collHandle struct {
	meta     *storage.CollectionMeta
	idIndex  *index.Index
	locIndex *index.Index
}

const idIndexField = "_id"
const locIndexField = "__loc"

// Executor is the document-store's query/mutation engine (C14): it holds
// the live index registries and the pager/lock handles every operation
// needs, and is the sole place collection handles (collHandle) are
// created and cached.
type Executor struct {
	pager    *storage.Pager
	lockMgr  *lock.Manager
	indexMgr *index.Manager

	mu      sync.Mutex
	handles map[string]*collHandle
	vectors vectorRegistry
	planner *Planner

	undoMu  sync.Mutex
	undoLog map[uint32][]func()
}

// NewExecutor creates an executor over pager, reopening every vector
// index the pager's catalog already knows about.
func NewExecutor(pager *storage.Pager, lockMgr *lock.Manager, indexMgr *index.Manager) (*Executor, error) {
	e := &Executor{
		pager:    pager,
		lockMgr:  lockMgr,
		indexMgr: indexMgr,
		handles:  make(map[string]*collHandle),
		vectors:  make(vectorRegistry),
		undoLog:  make(map[uint32][]func()),
	}
	for _, def := range pager.VectorIndexDefs() {
		vi, err := index.OpenVectorIndex(def.Collection, def.Field, index.VectorMetric(def.Metric), def.Dimensions, pager, def.RootPageID)
		if err != nil {
			return nil, err
		}
		e.vectors[vectorIndexKey{def.Collection, def.Field}] = vi
	}
	e.planner = NewPlanner(indexMgr, e.vectors)
	return e, nil
}

// handle returns (creating if needed) the bookkeeping handle for
// collection, loading its _id/location indexes from the catalog if a
// prior session had already created them.
func (e *Executor) handle(collection string) (*collHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.handles[collection]; ok {
		return h, nil
	}
	meta, err := e.pager.GetOrCreateCollection(collection)
	if err != nil {
		return nil, err
	}
	idIdx, err := e.openOrCreateIndex(collection, idIndexField, true, false)
	if err != nil {
		return nil, err
	}
	locIdx, err := e.openOrCreateIndex(collection, locIndexField, true, false)
	if err != nil {
		return nil, err
	}
	h := &collHandle{meta: meta, idIndex: idIdx, locIndex: locIdx}
	e.handles[collection] = h
	return h, nil
}

func (e *Executor) openOrCreateIndex(collection, field string, unique, multikey bool) (*index.Index, error) {
	if idx := e.indexMgr.GetIndex(collection, field); idx != nil {
		return idx, nil
	}
	for _, def := range e.pager.IndexDefs() {
		if def.Collection == collection && def.Field == field {
			return e.indexMgr.LoadIndex(collection, field, def.Unique, multikey, def.RootPageID)
		}
	}
	idx, err := e.indexMgr.CreateIndex(collection, field, unique, multikey)
	if err != nil {
		return nil, err
	}
	if err := e.pager.AddIndexDef(storage.IndexDef{Collection: collection, Field: field, Unique: unique, RootPageID: 0}); err != nil {
		return nil, err
	}
	return idx, nil
}

// flushIndex persists idx's current snapshot and updates its catalog
// entry with the fresh root page id.
func (e *Executor) flushIndex(idx *index.Index) error {
	if err := idx.Flush(); err != nil {
		return err
	}
	e.pager.RemoveIndexDef(idx.Collection, idx.Field)
	return e.pager.AddIndexDef(storage.IndexDef{
		Collection: idx.Collection, Field: idx.Field, Unique: idx.Unique, RootPageID: idx.RootPageID(),
	})
}

// acquireWrite takes the per-collection write lock scoped to txnID, which
// lock.Manager treats as an independent scope from every other txnID (and
// from the 0 scope DDL/autocommit callers use). Blocking and timeout are
// entirely lock.Manager's concern; the pager's own write slot is a separate,
// coarser gate reached only once a write actually lands (storage.Pager
// ensureSlot).
func (e *Executor) acquireWrite(collection string, txnID uint32) error {
	return e.lockMgr.AcquireWrite(collection, txnID)
}

// pushUndo records fn as the action that undoes one index mutation made
// under txnID. index.Index and index.VectorIndex have no transaction
// awareness of their own (they are pure in-memory structures), so Commit/
// Rollback coordinate them through this closure log instead.
func (e *Executor) pushUndo(txnID uint32, fn func()) {
	e.undoMu.Lock()
	e.undoLog[txnID] = append(e.undoLog[txnID], fn)
	e.undoMu.Unlock()
}

func (e *Executor) discardIndexUndo(txnID uint32) {
	e.undoMu.Lock()
	delete(e.undoLog, txnID)
	e.undoMu.Unlock()
}

func (e *Executor) replayIndexUndo(txnID uint32) {
	e.undoMu.Lock()
	fns := e.undoLog[txnID]
	delete(e.undoLog, txnID)
	e.undoMu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// CommitTxn commits txnID's pager writes, discards its index undo log (the
// mutations already happened in place and now stick), and releases every
// lock it holds. Safe to call for a transaction that never wrote anything.
func (e *Executor) CommitTxn(txnID uint32) error {
	if err := e.pager.CommitTx(); err != nil {
		return err
	}
	e.discardIndexUndo(txnID)
	e.lockMgr.ReleaseAll(txnID)
	return nil
}

// RollbackTxn rolls back txnID's pager writes, replays its index undo log
// in reverse to restore every in-memory index mutation it made, and
// releases every lock it holds.
func (e *Executor) RollbackTxn(txnID uint32) error {
	if err := e.pager.RollbackTx(); err != nil {
		return err
	}
	e.replayIndexUndo(txnID)
	e.lockMgr.ReleaseAll(txnID)
	return nil
}

// autocommit runs fn inside its own freshly begun transaction, committing
// on success and rolling back on error.
func (e *Executor) autocommit(fn func(txnID uint32) (*Result, error)) (*Result, error) {
	txnID, err := e.pager.BeginTx()
	if err != nil {
		return nil, err
	}
	res, err := fn(txnID)
	if err != nil {
		e.RollbackTxn(txnID)
		return nil, err
	}
	if err := e.CommitTxn(txnID); err != nil {
		return nil, err
	}
	return res, nil
}

// --- Mutations -------------------------------------------------------

// Insert stores doc in collection under its own autocommit transaction.
func (e *Executor) Insert(collection string, doc *storage.Document) (*Result, error) {
	return e.autocommit(func(txnID uint32) (*Result, error) { return e.InsertTxn(txnID, collection, doc) })
}

// InsertTxn is Insert scoped to an already-open transaction: doc is stored
// and every index touched is updated, pushing an undo closure for each so
// a rollback of txnID can restore the in-memory index state.
func (e *Executor) InsertTxn(txnID uint32, collection string, doc *storage.Document) (*Result, error) {
	if err := e.acquireWrite(collection, txnID); err != nil {
		return nil, err
	}
	h, err := e.handle(collection)
	if err != nil {
		return nil, err
	}

	idVal, hasID := doc.Get(idIndexField)
	if !hasID || idVal == nil {
		idVal = storage.NewObjectID()
		doc.Set(idIndexField, idVal)
	}
	if err := validateID(idVal); err != nil {
		return nil, err
	}
	idKey := index.ValueToKey(idVal)
	if _, found := h.idIndex.Lookup(idKey); found {
		return nil, fmt.Errorf("%w: duplicate _id", dberr.ErrValidation)
	}

	recordID, err := e.pager.NextRecordID(collection)
	if err != nil {
		return nil, err
	}
	addr, err := e.pager.InsertRecord(h.meta.ID, doc, txnID)
	if err != nil {
		return nil, err
	}
	locKey := index.ValueToKey(int64(recordID))
	if err := h.locIndex.Add(locKey, addr.Pack()); err != nil {
		return nil, err
	}
	e.pushUndo(txnID, func() { h.locIndex.RemoveAll(locKey) })
	if err := h.idIndex.Add(idKey, recordID); err != nil {
		return nil, err
	}
	e.pushUndo(txnID, func() { h.idIndex.Remove(idKey, recordID) })
	if err := e.indexDocTxn(txnID, collection, recordID, doc); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: 1, LastInsertID: recordID}, nil
}

// indexDocTxn adds recordID to every user secondary and vector index whose
// field doc carries a value for, pushing an undo closure per mutation.
func (e *Executor) indexDocTxn(txnID uint32, collection string, recordID uint64, doc *storage.Document) error {
	for _, idx := range e.indexMgr.GetIndexesForCollection(collection) {
		if idx.Field == idIndexField || idx.Field == locIndexField {
			continue
		}
		for _, v := range fieldValues(doc, idx.Field, idx.Multikey) {
			key := index.ValueToKey(v)
			if err := idx.Add(key, recordID); err != nil {
				return err
			}
			idxRef, keyRef := idx, key
			e.pushUndo(txnID, func() { idxRef.Remove(keyRef, recordID) })
		}
	}
	for key, vi := range e.vectors {
		if key.collection != collection {
			continue
		}
		val, ok := doc.Get(vi.Field)
		if !ok {
			continue
		}
		vec, ok := val.([]float32)
		if !ok {
			continue
		}
		if err := vi.Insert(recordID, vec); err != nil {
			return err
		}
		viRef := vi
		e.pushUndo(txnID, func() { viRef.Delete(recordID) })
	}
	return nil
}

// unindexDocTxn removes recordID from every user secondary and vector
// index, pushing an undo closure that re-adds each entry on rollback.
func (e *Executor) unindexDocTxn(txnID uint32, collection string, recordID uint64, doc *storage.Document) {
	for _, idx := range e.indexMgr.GetIndexesForCollection(collection) {
		if idx.Field == idIndexField || idx.Field == locIndexField {
			continue
		}
		for _, v := range fieldValues(doc, idx.Field, idx.Multikey) {
			key := index.ValueToKey(v)
			idx.Remove(key, recordID)
			idxRef, keyRef := idx, key
			e.pushUndo(txnID, func() { idxRef.Add(keyRef, recordID) })
		}
	}
	for key, vi := range e.vectors {
		if key.collection != collection {
			continue
		}
		val, ok := doc.Get(vi.Field)
		if !ok {
			continue
		}
		vec, ok := val.([]float32)
		if !ok {
			continue
		}
		vi.Delete(recordID)
		viRef := vi
		e.pushUndo(txnID, func() { viRef.Insert(recordID, vec) })
	}
}

// fieldValues resolves field (a dotted path) against doc, returning every
// value a multikey index should index: the scalar itself, or each element
// of an array when multikey is set and the resolved value is an array.
func fieldValues(doc *storage.Document, field string, multikey bool) []interface{} {
	val, ok := doc.GetNested(strings.Split(field, "."))
	if !ok {
		return nil
	}
	if multikey {
		if arr, isArr := val.([]interface{}); isArr {
			return arr
		}
	}
	return []interface{}{val}
}

func validateID(v interface{}) error {
	if v == nil {
		return fmt.Errorf("%w: _id must not be null", dberr.ErrValidation)
	}
	if v == storage.MinValue || v == storage.MaxValue {
		return fmt.Errorf("%w: _id must not be MinValue/MaxValue", dberr.ErrValidation)
	}
	return nil
}

// findByID resolves id to its current record id and document, or
// ok=false if no such document exists. The record is read as txnID sees
// it: inside an explicit transaction the pager's per-transaction overlay
// returns that transaction's own prior writes, and txnID 0 reads the
// confirmed state.
func (e *Executor) findByID(h *collHandle, id interface{}, txnID uint32) (recordID uint64, addr storage.Address, doc *storage.Document, ok bool, err error) {
	ids, found := h.idIndex.Lookup(index.ValueToKey(id))
	if !found || len(ids) == 0 {
		return 0, storage.EmptyAddress, nil, false, nil
	}
	recordID = ids[0]
	a, found := h.locIndex.Lookup(index.ValueToKey(int64(recordID)))
	if !found || len(a) == 0 {
		return 0, storage.EmptyAddress, nil, false, nil
	}
	addr = storage.UnpackAddress(a[0])
	doc, err = e.pager.ReadRecord(addr, txnID)
	if err != nil {
		return 0, storage.EmptyAddress, nil, false, err
	}
	return recordID, addr, doc, true, nil
}

// Update replaces the document whose "_id" field equals id under its own
// autocommit transaction.
func (e *Executor) Update(collection string, id interface{}, newDoc *storage.Document) (*Result, error) {
	return e.autocommit(func(txnID uint32) (*Result, error) { return e.UpdateTxn(txnID, collection, id, newDoc) })
}

// UpdateTxn is Update scoped to an already-open transaction. Returns
// RowsAffected=0 if no such document exists.
func (e *Executor) UpdateTxn(txnID uint32, collection string, id interface{}, newDoc *storage.Document) (*Result, error) {
	if err := e.acquireWrite(collection, txnID); err != nil {
		return nil, err
	}
	h, err := e.handle(collection)
	if err != nil {
		return nil, err
	}
	recordID, addr, oldDoc, ok, err := e.findByID(h, id, txnID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{RowsAffected: 0}, nil
	}
	newDoc.Set(idIndexField, id)
	e.unindexDocTxn(txnID, collection, recordID, oldDoc)
	newAddr, err := e.pager.UpdateRecord(h.meta.ID, addr, newDoc, txnID)
	if err != nil {
		return nil, err
	}
	locKey := index.ValueToKey(int64(recordID))
	h.locIndex.RemoveAll(locKey)
	e.pushUndo(txnID, func() { h.locIndex.Add(locKey, addr.Pack()) })
	if err := h.locIndex.Add(locKey, newAddr.Pack()); err != nil {
		return nil, err
	}
	e.pushUndo(txnID, func() { h.locIndex.RemoveAll(locKey) })
	if err := e.indexDocTxn(txnID, collection, recordID, newDoc); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: 1}, nil
}

// Upsert inserts doc if its "_id" (or a freshly minted one) is absent from
// collection, or replaces the existing document otherwise, under its own
// autocommit transaction.
func (e *Executor) Upsert(collection string, doc *storage.Document) (*Result, error) {
	return e.autocommit(func(txnID uint32) (*Result, error) { return e.UpsertTxn(txnID, collection, doc) })
}

// UpsertTxn is Upsert scoped to an already-open transaction.
func (e *Executor) UpsertTxn(txnID uint32, collection string, doc *storage.Document) (*Result, error) {
	if idVal, ok := doc.Get(idIndexField); ok && idVal != nil {
		h, err := e.handle(collection)
		if err != nil {
			return nil, err
		}
		if _, _, _, found, err := e.findByID(h, idVal, txnID); err != nil {
			return nil, err
		} else if found {
			return e.UpdateTxn(txnID, collection, idVal, doc)
		}
	}
	return e.InsertTxn(txnID, collection, doc)
}

// Delete removes the document whose "_id" equals id under its own
// autocommit transaction.
func (e *Executor) Delete(collection string, id interface{}) (*Result, error) {
	return e.autocommit(func(txnID uint32) (*Result, error) { return e.DeleteTxn(txnID, collection, id) })
}

// DeleteTxn is Delete scoped to an already-open transaction.
func (e *Executor) DeleteTxn(txnID uint32, collection string, id interface{}) (*Result, error) {
	if err := e.acquireWrite(collection, txnID); err != nil {
		return nil, err
	}
	h, err := e.handle(collection)
	if err != nil {
		return nil, err
	}
	recordID, addr, doc, ok, err := e.findByID(h, id, txnID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{RowsAffected: 0}, nil
	}
	e.unindexDocTxn(txnID, collection, recordID, doc)
	idKey := index.ValueToKey(id)
	h.idIndex.Remove(idKey, recordID)
	e.pushUndo(txnID, func() { h.idIndex.Add(idKey, recordID) })
	locKey := index.ValueToKey(int64(recordID))
	h.locIndex.RemoveAll(locKey)
	e.pushUndo(txnID, func() { h.locIndex.Add(locKey, addr.Pack()) })
	if err := e.pager.DeleteRecord(addr, txnID); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: 1}, nil
}

// DeleteMany removes every document in collection matching filter
// (evaluated with params bound to its `?` placeholders), under its own
// autocommit transaction.
func (e *Executor) DeleteMany(collection string, filter expr.Expr, params []interface{}) (*Result, error) {
	return e.autocommit(func(txnID uint32) (*Result, error) {
		return e.DeleteManyTxn(txnID, collection, filter, params)
	})
}

// DeleteManyTxn is DeleteMany scoped to an already-open transaction.
func (e *Executor) DeleteManyTxn(txnID uint32, collection string, filter expr.Expr, params []interface{}) (*Result, error) {
	if err := e.acquireWrite(collection, txnID); err != nil {
		return nil, err
	}
	cur, err := e.Query(collection, &Query{Filter: filter, Params: params})
	if err != nil {
		return nil, err
	}
	h, err := e.handle(collection)
	if err != nil {
		return nil, err
	}
	var n int64
	for {
		row, ok := cur.Next()
		if !ok {
			break
		}
		idVal, _ := row.Doc.Get(idIndexField)
		locKey := index.ValueToKey(int64(row.RecordID))
		addr, found := h.locIndex.Lookup(locKey)
		if !found || len(addr) == 0 {
			continue
		}
		e.unindexDocTxn(txnID, collection, row.RecordID, row.Doc)
		idKey := index.ValueToKey(idVal)
		h.idIndex.Remove(idKey, row.RecordID)
		e.pushUndo(txnID, func() { h.idIndex.Add(idKey, row.RecordID) })
		recAddr := storage.UnpackAddress(addr[0])
		h.locIndex.RemoveAll(locKey)
		e.pushUndo(txnID, func() { h.locIndex.Add(locKey, recAddr.Pack()) })
		if err := e.pager.DeleteRecord(recAddr, txnID); err != nil {
			return nil, err
		}
		n++
	}
	return &Result{RowsAffected: n}, nil
}

// --- Index / collection DDL -------------------------------------------
//
// DDL operations run immediately against the confirmed catalog (txnID 0):
// they are never part of an explicit transaction's rollback scope, matching
// storage.Pager's non-transactional treatment of GetOrCreateCollection,
// AddIndexDef and friends.

// EnsureIndex creates (or no-ops if already present) a secondary index on
// collection.field.
func (e *Executor) EnsureIndex(collection, field string, unique, multikey bool) error {
	if idx := e.indexMgr.GetIndex(collection, field); idx != nil {
		return nil
	}
	_, err := e.openOrCreateIndex(collection, field, unique, multikey)
	return err
}

// EnsureVectorIndex creates a vector index on collection.field if one
// does not already exist.
func (e *Executor) EnsureVectorIndex(collection, field string, metric index.VectorMetric, dims int) error {
	key := vectorIndexKey{collection, field}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.vectors[key]; exists {
		return nil
	}
	vi := index.NewVectorIndex(collection, field, metric, dims, e.pager)
	e.vectors[key] = vi
	e.pager.AddVectorIndexDef(storage.VectorIndexDef{Collection: collection, Field: field, Metric: string(metric), Dimensions: dims})
	return nil
}

// DropIndex drops collection's secondary index on field.
func (e *Executor) DropIndex(collection, field string) error {
	idx := e.indexMgr.GetIndex(collection, field)
	if idx == nil {
		return fmt.Errorf("%w: index on %s.%s not found", dberr.ErrUsage, collection, field)
	}
	if root := idx.RootPageID(); root != 0 {
		if err := e.pager.DeleteRecord(storage.Address{PageID: root, Slot: 0}, 0); err != nil {
			return err
		}
	}
	e.pager.RemoveIndexDef(collection, field)
	return e.indexMgr.DropIndex(collection, field)
}

// DropVectorIndex drops collection's vector index on field.
func (e *Executor) DropVectorIndex(collection, field string) error {
	key := vectorIndexKey{collection, field}
	e.mu.Lock()
	defer e.mu.Unlock()
	vi, ok := e.vectors[key]
	if !ok {
		return fmt.Errorf("%w: vector index on %s.%s not found", dberr.ErrUsage, collection, field)
	}
	if root := vi.RootPageID(); root != 0 {
		if err := e.pager.DeleteRecord(storage.Address{PageID: root, Slot: 0}, 0); err != nil {
			return err
		}
	}
	delete(e.vectors, key)
	return nil
}

// DropCollection removes collection: every document it holds, every
// secondary/vector index's snapshot chain, and its catalog entry.
func (e *Executor) DropCollection(collection string) error {
	if err := e.acquireWrite(collection, 0); err != nil {
		return err
	}
	defer e.lockMgr.ReleaseWrite(collection, 0)
	h, err := e.handle(collection)
	if err != nil {
		return err
	}
	for _, ids := range h.idIndex.AllEntries() {
		for _, recordID := range ids {
			addr, found := h.locIndex.Lookup(index.ValueToKey(int64(recordID)))
			if !found || len(addr) == 0 {
				continue
			}
			if err := e.pager.DeleteRecord(storage.UnpackAddress(addr[0]), 0); err != nil {
				return err
			}
		}
	}
	for _, idx := range e.indexMgr.GetIndexesForCollection(collection) {
		if root := idx.RootPageID(); root != 0 {
			if err := e.pager.DeleteRecord(storage.Address{PageID: root, Slot: 0}, 0); err != nil {
				return err
			}
		}
	}
	e.mu.Lock()
	for key, vi := range e.vectors {
		if key.collection != collection {
			continue
		}
		if root := vi.RootPageID(); root != 0 {
			if err := e.pager.DeleteRecord(storage.Address{PageID: root, Slot: 0}, 0); err != nil {
				e.mu.Unlock()
				return err
			}
		}
		delete(e.vectors, key)
	}
	e.mu.Unlock()

	e.indexMgr.DropAllForCollection(collection)
	e.mu.Lock()
	delete(e.handles, collection)
	e.mu.Unlock()
	return e.pager.DropCollection(collection)
}

// RenameCollection renames collection in the catalog and re-points every
// live index/handle cache entry at the new name.
func (e *Executor) RenameCollection(oldName, newName string) error {
	if err := e.acquireWrite(oldName, 0); err != nil {
		return err
	}
	defer e.lockMgr.ReleaseWrite(oldName, 0)
	if err := e.pager.RenameCollection(oldName, newName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.handles[oldName]; ok {
		delete(e.handles, oldName)
		e.handles[newName] = h
	}
	for key, vi := range e.vectors {
		if key.collection == oldName {
			delete(e.vectors, key)
			vi.Collection = newName
			e.vectors[vectorIndexKey{newName, key.field}] = vi
		}
	}
	return nil
}

// Checkpoint flushes every live index's in-memory snapshot and then
// copies confirmed WAL pages back into the data file (spec §4.5 C6).
func (e *Executor) Checkpoint() error {
	e.mu.Lock()
	handles := make([]*collHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()
	for _, h := range handles {
		if err := e.flushIndex(h.idIndex); err != nil {
			return err
		}
		if err := e.flushIndex(h.locIndex); err != nil {
			return err
		}
	}
	for _, idx := range e.pager.IndexDefs() {
		live := e.indexMgr.GetIndex(idx.Collection, idx.Field)
		if live == nil {
			continue
		}
		if err := e.flushIndex(live); err != nil {
			return err
		}
	}
	for _, vi := range e.vectors {
		if err := vi.Flush(); err != nil {
			return err
		}
		e.pager.AddVectorIndexDef(storage.VectorIndexDef{
			Collection: vi.Collection, Field: vi.Field, Metric: string(vi.Metric), Dimensions: vi.Dimensions, RootPageID: vi.RootPageID(),
		})
	}
	return e.pager.Checkpoint()
}

// --- Query -------------------------------------------------------------

// Query runs q against collection and returns a cursor over the results.
// Always reads the confirmed state (txnID 0), regardless of any explicit
// transaction the caller may have open: this is what gives a reader with
// no transaction of its own the guarantee that it never observes another
// transaction's uncommitted writes (spec §4.6 C7).
func (e *Executor) Query(collection string, q *Query) (*Cursor, error) {
	if err := expr.CheckParamCount(q.Filter, q.Params); err != nil {
		return nil, err
	}
	h, err := e.handle(collection)
	if err != nil {
		return nil, err
	}
	plan := e.planner.Plan(collection, q)

	var recordIDs []uint64
	switch plan.Kind {
	case IndexEq:
		idx := e.indexMgr.GetIndex(collection, plan.Field)
		recordIDs, _ = idx.Lookup(plan.EqKey)
	case IndexRange:
		idx := e.indexMgr.GetIndex(collection, plan.Field)
		recordIDs = idx.RangeScan(plan.MinKey, plan.MaxKey)
		if plan.Reversed {
			reverseUint64s(recordIDs)
		}
	case VectorScan:
		vi := e.vectors[vectorIndexKey{collection, plan.Field}]
		if vi == nil {
			return nil, fmt.Errorf("%w: no vector index on %s.%s", dberr.ErrUsage, collection, plan.Field)
		}
		k := plan.Vector.K
		if k == 0 {
			k = 1 << 20 // effectively unbounded; MaxDistance trims it below
		}
		neighbors, err := vi.Search(plan.Vector.Target, k)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if plan.Vector.MaxDistance > 0 && n.Distance > plan.Vector.MaxDistance {
				continue
			}
			recordIDs = append(recordIDs, n.RecordID)
		}
	default: // FullScan
		seen := map[uint64]bool{}
		for _, ids := range h.idIndex.AllEntries() {
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					recordIDs = append(recordIDs, id)
				}
			}
		}
		sort.Slice(recordIDs, func(i, j int) bool { return recordIDs[i] < recordIDs[j] })
	}

	rows := make([]*ResultDoc, 0, len(recordIDs))
	for _, id := range recordIDs {
		addr, found := h.locIndex.Lookup(index.ValueToKey(int64(id)))
		if !found || len(addr) == 0 {
			continue
		}
		doc, err := e.pager.ReadRecord(storage.UnpackAddress(addr[0]), 0)
		if err != nil {
			return nil, err
		}
		if plan.Residual != nil {
			ok, err := expr.EvalBool(plan.Residual, doc, q.Params)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		rows = append(rows, &ResultDoc{RecordID: id, Doc: doc})
	}

	if len(q.OrderBy) > 0 {
		sortRows(rows, q.OrderBy, q.Params)
	}

	rows = applyGroupBy(rows, q)

	if q.Select != nil {
		rows = projectRows(rows, q.Select, q.Params)
	}

	rows = paginate(rows, q.Offset, q.Limit)
	return NewCursor(rows), nil
}

func reverseUint64s(s []uint64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func paginate(rows []*ResultDoc, offset, limit int) []*ResultDoc {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
