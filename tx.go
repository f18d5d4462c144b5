package duskdb

import (
	"fmt"

	"github.com/duskdb/duskdb/dberr"
	"github.com/duskdb/duskdb/expr"
)

// Tx is an explicit transaction: every write issued through it shares one
// transaction id, lands in the pager's private per-transaction overlay, and
// only becomes visible to anyone else on Commit (spec §4.6/§4.7). Writes
// issued directly on *DB, inside or outside a Tx, always run under their own
// autocommit transaction instead and are durable the moment they return.
type Tx struct {
	db     *DB
	txnID  uint32
	active bool
}

// Begin opens a new transaction id. The call itself never blocks; only a
// subsequent write made through tx can block waiting for the pager's write
// slot (storage.Pager.ensureSlot).
func (db *DB) Begin() (*Tx, error) {
	if db.readOnly {
		return nil, fmt.Errorf("%w: duskdb: cannot begin a transaction on a read-only instance", dberr.ErrUsage)
	}
	txnID, err := db.pager.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("duskdb: %w", err)
	}
	db.log.Debug().Msg("begin")
	return &Tx{db: db, txnID: txnID, active: true}, nil
}

// Insert stores doc in collection as part of tx.
func (tx *Tx) Insert(collection string, doc *Document) (*Result, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	return tx.db.executor.InsertTxn(tx.txnID, collection, doc)
}

// Update replaces the document identified by id in collection as part of tx.
func (tx *Tx) Update(collection string, id interface{}, newDoc *Document) (*Result, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	return tx.db.executor.UpdateTxn(tx.txnID, collection, id, newDoc)
}

// Upsert inserts or replaces doc in collection as part of tx.
func (tx *Tx) Upsert(collection string, doc *Document) (*Result, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	return tx.db.executor.UpsertTxn(tx.txnID, collection, doc)
}

// Delete removes the document identified by id from collection as part of
// tx.
func (tx *Tx) Delete(collection string, id interface{}) (*Result, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	return tx.db.executor.DeleteTxn(tx.txnID, collection, id)
}

// DeleteMany removes every document in collection matching filter as part
// of tx.
func (tx *Tx) DeleteMany(collection string, filter expr.Expr, params []interface{}) (*Result, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	return tx.db.executor.DeleteManyTxn(tx.txnID, collection, filter, params)
}

func (tx *Tx) checkActive() error {
	if !tx.active {
		return fmt.Errorf("%w: duskdb: transaction is no longer active", dberr.ErrUsage)
	}
	return nil
}

// Commit makes every write issued through tx visible and durable.
func (tx *Tx) Commit() error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.active = false
	if err := tx.db.executor.CommitTxn(tx.txnID); err != nil {
		return fmt.Errorf("duskdb: commit: %w", err)
	}
	tx.db.log.Debug().Msg("commit")
	return nil
}

// Rollback discards every write issued through tx, restoring the pager's
// page state and every in-memory index mutation tx made.
func (tx *Tx) Rollback() error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.active = false
	if err := tx.db.executor.RollbackTxn(tx.txnID); err != nil {
		return fmt.Errorf("duskdb: rollback: %w", err)
	}
	tx.db.log.Debug().Msg("rollback")
	return nil
}

// InTx reports whether db's pager currently holds an open write transaction
// slot (some transaction has performed at least one write it has not yet
// committed or rolled back).
func (db *DB) InTx() bool { return db.pager.InTx() }
