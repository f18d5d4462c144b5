package duskdb

import (
	"fmt"

	"github.com/duskdb/duskdb/dberr"
	"github.com/duskdb/duskdb/expr"
	"github.com/duskdb/duskdb/index"
	"github.com/duskdb/duskdb/query"
	"github.com/duskdb/duskdb/storage"
)

// re-exported so callers never need to import the query package directly
// for the shapes that cross this boundary.
type (
	Query            = query.Query
	OrderTerm        = query.OrderTerm
	VectorSearchSpec = query.VectorSearchSpec
	ResultDoc        = query.ResultDoc
	Result           = query.Result
	Cursor           = query.Cursor
	Document         = storage.Document
	VectorMetric     = index.VectorMetric
)

const (
	MetricCosine    = index.MetricCosine
	MetricEuclidean = index.MetricEuclidean
	MetricDot       = index.MetricDot
)

// NewDocument returns an empty document ready for Set calls, so callers
// never need to import storage directly just to build one.
func NewDocument() *Document { return storage.NewDocument() }

func (db *DB) checkWritable() error {
	if db.readOnly {
		return fmt.Errorf("%w: duskdb: write attempted on a read-only instance", dberr.ErrUsage)
	}
	return nil
}

// Insert stores doc in collection, minting an "_id" if the caller did not
// supply one.
func (db *DB) Insert(collection string, doc *Document) (*Result, error) {
	if err := db.checkWritable(); err != nil {
		return nil, err
	}
	return db.executor.Insert(collection, doc)
}

// Update replaces the document identified by id in collection with newDoc.
func (db *DB) Update(collection string, id interface{}, newDoc *Document) (*Result, error) {
	if err := db.checkWritable(); err != nil {
		return nil, err
	}
	return db.executor.Update(collection, id, newDoc)
}

// Upsert inserts doc if its "_id" is new, or replaces the existing document
// under that id otherwise.
func (db *DB) Upsert(collection string, doc *Document) (*Result, error) {
	if err := db.checkWritable(); err != nil {
		return nil, err
	}
	return db.executor.Upsert(collection, doc)
}

// Delete removes the document identified by id from collection.
func (db *DB) Delete(collection string, id interface{}) (*Result, error) {
	if err := db.checkWritable(); err != nil {
		return nil, err
	}
	return db.executor.Delete(collection, id)
}

// DeleteMany removes every document in collection matching filter (with
// params bound to its `?` placeholders, if any).
func (db *DB) DeleteMany(collection string, filter expr.Expr, params []interface{}) (*Result, error) {
	if err := db.checkWritable(); err != nil {
		return nil, err
	}
	return db.executor.DeleteMany(collection, filter, params)
}

// Query runs q against collection and returns a cursor over its matches.
func (db *DB) Query(collection string, q *Query) (*Cursor, error) {
	return db.executor.Query(collection, q)
}

// EnsureIndex creates a secondary index on collection.field if one does not
// already exist; re-declaring an existing index with the same shape is a
// no-op.
func (db *DB) EnsureIndex(collection, field string, unique, multikey bool) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	return db.executor.EnsureIndex(collection, field, unique, multikey)
}

// DropIndex removes a secondary index and frees its pages.
func (db *DB) DropIndex(collection, field string) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	return db.executor.DropIndex(collection, field)
}

// EnsureVectorIndex creates a vector (approximate k-NN) index on
// collection.field if one does not already exist.
func (db *DB) EnsureVectorIndex(collection, field string, metric VectorMetric, dims int) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	return db.executor.EnsureVectorIndex(collection, field, metric, dims)
}

// DropVectorIndex removes a vector index and frees its pages.
func (db *DB) DropVectorIndex(collection, field string) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	return db.executor.DropVectorIndex(collection, field)
}

// DropCollection removes collection and every document, secondary index,
// and vector index it owns.
func (db *DB) DropCollection(collection string) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	db.log.Info().Str("collection", collection).Msg("drop collection")
	return db.executor.DropCollection(collection)
}

// RenameCollection renames a collection in place, preserving every
// document and index it owns.
func (db *DB) RenameCollection(oldName, newName string) error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	db.log.Info().Str("from", oldName).Str("to", newName).Msg("rename collection")
	return db.executor.RenameCollection(oldName, newName)
}

// Checkpoint flushes every page the WAL has confirmed into the data file
// and truncates the log (spec §4.7). It fails with dberr.ErrConcurrency if
// called while a transaction is open.
func (db *DB) Checkpoint() error {
	if err := db.checkWritable(); err != nil {
		return err
	}
	return db.executor.Checkpoint()
}

// Analyze computes fresh row/index cardinality statistics for collection.
// The query planner does not consult them.
func (db *DB) Analyze(collection string) (*query.CollectionStats, error) {
	return db.executor.Analyze(collection)
}
