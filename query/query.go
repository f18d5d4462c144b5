// Package query implements the document-store query planner (C13) and
// executor (C14): given a collection name and a Query record, it chooses
// between an index scan and a full scan, applies the residual filter,
// sorts, projects, and paginates, and also carries out every other
// collection-level operation (insert/update/upsert/delete, index
// maintenance, checkpoint, pragmas) that duskdb's public surface exposes.
package query

import (
	"github.com/duskdb/duskdb/expr"
	"github.com/duskdb/duskdb/index"
	"github.com/duskdb/duskdb/storage"
)

// OrderTerm is one key of a (possibly multi-key) sort, evaluated per
// document against Expr.
type OrderTerm struct {
	Expr expr.Expr
	Desc bool
}

// VectorSearchSpec requests the k nearest (or within-distance) neighbors
// of Target under a collection's vector index on Field.
type VectorSearchSpec struct {
	Field       string
	Target      []float32
	K           int     // 0 means "unbounded, use MaxDistance instead"
	MaxDistance float32 // 0 means "unbounded, use K instead"
}

// Query is the input to Plan/Execute: a where-filter, optional vector
// search, ordering, grouping, and pagination, matching spec §4.10's Query
// record (select expression, where list, order-by, group-by, having,
// limit, offset, for-update).
type Query struct {
	Filter       expr.Expr
	Params       []interface{}
	VectorSearch *VectorSearchSpec
	OrderBy      []OrderTerm
	GroupBy      expr.Expr
	Having       expr.Expr
	Select       []expr.Expr // projection; nil means "whole document"
	Limit        int         // 0 means unbounded
	Offset       int
	ForUpdate    bool
}

// ResultDoc pairs a stored document with the record id it lives under.
type ResultDoc struct {
	RecordID uint64
	Doc      *storage.Document
}

// Result is the outcome of a mutating operation: either the documents a
// query matched, or the row-count/generated-id of an insert/update/delete.
type Result struct {
	Docs         []*ResultDoc
	RowsAffected int64
	LastInsertID uint64
}

// Cursor is a restartable-per-query, lazily-advanced sequence over a
// query's matching documents (spec §4.11: "lazy, restartable-per-query
// sequence"). The executor currently materializes the full match set
// up front (ordering and grouping both require looking at every row
// before the first one can be yielded), but callers consume it through
// this narrow interface so a future streaming implementation is a
// drop-in replacement.
type Cursor struct {
	docs []*ResultDoc
	pos  int
	done bool
}

// NewCursor wraps an already-computed, already-ordered slice of matches.
func NewCursor(docs []*ResultDoc) *Cursor {
	return &Cursor{docs: docs}
}

// Next advances the cursor and returns the next document, or ok=false
// once exhausted.
func (c *Cursor) Next() (*ResultDoc, bool) {
	if c.done || c.pos >= len(c.docs) {
		c.done = true
		return nil, false
	}
	d := c.docs[c.pos]
	c.pos++
	return d, true
}

// Close marks the cursor exhausted. It releases no lock: the executor
// takes none for a query, and ForUpdate does not change that.
func (c *Cursor) Close() error {
	c.done = true
	return nil
}

// Rewind restarts the cursor from its first document.
func (c *Cursor) Rewind() {
	c.pos = 0
	c.done = false
}

// Len reports the total number of matching documents.
func (c *Cursor) Len() int { return len(c.docs) }

// vectorIndexKey is the registry key an Executor uses to look up a
// collection's vector index by field, mirroring index.Manager's
// (collection, field) key shape for secondary indexes.
type vectorIndexKey struct {
	collection, field string
}

// vectorRegistry tracks live vector indexes the same way index.Manager
// tracks skip-list secondary indexes; vector indexes are not merged into
// index.Manager because their snapshot, search, and rebuild semantics
// differ enough (metric tree vs. skip list) to warrant a separate, small
// registry rather than an awkward shared interface.
type vectorRegistry map[vectorIndexKey]*index.VectorIndex
