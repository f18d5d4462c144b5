package query

import (
	"github.com/duskdb/duskdb/expr"
	"github.com/duskdb/duskdb/index"
)

// PlanKind names the access method a Plan picked.
type PlanKind int

const (
	// FullScan walks every record id the collection's PK index holds,
	// applying the whole filter as a residual check.
	FullScan PlanKind = iota
	// IndexEq looks up a single key on a secondary index.
	IndexEq
	// IndexRange walks a secondary index between two keys.
	IndexRange
	// VectorScan asks a vector index for its k (or within-distance)
	// nearest neighbors.
	VectorScan
)

// Plan is the planner's chosen access method for one Query, plus whatever
// of the original filter the access method could not satisfy (Residual),
// which the executor must still evaluate per candidate document.
type Plan struct {
	Kind       PlanKind
	Collection string

	Field    string // indexed field, for IndexEq/IndexRange/VectorScan
	EqKey    string
	MinKey   string // "" means unbounded below
	MaxKey   string // "" means unbounded above
	Reversed bool   // IndexRange walks descending when the only OrderBy matches Field desc

	Vector *VectorSearchSpec

	Residual expr.Expr
	Query    *Query
}

// IndexKeyOnly reports whether the plan can answer the query from the
// index alone (spec §4.10 step 6): true when the query has no document
// fields to resolve beyond the indexed key itself (no residual filter
// and no explicit field projection).
func (p *Plan) IndexKeyOnly() bool {
	return p.Kind != FullScan && p.Residual == nil && p.Query.Select == nil
}

// Planner chooses an access method for a Query against a collection's
// registered secondary and vector indexes (C13).
type Planner struct {
	indexMgr *index.Manager
	vectors  vectorRegistry
}

// NewPlanner creates a planner consulting indexMgr for secondary indexes
// and vectors for vector indexes.
func NewPlanner(indexMgr *index.Manager, vectors vectorRegistry) *Planner {
	return &Planner{indexMgr: indexMgr, vectors: vectors}
}

// Plan picks an access method for q against collection.
func (pl *Planner) Plan(collection string, q *Query) *Plan {
	plan := &Plan{Kind: FullScan, Collection: collection, Residual: q.Filter, Query: q}

	if q.VectorSearch != nil {
		plan.Kind = VectorScan
		plan.Field = q.VectorSearch.Field
		plan.Vector = q.VectorSearch
		plan.Residual = q.Filter // anything beyond the similarity predicate still applies
		return plan
	}

	if q.Filter == nil {
		return plan
	}

	conjuncts := splitAnd(q.Filter)
	available := pl.indexMgr.GetIndexesForCollection(collection)
	if len(available) == 0 {
		return plan
	}

	// Step 1: look for an equality conjunct on an indexed field.
	for i, c := range conjuncts {
		field, key, ok := matchEquality(c, available, q.Params)
		if !ok {
			continue
		}
		plan.Kind = IndexEq
		plan.Field = field
		plan.EqKey = key
		plan.Residual = rebuildAnd(removeAt(conjuncts, i))
		return plan
	}

	// Step 2: look for a range bound (possibly a pair of conjuncts on the
	// same field) on an indexed field.
	for _, idx := range available {
		minKey, maxKey, used, ok := matchRange(conjuncts, idx.Field, q.Params)
		if !ok {
			continue
		}
		plan.Kind = IndexRange
		plan.Field = idx.Field
		plan.MinKey = minKey
		plan.MaxKey = maxKey
		if len(q.OrderBy) == 1 {
			if path, isPath := q.OrderBy[0].Expr.(*expr.PathExpr); isPath && pathFieldName(path) == idx.Field {
				plan.Reversed = q.OrderBy[0].Desc
			}
		}
		plan.Residual = rebuildAnd(removeIndices(conjuncts, used))
		return plan
	}

	return plan
}

// splitAnd flattens a tree of top-level AND conjunctions into a list of
// independently-checkable conjuncts.
func splitAnd(e expr.Expr) []expr.Expr {
	b, ok := e.(*expr.BinaryExpr)
	if !ok || b.Op != expr.TokenAnd {
		return []expr.Expr{e}
	}
	return append(splitAnd(b.Left), splitAnd(b.Right)...)
}

// rebuildAnd re-joins a (possibly empty) list of conjuncts back into a
// single residual expression, or nil if none remain.
func rebuildAnd(conjuncts []expr.Expr) expr.Expr {
	if len(conjuncts) == 0 {
		return nil
	}
	out := conjuncts[0]
	for _, c := range conjuncts[1:] {
		out = &expr.BinaryExpr{Op: expr.TokenAnd, Left: out, Right: c}
	}
	return out
}

func removeAt(conjuncts []expr.Expr, i int) []expr.Expr {
	out := make([]expr.Expr, 0, len(conjuncts)-1)
	for j, c := range conjuncts {
		if j != i {
			out = append(out, c)
		}
	}
	return out
}

func removeIndices(conjuncts []expr.Expr, used map[int]bool) []expr.Expr {
	out := make([]expr.Expr, 0, len(conjuncts))
	for i, c := range conjuncts {
		if !used[i] {
			out = append(out, c)
		}
	}
	return out
}

// matchEquality reports whether c is `$.field = <literal-or-param>` (in
// either operand order) for some field carrying a registered secondary
// index.
func matchEquality(c expr.Expr, available []*index.Index, params []interface{}) (field, key string, ok bool) {
	b, isBin := c.(*expr.BinaryExpr)
	if !isBin || b.Op != expr.TokenEQ {
		return "", "", false
	}
	path, lit, _, matched := splitPathLiteral(b.Left, b.Right)
	if !matched || path.Enumerable() {
		return "", "", false
	}
	val, err := expr.Eval(lit, nil, params)
	if err != nil {
		return "", "", false
	}
	name := pathFieldName(path)
	for _, idx := range available {
		if idx.Field == name {
			return name, index.ValueToKey(val), true
		}
	}
	return "", "", false
}

// matchRange looks for one or two conjuncts bounding idxField with
// </<=/>/>= against a literal or `?` param, and returns the combined
// inclusive [min,max] key range plus which conjunct indices it consumed.
// A strict > bound starts the range just above the literal's key; a strict
// < bound caps the range at the literal's key but is not consumed, so the
// residual filter still drops documents equal to it.
func matchRange(conjuncts []expr.Expr, idxField string, params []interface{}) (minKey, maxKey string, used map[int]bool, ok bool) {
	used = map[int]bool{}
	for i, c := range conjuncts {
		b, isBin := c.(*expr.BinaryExpr)
		if !isBin {
			continue
		}
		path, lit, pathOnLeft, matched := splitPathLiteral(b.Left, b.Right)
		if !matched || path.Enumerable() || pathFieldName(path) != idxField {
			continue
		}
		op := b.Op
		if !pathOnLeft {
			op = flipOp(op)
		}
		val, err := expr.Eval(lit, nil, params)
		if err != nil {
			continue
		}
		key := index.ValueToKey(val)
		switch op {
		case expr.TokenGT, expr.TokenGTE:
			if op == expr.TokenGT {
				key += "\x00"
			}
			if minKey == "" || key > minKey {
				minKey = key
			}
			used[i] = true
			ok = true
		case expr.TokenLT, expr.TokenLTE:
			if maxKey == "" || key < maxKey {
				maxKey = key
			}
			if op == expr.TokenLTE {
				used[i] = true
			}
			ok = true
		}
	}
	return minKey, maxKey, used, ok
}

func flipOp(op expr.TokenType) expr.TokenType {
	switch op {
	case expr.TokenGT:
		return expr.TokenLT
	case expr.TokenGTE:
		return expr.TokenLTE
	case expr.TokenLT:
		return expr.TokenGT
	case expr.TokenLTE:
		return expr.TokenGTE
	default:
		return op
	}
}

// splitPathLiteral reports whether (left, right) is a (path,
// literal-or-param) pair in either order; pathOnLeft tells the caller
// which side the path occupied, so comparison operators can be flipped
// correctly. The non-path side is returned as an evaluable expr.Expr
// since a query written with `?` placeholders carries a ParamExpr there,
// not a LiteralExpr.
func splitPathLiteral(left, right expr.Expr) (path *expr.PathExpr, lit expr.Expr, pathOnLeft bool, ok bool) {
	if p, isPath := left.(*expr.PathExpr); isPath {
		if isLiteralOrParam(right) {
			return p, right, true, true
		}
	}
	if p, isPath := right.(*expr.PathExpr); isPath {
		if isLiteralOrParam(left) {
			return p, left, false, true
		}
	}
	return nil, nil, false, false
}

func isLiteralOrParam(e expr.Expr) bool {
	switch e.(type) {
	case *expr.LiteralExpr, *expr.ParamExpr:
		return true
	default:
		return false
	}
}

func pathFieldName(p *expr.PathExpr) string {
	name := ""
	for i, s := range p.Segments {
		if i > 0 {
			name += "."
		}
		name += s.Field
	}
	return name
}
