package query

import (
	"fmt"
	"sort"

	"github.com/duskdb/duskdb/expr"
	"github.com/duskdb/duskdb/storage"
)

// sortRows orders rows in place by q's OrderBy terms, left to right, each
// term breaking ties left by the previous one (spec §4.11's "up to
// two-level sort keys with per-segment ascending/descending").
func sortRows(rows []*ResultDoc, order []OrderTerm, params []interface{}) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, term := range order {
			vi, _ := expr.Eval(term.Expr, rows[i].Doc, params)
			vj, _ := expr.Eval(term.Expr, rows[j].Doc, params)
			c := compareValues(vi, vj)
			if c == 0 {
				continue
			}
			if term.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues orders two scalar field values for sorting: nil first,
// then numbers by magnitude, then strings and everything else by their
// formatted text.
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// applyGroupBy partitions rows by q.GroupBy (or, absent GroupBy but
// present an aggregate in Select, treats the whole result set as one
// group), computes every aggregate FuncCallExpr referenced by Select or
// Having into a synthetic per-group document, and applies Having.
// Ungrouped queries with no aggregate Select terms pass rows through
// unchanged.
func applyGroupBy(rows []*ResultDoc, q *Query) []*ResultDoc {
	hasAggregate := selectHasAggregate(q.Select) || (q.Having != nil && exprHasAggregate(q.Having))
	if q.GroupBy == nil && !hasAggregate {
		return rows
	}

	type group struct {
		key     string
		members []*ResultDoc
	}
	var groups []*group
	index := map[string]*group{}
	for _, row := range rows {
		key := "*"
		if q.GroupBy != nil {
			v, _ := expr.Eval(q.GroupBy, row.Doc, q.Params)
			key = fmt.Sprint(v)
		}
		g, ok := index[key]
		if !ok {
			g = &group{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, row)
	}

	out := make([]*ResultDoc, 0, len(groups))
	for _, g := range groups {
		synthetic := buildGroupDocument(g.members, q, g.key)
		if q.Having != nil {
			ok, err := expr.EvalBool(q.Having, synthetic, q.Params)
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, &ResultDoc{RecordID: 0, Doc: synthetic})
	}
	return out
}

// buildGroupDocument evaluates every Select term, plus every aggregate
// term Having references, against members,
// labeling each resulting field with the expression's canonical text so
// Having and a later projection can refer to it by the same name the
// caller wrote.
func buildGroupDocument(members []*ResultDoc, q *Query, groupKey string) *storage.Document {
	doc := storage.NewDocument()
	if len(members) > 0 {
		doc = cloneDocument(members[0].Doc)
	}
	terms := q.Select
	if q.Having != nil {
		terms = append(append([]expr.Expr{}, q.Select...), aggregateTerms(q.Having)...)
	}
	if q.GroupBy != nil {
		doc.Set(exprLabel(q.GroupBy), groupKey)
	}
	for _, t := range terms {
		call, ok := t.(*expr.FuncCallExpr)
		if !ok || !expr.IsAggregate(call.Name) {
			continue
		}
		values := make([]interface{}, 0, len(members))
		for _, m := range members {
			if len(call.Args) == 0 || isStarPath(call.Args[0]) {
				values = append(values, m.Doc)
				continue
			}
			v, err := expr.Eval(call.Args[0], m.Doc, q.Params)
			if err == nil {
				values = append(values, v)
			}
		}
		agg, err := expr.Aggregate(call.Name, values)
		if err == nil {
			doc.Set(exprLabel(call), agg)
		}
	}
	return doc
}

func cloneDocument(doc *storage.Document) *storage.Document {
	out := storage.NewDocument()
	for _, f := range doc.Fields {
		out.Set(f.Name, f.Value)
	}
	return out
}

func isStarPath(e expr.Expr) bool {
	p, ok := e.(*expr.PathExpr)
	return ok && len(p.Segments) == 0
}

// projectRows replaces each row's document with one carrying only the
// requested Select fields, labeled by their canonical expression text
// (this language has no `AS` aliasing).
func projectRows(rows []*ResultDoc, terms []expr.Expr, params []interface{}) []*ResultDoc {
	out := make([]*ResultDoc, 0, len(rows))
	for _, row := range rows {
		doc := storage.NewDocument()
		for _, t := range terms {
			if call, ok := t.(*expr.FuncCallExpr); ok && expr.IsAggregate(call.Name) {
				// Already evaluated into row.Doc by buildGroupDocument.
				if v, found := row.Doc.Get(exprLabel(call)); found {
					doc.Set(exprLabel(call), v)
					continue
				}
			}
			v, err := expr.Eval(t, row.Doc, params)
			if err != nil {
				continue
			}
			doc.Set(exprLabel(t), v)
		}
		out = append(out, &ResultDoc{RecordID: row.RecordID, Doc: doc})
	}
	return out
}

// exprLabel renders a deterministic field name for an expression, used
// as the projected/grouped column name in the absence of `AS` aliasing.
func exprLabel(e expr.Expr) string {
	switch v := e.(type) {
	case *expr.PathExpr:
		label := "$"
		for _, s := range v.Segments {
			if s.Wildcard {
				label += "[*]"
			} else {
				label += "." + s.Field
			}
		}
		return label
	case *expr.FuncCallExpr:
		label := v.Name + "("
		for i, a := range v.Args {
			if i > 0 {
				label += ", "
			}
			label += exprLabel(a)
		}
		return label + ")"
	case *expr.LiteralExpr:
		return fmt.Sprint(v.Value)
	default:
		return "value"
	}
}

func selectHasAggregate(terms []expr.Expr) bool {
	for _, t := range terms {
		if exprHasAggregate(t) {
			return true
		}
	}
	return false
}

func exprHasAggregate(e expr.Expr) bool {
	switch v := e.(type) {
	case *expr.FuncCallExpr:
		if expr.IsAggregate(v.Name) {
			return true
		}
		for _, a := range v.Args {
			if exprHasAggregate(a) {
				return true
			}
		}
	case *expr.BinaryExpr:
		return exprHasAggregate(v.Left) || exprHasAggregate(v.Right)
	case *expr.NotExpr:
		return exprHasAggregate(v.Operand)
	}
	return false
}

// aggregateTerms collects every aggregate FuncCallExpr referenced inside
// e, used when Having references an aggregate that Select did not
// explicitly project.
func aggregateTerms(e expr.Expr) []expr.Expr {
	var out []expr.Expr
	var walk func(expr.Expr)
	walk = func(n expr.Expr) {
		switch v := n.(type) {
		case *expr.FuncCallExpr:
			if expr.IsAggregate(v.Name) {
				out = append(out, v)
			}
			for _, a := range v.Args {
				walk(a)
			}
		case *expr.BinaryExpr:
			walk(v.Left)
			walk(v.Right)
		case *expr.NotExpr:
			walk(v.Operand)
		}
	}
	walk(e)
	return out
}
