package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/expr"
	"github.com/duskdb/duskdb/index"
	"github.com/duskdb/duskdb/storage"
)

func newTestPlanner(t *testing.T) (*Planner, *index.Manager) {
	t.Helper()
	pager, err := storage.OpenPagerMemory()
	require.NoError(t, err)
	_, err = pager.BeginTx()
	require.NoError(t, err)
	mgr := index.NewManager(pager)
	return NewPlanner(mgr, vectorRegistry{}), mgr
}

func TestPlanFullScanWithNoIndexes(t *testing.T) {
	pl, _ := newTestPlanner(t)
	q := &Query{Filter: mustParse(t, `$.age = ?`), Params: []interface{}{int64(10)}}
	plan := pl.Plan("people", q)
	require.Equal(t, FullScan, plan.Kind)
	require.Equal(t, q.Filter, plan.Residual)
}

func TestPlanIndexEqLeavesNoResidualWhenSoleConjunct(t *testing.T) {
	pl, mgr := newTestPlanner(t)
	_, err := mgr.CreateIndex("people", "age", false, false)
	require.NoError(t, err)

	q := &Query{Filter: mustParse(t, `$.age = ?`), Params: []interface{}{int64(10)}}
	plan := pl.Plan("people", q)
	require.Equal(t, IndexEq, plan.Kind)
	require.Equal(t, "age", plan.Field)
	require.Nil(t, plan.Residual)
	require.True(t, plan.IndexKeyOnly())
}

func TestPlanIndexEqKeepsOtherConjunctAsResidual(t *testing.T) {
	pl, mgr := newTestPlanner(t)
	_, err := mgr.CreateIndex("people", "age", false, false)
	require.NoError(t, err)

	q := &Query{Filter: mustParse(t, `$.age = ? AND $.active = ?`), Params: []interface{}{int64(10), true}}
	plan := pl.Plan("people", q)
	require.Equal(t, IndexEq, plan.Kind)
	require.NotNil(t, plan.Residual)
}

func TestPlanIndexRangeOnBoundedConjuncts(t *testing.T) {
	pl, mgr := newTestPlanner(t)
	_, err := mgr.CreateIndex("people", "age", false, false)
	require.NoError(t, err)

	q := &Query{Filter: mustParse(t, `$.age >= ? AND $.age < ?`), Params: []interface{}{int64(10), int64(20)}}
	plan := pl.Plan("people", q)
	require.Equal(t, IndexRange, plan.Kind)
	require.Equal(t, "age", plan.Field)
	require.NotNil(t, plan.Residual)
}

func TestPlanRejectsWildcardCrossingPath(t *testing.T) {
	pl, mgr := newTestPlanner(t)
	_, err := mgr.CreateIndex("people", "tags", false, true)
	require.NoError(t, err)

	q := &Query{Filter: mustParse(t, `$.tags[*] = ?`), Params: []interface{}{"x"}}
	plan := pl.Plan("people", q)
	require.Equal(t, FullScan, plan.Kind)
}

func TestPlanVectorSearchTakesPriorityOverFilter(t *testing.T) {
	pl, _ := newTestPlanner(t)
	q := &Query{
		Filter:       mustParse(t, `$.active = ?`),
		Params:       []interface{}{true},
		VectorSearch: &VectorSearchSpec{Field: "vec", Target: []float32{1, 2}, K: 5},
	}
	plan := pl.Plan("people", q)
	require.Equal(t, VectorScan, plan.Kind)
	require.Equal(t, "vec", plan.Field)
	require.Equal(t, q.Filter, plan.Residual)
}

func TestSplitAndFlattensConjunction(t *testing.T) {
	e := mustParse(t, `$.a = ? AND $.b = ? AND $.c = ?`)
	parts := splitAnd(e)
	require.Len(t, parts, 3)
}

func TestSplitPathLiteralHandlesEitherOperandOrder(t *testing.T) {
	bin := mustParse(t, `$.age >= ?`).(*expr.BinaryExpr)
	path, lit, pathOnLeft, ok := splitPathLiteral(bin.Left, bin.Right)
	require.True(t, ok)
	require.True(t, pathOnLeft)
	require.NotNil(t, path)
	require.NotNil(t, lit)

	flipped := mustParse(t, `? <= $.age`).(*expr.BinaryExpr)
	path2, lit2, pathOnLeft2, ok2 := splitPathLiteral(flipped.Left, flipped.Right)
	require.True(t, ok2)
	require.False(t, pathOnLeft2)
	require.NotNil(t, path2)
	require.NotNil(t, lit2)
}
