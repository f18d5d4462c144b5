package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/expr"
	"github.com/duskdb/duskdb/index"
	"github.com/duskdb/duskdb/lock"
	"github.com/duskdb/duskdb/storage"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	pager, err := storage.OpenPagerMemory()
	require.NoError(t, err)
	_, err = pager.BeginTx()
	require.NoError(t, err)
	indexMgr := index.NewManager(pager)
	lockMgr := lock.NewManager(lock.Wait)
	exec, err := NewExecutor(pager, lockMgr, indexMgr)
	require.NoError(t, err)
	return exec
}

func mustParse(t *testing.T, src string) expr.Expr {
	t.Helper()
	e, err := expr.Parse(src)
	require.NoError(t, err)
	return e
}

func TestInsertAssignsIDAndRoundTrips(t *testing.T) {
	exec := newTestExecutor(t)
	doc := storage.NewDocument()
	doc.Set("name", "Ada")
	res, err := exec.Insert("people", doc)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)

	idVal, ok := doc.Get("_id")
	require.True(t, ok)

	cur, err := exec.Query("people", &Query{Filter: mustParse(t, `$._id = ?`), Params: []interface{}{idVal}})
	require.NoError(t, err)
	row, ok := cur.Next()
	require.True(t, ok)
	name, _ := row.Doc.Get("name")
	require.Equal(t, "Ada", name)
	_, ok = cur.Next()
	require.False(t, ok)
}

func TestDuplicateIDRejected(t *testing.T) {
	exec := newTestExecutor(t)
	a := storage.NewDocument()
	a.Set("_id", "x1")
	_, err := exec.Insert("things", a)
	require.NoError(t, err)

	b := storage.NewDocument()
	b.Set("_id", "x1")
	_, err = exec.Insert("things", b)
	require.Error(t, err)
}

func TestUpdateReplacesDocumentAndReindexes(t *testing.T) {
	exec := newTestExecutor(t)
	require.NoError(t, exec.EnsureIndex("people", "age", false, false))

	doc := storage.NewDocument()
	doc.Set("_id", "p1")
	doc.Set("age", int64(30))
	_, err := exec.Insert("people", doc)
	require.NoError(t, err)

	updated := storage.NewDocument()
	updated.Set("age", int64(31))
	res, err := exec.Update("people", "p1", updated)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)

	cur, err := exec.Query("people", &Query{Filter: mustParse(t, `$.age = ?`), Params: []interface{}{int64(31)}})
	require.NoError(t, err)
	row, ok := cur.Next()
	require.True(t, ok)
	id, _ := row.Doc.Get("_id")
	require.Equal(t, "p1", id)

	cur, err = exec.Query("people", &Query{Filter: mustParse(t, `$.age = ?`), Params: []interface{}{int64(30)}})
	require.NoError(t, err)
	_, ok = cur.Next()
	require.False(t, ok)
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	exec := newTestExecutor(t)
	doc := storage.NewDocument()
	doc.Set("_id", "u1")
	doc.Set("v", int64(1))
	res, err := exec.Upsert("things", doc)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.LastInsertID)

	doc2 := storage.NewDocument()
	doc2.Set("_id", "u1")
	doc2.Set("v", int64(2))
	_, err = exec.Upsert("things", doc2)
	require.NoError(t, err)

	cur, err := exec.Query("things", &Query{})
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len())
	row, _ := cur.Next()
	v, _ := row.Doc.Get("v")
	require.EqualValues(t, 2, v)
}

func TestDeleteRemovesDocumentAndIndexEntries(t *testing.T) {
	exec := newTestExecutor(t)
	require.NoError(t, exec.EnsureIndex("things", "tag", false, false))

	doc := storage.NewDocument()
	doc.Set("_id", "d1")
	doc.Set("tag", "alpha")
	_, err := exec.Insert("things", doc)
	require.NoError(t, err)

	res, err := exec.Delete("things", "d1")
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)

	cur, err := exec.Query("things", &Query{Filter: mustParse(t, `$.tag = ?`), Params: []interface{}{"alpha"}})
	require.NoError(t, err)
	require.Equal(t, 0, cur.Len())
}

func TestDeleteManyRemovesMatchingDocuments(t *testing.T) {
	exec := newTestExecutor(t)
	for i := 0; i < 5; i++ {
		doc := storage.NewDocument()
		doc.Set("n", int64(i))
		_, err := exec.Insert("nums", doc)
		require.NoError(t, err)
	}
	res, err := exec.DeleteMany("nums", mustParse(t, `$.n >= ?`), []interface{}{int64(3)})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.RowsAffected)

	cur, err := exec.Query("nums", &Query{})
	require.NoError(t, err)
	require.Equal(t, 3, cur.Len())
}

func TestQueryUsesIndexEqPlan(t *testing.T) {
	exec := newTestExecutor(t)
	require.NoError(t, exec.EnsureIndex("people", "city", false, false))
	for i := 0; i < 3; i++ {
		doc := storage.NewDocument()
		doc.Set("city", "paris")
		_, err := exec.Insert("people", doc)
		require.NoError(t, err)
	}
	doc := storage.NewDocument()
	doc.Set("city", "lyon")
	_, err := exec.Insert("people", doc)
	require.NoError(t, err)

	plan := exec.planner.Plan("people", &Query{Filter: mustParse(t, `$.city = ?`), Params: []interface{}{"paris"}})
	require.Equal(t, IndexEq, plan.Kind)

	cur, err := exec.Query("people", &Query{Filter: mustParse(t, `$.city = ?`), Params: []interface{}{"paris"}})
	require.NoError(t, err)
	require.Equal(t, 3, cur.Len())
}

func TestQueryOrderByAndLimitOffset(t *testing.T) {
	exec := newTestExecutor(t)
	for _, n := range []int64{5, 1, 3, 4, 2} {
		doc := storage.NewDocument()
		doc.Set("n", n)
		_, err := exec.Insert("nums", doc)
		require.NoError(t, err)
	}
	cur, err := exec.Query("nums", &Query{
		OrderBy: []OrderTerm{{Expr: mustParse(t, `$.n`)}},
		Offset:  1,
		Limit:   2,
	})
	require.NoError(t, err)
	var got []int64
	for {
		row, ok := cur.Next()
		if !ok {
			break
		}
		v, _ := row.Doc.Get("n")
		got = append(got, v.(int64))
	}
	require.Equal(t, []int64{2, 3}, got)
}

func TestGroupByCountAndHaving(t *testing.T) {
	exec := newTestExecutor(t)
	cities := []string{"paris", "paris", "lyon", "paris", "lyon"}
	for _, c := range cities {
		doc := storage.NewDocument()
		doc.Set("city", c)
		_, err := exec.Insert("people", doc)
		require.NoError(t, err)
	}
	cur, err := exec.Query("people", &Query{
		GroupBy: mustParse(t, `$.city`),
		Select:  []expr.Expr{mustParse(t, `$.city`), mustParse(t, `COUNT($.city)`)},
		Having:  mustParse(t, `COUNT($.city) >= ?`),
		Params:  []interface{}{int64(3)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len())
	row, _ := cur.Next()
	city, _ := row.Doc.Get("$.city")
	require.Equal(t, "paris", city)
	count, _ := row.Doc.Get("COUNT($.city)")
	require.EqualValues(t, 3, count)
}

func TestVectorSearchReturnsNearestFirst(t *testing.T) {
	exec := newTestExecutor(t)
	require.NoError(t, exec.EnsureVectorIndex("points", "vec", index.MetricEuclidean, 2))

	for _, v := range [][]float32{{1, 0}, {0, 1}, {1, 1}} {
		doc := storage.NewDocument()
		doc.Set("vec", v)
		_, err := exec.Insert("points", doc)
		require.NoError(t, err)
	}

	cur, err := exec.Query("points", &Query{
		VectorSearch: &VectorSearchSpec{Field: "vec", Target: []float32{1, 0}, K: 2},
	})
	require.NoError(t, err)
	require.Equal(t, 2, cur.Len())
	first, _ := cur.Next()
	v, _ := first.Doc.Get("vec")
	require.Equal(t, []float32{1, 0}, v)
}

func TestDropCollectionFreesPagesOnCheckpoint(t *testing.T) {
	exec := newTestExecutor(t)
	require.NoError(t, exec.EnsureVectorIndex("points", "vec", index.MetricCosine, 2))
	for i := 0; i < 8; i++ {
		doc := storage.NewDocument()
		doc.Set("vec", []float32{float32(i), 1})
		_, err := exec.Insert("points", doc)
		require.NoError(t, err)
	}
	require.NoError(t, exec.Checkpoint())
	before := countPagesOfType(t, exec, storage.PageTypeVector)
	require.Greater(t, before, 0)

	require.NoError(t, exec.DropCollection("points"))
	require.NoError(t, exec.Checkpoint())
	after := countPagesOfType(t, exec, storage.PageTypeVector)
	require.Less(t, after, before)
}

func countPagesOfType(t *testing.T, exec *Executor, pt storage.PageType) int {
	t.Helper()
	total := int(exec.pager.TotalPages())
	n := 0
	for id := uint32(1); id < uint32(total); id++ {
		page, err := exec.pager.ReadPage(id, 0)
		if err != nil {
			continue
		}
		if page.Type() == pt {
			n++
		}
	}
	return n
}

func TestRenameCollectionPreservesData(t *testing.T) {
	exec := newTestExecutor(t)
	doc := storage.NewDocument()
	doc.Set("_id", "r1")
	_, err := exec.Insert("old", doc)
	require.NoError(t, err)

	require.NoError(t, exec.RenameCollection("old", "new"))

	cur, err := exec.Query("new", &Query{Filter: mustParse(t, `$._id = ?`), Params: []interface{}{"r1"}})
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len())
}
