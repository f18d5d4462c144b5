package duskdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/expr"
)

func TestOpenMemoryInsertAndQuery(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	doc := NewDocument()
	doc.Set("name", "Ada")
	res, err := db.Insert("people", doc)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RowsAffected)

	cur, err := db.Query("people", &Query{})
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len())
}

func TestOpenFileRoundTripsAcrossClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.EnsureIndex("people", "age", false, false))
	doc := NewDocument()
	doc.Set("_id", "p1")
	doc.Set("age", int64(30))
	_, err = db.Insert("people", doc)
	require.NoError(t, err)
	require.NoError(t, db.Checkpoint())
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	filter, err := expr.Parse(`$.age = ?`)
	require.NoError(t, err)
	cur, err := db2.Query("people", &Query{Filter: filter, Params: []interface{}{int64(30)}})
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len())

	row, ok := cur.Next()
	require.True(t, ok)
	want := NewDocument()
	want.Set("_id", "p1")
	want.Set("age", int64(30))
	if diff := cmp.Diff(want.Fields, row.Doc.Fields); diff != "" {
		t.Fatalf("document round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExplicitTransactionCommitAndRollback(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin()
	require.NoError(t, err)
	doc := NewDocument()
	doc.Set("_id", "a")
	_, err = tx.Insert("things", doc)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := db.Begin()
	require.NoError(t, err)
	doc2 := NewDocument()
	doc2.Set("_id", "b")
	_, err = tx2.Insert("things", doc2)
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback())

	cur, err := db.Query("things", &Query{})
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len())
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Insert("things", NewDocument())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.Insert("things", NewDocument())
	require.Error(t, err)
}

func TestPragmaGetSetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.PragmaSet(PragmaUserVersion, int32(5)))
	v, err := db.PragmaGet(PragmaUserVersion)
	require.NoError(t, err)
	require.EqualValues(t, 5, v)

	require.NoError(t, db.PragmaSet(PragmaTimeout, 2*time.Second))
	v2, err := db.PragmaGet(PragmaTimeout)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, v2)

	err = db.PragmaSet(PragmaCollation, "UTF8")
	require.Error(t, err)
}

func TestRebuildRewritesFileInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 3; i++ {
		doc := NewDocument()
		doc.Set("n", int64(i))
		_, err := db.Insert("nums", doc)
		require.NoError(t, err)
	}
	require.NoError(t, db.Checkpoint())

	report, err := db.Rebuild(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, report.DocumentsCopied)

	cur, err := db.Query("nums", &Query{})
	require.NoError(t, err)
	require.Equal(t, 3, cur.Len())
}
