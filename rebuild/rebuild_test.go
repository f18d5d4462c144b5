package rebuild

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskdb/duskdb/config"
	"github.com/duskdb/duskdb/expr"
	"github.com/duskdb/duskdb/index"
	"github.com/duskdb/duskdb/lock"
	"github.com/duskdb/duskdb/query"
	"github.com/duskdb/duskdb/storage"
)

func seedDB(t *testing.T, path string) {
	t.Helper()
	pager, err := storage.OpenPager(path)
	require.NoError(t, err)
	_, err = pager.BeginTx()
	require.NoError(t, err)

	indexMgr := index.NewManager(pager)
	lockMgr := lock.NewManager(lock.Wait)
	exec, err := query.NewExecutor(pager, lockMgr, indexMgr)
	require.NoError(t, err)

	require.NoError(t, exec.EnsureIndex("people", "age", false, false))
	for i := 0; i < 5; i++ {
		doc := storage.NewDocument()
		doc.Set("name", "person")
		doc.Set("age", int64(20+i))
		_, err := exec.Insert("people", doc)
		require.NoError(t, err)
	}

	require.NoError(t, exec.EnsureVectorIndex("points", "vec", index.MetricEuclidean, 2))
	for _, v := range [][]float32{{1, 0}, {0, 1}, {1, 1}} {
		doc := storage.NewDocument()
		doc.Set("vec", v)
		_, err := exec.Insert("points", doc)
		require.NoError(t, err)
	}

	require.NoError(t, pager.CommitTx())
	require.NoError(t, exec.Checkpoint())
	require.NoError(t, pager.Close())
}

func TestRebuildCopiesDocumentsAndIndexes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	seedDB(t, path)

	report, err := Rebuild(context.Background(), path, config.DefaultPragmas())
	require.NoError(t, err)
	require.Equal(t, 2, report.CollectionsRebuilt)
	require.EqualValues(t, 8, report.DocumentsCopied)
	require.EqualValues(t, 0, report.ErrorsRecorded)
	require.Contains(t, report.IndexesRebuilt, "people.age")
	require.Contains(t, report.IndexesRebuilt, "points.vec (vector)")

	require.FileExists(t, report.BackupPath)

	pager, err := storage.OpenPager(path)
	require.NoError(t, err)
	defer pager.Close()
	_, err = pager.BeginTx()
	require.NoError(t, err)
	defer pager.RollbackTx()

	indexMgr := index.NewManager(pager)
	lockMgr := lock.NewManager(lock.Wait)
	exec, err := query.NewExecutor(pager, lockMgr, indexMgr)
	require.NoError(t, err)

	cur, err := exec.Query("people", &query.Query{})
	require.NoError(t, err)
	require.Equal(t, 5, cur.Len())

	ageFilter, err := expr.Parse(`$.age = ?`)
	require.NoError(t, err)
	acur, err := exec.Query("people", &query.Query{Filter: ageFilter, Params: []interface{}{int64(22)}})
	require.NoError(t, err)
	require.Equal(t, 1, acur.Len())

	vcur, err := exec.Query("points", &query.Query{
		VectorSearch: &query.VectorSearchSpec{Field: "vec", Target: []float32{1, 0}, K: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, vcur.Len())
}

func TestRebuildPreservesPragmasInReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	seedDB(t, path)

	pragmas := config.DefaultPragmas()
	pragmas.UserVersion = 7

	report, err := Rebuild(context.Background(), path, pragmas)
	require.NoError(t, err)
	require.EqualValues(t, 7, report.Pragmas.UserVersion)
}

func TestRebuildCancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	seedDB(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Rebuild(ctx, path, config.DefaultPragmas())
	require.Error(t, err)

	// the original file must still be usable; a cancelled rebuild must not
	// have swapped anything into place.
	pager, err := storage.OpenPager(path)
	require.NoError(t, err)
	defer pager.Close()
	_, err = pager.BeginTx()
	require.NoError(t, err)
	defer pager.RollbackTx()
	require.Contains(t, pager.Collections(), "people")

	_, statErr := os.Stat(filepath.Join(dir, "test.db-backup.db"))
	require.True(t, os.IsNotExist(statErr))
}
