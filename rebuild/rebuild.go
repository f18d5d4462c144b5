// Package rebuild implements the offline rebuild service (C15): read every
// surviving document and index definition out of an existing database file,
// write them into a fresh file through the normal data/index services, and
// atomically swap the fresh file into place, keeping the original as a
// backup. Grounded on the teacher's `Pager.VacuumCollection` full-rewrite
// idiom (storage/pager.go), generalized from "compact one collection in
// place" to "rebuild the whole file from scratch", which is what lets a
// rebuild also recover from a corrupt page chain a targeted vacuum cannot.
package rebuild

import (
	"context"
	"fmt"
	"os"

	"github.com/natefinch/atomic"

	"github.com/duskdb/duskdb/config"
	"github.com/duskdb/duskdb/dberr"
	"github.com/duskdb/duskdb/index"
	"github.com/duskdb/duskdb/lock"
	"github.com/duskdb/duskdb/query"
	"github.com/duskdb/duskdb/storage"
)

// ErrorsCollection is the pseudo-collection name rebuild-time per-document
// failures are recorded under in the freshly built file.
const ErrorsCollection = "_rebuild_errors"

// BackupSuffix names the file the original is preserved as once a rebuild
// succeeds.
const BackupSuffix = "-backup.db"

// Report summarizes one Rebuild call.
type Report struct {
	CollectionsRebuilt int
	DocumentsCopied    int64
	ErrorsRecorded     int64
	IndexesRebuilt     []string
	BackupPath         string
	Pragmas            config.Pragmas
}

// recordError is one row of the _rebuild_errors pseudo-collection.
type recordError struct {
	Collection string
	RecordID   uint64
	Err        string
}

// Rebuild performs a single-transaction offline rebuild of the database
// file at path: every collection's live documents and every registered
// secondary/vector index are copied into a fresh file, which is then
// atomically swapped into place. The caller must not hold path open (spec's
// "the engine closes, rebuilds into a fresh file, and reopens" policy) —
// Rebuild opens and closes its own source and destination pagers.
//
// pragmas is carried through unchanged in the returned Report: UserVersion
// and Collation have no effect on how documents are re-inserted, so nothing
// about them needs to change across a rebuild, only preserved.
func Rebuild(ctx context.Context, path string, pragmas config.Pragmas) (*Report, error) {
	src, err := storage.OpenPager(path)
	if err != nil {
		return nil, err
	}
	srcClosed := false
	defer func() {
		if !srcClosed {
			src.Close()
		}
	}()

	tmpPath := path + ".rebuild-tmp"
	_ = os.Remove(tmpPath)
	dst, err := storage.OpenPager(tmpPath)
	if err != nil {
		return nil, err
	}
	dstClosed := false
	defer func() {
		if !dstClosed {
			dst.Close()
		}
		os.Remove(tmpPath)
	}()

	report, err := copyAll(ctx, src, dst)
	if err != nil {
		return nil, err
	}
	report.Pragmas = pragmas

	if err := src.Close(); err != nil {
		return nil, err
	}
	srcClosed = true
	if err := dst.Close(); err != nil {
		return nil, err
	}
	dstClosed = true

	backupPath := path + BackupSuffix
	_ = os.Remove(backupPath)
	if err := os.Rename(path, backupPath); err != nil {
		return nil, fmt.Errorf("%w: rebuild: preserve backup: %v", dberr.ErrIO, err)
	}
	report.BackupPath = backupPath

	tmpFile, err := os.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: rebuild: open rebuilt file: %v", dberr.ErrIO, err)
	}
	defer tmpFile.Close()
	if err := atomic.WriteFile(path, tmpFile); err != nil {
		return nil, fmt.Errorf("%w: rebuild: swap rebuilt file into place: %v", dberr.ErrIO, err)
	}

	return report, nil
}

// copyAll walks every collection on src, re-inserting its live documents
// and index definitions into dst via the normal executor surface, and
// collects per-document failures into dst's _rebuild_errors collection.
func copyAll(ctx context.Context, src, dst *storage.Pager) (*Report, error) {
	dstTxnID, err := dst.BeginTx()
	if err != nil {
		return nil, err
	}

	srcIndexMgr := index.NewManager(src)
	srcLock := lock.NewManager(lock.Wait)
	srcExec, err := query.NewExecutor(src, srcLock, srcIndexMgr)
	if err != nil {
		return nil, err
	}

	dstIndexMgr := index.NewManager(dst)
	dstLock := lock.NewManager(lock.Wait)
	dstExec, err := query.NewExecutor(dst, dstLock, dstIndexMgr)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var failures []recordError

	for _, coll := range src.Collections() {
		if coll == ErrorsCollection {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur, err := srcExec.Query(coll, &query.Query{})
		if err != nil {
			return nil, err
		}
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			row, ok := cur.Next()
			if !ok {
				break
			}
			if _, err := dstExec.InsertTxn(dstTxnID, coll, row.Doc); err != nil {
				failures = append(failures, recordError{Collection: coll, RecordID: row.RecordID, Err: err.Error()})
				continue
			}
			report.DocumentsCopied++
		}

		for _, idx := range srcIndexMgr.GetIndexesForCollection(coll) {
			if idx.Field == "_id" || idx.Field == "__loc" {
				continue
			}
			if err := dstExec.EnsureIndex(coll, idx.Field, idx.Unique, idx.Multikey); err != nil {
				return nil, err
			}
			report.IndexesRebuilt = append(report.IndexesRebuilt, coll+"."+idx.Field)
		}
		for _, def := range src.VectorIndexDefs() {
			if def.Collection != coll {
				continue
			}
			if err := dstExec.EnsureVectorIndex(coll, def.Field, index.VectorMetric(def.Metric), def.Dimensions); err != nil {
				return nil, err
			}
			report.IndexesRebuilt = append(report.IndexesRebuilt, coll+"."+def.Field+" (vector)")
		}

		report.CollectionsRebuilt++
	}

	for _, f := range failures {
		doc := storage.NewDocument()
		doc.Set("collection", f.Collection)
		doc.Set("record_id", int64(f.RecordID))
		doc.Set("error", f.Err)
		if _, err := dstExec.InsertTxn(dstTxnID, ErrorsCollection, doc); err != nil {
			return nil, err
		}
		report.ErrorsRecorded++
	}

	if err := dst.CommitTx(); err != nil {
		return nil, err
	}
	if err := dstExec.Checkpoint(); err != nil {
		return nil, err
	}
	return report, nil
}
