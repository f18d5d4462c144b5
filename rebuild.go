package duskdb

import (
	"context"
	"fmt"

	"github.com/duskdb/duskdb/dberr"
	"github.com/duskdb/duskdb/rebuild"
)

// RebuildReport summarizes a completed Rebuild call.
type RebuildReport = rebuild.Report

// Rebuild closes this instance, rewrites its file from scratch through the
// normal insert/index path (recovering from a corrupt page chain a
// checkpoint or vacuum cannot), and reopens at the same path before
// returning — matching spec §4.13's propagation policy ("the engine
// closes, rebuilds into a fresh file, and reopens"). db must not be
// in-memory or read-only.
func (db *DB) Rebuild(ctx context.Context) (*RebuildReport, error) {
	if db.path == ":memory:" {
		return nil, fmt.Errorf("%w: duskdb: cannot rebuild an in-memory instance", dberr.ErrUsage)
	}
	if err := db.checkWritable(); err != nil {
		return nil, err
	}
	if db.pager.InTx() {
		return nil, fmt.Errorf("%w: duskdb: cannot rebuild inside a transaction", dberr.ErrConcurrency)
	}
	if db.password != "" {
		return nil, fmt.Errorf("%w: duskdb: cannot rebuild an encrypted instance", dberr.ErrUsage)
	}

	path := db.path
	pragmas := db.pragmas
	db.log.Info().Msg("rebuild: closing before rewrite")
	if err := db.pager.Close(); err != nil {
		return nil, fmt.Errorf("duskdb: rebuild: close before rewrite: %w", err)
	}

	report, err := rebuild.Rebuild(ctx, path, pragmas)
	if err != nil {
		db.log.Error().Err(err).Msg("rebuild: failed, reopening original file")
		if reopenErr := db.reopen(path); reopenErr != nil {
			return nil, fmt.Errorf("duskdb: rebuild: %w (and reopen failed: %v)", err, reopenErr)
		}
		return nil, fmt.Errorf("duskdb: rebuild: %w", err)
	}

	if err := db.reopen(path); err != nil {
		return nil, fmt.Errorf("duskdb: rebuild: reopen after rewrite: %w", err)
	}
	db.log.Info().
		Int("collections", report.CollectionsRebuilt).
		Int64("documents", report.DocumentsCopied).
		Int64("errors", report.ErrorsRecorded).
		Str("backup", report.BackupPath).
		Msg("rebuild complete")
	return report, nil
}

// reopen replaces db's pager/executor/lock/index state in place with a
// fresh handle on path, used after a Rebuild swaps the underlying file.
func (db *DB) reopen(path string) error {
	pager, err := openPagerFor(path, db.readOnly)
	if err != nil {
		return err
	}
	fresh, err := newDB(pager, path, db.readOnly)
	if err != nil {
		pager.Close()
		return err
	}
	db.pager = fresh.pager
	db.executor = fresh.executor
	db.lockMgr = fresh.lockMgr
	db.indexMgr = fresh.indexMgr
	return nil
}
