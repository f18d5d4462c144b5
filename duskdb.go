// Package duskdb is an embedded, serverless, single-writer/multi-reader
// document database: one paged file, a write-ahead log with confirm-marker
// commits, snapshot-isolated transactions, secondary and vector indexes, and
// a small declarative query surface. It is not SQL, not networked, and not
// multi-writer (spec's Non-goals) — Open a file (or ":memory:") and use the
// *DB methods below directly.
//
// Grounded on the teacher's api/db.go: same Open/OpenReadOnly/OpenMemory
// shape, same "hold the pager, lock manager, and index manager together
// behind one handle" design, generalized from a SQL-text Exec surface to
// this module's declarative query.Query value.
package duskdb

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/duskdb/duskdb/config"
	"github.com/duskdb/duskdb/index"
	"github.com/duskdb/duskdb/lock"
	"github.com/duskdb/duskdb/query"
	"github.com/duskdb/duskdb/storage"
)

// DB is one open handle on a database file (or an in-memory instance).
type DB struct {
	pager    *storage.Pager
	executor *query.Executor
	lockMgr  *lock.Manager
	indexMgr *index.Manager

	path     string
	readOnly bool
	password string
	pragmas  config.Pragmas
	log      zerolog.Logger
}

// newLogger gives every DB instance its own component-tagged zerolog
// logger, following the teacher pack's log.WithComponent idiom
// (cuemby-warren/pkg/log) rather than a package-global logger: an embedded
// engine is frequently instantiated more than once per process (tests,
// multi-tenant hosts), and a global logger would blur which instance a line
// came from.
func newLogger(path string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "duskdb").Str("path", path).Logger()
}

// Open opens or creates a database at path, which may be a bare filename, a
// `Filename=...;Connection=...;...` connection string (spec §6), or the
// special ":memory:" filename for a volatile in-process instance.
func Open(connStr string) (*DB, error) {
	cs, err := config.ParseConnectionString(connStr)
	if err != nil {
		return nil, fmt.Errorf("duskdb: %w", err)
	}
	if cs.IsMemory() {
		return OpenMemory()
	}
	if cs.ReadOnly {
		return openReadOnly(cs)
	}
	return open(cs)
}

func open(cs *config.ConnectionString) (*DB, error) {
	pager, err := openPagerWithPassword(cs.Filename, false, cs.Password)
	if err != nil {
		return nil, fmt.Errorf("duskdb: %w", err)
	}
	db, err := newDB(pager, cs.Filename, false)
	if err != nil {
		return nil, err
	}
	db.password = cs.Password
	if err := db.loadPragmaSidecar(); err != nil {
		pager.Close()
		return nil, err
	}
	db.log.Info().Str("connection", connectionModeName(cs.Connection)).Msg("opened")
	return db, nil
}

func openReadOnly(cs *config.ConnectionString) (*DB, error) {
	pager, err := openPagerWithPassword(cs.Filename, true, cs.Password)
	if err != nil {
		return nil, fmt.Errorf("duskdb: %w", err)
	}
	db, err := newDB(pager, cs.Filename, true)
	if err != nil {
		return nil, err
	}
	db.password = cs.Password
	if err := db.loadPragmaSidecar(); err != nil {
		pager.Close()
		return nil, err
	}
	db.log.Info().Msg("opened read-only")
	return db, nil
}

// OpenReadOnly opens path rejecting every write (insert/update/delete/DDL/
// BeginTx/Checkpoint/Rebuild) with dberr.ErrUsage.
func OpenReadOnly(path string) (*DB, error) {
	return openReadOnly(&config.ConnectionString{Filename: path, ReadOnly: true})
}

// OpenMemory creates a volatile, file-less instance (spec's ":memory:"
// connection): no WAL, no OS-level lock, gone when the process exits.
func OpenMemory() (*DB, error) {
	pager, err := storage.OpenPagerMemory()
	if err != nil {
		return nil, fmt.Errorf("duskdb: %w", err)
	}
	db, err := newDB(pager, ":memory:", false)
	if err != nil {
		return nil, err
	}
	db.log.Info().Msg("opened in-memory instance")
	return db, nil
}

func newDB(pager *storage.Pager, path string, readOnly bool) (*DB, error) {
	lockMgr := lock.NewManager(lock.Wait)
	indexMgr := index.NewManager(pager)
	// Secondary indexes are reopened lazily the first time a collection is
	// touched (query.Executor.handle / openOrCreateIndex): unlike vector
	// indexes, storage.IndexDef does not persist the Multikey flag, so
	// reopening needs the caller to (re)state it via EnsureIndex, matching
	// spec's "ensure-index" operation taking unique/multikey every call.
	executor, err := query.NewExecutor(pager, lockMgr, indexMgr)
	if err != nil {
		return nil, fmt.Errorf("duskdb: %w", err)
	}
	return &DB{
		pager:    pager,
		executor: executor,
		lockMgr:  lockMgr,
		indexMgr: indexMgr,
		path:     path,
		readOnly: readOnly,
		pragmas:  config.DefaultPragmas(),
		log:      newLogger(path),
	}, nil
}

// openPagerFor opens path read-write or read-only depending on readOnly,
// used both by Open/OpenReadOnly and by Rebuild's reopen-after-swap step.
// Rebuild always reopens without a password: an encrypted instance's
// password lives only in the connection string the caller originally used,
// which Rebuild does not retain, so encrypted databases must be reopened
// through Open again after a Rebuild rather than relying on db.reopen.
func openPagerFor(path string, readOnly bool) (*storage.Pager, error) {
	return openPagerWithPassword(path, readOnly, "")
}

func openPagerWithPassword(path string, readOnly bool, password string) (*storage.Pager, error) {
	if password != "" {
		if readOnly {
			return storage.OpenPagerEncryptedReadOnly(path, password)
		}
		return storage.OpenPagerEncrypted(path, password)
	}
	if readOnly {
		return storage.OpenPagerReadOnly(path)
	}
	return storage.OpenPager(path)
}

func connectionModeName(m config.ConnectionMode) string {
	if m == config.Shared {
		return "shared"
	}
	return "direct"
}

// Close flushes the catalog, closes the WAL and underlying file, and
// releases the OS-level lock.
func (db *DB) Close() error {
	db.log.Info().Msg("closing")
	return db.pager.Close()
}

// Path returns the filename (or ":memory:") this instance was opened with.
func (db *DB) Path() string { return db.path }

// Collections lists every collection currently registered in the catalog.
func (db *DB) Collections() []string { return db.pager.Collections() }

// CacheStats returns the page cache's hit/miss counters and current
// occupancy, for diagnostics.
func (db *DB) CacheStats() (hits, misses uint64, size, capacity int) {
	return db.pager.CacheStats()
}

// CacheHitRate returns the page cache's hit rate in [0,1].
func (db *DB) CacheHitRate() float64 { return db.pager.CacheHitRate() }
