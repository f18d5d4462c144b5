package duskdb

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/duskdb/duskdb/config"
	"github.com/duskdb/duskdb/dberr"
)

// optionsSidecarPath is where a file instance's pragma overrides are
// persisted: `<name>-options.jsonc`, read with config.ApplySidecar's
// JWCC-tolerant parser (spec §6's pragma set is mutable per-file state, and
// this engine has no reserved header-page bytes for it, unlike UserVersion's
// cousins in a page-oriented store that keep such scalars in page 0 — a
// sidecar file is the simplest place to persist a handful of small knobs
// without growing the header page format).
func (db *DB) optionsSidecarPath() string {
	return db.path + "-options.jsonc"
}

func (db *DB) loadPragmaSidecar() error {
	if db.path == ":memory:" {
		return nil
	}
	raw, err := os.ReadFile(db.optionsSidecarPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("duskdb: pragma sidecar: %w", err)
	}
	return config.ApplySidecar(&db.pragmas, raw)
}

func (db *DB) savePragmaSidecar() error {
	if db.path == ":memory:" {
		return nil
	}
	checkpoint := db.pragmas.Checkpoint
	timeoutMS := int64(db.pragmas.Timeout / time.Millisecond)
	limitSize := db.pragmas.LimitSize
	utcDate := db.pragmas.UTCDate
	overrides := config.SidecarOverrides{
		Checkpoint: &checkpoint,
		TimeoutMS:  &timeoutMS,
		LimitSize:  &limitSize,
		UTCDate:    &utcDate,
	}
	raw, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("duskdb: pragma sidecar: %w", err)
	}
	if err := os.WriteFile(db.optionsSidecarPath(), raw, 0644); err != nil {
		return fmt.Errorf("%w: duskdb: pragma sidecar: %v", dberr.ErrIO, err)
	}
	return nil
}

// PragmaName identifies one of the settings in spec §6's pragma set.
// Collation is read-only after creation outside of a Rebuild; the rest,
// UserVersion included, can be set and take effect immediately.
type PragmaName string

const (
	PragmaUserVersion PragmaName = "USER_VERSION"
	PragmaCollation   PragmaName = "COLLATION"
	PragmaCheckpoint  PragmaName = "CHECKPOINT"
	PragmaTimeout     PragmaName = "TIMEOUT"
	PragmaLimitSize   PragmaName = "LIMIT_SIZE"
	PragmaUTCDate     PragmaName = "UTC_DATE"
)

// PragmaGet returns the current value of one pragma.
func (db *DB) PragmaGet(name PragmaName) (interface{}, error) {
	switch name {
	case PragmaUserVersion:
		return db.pragmas.UserVersion, nil
	case PragmaCollation:
		return db.pragmas.Collation, nil
	case PragmaCheckpoint:
		return db.pragmas.Checkpoint, nil
	case PragmaTimeout:
		return db.pragmas.Timeout, nil
	case PragmaLimitSize:
		return db.pragmas.LimitSize, nil
	case PragmaUTCDate:
		return db.pragmas.UTCDate, nil
	default:
		return nil, fmt.Errorf("%w: duskdb: unknown pragma %q", dberr.ErrUsage, name)
	}
}

// PragmaSet changes one mutable pragma and writes CHECKPOINT, TIMEOUT,
// LIMIT_SIZE and UTC_DATE to this file's options sidecar. USER_VERSION is
// held in memory only: the sidecar has no field for it, so a reopened file
// does not see a value set here. COLLATION cannot be changed in place — spec §6
// requires a Rebuild to change a file's collation, since every existing
// secondary index key was encoded under the old one.
func (db *DB) PragmaSet(name PragmaName, value interface{}) error {
	if db.readOnly {
		return fmt.Errorf("%w: duskdb: cannot set pragmas on a read-only instance", dberr.ErrUsage)
	}
	switch name {
	case PragmaUserVersion:
		v, ok := value.(int32)
		if !ok {
			return fmt.Errorf("%w: duskdb: USER_VERSION wants an int32", dberr.ErrUsage)
		}
		db.pragmas.UserVersion = v
	case PragmaCollation:
		return fmt.Errorf("%w: duskdb: COLLATION cannot change in place, Rebuild with a new Pragmas value instead", dberr.ErrUsage)
	case PragmaCheckpoint:
		v, ok := value.(uint32)
		if !ok {
			return fmt.Errorf("%w: duskdb: CHECKPOINT wants a uint32", dberr.ErrUsage)
		}
		db.pragmas.Checkpoint = v
	case PragmaTimeout:
		v, ok := value.(time.Duration)
		if !ok {
			return fmt.Errorf("%w: duskdb: TIMEOUT wants a time.Duration", dberr.ErrUsage)
		}
		db.pragmas.Timeout = v
		db.lockMgr.SetTimeout(v)
	case PragmaLimitSize:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("%w: duskdb: LIMIT_SIZE wants an int64", dberr.ErrUsage)
		}
		db.pragmas.LimitSize = v
	case PragmaUTCDate:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: duskdb: UTC_DATE wants a bool", dberr.ErrUsage)
		}
		db.pragmas.UTCDate = v
	default:
		return fmt.Errorf("%w: duskdb: unknown pragma %q", dberr.ErrUsage, name)
	}
	return db.savePragmaSidecar()
}

// Pragmas returns a copy of the full current pragma set.
func (db *DB) Pragmas() config.Pragmas { return db.pragmas }
