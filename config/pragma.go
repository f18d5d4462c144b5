// Package config parses connection-string options and holds the pragma set
// that governs a single engine instance (spec §6).
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tailscale/hujson"
)

// ConnectionMode selects how the data file is shared across processes.
type ConnectionMode int

const (
	// Direct takes an OS-level exclusive file lock; only one process may
	// open the file at a time.
	Direct ConnectionMode = iota
	// Shared is accepted and recorded, but the file is opened exactly as
	// in Direct mode: the same OS-level exclusive file lock is taken, and
	// no system-wide named mutex is used.
	Shared
)

// ConnectionString holds the parsed `Filename=...;Connection=...;...` options.
// Keys are case-insensitive.
type ConnectionString struct {
	Filename    string
	Connection  ConnectionMode
	Password    string
	InitialSize int64
	ReadOnly    bool
	Upgrade     bool
}

// MemoryFilename and TempFilename are the magic filenames that bypass the
// disk entirely.
const (
	MemoryFilename = ":memory:"
	TempFilename   = ":temp:"
)

// ParseConnectionString parses a semicolon-separated key=value option list.
// A bare filename with no '=' is accepted as shorthand for Filename=....
func ParseConnectionString(s string) (*ConnectionString, error) {
	cs := &ConnectionString{Connection: Direct}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("config: empty connection string")
	}
	if !strings.Contains(s, "=") {
		cs.Filename = s
		return cs, nil
	}

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("config: malformed option %q", part)
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		switch key {
		case "filename":
			cs.Filename = val
		case "connection":
			switch strings.ToLower(val) {
			case "direct":
				cs.Connection = Direct
			case "shared":
				cs.Connection = Shared
			default:
				return nil, fmt.Errorf("config: unknown connection mode %q", val)
			}
		case "password":
			cs.Password = val
		case "initialsize":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("config: invalid initial size %q: %w", val, err)
			}
			cs.InitialSize = n
		case "readonly":
			cs.ReadOnly = strings.EqualFold(val, "true")
		case "upgrade":
			cs.Upgrade = strings.EqualFold(val, "true")
		default:
			return nil, fmt.Errorf("config: unknown connection option %q", key)
		}
	}
	if cs.Filename == "" {
		return nil, fmt.Errorf("config: missing Filename")
	}
	return cs, nil
}

// IsMemory reports whether the connection string targets a volatile,
// in-process-only database.
func (cs *ConnectionString) IsMemory() bool {
	return cs.Filename == MemoryFilename
}

// IsTemp reports whether the connection string targets a file that is
// deleted when the engine closes.
func (cs *ConnectionString) IsTemp() bool {
	return cs.Filename == TempFilename
}

// Pragmas holds the mutable per-file settings described in spec §6.
type Pragmas struct {
	UserVersion int32
	Collation   string // read-only after creation; change requires Rebuild
	Checkpoint  uint32 // log-page threshold for automatic checkpoint; 0 disables
	Timeout     time.Duration
	LimitSize   int64 // max file size in bytes; 0 = unbounded
	UTCDate     bool
}

// DefaultPragmas mirrors the engine's out-of-the-box behavior.
func DefaultPragmas() Pragmas {
	return Pragmas{
		UserVersion: 0,
		Collation:   "Binary",
		Checkpoint:  1000,
		Timeout:     1 * time.Minute,
		LimitSize:   0,
		UTCDate:     false,
	}
}

// SidecarOverrides is the shape of an optional `<name>-options.jsonc` file,
// read with a JWCC-tolerant parser so operators can leave comments next to
// the values they tuned.
type SidecarOverrides struct {
	Checkpoint *uint32 `json:"checkpoint,omitempty"`
	TimeoutMS  *int64  `json:"timeoutMs,omitempty"`
	LimitSize  *int64  `json:"limitSize,omitempty"`
	UTCDate    *bool   `json:"utcDate,omitempty"`
}

// ApplySidecar standardizes a JWCC/JSON5-flavored byte slice to strict JSON
// and layers any present fields onto p.
func ApplySidecar(p *Pragmas, raw []byte) error {
	std, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("config: sidecar options: %w", err)
	}
	var o SidecarOverrides
	if err := json.Unmarshal(std, &o); err != nil {
		return fmt.Errorf("config: sidecar options: %w", err)
	}
	if o.Checkpoint != nil {
		p.Checkpoint = *o.Checkpoint
	}
	if o.TimeoutMS != nil {
		p.Timeout = time.Duration(*o.TimeoutMS) * time.Millisecond
	}
	if o.LimitSize != nil {
		p.LimitSize = *o.LimitSize
	}
	if o.UTCDate != nil {
		p.UTCDate = *o.UTCDate
	}
	return nil
}
