//go:build !windows && !js && !wasip1

package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock represents the OS-level exclusive file lock taken by every
// on-disk pager (spec §5: safe to open once per process in Direct mode via
// an exclusive file lock). Shared-mode connections take this same lock;
// there is no separate named-mutex path.
type fileLock struct {
	file *os.File
}

// lockFile acquires a non-blocking exclusive advisory lock on path+".lock".
func lockFile(path string) (*fileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("filelock: cannot open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("filelock: database %q is locked by another process", path)
	}

	return &fileLock{file: f}, nil
}

// unlock releases the file lock and removes the lock-file marker.
func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	unix.Flock(int(fl.file.Fd()), unix.LOCK_UN)
	name := fl.file.Name()
	err := fl.file.Close()
	os.Remove(name)
	return err
}
