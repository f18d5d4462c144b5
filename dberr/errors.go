// Package dberr defines the error taxonomy shared by every duskdb component.
//
// Errors are values, never process exits: callers distinguish kinds with
// errors.Is against the sentinels below, and each constructor wraps a
// sentinel with operation-specific context via fmt.Errorf("%w: ...", ...).
package dberr

import "errors"

var (
	// ErrUsage marks an invalid argument, an unknown required collection,
	// a duplicate index definition, or an unsupported expression.
	ErrUsage = errors.New("usage error")

	// ErrValidation marks a document or key that fails a hard constraint:
	// a null/min/max _id, a key over 1023 bytes, a document over 16 MiB.
	ErrValidation = errors.New("validation error")

	// ErrLockTimeout marks a lock acquisition that did not complete within
	// the configured TIMEOUT pragma.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrConcurrency marks an operation invalid in the current transaction
	// state, e.g. BeginTrans while already inside a transaction.
	ErrConcurrency = errors.New("concurrency error")

	// ErrCorruption marks a detected cycle, a mistagged page, a checksum
	// mismatch, or a log/data disagreement. Always fatal to the current
	// transaction.
	ErrCorruption = errors.New("structural corruption")

	// ErrIO marks an underlying stream failure. Always fatal to the engine
	// handle.
	ErrIO = errors.New("io error")

	// ErrCrypto marks a wrong password or an authentication failure on an
	// encrypted stream. Always fatal to the engine handle.
	ErrCrypto = errors.New("crypto error")
)

// Fatal reports whether an error of this kind must close the engine handle
// rather than merely fail the current operation (spec §7 propagation
// policy: IoError and CryptoError are always fatal to the handle).
func Fatal(err error) bool {
	return errors.Is(err, ErrIO) || errors.Is(err, ErrCrypto)
}

// RollsBackTransaction reports whether an error of this kind must abort the
// current transaction (ValidationError/UsageError surface without touching
// the transaction; everything else does not leave it open).
func RollsBackTransaction(err error) bool {
	return !errors.Is(err, ErrUsage) && !errors.Is(err, ErrValidation)
}
