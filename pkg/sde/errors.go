package sde

import "errors"

// Sentinel errors of the sync manager. Integrity and storage failures
// are distinct so callers can see when they are knowingly keeping stale
// data versus when the update simply could not be written.
var (
	// ErrNoSnapshot is returned when no snapshot has been installed yet.
	ErrNoSnapshot = errors.New("no snapshot installed")

	// ErrIntegrity is returned when a downloaded archive fails checksum
	// verification or cannot be fully extracted. Never retried
	// automatically.
	ErrIntegrity = errors.New("archive failed integrity verification")

	// ErrStorage is returned on disk or write failures during an
	// install. Fatal to the update attempt; the old snapshot remains
	// usable.
	ErrStorage = errors.New("snapshot storage failure")
)
