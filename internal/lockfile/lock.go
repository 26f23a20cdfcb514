// Package lockfile provides OS-level advisory file locking used by the RPC
// daemon manager to guarantee a single daemon per host.
package lockfile

import (
	"errors"
)

// ErrLocked is returned when a lock cannot be acquired because another
// process already holds it.
var ErrLocked = errDaemonLocked

// ErrLockBusy is returned when a non-blocking lock cannot be acquired
// because another process holds a conflicting lock.
var ErrLockBusy = errors.New("lock busy: held by another process")

// IsLocked reports whether err indicates the lock is held by another process.
func IsLocked(err error) bool {
	return errors.Is(err, errDaemonLocked)
}
