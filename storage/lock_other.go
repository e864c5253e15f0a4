//go:build !(unix || linux || darwin || freebsd || openbsd || netbsd)

package storage

import (
	"errors"
	"os"
)

// ErrLocked is returned when another process already holds the log file.
// Advisory locking is not available on this platform, so it is never raised.
var ErrLocked = errors.New("storage: log file locked by another process")

func lockFile(_ *os.File) error { return nil }

func unlockFile(_ *os.File) {}
