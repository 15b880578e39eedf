// lock_unix.go holds the PID file lock on Unix-like systems (Linux, macOS,
// *BSD). An flock(2) advisory lock on the PID file keeps a second shelfcord
// instance from starting against the same data directory.

//go:build !windows

package main

import (
	"fmt"
	"os"
	"syscall"
)

// ///////////////////////////////////////////////
// File Locking
// ///////////////////////////////////////////////

// lockFile takes an exclusive, non-blocking flock(2) lock on f. When another
// daemon instance holds the lock the call fails immediately with EWOULDBLOCK,
// which is how a live instance is detected.
func lockFile(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile drops the flock held on f. Closing the descriptor would release
// it too.
func unlockFile(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}
