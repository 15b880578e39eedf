// pipe_unix.go detects broken-pipe write failures on Unix-like systems.

//go:build !windows

package discord

import (
	"errors"
	"syscall"
)

// isBrokenPipe reports whether err is the OS-level signature of the peer
// closing the socket: EPIPE or ECONNRESET.
func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}
