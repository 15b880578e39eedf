// pipe_windows.go detects broken-pipe write failures on Windows named pipes.

//go:build windows

package discord

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isBrokenPipe reports whether err is the Win32 signature of the peer
// closing the named pipe. ERROR_NO_DATA (232) is what a write to a closing
// pipe typically returns; ERROR_BROKEN_PIPE (109) and
// ERROR_PIPE_NOT_CONNECTED (233) cover the remaining teardown states.
func isBrokenPipe(err error) bool {
	return errors.Is(err, windows.ERROR_BROKEN_PIPE) ||
		errors.Is(err, windows.ERROR_NO_DATA) ||
		errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED)
}
