// signal_unix.go wires shutdown signals on Unix-like systems (Linux, macOS,
// *BSD). The poll loop exits on SIGINT (Ctrl+C) and on SIGTERM, the stop
// signal sent by systemd, launchd, and container runtimes.

//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// ///////////////////////////////////////////////
// Signal Handling
// ///////////////////////////////////////////////

// signalChannel returns a buffered channel receiving SIGINT and SIGTERM. The
// one-slot buffer holds a signal that arrives while the loop is mid-cycle.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
