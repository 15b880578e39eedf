// conn_windows.go implements Discord IPC discovery on Windows. The desktop
// client listens on named pipes \\.\pipe\discord-ipc-0 through -9; dialing
// goes through go-winio since the net package cannot open named pipes.

//go:build windows

package discord

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// ///////////////////////////////////////////////
// Connection
// ///////////////////////////////////////////////

// connectToDiscord dials each named pipe slot in order and returns the first
// live connection.
func connectToDiscord() (net.Conn, error) {
	for i := range maxIPCSlots {
		conn, err := winio.DialPipe(fmt.Sprintf(`\\.\pipe\discord-ipc-%d`, i), nil)
		if err == nil {
			return conn, nil
		}
	}
	return nil, ErrIPCNotAvailable
}
