// conn_unix.go implements Discord IPC socket discovery for Unix-like systems
// (Linux, macOS, FreeBSD). It probes XDG_RUNTIME_DIR, /tmp, Snap, and Flatpak
// socket paths.

//go:build !windows

package discord

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// ///////////////////////////////////////////////
// Connection
// ///////////////////////////////////////////////

// socketDirs returns the directories that may hold Discord IPC sockets, in
// probe order.
func socketDirs() []string {
	var dirs []string
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, "/tmp")

	// Snap and Flatpak packaged Discord use app-scoped runtime directories.
	uid := strconv.Itoa(os.Getuid())
	for _, sd := range []string{"snap.discord", "snap.discord-canary", "snap.discord-ptb"} {
		dirs = append(dirs, "/run/user/"+uid+"/"+sd)
	}
	for _, app := range []string{
		"com.discordapp.Discord",
		"com.discordapp.DiscordCanary",
		"com.discordapp.DiscordPTB",
	} {
		dirs = append(dirs, "/run/user/"+uid+"/app/"+app)
	}
	return dirs
}

// connectToDiscord tries each known IPC socket path and returns the first
// successful connection. Dialing a missing path is cheap, so no existence
// checks are done up front.
func connectToDiscord() (net.Conn, error) {
	// Socket name prefixes for Discord variants (stable, Canary, PTB).
	variants := []string{"discord-ipc", "discordcanary-ipc", "discordptb-ipc"}

	for _, dir := range socketDirs() {
		for _, v := range variants {
			for i := range maxIPCSlots {
				conn, err := net.Dial("unix", fmt.Sprintf("%s/%s-%d", dir, v, i))
				if err == nil {
					return conn, nil
				}
			}
		}
	}
	return nil, ErrIPCNotAvailable
}
