// Package main implements the Shelfcord daemon, which polls a Komga server
// for reading activity and publishes Discord Rich Presence updates.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	rootpkg "tools.zach/dev/shelfcord"
	"tools.zach/dev/shelfcord/internal/config"
	"tools.zach/dev/shelfcord/internal/cover"
	"tools.zach/dev/shelfcord/internal/discord"
	"tools.zach/dev/shelfcord/internal/komga"
	"tools.zach/dev/shelfcord/internal/logger"
	"tools.zach/dev/shelfcord/internal/paths"
	"tools.zach/dev/shelfcord/internal/reading"
	"tools.zach/dev/shelfcord/internal/update"
	"tools.zach/dev/shelfcord/internal/watch"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically, so dev builds get a useful version string
// without needing git at runtime.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags at build time it is returned as-is; otherwise VCS revision and dirty
// state embedded by the Go toolchain are used to construct a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file at [DataPaths.PID], acquires an
// advisory file lock, and writes "PID:TOKEN" content. The returned file handle
// must be kept open for the lifetime of the daemon to hold the lock; pass it to
// [removePID] on shutdown.
func writePID(paths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(paths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the advisory lock, closes the file handle, and removes the
// PID file only if the stored token matches, preventing accidental removal of a
// file owned by a different daemon instance.
func removePID(paths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(paths.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(paths.PID())
	}
}

// checkStalePID checks whether another daemon instance is running. It attempts
// to acquire the advisory lock on the PID file; if the lock fails, another
// instance holds it. If the lock succeeds, any previous instance is dead and
// the stale file is cleaned up.
func checkStalePID(paths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(paths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(paths.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if len(parts) >= 1 {
			if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
				return true, p
			}
		}
		return true, 0
	}

	// Lock acquired -- previous instance is dead. Clean up stale file.
	_ = unlockFile(f)
	f.Close()
	os.Remove(paths.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Error Classification
// ///////////////////////////////////////////////

// errorKind is the closed set of cycle failure classes the loop acts on.
type errorKind int

const (
	// errOther covers everything that just gets logged and retried next tick.
	errOther errorKind = iota
	// errAuth is a 401 from the library API; credentials are static, so the
	// only recovery is retrying on the next tick.
	errAuth
	// errPipe is a broken or missing Discord IPC channel; the only class
	// that triggers a reconnect.
	errPipe
)

// classify maps a cycle failure to its [errorKind]. Errors are wrapped with
// their class at the transport boundaries (komga.StatusError,
// discord.ErrPipeClosed), so classification is a lookup, not an inspection.
// ErrNotConnected is pipe-class too: after an exhausted reconnect the channel
// stays down, and the next cycle must re-enter the reconnect path rather than
// log the failure forever.
func classify(err error) errorKind {
	switch {
	case komga.IsUnauthorized(err):
		return errAuth
	case errors.Is(err, discord.ErrPipeClosed), errors.Is(err, discord.ErrNotConnected):
		return errPipe
	}
	return errOther
}

// ///////////////////////////////////////////////
// Display State
// ///////////////////////////////////////////////

// displayState tracks what the presence currently shows.
type displayState int

const (
	// displayIdle means the presence is cleared.
	displayIdle displayState = iota
	// displayActive means a reading activity is shown.
	displayActive
	// displayReconnecting means the Discord channel is being re-established.
	displayReconnecting
)

// String implements fmt.Stringer for log output.
func (s displayState) String() string {
	switch s {
	case displayActive:
		return "active"
	case displayReconnecting:
		return "reconnecting"
	default:
		return "idle"
	}
}

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// presenceClient is the slice of the Discord client the poll loop drives.
// *discord.Client satisfies it.
type presenceClient interface {
	Connect() error
	SetActivity(*discord.Activity) error
	ClearActivity() error
	Close() error
}

// daemon owns all mutable loop state: the presence channel, the library
// client, the cover cache, and the current display state. Everything is
// driven from a single goroutine, so no field needs synchronization.
type daemon struct {
	cfg       *config.Config
	dataPaths DataPaths

	discord  presenceClient
	library  *komga.Client
	covers   *cover.Resolver
	resolver *reading.Resolver

	// display is the current presence state machine position.
	display displayState
	// lastHash caches the hash of the last activity pushed to Discord so
	// duplicate updates are suppressed.
	lastHash string
	// idleCleared tracks whether presence has already been cleared for the
	// current idle period, preventing repeated ClearActivity calls.
	idleCleared bool
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

// defaultDataDir returns the platform default directory for Shelfcord data,
// typically ~/.shelfcord. Falls back to ./.shelfcord if the home directory
// cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config and logs")
	flag.Parse()

	dataPaths := DataPaths{Root: *dataDir}

	if err := os.MkdirAll(dataPaths.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		os.Exit(1)
	}

	if alive, pid := checkStalePID(dataPaths); alive {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		os.Exit(1)
	}

	if _, err := os.Stat(dataPaths.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(dataPaths.Config(), rootpkg.DefaultConfigTOML, 0o644); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
		fmt.Fprintf(os.Stderr, "wrote default config to %s; set komga.url and komga.api_key, then restart\n", dataPaths.Config())
	}

	cfg, err := config.Load(dataPaths.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		os.Exit(1)
	}

	logLevel := logger.ParseLevel(cfg.Log.Level)
	log, logCloser, err := logger.NewLogger(dataPaths.Log(), logLevel, cfg.Log.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	slog.Info("shelfcord starting", "version", ver, "data_dir", dataPaths.Root, "komga", cfg.Komga.URL)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("update check panic", "error", r)
			}
		}()
		update.Check(ver)
	}()

	token := pidToken()
	pidFile, err := writePID(dataPaths, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		os.Exit(1)
	}
	defer removePID(dataPaths, token, pidFile)

	library := komga.NewClient(cfg.Komga.URL, cfg.Komga.APIKey)
	covers := cover.NewResolver(library, cfg.Covers.Rehost, cfg.Covers.ImgurClientID)
	resolver := reading.NewResolver(library, resolverConfig(cfg), covers)

	client := discord.NewClient(cfg.Discord.AppID)
	if err := connectWithRetry(client, cfg.ReconnectCooldown()); err != nil {
		slog.Error("failed to connect to Discord", "error", err)
		os.Exit(1)
	}
	defer func() { client.Close() }()
	slog.Info("connected to Discord")

	watcher, err := watch.NewWatcher(dataPaths.Config())
	if err != nil {
		slog.Error("failed to create config watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Close()

	if watcher.Polling() {
		slog.Info("using polling mode for config watching")
	}

	d := &daemon{
		cfg:       cfg,
		dataPaths: dataPaths,
		discord:   client,
		library:   library,
		covers:    covers,
		resolver:  resolver,
	}
	d.run(watcher)
}

// resolverConfig maps the loaded daemon config onto the resolver settings.
func resolverConfig(cfg *config.Config) reading.Config {
	return reading.Config{
		FreshnessWindow:  cfg.FreshnessWindow(),
		ExcludeLibraries: cfg.Behavior.ExcludeLibraries,
		ShowPage:         cfg.Behavior.ShowPage,
	}
}

// ///////////////////////////////////////////////
// Connect with Retry
// ///////////////////////////////////////////////

// connectWithRetry attempts to connect the presence channel up to 10 times,
// sleeping the given interval between failures. Returns nil on success or an
// error if all attempts are exhausted.
func connectWithRetry(client presenceClient, interval time.Duration) error {
	const maxAttempts = 10

	for i := range maxAttempts {
		err := client.Connect()
		if err == nil {
			return nil
		}
		slog.Warn("Discord connect attempt failed", "attempt", i+1, "error", err)
		if i < maxAttempts-1 {
			time.Sleep(interval)
		}
	}
	return fmt.Errorf("failed to connect after %d attempts", maxAttempts)
}

// ///////////////////////////////////////////////
// Activity Mapping
// ///////////////////////////////////////////////

// toDiscordActivity maps a resolved reading activity onto the Rich Presence
// wire shape. The start timestamp is the last progress update, so the card
// shows elapsed time since the reader last turned a page. Assets are only
// attached when a cover URL resolved; Discord rejects empty image keys.
func toDiscordActivity(a *reading.Activity) *discord.Activity {
	if a == nil {
		return nil
	}
	da := &discord.Activity{
		Details: a.Details(),
		State:   a.Subtitle,
		Timestamps: &discord.Timestamps{
			Start: a.LastRead.Unix(),
		},
	}
	if a.CoverURL != "" {
		da.Assets = &discord.Assets{
			LargeImage: a.CoverURL,
			LargeText:  a.Title,
		}
	}
	return da
}

// ///////////////////////////////////////////////
// Poll Loop
// ///////////////////////////////////////////////

// run is the main poll loop. It performs a first resolution immediately,
// then resolves on a fixed ticker, reloading configuration when the config
// file changes. The loop exits on an OS interrupt/terminate signal.
func (d *daemon) run(watcher *watch.Watcher) {
	ticker := time.NewTicker(d.cfg.PollInterval())
	defer ticker.Stop()

	sigCh := signalChannel()

	d.tick()

	for {
		select {
		case <-sigCh:
			slog.Info("received shutdown signal")
			return

		case <-watcher.Events():
			d.reloadConfig(ticker)

		case <-ticker.C:
			d.tick()
		}
	}
}

// tick runs one full resolution cycle and pushes the outcome to Discord.
// Failures are classified and handled; the loop always survives a tick.
func (d *daemon) tick() {
	activity, err := d.resolver.Resolve()
	if err != nil {
		d.handleFailure(err)
		return
	}
	if activity == nil {
		d.pushIdle()
		return
	}
	d.pushActive(activity)
}

// pushActive publishes a reading activity, suppressing duplicate updates via
// the activity hash.
func (d *daemon) pushActive(a *reading.Activity) {
	hash := a.Hash()
	if hash == d.lastHash && d.display == displayActive {
		return
	}

	if err := d.discord.SetActivity(toDiscordActivity(a)); err != nil {
		d.handleFailure(fmt.Errorf("set activity: %w", err))
		return
	}

	d.display = displayActive
	d.idleCleared = false
	d.lastHash = hash
	slog.Info("presence updated", "details", a.Details(), "state", a.Subtitle)
}

// pushIdle clears the presence once per idle period. Redundant clears are
// suppressed locally even though the remote side treats them as no-ops.
func (d *daemon) pushIdle() {
	if d.idleCleared {
		d.display = displayIdle
		return
	}

	if err := d.discord.ClearActivity(); err != nil {
		d.handleFailure(fmt.Errorf("clear activity: %w", err))
		return
	}

	d.display = displayIdle
	d.idleCleared = true
	d.lastHash = ""
	slog.Info("presence cleared (not currently reading)")
}

// handleFailure dispatches a classified cycle failure. Auth errors retry on
// the next tick, pipe errors trigger a reconnect, everything else is logged
// with full detail and the state is left unchanged.
func (d *daemon) handleFailure(err error) {
	switch classify(err) {
	case errAuth:
		slog.Warn("library API rejected credentials, retrying next tick", "error", err)
	case errPipe:
		d.reconnect()
	default:
		slog.Error("resolution cycle failed", "state", d.display, "error", err)
	}
}

// reconnect discards the broken Discord channel, waits the configured
// cooldown to avoid a tight failure loop, and re-establishes the connection.
// The activity hash is reset so the next tick re-publishes presence. When the
// retry budget is exhausted the channel stays down; the next cycle's push
// fails with ErrNotConnected and lands back here.
func (d *daemon) reconnect() {
	slog.Warn("connection to Discord lost, reconnecting")
	d.display = displayReconnecting

	if err := d.discord.Close(); err != nil {
		slog.Debug("error closing broken Discord channel", "error", err)
	}

	cooldown := d.cfg.ReconnectCooldown()
	time.Sleep(cooldown)

	if err := connectWithRetry(d.discord, cooldown); err != nil {
		slog.Error("Discord reconnect failed, will retry after next cycle failure", "error", err)
		return
	}

	d.lastHash = ""
	d.idleCleared = false
	slog.Info("reconnected to Discord")
}

// ///////////////////////////////////////////////
// Config Reload
// ///////////////////////////////////////////////

// reloadConfig re-reads the config file after a change event. An invalid new
// config is logged and ignored; the daemon keeps running with the previous
// settings. On success the library client, cover resolver, resolver settings,
// and poll cadence are updated in place. The cover cache survives reloads.
func (d *daemon) reloadConfig(ticker *time.Ticker) {
	newCfg, err := config.Load(d.dataPaths.Root)
	if err != nil {
		slog.Warn("ignoring config change", "error", err)
		return
	}

	if newCfg.Komga != d.cfg.Komga {
		d.library = komga.NewClient(newCfg.Komga.URL, newCfg.Komga.APIKey)
		d.resolver.SetClient(d.library)
	}
	d.covers.Configure(d.library, newCfg.Covers.Rehost, newCfg.Covers.ImgurClientID)
	d.resolver.SetConfig(resolverConfig(newCfg))

	if newCfg.Behavior.PollIntervalSeconds != d.cfg.Behavior.PollIntervalSeconds {
		ticker.Reset(newCfg.PollInterval())
	}

	if newCfg.Discord.AppID != d.cfg.Discord.AppID {
		slog.Info("Discord application ID changed, reconnecting")
		d.discord.Close()
		d.discord = discord.NewClient(newCfg.Discord.AppID)
		if connErr := connectWithRetry(d.discord, newCfg.ReconnectCooldown()); connErr != nil {
			slog.Error("reconnect with new application ID failed", "error", connErr)
		}
	}

	d.cfg = newCfg
	// Force a re-publish with the new settings on the next cycle.
	d.lastHash = ""
	d.idleCleared = false
	slog.Info("configuration reloaded")
	d.tick()
}
