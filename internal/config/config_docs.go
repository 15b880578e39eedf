package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "behavior.show_page")
// to their [FieldDoc] entries. The genconfig tool uses this map to annotate
// the generated config.default.toml with inline comments and alternatives.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version — do not edit.",
	},

	// ── Komga ────────────────────────────────────────────────────
	"komga.url": {
		Comment: "Root URL of your Komga server.",
		Alternatives: []string{
			`url = "https://komga.example.com"`,
		},
	},
	"komga.api_key": {
		Comment: "API key from Komga (Account Settings → API Keys).\nSent as the X-API-Key header; read-only access is enough.",
	},

	// ── Discord ──────────────────────────────────────────────────
	"discord.app_id": {
		Comment: "Application ID for Discord Rich Presence.\nOverride with your own Discord app if you want a custom name on the card.",
	},

	// ── Covers ───────────────────────────────────────────────────
	"covers.rehost": {
		Comment: "Cover image strategy.\n\"imgur\"  — upload the series poster to Imgur and show the public link (recommended)\n\"direct\" — use the Komga thumbnail URL as-is (only works if your server\n           is reachable from the machines viewing your presence)\n\"off\"    — no cover image",
		Alternatives: []string{
			`rehost = "imgur"`,
		},
	},
	"covers.imgur_client_id": {
		Comment: "Imgur application client ID, required when rehost = \"imgur\".",
		Alternatives: []string{
			`imgur_client_id = "0123456789abcde"`,
		},
	},

	// ── Behavior ─────────────────────────────────────────────────
	"behavior.poll_interval_seconds": {
		Comment: "Seconds between library polls. Lower is fresher but harder on the server.",
	},
	"behavior.reconnect_cooldown_seconds": {
		Comment: "Pause before reconnecting after Discord closes the IPC pipe.",
	},
	"behavior.freshness_window_seconds": {
		Comment: "A progress update older than this no longer counts as \"currently reading\"\nand the presence is cleared.",
	},
	"behavior.exclude_libraries": {
		Comment: "Libraries whose activity is never shown. Case-insensitive; glob patterns allowed.",
		Alternatives: []string{
			`exclude_libraries = ["NSFW", "Private *"]`,
		},
	},
	"behavior.show_page": {
		Comment: "Append \"(Page N)\" to the presence when the current page is known.",
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment: "Minimum log level: trace, debug, info, warn, error.",
	},
	"log.max_size_mb": {
		Comment: "Log file size before rotation.",
	},
}
