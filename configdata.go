// Package shelfcord provides embedded assets for the Shelfcord daemon.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML]. The daemon copies this file to the data directory
// on first run so users start from a fully documented config.
package shelfcord

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, embedded at
// build time. Regenerate with go generate ./internal/config after changing
// config defaults or field documentation.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
