package reading

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"tools.zach/dev/shelfcord/internal/komga"
)

// Default presentation values used when every extraction strategy fails.
const (
	UntitledText      = "Untitled"
	UnknownAuthorText = "Unknown Author"
)

// ///////////////////////////////////////////////
// Activity
// ///////////////////////////////////////////////

// Activity is the derived "currently reading" presentation. It is recomputed
// on every resolution cycle and never persisted; a new value atomically
// supersedes the previous one in the poll loop.
type Activity struct {
	// SeriesID identifies the series the activity was derived from.
	SeriesID string
	// Title is the series title shown as the top presence line.
	Title string
	// Subtitle is the author text shown as the second presence line.
	Subtitle string
	// PageText is the optional page display, e.g. "(Page 42)".
	PageText string
	// CoverURL is the public cover image URL, empty when unavailable.
	CoverURL string
	// LastRead is the timestamp of the most recent progress update.
	LastRead time.Time
}

// Details returns the top presence line: the title, with the page display
// appended when present.
func (a *Activity) Details() string {
	if a.PageText == "" {
		return a.Title
	}
	return a.Title + " " + a.PageText
}

// Hash returns a stable digest of the displayed fields, used by the poll
// loop to suppress duplicate presence updates.
func (a *Activity) Hash() string {
	h := sha256.New()
	for _, s := range []string{a.SeriesID, a.Title, a.Subtitle, a.PageText, a.CoverURL} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ///////////////////////////////////////////////
// Field Derivation
// ///////////////////////////////////////////////

// firstNonEmpty runs each extraction strategy in order and returns the first
// non-empty result, or fallback when all fail. Field derivation is an ordered
// strategy chain rather than nested conditionals so new sources can be
// appended without restructuring.
func firstNonEmpty(fallback string, strategies ...func() string) string {
	for _, f := range strategies {
		if v := strings.TrimSpace(f()); v != "" {
			return v
		}
	}
	return fallback
}

// joinAuthors renders a creator list as a comma-separated string of names.
func joinAuthors(authors []komga.Author) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return strings.Join(names, ", ")
}
