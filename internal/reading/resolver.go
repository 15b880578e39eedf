// Package reading resolves the user's current reading activity from the
// Komga API.
//
// The [Resolver] scans in-progress books, selects the single most recently
// active candidate, gates it on a freshness window, applies library
// exclusions, and derives the presentation fields. Absence of activity is a
// normal result (nil activity), not an error; only a failure of the primary
// listing call propagates to the caller.
package reading

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/shelfcord/internal/komga"
)

// maxPages bounds how many pages of each paged listing a single resolution
// cycle will walk. In-progress sets larger than this are pathological.
const maxPages = 10

// ///////////////////////////////////////////////
// Configuration
// ///////////////////////////////////////////////

// Config holds the resolution settings derived from the daemon config.
type Config struct {
	// FreshnessWindow is the maximum age of a progress update for it to
	// count as "actively reading now" rather than "has an open book".
	FreshnessWindow time.Duration
	// ExcludeLibraries lists library names whose activity is never shown.
	// Entries match case-insensitively and may be glob patterns.
	ExcludeLibraries []string
	// ShowPage appends the "(Page N)" display when a page number is known.
	ShowPage bool
}

// ExcludesLibrary reports whether the named library is on the exclusion
// list. Matching is case-insensitive; entries containing glob metacharacters
// are evaluated as patterns.
func (c Config) ExcludesLibrary(name string) bool {
	lower := strings.ToLower(name)
	for _, entry := range c.ExcludeLibraries {
		pattern := strings.ToLower(entry)
		if pattern == lower {
			return true
		}
		if matched, err := doublestar.Match(pattern, lower); err == nil && matched {
			return true
		}
	}
	return false
}

// ///////////////////////////////////////////////
// Cover Source
// ///////////////////////////////////////////////

// CoverSource resolves a public cover URL for a series. A missing cover is a
// normal state, never an error. *cover.Resolver satisfies it.
type CoverSource interface {
	Resolve(seriesID string) (url string, ok bool)
}

// ///////////////////////////////////////////////
// Resolver
// ///////////////////////////////////////////////

// candidate pairs an in-progress book with its parsed progress timestamp.
type candidate struct {
	book    komga.Book
	when    time.Time
	hasTime bool
}

// Resolver is the current-activity decision engine. It is owned by the poll
// loop and used from a single goroutine.
type Resolver struct {
	client *komga.Client
	cfg    Config
	covers CoverSource

	// scanFallback latches on when the server rejects the in-progress
	// filter, switching candidate retrieval to the client-side paged scan
	// for the rest of the process lifetime.
	scanFallback bool

	// now is the clock used for the freshness gate; replaceable in tests.
	now func() time.Time
}

// NewResolver creates a Resolver over the given client and cover source.
func NewResolver(client *komga.Client, cfg Config, covers CoverSource) *Resolver {
	return &Resolver{client: client, cfg: cfg, covers: covers, now: time.Now}
}

// SetConfig replaces the resolution settings, keeping capability-detection
// state. Used on config reload.
func (r *Resolver) SetConfig(cfg Config) {
	r.cfg = cfg
}

// SetClient replaces the library client. The scan fallback latch is reset
// since the new endpoint may support the in-progress filter.
func (r *Resolver) SetClient(client *komga.Client) {
	r.client = client
	r.scanFallback = false
}

// Resolve returns the current reading activity, or nil when the user is not
// actively reading. Empty libraries, empty series, all-completed books,
// failed series, and stale progress all yield (nil, nil). Only a hard
// failure of the primary
// listing call returns an error.
func (r *Resolver) Resolve() (*Activity, error) {
	candidates, err := r.collect()
	if err != nil {
		return nil, err
	}

	best := pickMostRecent(candidates)
	if best == nil {
		return nil, nil
	}

	if r.now().Sub(best.when) > r.cfg.FreshnessWindow {
		slog.Debug("most recent progress is outside the freshness window",
			"book", best.book.ID,
			"last_read", best.when,
		)
		return nil, nil
	}

	series := r.seriesDetail(best.book.SeriesID)
	if series != nil && series.Failed() {
		slog.Debug("activity suppressed, series failed processing", "series", series.ID)
		return nil, nil
	}
	libraryName := r.libraryName(best.book, series)

	if r.cfg.ExcludesLibrary(libraryName) {
		slog.Debug("activity suppressed by library exclusion", "library", libraryName)
		return nil, nil
	}

	return r.buildActivity(best, series, libraryName), nil
}

// ///////////////////////////////////////////////
// Candidate Retrieval
// ///////////////////////////////////////////////

// collect gathers in-progress candidates using the server-side filter when
// available, falling back to the client-side paged scan once the filter is
// known to be unsupported. One algorithm, two retrieval strategies.
func (r *Resolver) collect() ([]candidate, error) {
	if !r.scanFallback {
		candidates, err := r.collectInProgress()
		if err == nil {
			return candidates, nil
		}
		if !komga.IsUnsupported(err) {
			return nil, err
		}
		slog.Info("server lacks the in-progress filter, switching to paged scan")
		r.scanFallback = true
	}
	return r.collectScan()
}

// collectInProgress pages through the server-side in-progress listing.
// Completed books are filtered defensively; the server should not return
// them but eventual consistency makes no promises.
func (r *Resolver) collectInProgress() ([]candidate, error) {
	var candidates []candidate
	for page := 0; page < maxPages; page++ {
		p, err := r.client.BooksInProgress(page)
		if err != nil {
			return nil, err
		}
		for _, b := range p.Content {
			if c, ok := newCandidate(b); ok {
				candidates = append(candidates, c)
			}
		}
		if p.Last || len(p.Content) == 0 {
			break
		}
	}
	return candidates, nil
}

// collectScan walks libraries, series, and books client-side. The library
// listing is the primary call in this mode and propagates failures; series
// and book lookups are secondary and degrade to skipping the entry.
func (r *Resolver) collectScan() ([]candidate, error) {
	libs, err := r.client.Libraries()
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, lib := range libs {
		for page := 0; page < maxPages; page++ {
			sp, err := r.client.Series(lib.ID, page)
			if err != nil {
				slog.Debug("series listing failed, skipping library", "library", lib.Name, "error", err)
				break
			}
			for _, s := range sp.Content {
				if s.Failed() {
					continue
				}
				candidates = append(candidates, r.scanSeries(s, lib)...)
			}
			if sp.Last || len(sp.Content) == 0 {
				break
			}
		}
	}
	return candidates, nil
}

// scanSeries collects in-progress candidates from one series. Books carrying
// embedded progress are used directly; otherwise only the last book of the
// series gets a progress lookup, since Komga orders books by number and the
// open book is almost always the latest.
func (r *Resolver) scanSeries(s komga.Series, lib komga.Library) []candidate {
	books, err := r.client.SeriesBooks(s.ID)
	if err != nil {
		slog.Debug("book listing failed, skipping series", "series", s.ID, "error", err)
		return nil
	}

	var candidates []candidate
	sawProgress := false
	for i := range books {
		b := &books[i]
		if b.SeriesID == "" {
			b.SeriesID = s.ID
		}
		if b.LibraryID == "" {
			b.LibraryID = lib.ID
		}
		if b.ReadProgress != nil {
			sawProgress = true
			if c, ok := newCandidate(*b); ok {
				candidates = append(candidates, c)
			}
		}
	}
	if sawProgress || len(books) == 0 {
		return candidates
	}

	last := books[len(books)-1]
	rp, err := r.client.BookProgress(last.ID)
	if err != nil {
		if !komga.IsNotFound(err) {
			slog.Debug("progress lookup failed", "book", last.ID, "error", err)
		}
		return candidates
	}
	last.ReadProgress = rp
	if c, ok := newCandidate(last); ok {
		candidates = append(candidates, c)
	}
	return candidates
}

// newCandidate wraps a book as a selection candidate. Books without progress
// or already completed are not candidates.
func newCandidate(b komga.Book) (candidate, bool) {
	if b.ReadProgress == nil || b.ReadProgress.Completed {
		return candidate{}, false
	}
	when, ok := komga.ParseTime(b.ReadProgress.LastModified)
	return candidate{book: b, when: when, hasTime: ok}, true
}

// ///////////////////////////////////////////////
// Selection
// ///////////////////////////////////////////////

// pickMostRecent returns the candidate with the latest parseable timestamp.
// A candidate without a parseable timestamp is never selected over one with
// a timestamp; when no candidate has one the result is nil.
func pickMostRecent(candidates []candidate) *candidate {
	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if !c.hasTime {
			continue
		}
		if best == nil || c.when.After(best.when) {
			best = c
		}
	}
	return best
}

// ///////////////////////////////////////////////
// Secondary Lookups
// ///////////////////////////////////////////////

// seriesDetail fetches the owning series. Failures degrade to nil; the
// caller falls back to default presentation fields.
func (r *Resolver) seriesDetail(seriesID string) *komga.Series {
	if seriesID == "" {
		return nil
	}
	s, err := r.client.SeriesByID(seriesID)
	if err != nil {
		slog.Debug("series detail lookup failed", "series", seriesID, "error", err)
		return nil
	}
	return s
}

// libraryName resolves the owning library's display name, preferring the
// book's library ID over the series'. Failures degrade to "".
func (r *Resolver) libraryName(b komga.Book, s *komga.Series) string {
	id := b.LibraryID
	if id == "" && s != nil {
		id = s.LibraryID
	}
	if id == "" {
		return ""
	}
	lib, err := r.client.Library(id)
	if err != nil {
		slog.Debug("library detail lookup failed", "library", id, "error", err)
		return ""
	}
	return lib.Name
}

// ///////////////////////////////////////////////
// Presentation
// ///////////////////////////////////////////////

// buildActivity derives the presentation fields for the selected candidate.
// Cover resolution is delegated and non-fatal.
func (r *Resolver) buildActivity(c *candidate, series *komga.Series, libraryName string) *Activity {
	title := firstNonEmpty(UntitledText,
		func() string {
			if series == nil {
				return ""
			}
			return series.Title
		},
		func() string {
			if series == nil {
				return ""
			}
			return series.Metadata.Title
		},
	)

	subtitle := firstNonEmpty(UnknownAuthorText,
		func() string { return joinAuthors(c.book.Metadata.Authors) },
		func() string {
			if series == nil {
				return ""
			}
			return joinAuthors(series.Authors)
		},
		func() string { return libraryName },
	)

	pageText := ""
	if r.cfg.ShowPage && c.book.ReadProgress.Page > 0 {
		pageText = fmt.Sprintf("(Page %d)", c.book.ReadProgress.Page)
	}

	coverURL, _ := r.covers.Resolve(c.book.SeriesID)

	return &Activity{
		SeriesID: c.book.SeriesID,
		Title:    title,
		Subtitle: subtitle,
		PageText: pageText,
		CoverURL: coverURL,
		LastRead: c.when,
	}
}
