// Tests for [Resolver] covering candidate selection, the freshness gate,
// library exclusion, presentation fallback chains, capability detection with
// the paged-scan fallback, and error propagation from the primary listing.
package reading

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tools.zach/dev/shelfcord/internal/komga"
)

// ///////////////////////////////////////////////
// Fixture Server
// ///////////////////////////////////////////////

// fixture is a scripted Komga server. Zero values answer empty listings, so
// each test populates only what it needs.
type fixture struct {
	// inProgressStatus, when non-zero, is the HTTP status answered by the
	// in-progress listing instead of content (e.g. 400 to simulate a server
	// without the filter, 401 for bad credentials).
	inProgressStatus int
	inProgress       []komga.Book

	libraries  []komga.Library
	series     map[string][]komga.Series      // keyed by library ID
	seriesByID map[string]komga.Series
	books      map[string][]komga.Book        // keyed by series ID
	progress   map[string]*komga.ReadProgress // keyed by book ID

	// booksCalls counts hits on the in-progress listing, for latch tests.
	booksCalls int
}

func (f *fixture) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/books", func(w http.ResponseWriter, r *http.Request) {
		f.booksCalls++
		if f.inProgressStatus != 0 {
			w.WriteHeader(f.inProgressStatus)
			return
		}
		json.NewEncoder(w).Encode(komga.Page[komga.Book]{Content: f.inProgress, Last: true})
	})

	mux.HandleFunc("/api/v1/libraries", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.libraries)
	})

	mux.HandleFunc("/api/v1/libraries/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/libraries/")
		for _, lib := range f.libraries {
			if lib.ID == id {
				json.NewEncoder(w).Encode(lib)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("/api/v1/series", func(w http.ResponseWriter, r *http.Request) {
		libID := r.URL.Query().Get("library_id")
		json.NewEncoder(w).Encode(komga.Page[komga.Series]{Content: f.series[libID], Last: true})
	})

	mux.HandleFunc("/api/v1/series/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/series/")
		if id, ok := strings.CutSuffix(rest, "/books"); ok {
			json.NewEncoder(w).Encode(f.books[id])
			return
		}
		if s, ok := f.seriesByID[rest]; ok {
			json.NewEncoder(w).Encode(s)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("/api/v1/books/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/books/")
		id, ok := strings.CutSuffix(rest, "/progress")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rp, found := f.progress[id]
		if !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(rp)
	})

	return mux
}

// noCover is a [CoverSource] that never resolves anything.
type noCover struct{}

func (noCover) Resolve(string) (string, bool) { return "", false }

// fixedCover always resolves the same URL.
type fixedCover struct{ url string }

func (c fixedCover) Resolve(string) (string, bool) { return c.url, true }

// testNow is the fixed clock all fixtures are scripted against.
var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

// stamp renders a progress timestamp the given duration before testNow.
func stamp(ago time.Duration) string {
	return testNow.Add(-ago).Format(time.RFC3339)
}

// newTestResolver wires a Resolver to a fixture server with a fixed clock.
func newTestResolver(t *testing.T, f *fixture, cfg Config, covers CoverSource) *Resolver {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	if cfg.FreshnessWindow == 0 {
		cfg.FreshnessWindow = 300 * time.Second
	}
	r := NewResolver(komga.NewClient(srv.URL, "k"), cfg, covers)
	r.now = func() time.Time { return testNow }
	return r
}

// inProgressBook builds a book with an in-progress cursor stamped ago before
// the fixed clock.
func inProgressBook(id, seriesID, libraryID string, page int, ago time.Duration) komga.Book {
	return komga.Book{
		ID:        id,
		SeriesID:  seriesID,
		LibraryID: libraryID,
		ReadProgress: &komga.ReadProgress{
			Page:         page,
			LastModified: stamp(ago),
		},
	}
}

// ///////////////////////////////////////////////
// Idle Outcomes
// ///////////////////////////////////////////////

func TestResolve_NoCandidates(t *testing.T) {
	r := newTestResolver(t, &fixture{}, Config{}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a != nil {
		t.Errorf("activity = %+v, want nil", a)
	}
}

func TestResolve_AllCompleted(t *testing.T) {
	f := &fixture{
		inProgress: []komga.Book{
			{ID: "b1", SeriesID: "s1", ReadProgress: &komga.ReadProgress{
				Completed:    true,
				LastModified: stamp(time.Minute),
			}},
		},
	}
	r := newTestResolver(t, f, Config{}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a != nil {
		t.Errorf("completed book produced activity %+v, want nil", a)
	}
}

func TestResolve_StaleProgress(t *testing.T) {
	f := &fixture{
		inProgress: []komga.Book{inProgressBook("b1", "s1", "lib1", 10, 600*time.Second)},
	}
	r := newTestResolver(t, f, Config{FreshnessWindow: 300 * time.Second}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a != nil {
		t.Errorf("stale progress produced activity %+v, want nil", a)
	}
}

func TestResolve_OnlyUnparseableTimestamps(t *testing.T) {
	f := &fixture{
		inProgress: []komga.Book{
			{ID: "b1", SeriesID: "s1", ReadProgress: &komga.ReadProgress{LastModified: "garbage"}},
			{ID: "b2", SeriesID: "s1", ReadProgress: &komga.ReadProgress{}},
		},
	}
	r := newTestResolver(t, f, Config{}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a != nil {
		t.Errorf("unparseable timestamps produced activity %+v, want nil", a)
	}
}

// ///////////////////////////////////////////////
// Selection
// ///////////////////////////////////////////////

func TestResolve_PicksMostRecent(t *testing.T) {
	f := &fixture{
		inProgress: []komga.Book{
			inProgressBook("older", "s-old", "lib1", 5, 4*time.Minute),
			inProgressBook("newer", "s-new", "lib1", 7, 1*time.Minute),
			{ID: "untimed", SeriesID: "s-x", ReadProgress: &komga.ReadProgress{LastModified: "???"}},
		},
		libraries:  []komga.Library{{ID: "lib1", Name: "Books"}},
		seriesByID: map[string]komga.Series{"s-new": {ID: "s-new", Title: "Newer Series"}},
	}
	r := newTestResolver(t, f, Config{}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a == nil {
		t.Fatal("activity = nil, want the most recent book")
	}
	if a.SeriesID != "s-new" {
		t.Errorf("SeriesID = %q, want s-new", a.SeriesID)
	}
	if a.Title != "Newer Series" {
		t.Errorf("Title = %q, want Newer Series", a.Title)
	}
	wantWhen := testNow.Add(-1 * time.Minute)
	if !a.LastRead.Equal(wantWhen) {
		t.Errorf("LastRead = %v, want %v", a.LastRead, wantWhen)
	}
}

func TestPickMostRecent(t *testing.T) {
	t1 := testNow.Add(-2 * time.Minute)
	t2 := testNow.Add(-1 * time.Minute)
	cands := []candidate{
		{book: komga.Book{ID: "a"}, when: t1, hasTime: true},
		{book: komga.Book{ID: "b"}, hasTime: false},
		{book: komga.Book{ID: "c"}, when: t2, hasTime: true},
	}

	best := pickMostRecent(cands)
	if best == nil || best.book.ID != "c" {
		t.Fatalf("pickMostRecent = %+v, want book c", best)
	}

	if got := pickMostRecent([]candidate{{hasTime: false}}); got != nil {
		t.Errorf("pickMostRecent with no timestamps = %+v, want nil", got)
	}
	if got := pickMostRecent(nil); got != nil {
		t.Errorf("pickMostRecent(nil) = %+v, want nil", got)
	}
}

// ///////////////////////////////////////////////
// Library Exclusion
// ///////////////////////////////////////////////

func TestConfig_ExcludesLibrary(t *testing.T) {
	cfg := Config{ExcludeLibraries: []string{"NSFW", "Private *"}}

	tests := []struct {
		name string
		want bool
	}{
		{"NSFW", true},
		{"nsfw", true},
		{"NsFw", true},
		{"Private Stash", true},
		{"private collection", true},
		{"Books", false},
		{"Privateer", false},
	}
	for _, tt := range tests {
		if got := cfg.ExcludesLibrary(tt.name); got != tt.want {
			t.Errorf("ExcludesLibrary(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestResolve_ExcludedLibrary(t *testing.T) {
	f := &fixture{
		inProgress: []komga.Book{inProgressBook("b1", "s1", "lib1", 3, time.Minute)},
		libraries:  []komga.Library{{ID: "lib1", Name: "NSFW"}},
		seriesByID: map[string]komga.Series{"s1": {ID: "s1", Title: "Hidden"}},
	}
	r := newTestResolver(t, f, Config{ExcludeLibraries: []string{"nsfw"}}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a != nil {
		t.Errorf("excluded library produced activity %+v, want nil", a)
	}
}

// ///////////////////////////////////////////////
// Presentation
// ///////////////////////////////////////////////

func TestResolve_Presentation(t *testing.T) {
	book := inProgressBook("b1", "s1", "lib1", 42, time.Minute)
	book.Metadata.Authors = []komga.Author{{Name: "A. Author"}}

	f := &fixture{
		inProgress: []komga.Book{book},
		libraries:  []komga.Library{{ID: "lib1", Name: "Books"}},
		seriesByID: map[string]komga.Series{"s1": {ID: "s1", Title: "Foo"}},
	}
	r := newTestResolver(t, f, Config{ShowPage: true}, fixedCover{url: "https://i.imgur.com/x.jpg"})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a == nil {
		t.Fatal("activity = nil, want presentation")
	}
	if got := a.Details(); got != "Foo (Page 42)" {
		t.Errorf("Details = %q, want %q", got, "Foo (Page 42)")
	}
	if a.Subtitle != "A. Author" {
		t.Errorf("Subtitle = %q, want %q", a.Subtitle, "A. Author")
	}
	if a.CoverURL != "https://i.imgur.com/x.jpg" {
		t.Errorf("CoverURL = %q, want the resolved cover", a.CoverURL)
	}
}

func TestResolve_ShowPageDisabled(t *testing.T) {
	f := &fixture{
		inProgress: []komga.Book{inProgressBook("b1", "s1", "lib1", 42, time.Minute)},
		seriesByID: map[string]komga.Series{"s1": {ID: "s1", Title: "Foo"}},
	}
	r := newTestResolver(t, f, Config{ShowPage: false}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a == nil {
		t.Fatal("activity = nil")
	}
	if a.PageText != "" {
		t.Errorf("PageText = %q, want empty with show_page off", a.PageText)
	}
	if got := a.Details(); got != "Foo" {
		t.Errorf("Details = %q, want %q", got, "Foo")
	}
}

func TestResolve_FallbackChains(t *testing.T) {
	tests := []struct {
		name         string
		series       *komga.Series
		bookAuthors  []komga.Author
		library      *komga.Library
		wantTitle    string
		wantSubtitle string
	}{
		{
			name:         "metadata title and series authors",
			series:       &komga.Series{ID: "s1", Metadata: komga.SeriesMetadata{Title: "Meta Title"}, Authors: []komga.Author{{Name: "Series Author"}}},
			wantTitle:    "Meta Title",
			wantSubtitle: "Series Author",
		},
		{
			name:         "library name as author fallback",
			series:       &komga.Series{ID: "s1", Title: "Plain"},
			library:      &komga.Library{ID: "lib1", Name: "Manga"},
			wantTitle:    "Plain",
			wantSubtitle: "Manga",
		},
		{
			name:         "everything missing",
			wantTitle:    UntitledText,
			wantSubtitle: UnknownAuthorText,
		},
		{
			name:         "book authors win over series authors",
			series:       &komga.Series{ID: "s1", Title: "Plain", Authors: []komga.Author{{Name: "Series Author"}}},
			bookAuthors:  []komga.Author{{Name: "Book Author"}},
			wantTitle:    "Plain",
			wantSubtitle: "Book Author",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := inProgressBook("b1", "s1", "", 0, time.Minute)
			book.Metadata.Authors = tt.bookAuthors

			f := &fixture{
				inProgress: []komga.Book{book},
				seriesByID: map[string]komga.Series{},
			}
			if tt.series != nil {
				f.seriesByID["s1"] = *tt.series
			}
			if tt.library != nil {
				f.libraries = []komga.Library{*tt.library}
				book := &f.inProgress[0]
				book.LibraryID = tt.library.ID
			}
			r := newTestResolver(t, f, Config{}, noCover{})

			a, err := r.Resolve()
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if a == nil {
				t.Fatal("activity = nil")
			}
			if a.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", a.Title, tt.wantTitle)
			}
			if a.Subtitle != tt.wantSubtitle {
				t.Errorf("Subtitle = %q, want %q", a.Subtitle, tt.wantSubtitle)
			}
		})
	}
}

// Series detail lookup failures are secondary and degrade to defaults instead
// of failing the cycle.
func TestResolve_SeriesLookupDegrades(t *testing.T) {
	f := &fixture{
		inProgress: []komga.Book{inProgressBook("b1", "missing-series", "", 0, time.Minute)},
	}
	r := newTestResolver(t, f, Config{}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a == nil {
		t.Fatal("activity = nil, want degraded presentation")
	}
	if a.Title != UntitledText {
		t.Errorf("Title = %q, want %q", a.Title, UntitledText)
	}
}

// A book whose series failed processing is suppressed on the server-filter
// path, not just in the paged scan.
func TestResolve_FailedSeriesSuppressed(t *testing.T) {
	f := &fixture{
		inProgress: []komga.Book{inProgressBook("b1", "s-bad", "lib1", 5, time.Minute)},
		libraries:  []komga.Library{{ID: "lib1", Name: "Books"}},
		seriesByID: map[string]komga.Series{
			"s-bad": {
				ID:               "s-bad",
				Title:            "Broken",
				ProcessingStatus: &komga.ProcessingStatus{Status: komga.StatusFailed},
			},
		},
	}
	r := newTestResolver(t, f, Config{}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a != nil {
		t.Errorf("failed series produced activity %+v, want nil", a)
	}
}

// ///////////////////////////////////////////////
// Errors and Capability Fallback
// ///////////////////////////////////////////////

func TestResolve_AuthErrorPropagates(t *testing.T) {
	f := &fixture{inProgressStatus: http.StatusUnauthorized}
	r := newTestResolver(t, f, Config{}, noCover{})

	_, err := r.Resolve()
	if err == nil {
		t.Fatal("expected error from 401")
	}
	if !komga.IsUnauthorized(err) {
		t.Errorf("error not classified as unauthorized: %v", err)
	}
	if r.scanFallback {
		t.Error("401 must not latch the scan fallback")
	}
}

func TestResolve_ScanFallbackLatches(t *testing.T) {
	f := &fixture{
		inProgressStatus: http.StatusBadRequest,
		libraries:        []komga.Library{{ID: "lib1", Name: "Books"}},
		series: map[string][]komga.Series{
			"lib1": {{ID: "s1", Title: "Scanned"}},
		},
		seriesByID: map[string]komga.Series{"s1": {ID: "s1", Title: "Scanned"}},
		books: map[string][]komga.Book{
			"s1": {{
				ID: "b1",
				ReadProgress: &komga.ReadProgress{
					Page:         3,
					LastModified: stamp(time.Minute),
				},
			}},
		},
	}
	r := newTestResolver(t, f, Config{}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a == nil || a.Title != "Scanned" {
		t.Fatalf("activity = %+v, want Scanned via paged scan", a)
	}
	if !r.scanFallback {
		t.Fatal("scan fallback did not latch")
	}

	callsAfterFirst := f.booksCalls
	if _, err := r.Resolve(); err != nil {
		t.Fatalf("second Resolve() error: %v", err)
	}
	if f.booksCalls != callsAfterFirst {
		t.Error("latched resolver re-probed the in-progress filter")
	}
}

func TestResolve_ScanSkipsFailedSeries(t *testing.T) {
	f := &fixture{
		inProgressStatus: http.StatusNotFound,
		libraries:        []komga.Library{{ID: "lib1", Name: "Books"}},
		series: map[string][]komga.Series{
			"lib1": {{
				ID:               "s-bad",
				Title:            "Broken",
				ProcessingStatus: &komga.ProcessingStatus{Status: komga.StatusFailed},
			}},
		},
		books: map[string][]komga.Book{
			"s-bad": {{ID: "b1", ReadProgress: &komga.ReadProgress{LastModified: stamp(time.Minute)}}},
		},
	}
	r := newTestResolver(t, f, Config{}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a != nil {
		t.Errorf("failed series produced activity %+v, want nil", a)
	}
}

// When books carry no embedded progress, only the series' last book gets a
// progress lookup.
func TestResolve_ScanLastBookProgressLookup(t *testing.T) {
	f := &fixture{
		inProgressStatus: http.StatusBadRequest,
		libraries:        []komga.Library{{ID: "lib1", Name: "Books"}},
		series: map[string][]komga.Series{
			"lib1": {{ID: "s1", Title: "Serial"}},
		},
		seriesByID: map[string]komga.Series{"s1": {ID: "s1", Title: "Serial"}},
		books: map[string][]komga.Book{
			"s1": {{ID: "vol1"}, {ID: "vol2"}, {ID: "vol3"}},
		},
		progress: map[string]*komga.ReadProgress{
			"vol3": {Page: 12, LastModified: stamp(time.Minute)},
		},
	}
	r := newTestResolver(t, f, Config{ShowPage: true}, noCover{})

	a, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if a == nil {
		t.Fatal("activity = nil, want progress from the last volume")
	}
	if a.Title != "Serial" || a.PageText != "(Page 12)" {
		t.Errorf("activity = %+v, want Serial at page 12", a)
	}
}

func TestSetClient_ResetsScanFallback(t *testing.T) {
	r := NewResolver(komga.NewClient("http://example.com", "k"), Config{}, noCover{})
	r.scanFallback = true

	r.SetClient(komga.NewClient("http://other.example.com", "k"))
	if r.scanFallback {
		t.Error("SetClient did not reset the scan fallback latch")
	}
}
