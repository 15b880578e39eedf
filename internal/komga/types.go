package komga

import "time"

// ///////////////////////////////////////////////
// Processing Status
// ///////////////////////////////////////////////

// Processing status values reported by the server for a series.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ProcessingStatus describes the server-side ingest state of a series.
type ProcessingStatus struct {
	// CurrentTask is the ingest step the server is working on, if any.
	CurrentTask string `json:"currentTask,omitempty"`
	// Progress is the ingest completion fraction (0..1).
	Progress float64 `json:"progress,omitempty"`
	// Status is one of the Status* constants.
	Status string `json:"status"`
}

// ///////////////////////////////////////////////
// Library / Series / Book
// ///////////////////////////////////////////////

// Library is a top-level Komga library.
type Library struct {
	// ID is the library identifier.
	ID string `json:"id"`
	// Name is the display name shown in the Komga UI.
	Name string `json:"name"`
	// Type is the library kind (e.g. "BOOK", "COMIC"), optional.
	Type string `json:"type,omitempty"`
}

// Author is a creator credit attached to a series or book.
type Author struct {
	// Name is the author's display name.
	Name string `json:"name"`
	// FileAs is the optional sort name (e.g. "Tolkien, J. R. R.").
	FileAs string `json:"fileAs,omitempty"`
	// Role is the optional credit role (e.g. "writer", "artist").
	Role string `json:"role,omitempty"`
}

// SeriesMetadata holds the editable metadata block of a series.
type SeriesMetadata struct {
	// Title is the metadata-level series title, used as a fallback when the
	// top-level title is absent.
	Title string `json:"title,omitempty"`
}

// Series is a logical grouping of books (e.g. a comic or manga title).
type Series struct {
	// ID is the series identifier.
	ID string `json:"id"`
	// LibraryID is the identifier of the owning library.
	LibraryID string `json:"libraryId,omitempty"`
	// Title is the top-level series title, optional.
	Title string `json:"title,omitempty"`
	// Metadata holds the editable metadata block.
	Metadata SeriesMetadata `json:"metadata,omitempty"`
	// Authors lists series-level creator credits.
	Authors []Author `json:"authors,omitempty"`
	// ProcessingStatus is the server ingest state; nil when not reported.
	ProcessingStatus *ProcessingStatus `json:"processingStatus,omitempty"`
}

// Failed reports whether the series is in a failed ingest state.
// Failed series are excluded from activity candidacy.
func (s *Series) Failed() bool {
	return s.ProcessingStatus != nil && s.ProcessingStatus.Status == StatusFailed
}

// BookMetadata holds the editable metadata block of a book.
type BookMetadata struct {
	// Title is the metadata-level book title.
	Title string `json:"title,omitempty"`
	// Authors lists book-level creator credits.
	Authors []Author `json:"authors,omitempty"`
}

// ReadProgress is the per-book reading cursor tracked by the server.
type ReadProgress struct {
	// Page is the current page number; zero means not reported.
	Page int `json:"page,omitempty"`
	// Completed is true once the book has been finished.
	Completed bool `json:"completed"`
	// LastModified is the ISO-8601 timestamp of the last progress update.
	// Parse with [ParseTime]; the server omits or garbles it occasionally.
	LastModified string `json:"lastModified,omitempty"`
}

// Book is a single readable item within a series.
type Book struct {
	// ID is the book identifier.
	ID string `json:"id"`
	// SeriesID is the identifier of the owning series.
	SeriesID string `json:"seriesId,omitempty"`
	// LibraryID is the identifier of the owning library.
	LibraryID string `json:"libraryId,omitempty"`
	// Title is the top-level book title, optional.
	Title string `json:"title,omitempty"`
	// Metadata holds the editable metadata block.
	Metadata BookMetadata `json:"metadata,omitempty"`
	// ReadProgress is the reading cursor; nil when the book was never opened.
	ReadProgress *ReadProgress `json:"readProgress,omitempty"`
}

// Page is the paged envelope Komga wraps list responses in.
type Page[T any] struct {
	// Content holds the items of this page.
	Content []T `json:"content"`
	// Number is the zero-based page index.
	Number int `json:"number"`
	// Last is true on the final page.
	Last bool `json:"last"`
}

// ///////////////////////////////////////////////
// Timestamp Parsing
// ///////////////////////////////////////////////

// timeLayouts is the ordered list of layouts tried by [ParseTime]. Komga
// emits RFC 3339 with or without fractional seconds, and some versions emit
// naive timestamps without a zone designator (interpreted as UTC).
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTime parses a Komga timestamp string, trying each known layout in
// order. The second return value is false when no layout matches or the
// input is empty.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
