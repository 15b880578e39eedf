// Package komga provides a typed, read-only client for the Komga media
// server's REST API.
//
// Every call authenticates with the X-API-Key header. Non-2xx responses are
// classified at this boundary into [*StatusError] values so callers can
// distinguish auth failures ([IsUnauthorized]), missing resources
// ([IsNotFound]), and unsupported endpoints ([IsUnsupported]) without
// inspecting opaque errors later.
package komga

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxResponseBytes caps the size of any API response body (10 MiB). Covers
// thumbnails as well; Komga thumbnails are small JPEG/PNG posters.
const maxResponseBytes = 10 << 20

// ///////////////////////////////////////////////
// Errors
// ///////////////////////////////////////////////

// StatusError is returned for any non-2xx API response.
type StatusError struct {
	// Status is the HTTP status code.
	Status int
	// URL is the request URL that produced the status.
	URL string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// IsUnauthorized reports whether err carries an HTTP 401 from the API.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusUnauthorized
}

// IsNotFound reports whether err carries an HTTP 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// IsUnsupported reports whether err indicates the server does not implement
// the requested endpoint or filter (400, 404, or 405). Used for capability
// detection when probing the in-progress filter.
func IsUnsupported(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed:
		return true
	}
	return false
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Client issues authenticated requests against a Komga server.
type Client struct {
	// baseURL is the server root without a trailing slash.
	baseURL string
	// apiKey is sent as the X-API-Key header on every request.
	apiKey string
	// http is the retrying HTTP client used for all calls.
	http *retryablehttp.Client
}

// NewClient creates a client for the Komga server at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = nil // suppress retryablehttp's default logging

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    rc,
	}
}

// BaseURL returns the configured server root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// get issues an authenticated GET and returns the response body.
// Any non-2xx status becomes a [*StatusError].
func (c *Client) get(path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", u, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, URL: u}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", u, err)
	}
	return body, nil
}

// getJSON issues an authenticated GET and decodes the JSON response into v.
func (c *Client) getJSON(path string, query url.Values, v any) error {
	body, err := c.get(path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parsing response from %s: %w", path, err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Listing Endpoints
// ///////////////////////////////////////////////

// BooksInProgress fetches one page of books with in-progress read status,
// sorted by most recently modified progress first. This is the preferred
// candidate source; servers lacking the filter answer with a status that
// satisfies [IsUnsupported].
func (c *Client) BooksInProgress(page int) (*Page[Book], error) {
	q := url.Values{}
	q.Set("readStatus", "IN_PROGRESS")
	q.Set("sort", "lastModified,desc")
	q.Set("page", strconv.Itoa(page))

	var p Page[Book]
	if err := c.getJSON("/api/v1/books", q, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Libraries fetches all libraries.
func (c *Client) Libraries() ([]Library, error) {
	var libs []Library
	if err := c.getJSON("/api/v1/libraries", nil, &libs); err != nil {
		return nil, err
	}
	return libs, nil
}

// Library fetches a single library by ID.
func (c *Client) Library(id string) (*Library, error) {
	var lib Library
	if err := c.getJSON("/api/v1/libraries/"+url.PathEscape(id), nil, &lib); err != nil {
		return nil, err
	}
	return &lib, nil
}

// Series fetches one page of series belonging to a library.
func (c *Client) Series(libraryID string, page int) (*Page[Series], error) {
	q := url.Values{}
	q.Set("library_id", libraryID)
	q.Set("page", strconv.Itoa(page))

	var p Page[Series]
	if err := c.getJSON("/api/v1/series", q, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SeriesByID fetches a single series by ID.
func (c *Client) SeriesByID(id string) (*Series, error) {
	var s Series
	if err := c.getJSON("/api/v1/series/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SeriesBooks fetches all books of a series.
func (c *Client) SeriesBooks(seriesID string) ([]Book, error) {
	var books []Book
	if err := c.getJSON("/api/v1/series/"+url.PathEscape(seriesID)+"/books", nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

// Book fetches a single book by ID.
func (c *Client) Book(id string) (*Book, error) {
	var b Book
	if err := c.getJSON("/api/v1/books/"+url.PathEscape(id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// BookProgress fetches the read progress of a book. Books that were never
// opened answer 404, which callers should treat as "no progress".
func (c *Client) BookProgress(bookID string) (*ReadProgress, error) {
	var rp ReadProgress
	if err := c.getJSON("/api/v1/books/"+url.PathEscape(bookID)+"/progress", nil, &rp); err != nil {
		return nil, err
	}
	return &rp, nil
}

// ///////////////////////////////////////////////
// Thumbnails
// ///////////////////////////////////////////////

// SeriesThumbnail fetches the raw poster image bytes for a series.
// A missing poster answers 404, satisfying [IsNotFound].
func (c *Client) SeriesThumbnail(seriesID string) ([]byte, error) {
	return c.get("/api/v1/series/"+url.PathEscape(seriesID)+"/thumbnail", nil)
}

// SeriesThumbnailURL returns the direct URL of a series poster. Only useful
// when the Komga server is reachable from wherever the presence image is
// rendered.
func (c *Client) SeriesThumbnailURL(seriesID string) string {
	return c.baseURL + "/api/v1/series/" + url.PathEscape(seriesID) + "/thumbnail"
}
