// Package cover resolves a displayable cover image URL for a series.
//
// Discord fetches presence images over the public internet, so a cover URL
// pointing at a LAN-only Komga server is usually invisible to viewers. The
// resolver therefore supports re-hosting the server's thumbnail on Imgur,
// caching the public link per series so each cover is uploaded at most once
// per process lifetime. A missing cover is a normal, displayable state, never
// an error.
package cover

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultUploadURL is the Imgur anonymous image upload endpoint.
const DefaultUploadURL = "https://api.imgur.com/3/image"

// Re-hosting modes.
const (
	// ModeImgur uploads the thumbnail to Imgur and uses the returned link.
	ModeImgur = "imgur"
	// ModeDirect uses the Komga thumbnail URL as-is. Only sensible when the
	// server is reachable from the presence viewer's side.
	ModeDirect = "direct"
	// ModeOff disables cover images entirely.
	ModeOff = "off"
)

// ///////////////////////////////////////////////
// Thumbnail Source
// ///////////////////////////////////////////////

// ThumbnailSource provides series poster bytes and direct URLs.
// *komga.Client satisfies it.
type ThumbnailSource interface {
	SeriesThumbnail(seriesID string) ([]byte, error)
	SeriesThumbnailURL(seriesID string) string
}

// ///////////////////////////////////////////////
// Resolver
// ///////////////////////////////////////////////

// Resolver obtains public cover URLs with a per-series memory cache.
// It is owned by the poll loop and accessed from a single goroutine, so the
// cache map needs no locking.
type Resolver struct {
	// source fetches thumbnail bytes from the library server.
	source ThumbnailSource
	// mode is one of the Mode* constants.
	mode string
	// imgurClientID authorizes anonymous Imgur uploads in ModeImgur.
	imgurClientID string
	// uploadURL is the image host endpoint; overridable for tests.
	uploadURL string
	// http is the retrying client used for uploads.
	http *retryablehttp.Client
	// cache maps series ID to a previously resolved public URL. Entries
	// never expire; cover art rarely changes within a process lifetime.
	cache map[string]string
}

// NewResolver creates a Resolver in the given mode.
func NewResolver(source ThumbnailSource, mode, imgurClientID string) *Resolver {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 1
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &Resolver{
		source:        source,
		mode:          mode,
		imgurClientID: imgurClientID,
		uploadURL:     DefaultUploadURL,
		http:          rc,
		cache:         make(map[string]string),
	}
}

// Configure swaps the thumbnail source and re-hosting settings while keeping
// the cache, so a config reload does not re-upload covers already resolved.
func (r *Resolver) Configure(source ThumbnailSource, mode, imgurClientID string) {
	r.source = source
	r.mode = mode
	r.imgurClientID = imgurClientID
}

// Resolve returns a public cover URL for the series, or ok=false when no
// cover is available. Cache hits short-circuit with no network calls.
func (r *Resolver) Resolve(seriesID string) (url string, ok bool) {
	if r.mode == ModeOff || seriesID == "" {
		return "", false
	}

	if cached, hit := r.cache[seriesID]; hit {
		return cached, true
	}

	if r.mode == ModeDirect {
		u := r.source.SeriesThumbnailURL(seriesID)
		r.cache[seriesID] = u
		return u, true
	}

	data, err := r.source.SeriesThumbnail(seriesID)
	if err != nil {
		// A 404 means the series simply has no poster; anything else is a
		// degraded-but-displayable state too.
		slog.Debug("thumbnail fetch failed", "series", seriesID, "error", err)
		return "", false
	}

	link, err := r.upload(data)
	if err != nil {
		slog.Warn("cover upload failed", "series", seriesID, "error", err)
		return "", false
	}

	r.cache[seriesID] = link
	return link, true
}

// ///////////////////////////////////////////////
// Imgur Upload
// ///////////////////////////////////////////////

// imgurResponse is the envelope returned by the Imgur image endpoint.
type imgurResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

// upload posts the image bytes to the image host as a multipart form and
// returns the public link.
func (r *Resolver) upload(image []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "cover.jpg")
	if err != nil {
		return "", fmt.Errorf("building multipart form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("writing image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart form: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, r.uploadURL, body.Bytes())
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Client-ID "+r.imgurClientID)

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST %s: %w", r.uploadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("POST %s: status %d", r.uploadURL, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}

	var ir imgurResponse
	if err := json.Unmarshal(raw, &ir); err != nil {
		return "", fmt.Errorf("parsing upload response: %w", err)
	}
	if !ir.Success || ir.Data.Link == "" {
		return "", fmt.Errorf("upload rejected by image host")
	}
	return ir.Data.Link, nil
}
