package memories

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// MediaType describes the kind of media a Memory points to.
type MediaType string

const (
	MediaTypeImage MediaType = "Image"
	MediaTypeVideo MediaType = "Video"
)

// DownloadState describes where a Memory is in the retrieval pipeline.
type DownloadState string

const (
	DownloadStatePending    DownloadState = "pending"
	DownloadStateProcessing DownloadState = "processing"
	DownloadStateSuccess    DownloadState = "success"
	DownloadStateError      DownloadState = "error"
)

// Country labels assigned outside of (or in place of) boundary classification.
const (
	CountryPending       = "PENDING_GEOCODING"
	CountryNoLocation    = "NO_LOCATION_DATA"
	CountryNotIdentified = "LOCATION_NOT_IDENTIFIED"
	CountryAPIError      = "API_ERROR"
	CountryUnknown       = "COUNTRY_UNKNOWN"
)

// Memory is a single exportable media item with location, timestamp and
// retrieval metadata. Identity fields are immutable once parsed; the
// download* fields are mutated in place by the retrieval pipeline.
type Memory struct {
	// A stable content-derived identifier (SHA-1 of the primary download URL).
	Id string `json:"id"`
	// The original capture time, UTC.
	Date time.Time `json:"date"`
	// One of MediaTypeImage or MediaTypeVideo.
	Type MediaType `json:"type"`
	// The capture coordinate. (0, 0) is the "unknown" sentinel.
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// The country label assigned by classification.
	Country string `json:"country"`
	// The URL the primary content is fetched from.
	DownloadURL string `json:"download_url"`
	// Whether DownloadURL is fetched with a plain GET or via a POST
	// redirect exchange for a signed URL.
	IsGetRequest bool `json:"is_get_request"`
	// An optional URL for overlay content fetched separately from the
	// primary content.
	OverlayURL string `json:"overlay_url,omitempty"`
	// The destination filename inside the archive.
	Filename string `json:"filename"`

	DownloadState    DownloadState `json:"download_state,omitempty"`
	DownloadProgress int           `json:"download_progress,omitempty"`
	RetryCount       int           `json:"retry_count,omitempty"`
}

// HasLocation returns true unless the memory carries the (0, 0) "unknown
// coordinate" sentinel.
func (m *Memory) HasLocation() bool {
	return m.Latitude != 0 || m.Longitude != 0
}

// Year returns the (UTC) capture year for the memory.
func (m *Memory) Year() int {
	return m.Date.UTC().Year()
}

// ParseResult is the output of extracting an export document: the ordered
// list of memories it describes and, when it can be derived, the time the
// export's signed links expire.
type ParseResult struct {
	Memories  []*Memory  `json:"memories"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SelectionMode describes what a Selection is keyed on.
type SelectionMode string

const (
	SelectionModeYear    SelectionMode = "year"
	SelectionModeCountry SelectionMode = "country"
)

// Selection is the active selection context. It is used only for archive
// path computation and output filenames.
type Selection struct {
	Mode SelectionMode
	// The selected year, when Mode is SelectionModeYear.
	Year int
	// The selected country label, when Mode is SelectionModeCountry.
	Country string
	// When true memories under the selected country are grouped in
	// per-year folders (the country-then-year drill-down).
	YearsForCountry bool
}

// Label returns the display value for the selection.
func (s *Selection) Label() string {

	if s.Mode == SelectionModeYear {
		return strconv.Itoa(s.Year)
	}

	return s.Country
}

// MemoryId derives the stable identifier for a memory from its primary
// download URL.
func MemoryId(download_url string) string {

	h := sha1.New()
	h.Write([]byte(download_url))

	hash := h.Sum(nil)
	return hex.EncodeToString(hash[:])
}

// MemoryFilename derives the destination filename for a memory from its
// capture time, media type and identifier.
func MemoryFilename(t MediaType, d time.Time, id string) string {

	ext := "jpg"

	if t == MediaTypeVideo {
		ext = "mp4"
	}

	short_id := id

	if len(short_id) > 8 {
		short_id = short_id[:8]
	}

	return fmt.Sprintf("%s_%s_%s.%s", d.UTC().Format("2006-01-02_15-04-05"), t, short_id, ext)
}

// SanitizeName strips characters that are invalid in file and folder names
// across common filesystems and collapses whitespace runs to a single
// underscore. An empty result falls back to a placeholder name.
func SanitizeName(name string) string {

	var b strings.Builder

	last_space := false

	for _, r := range name {

		if strings.ContainsRune(`\/?%*:|"<>`, r) {
			continue
		}

		if unicode.IsSpace(r) {

			if !last_space && b.Len() > 0 {
				b.WriteRune('_')
			}

			last_space = true
			continue
		}

		last_space = false
		b.WriteRune(r)
	}

	sanitized := strings.Trim(b.String(), "_")

	if sanitized == "" {
		return "Invalid_Name"
	}

	return sanitized
}
