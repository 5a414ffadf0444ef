// Package parser extracts memory descriptors from the HTML document included
// in a media-location export.
package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sfomuseum/go-memories"
)

// linkExpiry is how long an export's signed links remain valid after the
// export was created. This mirrors an undocumented upstream contract; do not
// "improve" it.
const linkExpiry = 7 * 24 * time.Hour

var onclick_re = regexp.MustCompile(`downloadMemories\('([^']*)',\s*this,\s*(true|false)\)`)

var coordinate_re = regexp.MustCompile(`(-?\d+(?:\.\d+)?),\s*(-?\d+(?:\.\d+)?)`)

// dateLayout matches the capture timestamps in export documents.
const dateLayout = "2006-01-02 15:04:05 UTC"

// Parse extracts the ordered list of memories from an export document.
// Rows that can not be parsed are logged and skipped; they never fail the
// document. The returned expiry is derived from the latest export-creation
// timestamp observed in any GET-style URL, when one is present.
func Parse(ctx context.Context, r io.Reader) (*memories.ParseResult, error) {

	doc, err := goquery.NewDocumentFromReader(r)

	if err != nil {
		return nil, fmt.Errorf("Failed to parse export document, %w", err)
	}

	logger := slog.Default()

	ms := make([]*memories.Memory, 0)

	var latest_created time.Time

	doc.Find("tbody tr").Each(func(i int, row *goquery.Selection) {

		m, created, row_err := parseRow(row)

		if row_err != nil {
			logger.Warn("Failed to parse memory row, skipping", "row", i, "error", row_err)
			return
		}

		if m == nil {
			return
		}

		if created != nil && created.After(latest_created) {
			latest_created = *created
		}

		ms = append(ms, m)
	})

	rsp := &memories.ParseResult{
		Memories: ms,
	}

	if !latest_created.IsZero() {
		expires := latest_created.Add(linkExpiry)
		rsp.ExpiresAt = &expires
	}

	return rsp, nil
}

func parseRow(row *goquery.Selection) (*memories.Memory, *time.Time, error) {

	cells := row.Find("td")

	if cells.Length() < 4 {
		return nil, nil, nil
	}

	date_str := strings.TrimSpace(cells.Eq(0).Text())
	type_str := strings.TrimSpace(cells.Eq(1).Text())
	location_str := strings.TrimSpace(cells.Eq(2).Text())

	link := cells.Eq(3).Find("a").First()

	onclick, ok := link.Attr("onclick")

	if !ok {
		return nil, nil, nil
	}

	match := onclick_re.FindStringSubmatch(onclick)

	if match == nil {
		return nil, nil, nil
	}

	download_url := match[1]
	is_get := match[2] == "true"

	media_type := memories.MediaType(type_str)

	if download_url == "" || date_str == "" {
		return nil, nil, nil
	}

	if media_type != memories.MediaTypeImage && media_type != memories.MediaTypeVideo {
		return nil, nil, nil
	}

	date, err := time.Parse(dateLayout, date_str)

	if err != nil {
		return nil, nil, fmt.Errorf("Failed to parse capture time '%s', %w", date_str, err)
	}

	lat, lon := parseCoordinate(location_str)

	id := memories.MemoryId(download_url)

	m := &memories.Memory{
		Id:           id,
		Date:         date,
		Type:         media_type,
		Latitude:     lat,
		Longitude:    lon,
		Country:      memories.CountryPending,
		DownloadURL:  download_url,
		IsGetRequest: is_get,
		Filename:     memories.MemoryFilename(media_type, date, id),
	}

	var created *time.Time

	if is_get {
		created = exportCreated(download_url)
	}

	return m, created, nil
}

// parseCoordinate extracts a "lat, lon" pair from a location cell. Anything
// missing or out of range collapses to the (0, 0) "unknown" sentinel.
func parseCoordinate(location_str string) (float64, float64) {

	match := coordinate_re.FindStringSubmatch(location_str)

	if match == nil {
		return 0, 0
	}

	lat, lat_err := strconv.ParseFloat(match[1], 64)
	lon, lon_err := strconv.ParseFloat(match[2], 64)

	if lat_err != nil || lat < -90 || lat > 90 {
		lat = 0
	}

	if lon_err != nil || lon < -180 || lon > 180 {
		lon = 0
	}

	return lat, lon
}

// exportCreated derives the export-creation time from a signed URL's "ts"
// query parameter (milliseconds).
func exportCreated(download_url string) *time.Time {

	u, err := url.Parse(download_url)

	if err != nil {
		return nil
	}

	ts := u.Query().Get("ts")

	if ts == "" {
		return nil
	}

	millis, err := strconv.ParseInt(ts, 10, 64)

	if err != nil {
		return nil
	}

	created := time.UnixMilli(millis).UTC()
	return &created
}
