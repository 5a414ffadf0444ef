package process

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedManifest signals a JSON manifest that does not carry the
// expected primary media entry.
var ErrMalformedManifest = errors.New("Malformed manifest")

// Manifest is the decoded form of the JSON indirection document some
// downloads resolve to: pointers to the real media and an optional overlay.
type Manifest struct {
	// The media type label of the primary entry (PHOTO or VIDEO).
	MediaType string
	// The URL of the primary media.
	MediaURI string
	// The URL of the overlay content, when present.
	OverlayURI string
}

// ParseManifest decodes a manifest body. The primary media entry is
// required; the overlay entry is optional.
func ParseManifest(body []byte) (*Manifest, error) {

	media_rsp := gjson.GetBytes(body, "Media")

	if !media_rsp.Exists() {
		media_rsp = gjson.GetBytes(body, "media")
	}

	if !media_rsp.IsArray() {
		return nil, fmt.Errorf("%w: missing media list", ErrMalformedManifest)
	}

	var m Manifest

	for _, entry := range media_rsp.Array() {

		media_type := entry.Get("Media Type").String()
		uri := entry.Get("URI").String()

		if uri == "" {
			continue
		}

		switch media_type {
		case "PHOTO", "VIDEO":

			if m.MediaURI == "" {
				m.MediaType = media_type
				m.MediaURI = uri
			}

		case "PHOTO_OVERLAY":

			if m.OverlayURI == "" {
				m.OverlayURI = uri
			}

		default:
			// pass
		}
	}

	if m.MediaURI == "" {
		return nil, fmt.Errorf("%w: missing primary media entry", ErrMalformedManifest)
	}

	return &m, nil
}
