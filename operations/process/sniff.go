package process

import (
	"bytes"
)

// FileType is the result of sniffing a body's leading signature bytes.
type FileType struct {
	Ext  string
	Mime string
}

var zip_signature = []byte{0x50, 0x4B, 0x03, 0x04}

// IsZip reports whether the body carries the ZIP container signature.
func IsZip(body []byte) bool {

	if len(body) < 4 {
		return false
	}

	return bytes.Equal(body[:4], zip_signature)
}

// heic_brands are the ISO-media brands classified as HEIC images; any other
// "ftyp" container is treated as MP4 / video-like.
var heic_brands = []string{"heic", "heix", "mif1", "msf1"}

// SniffFileType identifies a body from its signature bytes. It returns nil
// for anything unrecognized.
func SniffFileType(body []byte) *FileType {

	if len(body) < 12 {
		return nil
	}

	if body[0] == 0xFF && body[1] == 0xD8 && body[2] == 0xFF {
		return &FileType{Ext: "jpg", Mime: "image/jpeg"}
	}

	if body[0] == 0x89 && body[1] == 0x50 && body[2] == 0x4E && body[3] == 0x47 {
		return &FileType{Ext: "png", Mime: "image/png"}
	}

	if body[0] == 0x47 && body[1] == 0x49 && body[2] == 0x46 && body[3] == 0x38 {
		return &FileType{Ext: "gif", Mime: "image/gif"}
	}

	if string(body[4:8]) == "ftyp" {

		brand := string(body[8:12])

		for _, b := range heic_brands {

			if brand == b {
				return &FileType{Ext: "heic", Mime: "image/heic"}
			}
		}

		return &FileType{Ext: "mp4", Mime: "video/mp4"}
	}

	return nil
}
