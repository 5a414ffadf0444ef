// Package exifwriter embeds GPS position and original-capture-time metadata
// in to JPEG bodies by rewriting the file's APP1 (EXIF) segment, and verifies
// that the result still decodes.
package exifwriter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

func init() {
	exif.RegisterParsers(mknote.All...)
}

// TIFF field types.
const (
	type_byte     = 1
	type_ascii    = 2
	type_long     = 4
	type_rational = 5
)

// TIFF / EXIF tags.
const (
	tag_exif_ifd_pointer = 0x8769
	tag_gps_ifd_pointer  = 0x8825

	tag_datetime_original = 0x9003

	tag_gps_version_id    = 0x0000
	tag_gps_latitude_ref  = 0x0001
	tag_gps_latitude      = 0x0002
	tag_gps_longitude_ref = 0x0003
	tag_gps_longitude     = 0x0004
)

// Embed returns a copy of 'body' with an APP1 (EXIF) segment carrying the
// coordinate and the original capture time. Any pre-existing APP1 segment is
// replaced. 'body' must be a JPEG; anything else is an error.
func Embed(body []byte, latitude float64, longitude float64, taken time.Time) ([]byte, error) {

	if len(body) < 2 || body[0] != 0xFF || body[1] != 0xD8 {
		return nil, fmt.Errorf("Body is not a JPEG")
	}

	payload := tiffPayload(latitude, longitude, taken)

	// APP1 marker, big-endian length (includes the length field itself).

	app1 := make([]byte, 0, len(payload)+4)
	app1 = append(app1, 0xFF, 0xE1)

	app1 = binary.BigEndian.AppendUint16(app1, uint16(len(payload)+2))
	app1 = append(app1, payload...)

	out := make([]byte, 0, len(body)+len(app1))
	out = append(out, 0xFF, 0xD8)
	out = append(out, app1...)

	rest, err := stripApp1(body[2:])

	if err != nil {
		return nil, err
	}

	out = append(out, rest...)
	return out, nil
}

// Verify checks that 'body' still decodes as an image and that its EXIF
// container is readable.
func Verify(body []byte) error {

	_, _, err := image.Decode(bytes.NewReader(body))

	if err != nil {
		return fmt.Errorf("Failed to decode body as an image, %w", err)
	}

	x, err := exif.Decode(bytes.NewReader(body))

	if err != nil {
		return fmt.Errorf("Failed to decode EXIF container, %w", err)
	}

	_, err = x.Get(exif.DateTimeOriginal)

	if err != nil {
		return fmt.Errorf("EXIF container is missing DateTimeOriginal, %w", err)
	}

	return nil
}

// stripApp1 walks the JPEG segment stream following SOI and removes any APP1
// segment, copying everything else verbatim. Walking stops at the start-of-scan
// marker; entropy-coded data is never inspected.
func stripApp1(body []byte) ([]byte, error) {

	out := make([]byte, 0, len(body))
	offset := 0

	for {

		if offset+2 > len(body) {
			return nil, fmt.Errorf("Truncated JPEG segment stream at offset %d", offset)
		}

		if body[offset] != 0xFF {
			return nil, fmt.Errorf("Invalid JPEG marker byte 0x%02X at offset %d", body[offset], offset)
		}

		marker := body[offset+1]

		// SOS: the remainder is entropy-coded data (and the EOI marker).

		if marker == 0xDA {
			out = append(out, body[offset:]...)
			return out, nil
		}

		if offset+4 > len(body) {
			return nil, fmt.Errorf("Truncated JPEG segment header at offset %d", offset)
		}

		length := int(binary.BigEndian.Uint16(body[offset+2 : offset+4]))

		if offset+2+length > len(body) {
			return nil, fmt.Errorf("JPEG segment overruns body at offset %d", offset)
		}

		if marker != 0xE1 {
			out = append(out, body[offset:offset+2+length]...)
		}

		offset = offset + 2 + length
	}
}

// tiffPayload builds the complete "Exif\0\0" + TIFF structure: an IFD0
// pointing at an Exif IFD (DateTimeOriginal) and a GPS IFD (version, latitude
// and longitude with hemisphere references). Little-endian byte order.
func tiffPayload(latitude float64, longitude float64, taken time.Time) []byte {

	// Fixed layout, all offsets relative to the TIFF header:
	//
	//   0   header (8 bytes)
	//   8   IFD0: 2 entries            (2 + 2*12 + 4 = 30)
	//   38  Exif IFD: 1 entry          (2 + 1*12 + 4 = 18)
	//   56  GPS IFD: 5 entries         (2 + 5*12 + 4 = 66)
	//   122 DateTimeOriginal (20 bytes)
	//   142 latitude rationals (24 bytes)
	//   166 longitude rationals (24 bytes)

	const exif_ifd_offset = 38
	const gps_ifd_offset = 56
	const datetime_offset = 122
	const lat_offset = 142
	const lon_offset = 166

	var buf bytes.Buffer

	buf.WriteString("Exif\x00\x00")

	// TIFF header.

	buf.WriteString("II")
	le16(&buf, 0x002A)
	le32(&buf, 8)

	// IFD0.

	le16(&buf, 2)
	entry(&buf, tag_exif_ifd_pointer, type_long, 1, exif_ifd_offset)
	entry(&buf, tag_gps_ifd_pointer, type_long, 1, gps_ifd_offset)
	le32(&buf, 0)

	// Exif IFD.

	le16(&buf, 1)
	entry(&buf, tag_datetime_original, type_ascii, 20, datetime_offset)
	le32(&buf, 0)

	// GPS IFD.

	lat_ref := "N"

	if latitude < 0 {
		lat_ref = "S"
	}

	lon_ref := "E"

	if longitude < 0 {
		lon_ref = "W"
	}

	le16(&buf, 5)
	entryBytes(&buf, tag_gps_version_id, type_byte, 4, []byte{2, 3, 0, 0})
	entryBytes(&buf, tag_gps_latitude_ref, type_ascii, 2, []byte{lat_ref[0], 0, 0, 0})
	entry(&buf, tag_gps_latitude, type_rational, 3, lat_offset)
	entryBytes(&buf, tag_gps_longitude_ref, type_ascii, 2, []byte{lon_ref[0], 0, 0, 0})
	entry(&buf, tag_gps_longitude, type_rational, 3, lon_offset)
	le32(&buf, 0)

	// Value area.

	buf.WriteString(taken.UTC().Format("2006:01:02 15:04:05"))
	buf.WriteByte(0)

	writeDms(&buf, math.Abs(latitude))
	writeDms(&buf, math.Abs(longitude))

	return buf.Bytes()
}

// writeDms encodes a decimal degree value as three EXIF rationals: whole
// degrees, whole minutes and seconds scaled by 100.
func writeDms(buf *bytes.Buffer, deg float64) {

	d := math.Floor(deg)
	min_f := (deg - d) * 60.0
	m := math.Floor(min_f)
	s := math.Round((min_f - m) * 60.0 * 100.0)

	le32(buf, uint32(d))
	le32(buf, 1)
	le32(buf, uint32(m))
	le32(buf, 1)
	le32(buf, uint32(s))
	le32(buf, 100)
}

func entry(buf *bytes.Buffer, tag uint16, typ uint16, count uint32, value uint32) {

	le16(buf, tag)
	le16(buf, typ)
	le32(buf, count)
	le32(buf, value)
}

func entryBytes(buf *bytes.Buffer, tag uint16, typ uint16, count uint32, value []byte) {

	le16(buf, tag)
	le16(buf, typ)
	le32(buf, count)
	buf.Write(value)
}

func le16(buf *bytes.Buffer, v uint16) {
	binary.Write(buf, binary.LittleEndian, v)
}

func le32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.LittleEndian, v)
}
