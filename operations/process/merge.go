package process

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/aaronland/go-image-tools/imaging"
	"github.com/aaronland/go-image-tools/util"
	"github.com/nfnt/resize"
)

// mergeQuality is the JPEG quality used when re-encoding a composited image.
const mergeQuality = 98

// MergeOverlay composites overlay bytes on top of primary image bytes. The
// overlay is scaled to the primary's dimensions and the result is re-encoded
// as JPEG.
func MergeOverlay(primary []byte, overlay []byte) ([]byte, error) {

	primary_im, _, err := util.DecodeImageFromReader(bytes.NewReader(primary))

	if err != nil {
		return nil, fmt.Errorf("Failed to decode primary image, %w", err)
	}

	overlay_im, _, err := util.DecodeImageFromReader(bytes.NewReader(overlay))

	if err != nil {
		return nil, fmt.Errorf("Failed to decode overlay image, %w", err)
	}

	bounds := primary_im.Bounds()

	scaled := resize.Resize(uint(bounds.Dx()), uint(bounds.Dy()), overlay_im, resize.Lanczos3)
	merged := imaging.Overlay(primary_im, scaled, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer

	err = jpeg.Encode(&buf, merged, &jpeg.Options{Quality: mergeQuality})

	if err != nil {
		return nil, fmt.Errorf("Failed to encode merged image, %w", err)
	}

	return buf.Bytes(), nil
}
