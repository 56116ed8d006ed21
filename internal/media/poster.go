package media

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const (
	posterWidth   = 640
	posterHeight  = 360
	posterQuality = 82
)

// renderPoster fits a decoded frame inside the poster box and re-encodes it
// as JPEG.
func renderPoster(frame []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(frame), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	fitted := imaging.Fit(src, posterWidth, posterHeight, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(posterQuality)); err != nil {
		return nil, fmt.Errorf("encode poster: %w", err)
	}
	return buf.Bytes(), nil
}
