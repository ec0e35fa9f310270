// Package imaging normalizes item photos: it checks the real format of the
// upload, bounds the pixel size and re-encodes everything as JPEG.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"

	"github.com/erazemk/popis/internal/model"
)

// MIME is the type of every processed image.
const MIME = "image/jpeg"

// Options bound the processed output.
type Options struct {
	MaxDimension int   // longest side in pixels
	Quality      int   // JPEG quality, 1-100
	MaxBytes     int64 // largest accepted upload
}

// PhotoOptions are used for stored item photos.
var PhotoOptions = Options{MaxDimension: 1024, Quality: 85, MaxBytes: 10 << 20}

// ThumbnailOptions are used for list thumbnails derived from stored photos.
var ThumbnailOptions = Options{MaxDimension: 160, Quality: 75, MaxBytes: 10 << 20}

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Result is a processed image.
type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Process validates the image in r by sniffing its bytes, downscales it to
// opts.MaxDimension and re-encodes it as JPEG. Rejected input wraps
// model.ErrValidation.
func Process(r io.Reader, opts Options) (*Result, error) {
	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, fmt.Errorf("%w: image larger than %d bytes", model.ErrValidation, opts.MaxBytes)
	}

	// Client headers are not trusted.
	detected := http.DetectContentType(data)
	if !allowedMIME[detected] {
		return nil, fmt.Errorf("%w: unsupported image format %s, only JPEG and PNG are accepted", model.ErrValidation, detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", model.ErrValidation, err)
	}

	img = downscale(img, opts.MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}

	b := img.Bounds()
	return &Result{Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// downscale resizes img so neither side exceeds maxDim, keeping the aspect
// ratio. Smaller images are returned unchanged.
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	newW, newH := maxDim, maxDim
	if w > h {
		newH = max(1, h*maxDim/w)
	} else {
		newW = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
