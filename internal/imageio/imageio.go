// Package imageio converts between encoded images and raw RGBA buffers
package imageio

import (
	"bytes"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	"image/png"
	"io"

	_ "golang.org/x/image/bmp"  // BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder

	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
)

// Decode reads any registered image format into a tightly packed,
// non-premultiplied RGBA image, the layout canvas ImageData uses.
// When width and height are both positive the image is scaled to that size.
// Both the declared source size and the output size must stay within
// maxPixels; the source header is checked before any pixel is decoded.
func Decode(r io.Reader, width, height, maxPixels int) (*image.NRGBA, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.CodeInvalidArgument, "cannot read image")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.CodeInvalidArgument, "cannot decode image header")
	}
	if err := checkPixels("source image", cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, "", err
	}
	if width > 0 && height > 0 {
		if err := checkPixels("requested size", width, height, maxPixels); err != nil {
			return nil, "", err
		}
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.CodeInvalidArgument, "cannot decode image")
	}

	b := src.Bounds()
	if width <= 0 || height <= 0 {
		width, height = b.Dx(), b.Dy()
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	if width == b.Dx() && height == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}
	return dst, format, nil
}

func checkPixels(what string, width, height, maxPixels int) error {
	if width > 0 && height > 0 && width > maxPixels/height {
		return apperrors.Newf(apperrors.CodeInvalidBufferSize,
			"%s %dx%d exceeds %d pixels", what, width, height, maxPixels)
	}
	return nil
}

// FromPixels views an RGBA buffer as an image without copying.
func FromPixels(pix []byte, width, height int) *image.NRGBA {
	return &image.NRGBA{Pix: pix, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
}

// EncodePNG writes an RGBA buffer as PNG.
func EncodePNG(w io.Writer, pix []byte, width, height int) error {
	return png.Encode(w, FromPixels(pix, width, height))
}
