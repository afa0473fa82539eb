package upload

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// DefaultJPEGQuality is used when normalizing pages
const DefaultJPEGQuality = 90

// DefaultMaxUploadBytes caps the body of one file upload request
const DefaultMaxUploadBytes int64 = 512 << 20

// decodeImage decodes any registered format. name is only used in the
// validation message.
func decodeImage(r io.Reader, name string) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, mangashelf.Invalid("'%s' is not an image", name)
	}
	return img, nil
}

// flatten draws img onto an opaque white canvas anchored at the origin
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// encodePage renders img as a normalized JPEG page
func encodePage(img image.Image, quality int) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return &buf, nil
}

// stackImages concatenates images top to bottom. All images must share
// the same width.
func stackImages(images []image.Image) (*image.RGBA, error) {
	if len(images) == 0 {
		return nil, mangashelf.Invalid("at least one page needs to be provided")
	}
	width := images[0].Bounds().Dx()
	height := 0
	for _, img := range images {
		if img.Bounds().Dx() != width {
			return nil, mangashelf.Invalid("all the images should have the same width")
		}
		height += img.Bounds().Dy()
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	y := 0
	for _, img := range images {
		b := img.Bounds()
		draw.Draw(dst, image.Rect(0, y, width, y+b.Dy()), img, b.Min, draw.Over)
		y += b.Dy()
	}
	return dst, nil
}

// bandRects splits a width x height strip into ceil(height / 2*width)
// bands of height 2*width; the last band holds the remainder.
func bandRects(width, height int) []image.Rectangle {
	if width <= 0 || height <= 0 {
		return nil
	}
	step := 2 * width
	n := (height + step - 1) / step
	rects := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		top := i * step
		rects = append(rects, image.Rect(0, top, width, min(height, top+step)))
	}
	return rects
}

// sliceStrip stacks the images and cuts the result into page sized bands
func sliceStrip(images []image.Image) ([]image.Image, error) {
	strip, err := stackImages(images)
	if err != nil {
		return nil, err
	}
	rects := bandRects(strip.Bounds().Dx(), strip.Bounds().Dy())
	bands := make([]image.Image, 0, len(rects))
	for _, r := range rects {
		bands = append(bands, strip.SubImage(r))
	}
	return bands, nil
}
