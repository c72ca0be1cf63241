package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// CropJPEG cuts the normalized box x,y,w,h out of a JPEG frame and
// re-encodes it. When size is positive the crop is scaled to size x size.
// Boxes partially outside the frame are clipped; boxes entirely outside
// return an error.
func CropJPEG(frame []byte, x, y, w, h float64, size int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	rect := CropRect(img.Bounds(), x, y, w, h)
	if rect.Empty() {
		return nil, fmt.Errorf("crop %v is empty within frame %v", rect, img.Bounds())
	}

	var out draw.Image
	if size > 0 {
		out = image.NewRGBA(image.Rect(0, 0, size, size))
		draw.ApproxBiLinear.Scale(out, out.Bounds(), img, rect, draw.Src, nil)
	} else {
		out = image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Copy(out, image.Point{}, img, rect, draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encoding crop: %w", err)
	}
	return buf.Bytes(), nil
}

// CropRect maps a normalized box onto pixel bounds, rounding each edge and
// clipping to the frame.
func CropRect(bounds image.Rectangle, x, y, w, h float64) image.Rectangle {
	fw, fh := float64(bounds.Dx()), float64(bounds.Dy())
	x0 := int(math.Round(x * fw))
	y0 := int(math.Round(y * fh))
	x1 := x0 + int(math.Round(w*fw))
	y1 := y0 + int(math.Round(h*fh))
	return image.Rect(x0, y0, x1, y1).Add(bounds.Min).Intersect(bounds)
}
