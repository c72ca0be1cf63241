package tracking

import "math"

// Corners is a pixel space box in x1,y1,x2,y2 form, the layout most
// detector heads emit.
type Corners struct {
	X1, Y1, X2, Y2 float64
}

// RescaleCorners maps a box from network input resolution to the source
// image resolution.
func RescaleCorners(c Corners, netW, netH, imgW, imgH int) Corners {
	if netW <= 0 || netH <= 0 {
		return c
	}
	sx := float64(imgW) / float64(netW)
	sy := float64(imgH) / float64(netH)
	return Corners{X1: c.X1 * sx, Y1: c.Y1 * sy, X2: c.X2 * sx, Y2: c.Y2 * sy}
}

// ClipCorners clamps a pixel box to the image bounds.
func ClipCorners(c Corners, imgW, imgH int) Corners {
	w, h := float64(imgW), float64(imgH)
	return Corners{
		X1: clamp(c.X1, 0, w),
		Y1: clamp(c.Y1, 0, h),
		X2: clamp(c.X2, 0, w),
		Y2: clamp(c.Y2, 0, h),
	}
}

// CornersToBox converts a pixel corner box to a normalized x,y,width,height
// box. Inverted corners yield a zero sized box.
func CornersToBox(c Corners, imgW, imgH int) Box {
	if imgW <= 0 || imgH <= 0 {
		return Box{}
	}
	w, h := float64(imgW), float64(imgH)
	return Box{
		X:      c.X1 / w,
		Y:      c.Y1 / h,
		Width:  math.Max(0, c.X2-c.X1) / w,
		Height: math.Max(0, c.Y2-c.Y1) / h,
	}
}

// ClipBox clamps every field of a normalized box into [0,1].
func ClipBox(b Box) Box {
	return Box{
		X:      clamp(b.X, 0, 1),
		Y:      clamp(b.Y, 0, 1),
		Width:  clamp(b.Width, 0, 1),
		Height: clamp(b.Height, 0, 1),
	}
}

// Translate shifts a normalized box by dx,dy keeping its size.
func (b Box) Translate(dx, dy float64) Box {
	b.X += dx
	b.Y += dy
	return b
}

// pixelBox is an integer box in absolute pixels
type pixelBox struct {
	x, y, w, h int
}

// pixels denormalizes the box, truncating to whole pixels.
func (b Box) pixels(width, height int) pixelBox {
	return pixelBox{
		x: int(b.X * float64(width)),
		y: int(b.Y * float64(height)),
		w: int(b.Width * float64(width)),
		h: int(b.Height * float64(height)),
	}
}

// intersectionOverUnion uses inclusive pixel bounds, so touching boxes
// overlap by one pixel. The result is capped at 1 and is 0 whenever the
// union is degenerate. The +1 makes the intersection outgrow the union for
// boxes of 2 pixels or less a side, so such boxes score 0 even against
// themselves; this includes the zero sized boxes left by extension at the
// frame edge.
func intersectionOverUnion(a, b pixelBox) float64 {
	xA := max(a.x, b.x)
	yA := max(a.y, b.y)
	xB := min(a.x+a.w, b.x+b.w)
	yB := min(a.y+a.h, b.y+b.h)

	interX := xB - xA + 1
	interY := yB - yA + 1
	if interX < 0 || interY < 0 {
		return 0
	}

	interArea := float64(interX * interY)
	union := float64(a.w*a.h+b.w*b.h) - interArea
	if union <= 0 {
		return 0
	}

	return math.Min(interArea/union, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
