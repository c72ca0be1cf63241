package tracking

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Velocity is the constant-motion fit of a tracklet. VX and VY are in
// normalized frame units per frame. Angle is in radians with y pointing down.
type Velocity struct {
	Angle float64
	Speed float64
	VX    float64
	VY    float64
}

// TrackVelocity fits x and y of the box origin against the frame index with
// ordinary least squares. Fewer than two distinct frames yields zero motion.
func TrackVelocity(track []Detection) Velocity {
	if len(track) < 2 {
		return Velocity{}
	}

	frames := make([]float64, len(track))
	xs := make([]float64, len(track))
	ys := make([]float64, len(track))
	distinct := false

	for i, d := range track {
		frames[i] = float64(d.Frame)
		xs[i] = d.Box.X
		ys[i] = d.Box.Y
		if d.Frame != track[0].Frame {
			distinct = true
		}
	}

	if !distinct {
		return Velocity{}
	}

	_, vx := stat.LinearRegression(frames, xs, nil, false)
	_, vy := stat.LinearRegression(frames, ys, nil, false)

	if math.IsNaN(vx) || math.IsNaN(vy) {
		return Velocity{}
	}

	return Velocity{
		Angle: math.Atan2(vy, vx),
		Speed: math.Hypot(vx, vy),
		VX:    vx,
		VY:    vy,
	}
}
