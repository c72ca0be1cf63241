package tracking

import (
	"context"
	"math"
)

const (
	// MaxWeight bounds every edge weight so no infinity reaches matching.
	MaxWeight = 1000000.0
	// Forbidden marks a link that must never be merged.
	Forbidden = -MaxWeight

	// DefaultIoUThreshold is the overlap a link needs to be allowed.
	DefaultIoUThreshold = 0.20
	// DefaultMotionWindow is how many trailing detections feed the
	// velocity estimate of IoUMotionWeights.
	DefaultMotionWindow = 8
)

// Pair is a candidate link from the end of tracklet From to the start of
// tracklet To.
type Pair struct {
	From int
	To   int
}

// Strategy scores candidate links. The returned slice has one weight per
// pair, in the same order. Larger weights mean the two tracklets are more
// likely the same object.
type Strategy interface {
	Compute(ctx context.Context, tracklets *Tracklets, pairs []Pair) ([]float64, error)
}

// Dims are the pixel dimensions of the media being tracked.
type Dims struct {
	Width  int
	Height int
}

// ClampWeight bounds w to [Forbidden, MaxWeight]. NaN is forbidden.
func ClampWeight(w float64) float64 {
	if math.IsNaN(w) {
		return Forbidden
	}
	return clamp(w, Forbidden, MaxWeight)
}

// LogOdds turns a similarity probability into the additive cost
// ln((1-p)/p). p <= 0 maps to MaxWeight and the result is clamped, so
// probabilities of exactly 0 or 1 stay finite.
func LogOdds(p float64) float64 {
	if p <= 0 {
		return MaxWeight
	}
	return ClampWeight(math.Log((1.0 - p) / p))
}

// IoUWeights scores a link by the overlap of the last box of the source and
// the first box of the target.
type IoUWeights struct {
	Dims      Dims
	Threshold float64
}

// NewIoUWeights returns an IoU strategy with the default threshold when
// threshold is not positive.
func NewIoUWeights(dims Dims, threshold float64) *IoUWeights {
	if threshold <= 0 {
		threshold = DefaultIoUThreshold
	}
	return &IoUWeights{Dims: dims, Threshold: threshold}
}

// Compute implements Strategy.
func (w *IoUWeights) Compute(_ context.Context, tracklets *Tracklets, pairs []Pair) ([]float64, error) {
	weights := make([]float64, len(pairs))
	for i, p := range pairs {
		a := tracklets.Get(p.From).Last().Box
		b := tracklets.Get(p.To).First().Box
		weights[i] = w.weight(a, b)
	}
	return weights, nil
}

// weight amplifies overlap above the threshold as MaxWeight^iou
func (w *IoUWeights) weight(a, b Box) float64 {
	iou := intersectionOverUnion(a.pixels(w.Dims.Width, w.Dims.Height), b.pixels(w.Dims.Width, w.Dims.Height))
	if iou > w.Threshold {
		return ClampWeight(math.Pow(MaxWeight, iou))
	}
	return Forbidden
}

// IoUMotionWeights predicts where the source tracklet will be when the
// target starts, using its recent constant velocity, and scores that
// predicted box against the target's first box like IoUWeights.
type IoUMotionWeights struct {
	IoUWeights
	// Window is the number of trailing detections used for the velocity
	Window int
}

// NewIoUMotionWeights returns an IoU+motion strategy. Non-positive values
// fall back to the defaults.
func NewIoUMotionWeights(dims Dims, threshold float64, window int) *IoUMotionWeights {
	if window <= 0 {
		window = DefaultMotionWindow
	}
	return &IoUMotionWeights{IoUWeights: *NewIoUWeights(dims, threshold), Window: window}
}

// Compute implements Strategy.
func (w *IoUMotionWeights) Compute(_ context.Context, tracklets *Tracklets, pairs []Pair) ([]float64, error) {
	weights := make([]float64, len(pairs))
	for i, p := range pairs {
		src := tracklets.Get(p.From)
		dst := tracklets.Get(p.To)

		tail := src
		if len(tail) > w.Window {
			tail = tail[len(tail)-w.Window:]
		}
		vel := TrackVelocity(tail)

		gap := float64(dst.First().Frame - src.Last().Frame)
		predicted := ClipBox(src.Last().Box.Translate(vel.VX*gap, vel.VY*gap))

		weights[i] = w.weight(predicted, dst.First().Box)
	}
	return weights, nil
}
