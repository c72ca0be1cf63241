package tracking

import (
	"errors"
	"fmt"
	"io"
)

// Method names accepted in strategy configuration.
const (
	MethodHybrid    = "hybrid"
	MethodIoU       = "iou"
	MethodIoUMotion = "iou-motion"
)

// ErrUnknownMethod is returned for a weighting method that does not exist.
var ErrUnknownMethod = errors.New("unknown weighting method")

// IsVisual reports whether the method needs pixels from the video.
func IsVisual(method string) bool {
	return method == MethodHybrid
}

// StrategyOptions carries everything any weighting method may need.
type StrategyOptions struct {
	Method string
	Dims   Dims
	FPS    float64

	// IoU based methods
	Threshold    float64
	MotionWindow int

	// Hybrid
	Crops           CropComparator
	Sequences       SequenceComparator
	SingleFrameBias float64
	BatchSize       int
	Progress        io.Writer
}

// NewStrategy selects the weighting implementation for opts.Method.
func NewStrategy(opts StrategyOptions) (Strategy, error) {
	switch opts.Method {
	case MethodIoU:
		return NewIoUWeights(opts.Dims, opts.Threshold), nil
	case MethodIoUMotion:
		return NewIoUMotionWeights(opts.Dims, opts.Threshold, opts.MotionWindow), nil
	case MethodHybrid:
		hw, err := NewHybridWeights(opts.Crops, opts.Sequences, opts.FPS, opts.SingleFrameBias, opts.BatchSize)
		if err != nil {
			return nil, err
		}
		hw.Progress = opts.Progress
		return hw, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, opts.Method)
	}
}
