// Package config holds the tracking strategy file and the runtime settings
// of the command line.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/tracklets/internal/tracking"
)

// ExtensionLinearMotion extends tracklets along their velocity after every
// pass with a frame diff above 1.
const ExtensionLinearMotion = "linear-motion"

var (
	// ErrUnknownMethod aliases the tracking error so callers can match
	// either package.
	ErrUnknownMethod = tracking.ErrUnknownMethod
	// ErrMissingModel is returned when the hybrid method has no model file.
	ErrMissingModel = errors.New("hybrid method requires args.model_file")
	// ErrInvalidFrameDiffs covers empty or non-positive frame diff lists.
	ErrInvalidFrameDiffs = errors.New("invalid frame-diffs")
	// ErrUnknownExtension is returned for an extension method that does not exist.
	ErrUnknownExtension = errors.New("unknown extension method")
)

// Args are the method specific knobs. Unused fields are ignored by methods
// that do not need them.
type Args struct {
	ModelFile       string  `yaml:"model_file"`
	BatchSize       int     `yaml:"batch_size"`
	Threshold       float64 `yaml:"threshold"`
	SingleFrameBias float64 `yaml:"single_frame_bias"`
	MotionWindow    int     `yaml:"motion_window"`
}

// Extension selects tracklet extension between passes. An empty method
// disables it.
type Extension struct {
	Method string `yaml:"method"`
}

// Strategy is the tracking strategy file.
type Strategy struct {
	Method     string    `yaml:"method"`
	FrameDiffs []int     `yaml:"frame-diffs"`
	Args       Args      `yaml:"args"`
	Extension  Extension `yaml:"extension"`
	// MaxLength maps a frame diff to the length tracklets are trimmed to
	// after that pass.
	MaxLength map[int]int `yaml:"max-length"`
	// MinLength drops final tracklets that are not longer than this.
	MinLength     int                    `yaml:"min-length"`
	MinConfidence float64                `yaml:"min-confidence"`
	Classify      tracking.ClassifyRules `yaml:"classify"`
}

// DefaultStrategy is used when no strategy file is given.
func DefaultStrategy() *Strategy {
	return &Strategy{
		Method:        tracking.MethodHybrid,
		FrameDiffs:    []int{1, 2, 4, 8, 16, 32, 64, 128, 256},
		MaxLength:     map[int]int{},
		MinConfidence: 0.5,
		Classify:      tracking.DefaultClassifyRules(),
	}
}

// LoadStrategy reads a YAML strategy file on top of the defaults and
// validates the result. An empty path returns the validated defaults.
func LoadStrategy(path string) (*Strategy, error) {
	s := DefaultStrategy()
	if path == "" {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return s, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file %s: %w", path, err)
	}
	if s.MaxLength == nil {
		s.MaxLength = map[int]int{}
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy %s: %w", path, err)
	}
	return s, nil
}

// Validate checks the strategy before any media is processed.
func (s *Strategy) Validate() error {
	switch s.Method {
	case tracking.MethodHybrid:
		if s.Args.ModelFile == "" {
			return ErrMissingModel
		}
	case tracking.MethodIoU, tracking.MethodIoUMotion:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, s.Method)
	}

	if len(s.FrameDiffs) == 0 {
		return fmt.Errorf("%w: at least one is required", ErrInvalidFrameDiffs)
	}
	for _, d := range s.FrameDiffs {
		if d < 1 {
			return fmt.Errorf("%w: %d is not positive", ErrInvalidFrameDiffs, d)
		}
	}

	for diff, length := range s.MaxLength {
		if !slices.Contains(s.FrameDiffs, diff) {
			return fmt.Errorf("max-length for frame diff %d which is never run", diff)
		}
		if length < 1 {
			return fmt.Errorf("max-length for frame diff %d must be positive, got %d", diff, length)
		}
	}

	switch s.Extension.Method {
	case "", ExtensionLinearMotion:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExtension, s.Extension.Method)
	}

	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("min-confidence must be within [0,1], got %v", s.MinConfidence)
	}
	if s.Args.Threshold < 0 || s.Args.Threshold >= 1 {
		return fmt.Errorf("args.threshold must be within [0,1), got %v", s.Args.Threshold)
	}
	if s.Args.BatchSize < 0 {
		return fmt.Errorf("args.batch_size must not be negative, got %d", s.Args.BatchSize)
	}
	if s.MinLength < 0 {
		return fmt.Errorf("min-length must not be negative, got %d", s.MinLength)
	}

	return nil
}

// TrimLength is the max length applied after the pass for frameDiff, 0 if none.
func (s *Strategy) TrimLength(frameDiff int) int {
	return s.MaxLength[frameDiff]
}

// ExtendAfter reports whether tracklets are extended after the pass for
// frameDiff, and by how many frames.
func (s *Strategy) ExtendAfter(frameDiff int) (int, bool) {
	if frameDiff > 1 && s.Extension.Method == ExtensionLinearMotion {
		return frameDiff, true
	}
	return 0, false
}

// Options maps the strategy onto weighting options for one media. The
// hybrid comparators are filled in by the caller.
func (s *Strategy) Options(dims tracking.Dims, fps float64) tracking.StrategyOptions {
	return tracking.StrategyOptions{
		Method:          s.Method,
		Dims:            dims,
		FPS:             fps,
		Threshold:       s.Args.Threshold,
		MotionWindow:    s.Args.MotionWindow,
		SingleFrameBias: s.Args.SingleFrameBias,
		BatchSize:       s.Args.BatchSize,
	}
}
