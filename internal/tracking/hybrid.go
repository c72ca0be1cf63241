package tracking

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

const (
	// Timesteps is the fixed horizon of the sequence comparator.
	Timesteps = 24
	// DefaultBatchSize is the comparator batch size when none is configured.
	DefaultBatchSize = 4
)

// CropPair holds the JPEG crops of the two endpoints of a candidate link.
type CropPair struct {
	A []byte
	B []byte
}

// CropComparator returns, per pair, the probability that both crops show
// the same object.
type CropComparator interface {
	CompareCrops(ctx context.Context, pairs []CropPair) ([]float64, error)
}

// Sequence is a fixed length (Timesteps rows) description of one side of a
// link: appearance features and x, y, width, height, time per step.
type Sequence struct {
	Appearance     [][]float64 `json:"app"`
	SpatioTemporal [][]float64 `json:"st"`
}

// SequencePair is the input to the sequence comparator for one link.
type SequencePair struct {
	A Sequence `json:"d0"`
	B Sequence `json:"d1"`
}

// SequenceComparator returns, per pair, the probability that both
// sequences belong to the same track.
type SequenceComparator interface {
	CompareSequences(ctx context.Context, pairs []SequencePair) ([]float64, error)
}

// FeatureExtractor computes appearance embeddings for JPEG crops.
type FeatureExtractor interface {
	ExtractFeatures(ctx context.Context, crops [][]byte) ([][]float64, error)
}

// HybridWeights uses the crop comparator when either side of a link has a
// single detection and the sequence comparator otherwise.
type HybridWeights struct {
	Crops     CropComparator
	Sequences SequenceComparator
	// FPS converts frame indices to seconds for the spatio-temporal rows
	FPS float64
	// SingleFrameBias is added to crop comparator probabilities before
	// conversion, trading false merges against missed ones for short tracklets
	SingleFrameBias float64
	BatchSize       int
	// Progress receives the weight and batch progress bars. Nil discards them.
	Progress io.Writer
}

// NewHybridWeights validates the collaborators and fills defaults.
func NewHybridWeights(crops CropComparator, seqs SequenceComparator, fps, bias float64, batchSize int) (*HybridWeights, error) {
	if crops == nil || seqs == nil {
		return nil, errors.New("hybrid weights need both a crop and a sequence comparator")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %v", fps)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &HybridWeights{
		Crops:           crops,
		Sequences:       seqs,
		FPS:             fps,
		SingleFrameBias: bias,
		BatchSize:       batchSize,
	}, nil
}

// Compute implements Strategy. Comparator calls are batched in the order
// pairs were given and each result is written back to its pair's index.
func (w *HybridWeights) Compute(ctx context.Context, tracklets *Tracklets, pairs []Pair) ([]float64, error) {
	weights := make([]float64, len(pairs))

	var cropIdx, seqIdx []int
	var crops []CropPair
	var seqs []SequencePair

	bar := w.newBar(len(pairs), "weights")
	for i, p := range pairs {
		a := tracklets.Get(p.From)
		b := tracklets.Get(p.To)

		num := min(len(a), len(b), Timesteps)
		if num == 1 {
			cropIdx = append(cropIdx, i)
			crops = append(crops, CropPair{A: a.Last().Crop, B: b.First().Crop})
		} else {
			sp, err := w.sequencePair(a[len(a)-num:], b[:num])
			if err != nil {
				return nil, fmt.Errorf("pair %d->%d: %w", p.From, p.To, err)
			}
			seqIdx = append(seqIdx, i)
			seqs = append(seqs, sp)
		}
		bar.Add(1)
	}
	bar.Finish()

	err := w.batches(len(crops), func(start, end int) error {
		probs, err := w.Crops.CompareCrops(ctx, crops[start:end])
		if err != nil {
			return fmt.Errorf("crop comparator: %w", err)
		}
		if len(probs) != end-start {
			return fmt.Errorf("crop comparator returned %d results for %d pairs", len(probs), end-start)
		}
		for k, p := range probs {
			weights[cropIdx[start+k]] = similarityWeight(p + w.SingleFrameBias)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = w.batches(len(seqs), func(start, end int) error {
		probs, err := w.Sequences.CompareSequences(ctx, seqs[start:end])
		if err != nil {
			return fmt.Errorf("sequence comparator: %w", err)
		}
		if len(probs) != end-start {
			return fmt.Errorf("sequence comparator returned %d results for %d pairs", len(probs), end-start)
		}
		for k, p := range probs {
			weights[seqIdx[start+k]] = similarityWeight(p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return weights, nil
}

// similarityWeight negates the log-odds cost so a certain match is MaxWeight
// and a zero probability lands on Forbidden.
func similarityWeight(p float64) float64 {
	return -LogOdds(clamp(p, 0, 1))
}

// batches calls fn with consecutive [start,end) windows of at most BatchSize
func (w *HybridWeights) batches(n int, fn func(start, end int) error) error {
	if n == 0 {
		return nil
	}
	size := w.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	bar := w.newBar((n+size-1)/size, "batches")
	defer bar.Finish()

	for start := 0; start < n; start += size {
		end := min(start+size, n)
		if err := fn(start, end); err != nil {
			return err
		}
		bar.Add(1)
	}
	return nil
}

// sequencePair builds both padded sequences. a holds the tail of the source
// tracklet and b the head of the target; time is shifted so a starts at 0.
func (w *HybridWeights) sequencePair(a, b Tracklet) (SequencePair, error) {
	if a.Last().Frame >= b.First().Frame {
		return SequencePair{}, fmt.Errorf("source ends at frame %d, not before target start %d", a.Last().Frame, b.First().Frame)
	}

	origin := float64(a.First().Frame) / w.FPS
	dim := featureDim(a, b)

	return SequencePair{
		A: w.sequence(a, origin, dim),
		B: w.sequence(b, origin, dim),
	}, nil
}

func (w *HybridWeights) sequence(t Tracklet, origin float64, dim int) Sequence {
	app := make([][]float64, 0, Timesteps)
	st := make([][]float64, 0, Timesteps)

	for _, d := range t {
		feat := make([]float64, dim)
		copy(feat, d.Features)
		app = append(app, feat)
		st = append(st, []float64{
			d.Box.X,
			d.Box.Y,
			d.Box.Width,
			d.Box.Height,
			float64(d.Frame)/w.FPS - origin,
		})
	}

	return Sequence{
		Appearance:     padRows(app, Timesteps, dim),
		SpatioTemporal: padRows(st, Timesteps, 5),
	}
}

// padRows appends zero rows until rows has n entries
func padRows(rows [][]float64, n, dim int) [][]float64 {
	for len(rows) < n {
		rows = append(rows, make([]float64, dim))
	}
	return rows
}

// featureDim is the widest appearance vector present on either side
func featureDim(a, b Tracklet) int {
	dim := 0
	for _, t := range []Tracklet{a, b} {
		for _, d := range t {
			dim = max(dim, len(d.Features))
		}
	}
	return dim
}

func (w *HybridWeights) newBar(total int, desc string) *progressbar.ProgressBar {
	out := w.Progress
	if out == nil {
		out = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
	)
}
