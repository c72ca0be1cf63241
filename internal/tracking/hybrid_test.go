package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCrops scores a crop pair as the first byte of A divided by ten
type fakeCrops struct {
	calls [][]CropPair
	err   error
	short bool
}

func (f *fakeCrops) CompareCrops(_ context.Context, pairs []CropPair) ([]float64, error) {
	f.calls = append(f.calls, pairs)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		out[i] = float64(p.A[0]) / 10
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

// fakeSequences scores a sequence pair as the x of the first source row
type fakeSequences struct {
	calls [][]SequencePair
}

func (f *fakeSequences) CompareSequences(_ context.Context, pairs []SequencePair) ([]float64, error) {
	f.calls = append(f.calls, pairs)
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		out[i] = p.A.SpatioTemporal[0][0]
	}
	return out, nil
}

func run(first, n int, x float64, idBase int64) Tracklet {
	var t Tracklet
	for i := 0; i < n; i++ {
		t = append(t, Detection{
			ID:       idBase + int64(i),
			Frame:    first + i,
			Box:      Box{X: x, Y: 0.5, Width: 0.1, Height: 0.1},
			Features: []float64{1, 2, 3},
		})
	}
	return t
}

func hybridFixture() *Tracklets {
	return collection(map[int]Tracklet{
		0: {{ID: 1, Frame: 0, Crop: []byte{1}}},
		1: {{ID: 2, Frame: 1, Crop: []byte{2}}},
		4: {{ID: 3, Frame: 2, Crop: []byte{3}}},
		2: run(0, 3, 0.3, 10),
		3: run(5, 3, 0.9, 20),
		5: run(10, 2, 0.6, 30),
	}, 0, 1, 2, 3, 4, 5)
}

func TestHybridWeightsScattersResults(t *testing.T) {
	crops := &fakeCrops{}
	seqs := &fakeSequences{}
	hw, err := NewHybridWeights(crops, seqs, 10, 0, 2)
	require.NoError(t, err)

	pairs := []Pair{
		{0, 1}, // crop, p=0.1
		{2, 3}, // sequence, p=0.3
		{1, 4}, // crop, p=0.2
		{3, 5}, // sequence, p=0.9
		{0, 4}, // crop, p=0.1
		{2, 5}, // sequence, p=0.3
	}
	weights, err := hw.Compute(context.Background(), hybridFixture(), pairs)
	require.NoError(t, err)
	require.Len(t, weights, len(pairs))

	expected := []float64{0.1, 0.3, 0.2, 0.9, 0.1, 0.3}
	for i, p := range expected {
		assert.InDelta(t, -LogOdds(p), weights[i], 1e-9, "pair %d", i)
	}

	require.Len(t, crops.calls, 2)
	assert.Len(t, crops.calls[0], 2)
	assert.Len(t, crops.calls[1], 1)
	assert.Equal(t, []byte{2}, crops.calls[0][1].A)
	assert.Equal(t, []byte{3}, crops.calls[0][1].B)

	require.Len(t, seqs.calls, 2)
	assert.Len(t, seqs.calls[0], 2)
	assert.Len(t, seqs.calls[1], 1)
}

func TestHybridWeightsSequenceLayout(t *testing.T) {
	seqs := &fakeSequences{}
	hw, err := NewHybridWeights(&fakeCrops{}, seqs, 10, 0, 4)
	require.NoError(t, err)

	_, err = hw.Compute(context.Background(), hybridFixture(), []Pair{{2, 3}})
	require.NoError(t, err)

	sp := seqs.calls[0][0]
	for _, s := range []Sequence{sp.A, sp.B} {
		assert.Len(t, s.Appearance, Timesteps)
		assert.Len(t, s.SpatioTemporal, Timesteps)
	}

	assert.Equal(t, []float64{0.3, 0.5, 0.1, 0.1, 0}, sp.A.SpatioTemporal[0])
	assert.InDelta(t, 0.2, sp.A.SpatioTemporal[2][4], 1e-12)
	assert.InDelta(t, 0.5, sp.B.SpatioTemporal[0][4], 1e-12, "target time is relative to the source start")
	assert.Equal(t, []float64{1, 2, 3}, sp.B.Appearance[2])
	assert.Equal(t, []float64{0, 0, 0}, sp.B.Appearance[3], "padding rows are zero")
	assert.Equal(t, make([]float64, 5), sp.A.SpatioTemporal[Timesteps-1])
}

func TestHybridWeightsSingleFrameBias(t *testing.T) {
	hw, err := NewHybridWeights(&fakeCrops{}, &fakeSequences{}, 10, 0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, hw.BatchSize)

	ts := collection(map[int]Tracklet{
		0: {{ID: 1, Frame: 0, Crop: []byte{6}}},
		1: {{ID: 2, Frame: 1, Crop: []byte{0}}},
	}, 0, 1)

	weights, err := hw.Compute(context.Background(), ts, []Pair{{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, MaxWeight, weights[0], "biased probability is clamped to 1")
}

func TestHybridWeightsErrors(t *testing.T) {
	boom := errors.New("worker died")
	hw, err := NewHybridWeights(&fakeCrops{err: boom}, &fakeSequences{}, 10, 0, 4)
	require.NoError(t, err)

	_, err = hw.Compute(context.Background(), hybridFixture(), []Pair{{0, 1}})
	assert.ErrorIs(t, err, boom)

	hw.Crops = &fakeCrops{short: true}
	_, err = hw.Compute(context.Background(), hybridFixture(), []Pair{{0, 1}, {1, 4}})
	assert.ErrorContains(t, err, "returned 1 results for 2 pairs")

	// overlapping frames cannot form a sequence pair
	_, err = hw.Compute(context.Background(), hybridFixture(), []Pair{{3, 2}})
	assert.Error(t, err)

	_, err = NewHybridWeights(&fakeCrops{}, &fakeSequences{}, 0, 0, 4)
	assert.Error(t, err)
}
