package tracking

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDims = Dims{Width: 1000, Height: 1000}

// single builds a one detection tracklet
func single(id int64, frame int, b Box) Tracklet {
	return Tracklet{{ID: id, Frame: frame, Box: b}}
}

func collection(ts map[int]Tracklet, order ...int) *Tracklets {
	c := NewTracklets()
	for _, id := range order {
		c.Set(id, ts[id])
	}
	return c
}

func TestLogOdds(t *testing.T) {
	assert.Equal(t, MaxWeight, LogOdds(0))
	assert.Equal(t, MaxWeight, LogOdds(-0.5))
	assert.Equal(t, Forbidden, LogOdds(1))
	assert.InDelta(t, 0.0, LogOdds(0.5), 1e-12)
	assert.InDelta(t, math.Log(4), LogOdds(0.2), 1e-12)
}

func TestClampWeight(t *testing.T) {
	assert.Equal(t, Forbidden, ClampWeight(math.NaN()))
	assert.Equal(t, MaxWeight, ClampWeight(math.Inf(1)))
	assert.Equal(t, Forbidden, ClampWeight(math.Inf(-1)))
	assert.Equal(t, 12.5, ClampWeight(12.5))
}

func TestIntersectionOverUnion(t *testing.T) {
	a := pixelBox{x: 100, y: 100, w: 200, h: 200}

	assert.Equal(t, 1.0, intersectionOverUnion(a, a), "identical boxes are capped at 1")
	assert.Equal(t, 0.0, intersectionOverUnion(a, pixelBox{x: 600, y: 600, w: 10, h: 10}))

	zero := pixelBox{x: 10, y: 10}
	assert.Equal(t, 0.0, intersectionOverUnion(zero, zero), "degenerate union")
}

func TestIntersectionOverUnionTinyBoxes(t *testing.T) {
	for _, side := range []int{0, 1, 2} {
		b := pixelBox{x: 500, y: 500, w: side, h: side}
		assert.Equal(t, 0.0, intersectionOverUnion(b, b), "%d px box", side)
	}
	three := pixelBox{x: 500, y: 500, w: 3, h: 3}
	assert.Equal(t, 1.0, intersectionOverUnion(three, three))

	iou := NewIoUWeights(testDims, 0)
	tiny := Box{X: 0.5, Y: 0.5, Width: 0.002, Height: 0.002}
	assert.Equal(t, Forbidden, iou.weight(tiny, tiny), "identical 2x2 px boxes")
	big := Box{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}
	assert.Equal(t, MaxWeight, iou.weight(big, big), "identical 200x200 px boxes")
}

func TestIoUWeights(t *testing.T) {
	base := Box{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}
	ts := collection(map[int]Tracklet{
		0: single(1, 0, base),
		1: single(2, 1, base),
		2: single(3, 1, base.Translate(0.02, 0)),
		3: single(4, 1, base.Translate(0.04, 0)),
		4: single(5, 1, base.Translate(0.08, 0)),
		5: single(6, 1, base.Translate(0.5, 0.5)),
	}, 0, 1, 2, 3, 4, 5)

	w := NewIoUWeights(testDims, 0)
	assert.Equal(t, DefaultIoUThreshold, w.Threshold)

	pairs := []Pair{{0, 5}, {0, 1}, {0, 2}, {0, 3}, {0, 4}}
	weights, err := w.Compute(context.Background(), ts, pairs)
	require.NoError(t, err)
	require.Len(t, weights, len(pairs))

	assert.Equal(t, Forbidden, weights[0], "disjoint boxes are forbidden")
	assert.Equal(t, MaxWeight, weights[1], "identical boxes reach the maximum")
	assert.Greater(t, weights[1], weights[2])
	assert.Greater(t, weights[2], weights[3])
	assert.Greater(t, weights[3], weights[4])
	assert.Greater(t, weights[4], 1.0)

	strict := NewIoUWeights(testDims, 0.9)
	weights, err = strict.Compute(context.Background(), ts, []Pair{{0, 2}, {0, 1}})
	require.NoError(t, err)
	assert.Equal(t, Forbidden, weights[0], "overlap below threshold")
	assert.Equal(t, MaxWeight, weights[1])
}

func TestIoUMotionWeightsFollowsVelocity(t *testing.T) {
	var mover Tracklet
	for f := 0; f < 10; f++ {
		mover = append(mover, Detection{
			ID:    int64(f + 1),
			Frame: f,
			Box:   Box{X: 0.1 + 0.02*float64(f), Y: 0.4, Width: 0.05, Height: 0.05},
		})
	}
	last := mover.Last().Box

	ts := collection(map[int]Tracklet{
		0: mover,
		1: single(100, 13, last.Translate(0.08, 0)),
		2: single(101, 13, last),
	}, 0, 1, 2)
	pairs := []Pair{{0, 1}, {0, 2}}

	motion := NewIoUMotionWeights(testDims, 0, 0)
	assert.Equal(t, DefaultMotionWindow, motion.Window)

	weights, err := motion.Compute(context.Background(), ts, pairs)
	require.NoError(t, err)
	assert.Greater(t, weights[0], 1.0)
	assert.Equal(t, Forbidden, weights[1])

	plain, err := NewIoUWeights(testDims, 0).Compute(context.Background(), ts, pairs)
	require.NoError(t, err)
	assert.Equal(t, Forbidden, plain[0])
	assert.Equal(t, MaxWeight, plain[1])
}

func TestIoUMotionWeightsSingleDetectionMatchesIoU(t *testing.T) {
	base := Box{X: 0.2, Y: 0.2, Width: 0.1, Height: 0.1}
	ts := collection(map[int]Tracklet{
		0: single(1, 0, base),
		1: single(2, 1, base.Translate(0.01, 0.01)),
	}, 0, 1)
	pairs := []Pair{{0, 1}}

	motion, err := NewIoUMotionWeights(testDims, 0, 4).Compute(context.Background(), ts, pairs)
	require.NoError(t, err)
	plain, err := NewIoUWeights(testDims, 0).Compute(context.Background(), ts, pairs)
	require.NoError(t, err)
	assert.Equal(t, plain, motion)
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(StrategyOptions{Method: MethodIoU, Dims: testDims})
	require.NoError(t, err)
	assert.IsType(t, &IoUWeights{}, s)

	s, err = NewStrategy(StrategyOptions{Method: MethodIoUMotion, Dims: testDims})
	require.NoError(t, err)
	assert.IsType(t, &IoUMotionWeights{}, s)

	s, err = NewStrategy(StrategyOptions{Method: MethodHybrid, FPS: 30, Crops: &fakeCrops{}, Sequences: &fakeSequences{}})
	require.NoError(t, err)
	hw := s.(*HybridWeights)
	assert.Equal(t, DefaultBatchSize, hw.BatchSize)

	_, err = NewStrategy(StrategyOptions{Method: MethodHybrid, FPS: 30})
	assert.Error(t, err)

	_, err = NewStrategy(StrategyOptions{Method: "kalman"})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	assert.True(t, IsVisual(MethodHybrid))
	assert.False(t, IsVisual(MethodIoUMotion))
}
