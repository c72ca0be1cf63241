package tracking

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
)

// Link identifies a boundary between two detections by their ids: the last
// detection of one tracklet and the first of the next.
type Link struct {
	From int64
	To   int64
}

// Constraints is the set of boundaries that must never be merged. It is
// carried from pass to pass so earlier decisions are not undone.
type Constraints map[Link]struct{}

// Add records a boundary.
func (c Constraints) Add(l Link) {
	c[l] = struct{}{}
}

// Has reports whether a boundary is forbidden.
func (c Constraints) Has(l Link) bool {
	_, ok := c[l]
	return ok
}

// Union returns a new set holding both c and other.
func (c Constraints) Union(other Constraints) Constraints {
	out := make(Constraints, len(c)+len(other))
	for l := range c {
		out[l] = struct{}{}
	}
	for l := range other {
		out[l] = struct{}{}
	}
	return out
}

// Pass is the result of one JoinTracklets call.
type Pass struct {
	Detections []Detection
	TrackIDs   []int
	// Pairs and Weights are the candidate links of this pass and their
	// clamped weights, in discovery order.
	Pairs   []Pair
	Weights []float64
	// IsCut is true for every pair that was not merged.
	IsCut []bool
	// Constraints holds the input constraints plus every forbidden link
	// found in this pass.
	Constraints Constraints
}

// JoinTracklets runs one frame-diff pass: tracklets whose start follows
// another tracklet's end by exactly frameDiff frames are scored with the
// strategy and greedily merged, highest weight first. Each tracklet takes
// part in at most one outgoing and one incoming merge per pass. Weight ties
// keep discovery order. Track ids of the result are dense from 0.
func JoinTracklets(ctx context.Context, dets []Detection, trackIDs []int, frameDiff int,
	strategy Strategy, constraints Constraints) (*Pass, error) {

	if frameDiff < 1 {
		return nil, fmt.Errorf("frame diff must be >= 1, got %d", frameDiff)
	}

	tracklets, err := GroupTracklets(dets, trackIDs)
	if err != nil {
		return nil, err
	}

	pass := &Pass{Constraints: constraints.Union(nil)}

	if tracklets.Len() == 0 {
		return pass, nil
	}

	pass.Pairs = candidates(tracklets, frameDiff, pass.Constraints)

	if len(pass.Pairs) == 0 {
		pass.Detections, pass.TrackIDs = tracklets.Flatten()
		pass.TrackIDs = RenumberTrackIDs(pass.TrackIDs)
		return pass, nil
	}

	weights, err := strategy.Compute(ctx, tracklets, pass.Pairs)
	if err != nil {
		return nil, fmt.Errorf("computing weights for frame diff %d: %w", frameDiff, err)
	}
	if len(weights) != len(pass.Pairs) {
		return nil, fmt.Errorf("strategy returned %d weights for %d pairs", len(weights), len(pass.Pairs))
	}

	pass.Weights = make([]float64, len(weights))
	for i, w := range weights {
		pass.Weights[i] = ClampWeight(w)
	}

	merges := pass.match(tracklets)
	merged := mergeChains(tracklets, merges)

	pass.Detections, pass.TrackIDs = merged.Flatten()
	pass.TrackIDs = RenumberTrackIDs(pass.TrackIDs)

	return pass, nil
}

// candidates lists the links of one pass in discovery order: sources in
// first-appearance order, and for each source the tracklets starting exactly
// frameDiff frames after its end, also in first-appearance order.
func candidates(tracklets *Tracklets, frameDiff int, constraints Constraints) []Pair {
	ids := tracklets.IDs()

	startingAt := make(map[int][]int)
	for _, id := range ids {
		first := tracklets.Get(id).First().Frame
		startingAt[first] = append(startingAt[first], id)
	}

	var pairs []Pair
	for _, a := range ids {
		src := tracklets.Get(a)
		for _, b := range startingAt[src.Last().Frame+frameDiff] {
			if a == b {
				continue
			}
			if constraints.Has(boundary(src, tracklets.Get(b))) {
				continue
			}
			pairs = append(pairs, Pair{From: a, To: b})
		}
	}
	return pairs
}

// match greedily accepts links in descending weight order and fills IsCut
// and Constraints. It returns the accepted links as a directed graph.
func (p *Pass) match(tracklets *Tracklets) *simple.DirectedGraph {
	order := make([]int, len(p.Pairs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return p.Weights[order[i]] > p.Weights[order[j]]
	})

	merges := simple.NewDirectedGraph()
	p.IsCut = make([]bool, len(p.Pairs))

	for _, i := range order {
		pair := p.Pairs[i]
		p.IsCut[i] = true

		if p.Weights[i] <= Forbidden {
			p.Constraints.Add(boundary(tracklets.Get(pair.From), tracklets.Get(pair.To)))
			continue
		}

		if merges.From(int64(pair.From)).Len() > 0 || merges.To(int64(pair.To)).Len() > 0 {
			continue
		}

		merges.SetEdge(merges.NewEdge(simple.Node(pair.From), simple.Node(pair.To)))
		p.IsCut[i] = false
	}

	return merges
}

// mergeChains concatenates every chain of accepted links under the track id
// of its first tracklet. Frames strictly increase along a chain, so plain
// concatenation keeps the result ordered.
func mergeChains(tracklets *Tracklets, merges *simple.DirectedGraph) *Tracklets {
	out := NewTracklets()

	for _, id := range tracklets.IDs() {
		if merges.To(int64(id)).Len() > 0 {
			continue
		}

		var chain Tracklet
		cur := int64(id)
		for {
			chain = append(chain, tracklets.Get(int(cur))...)
			next := merges.From(cur)
			if !next.Next() {
				break
			}
			cur = next.Node().ID()
		}
		out.Set(id, chain)
	}

	return out
}

func boundary(src, dst Tracklet) Link {
	return Link{From: src.Last().ID, To: dst.First().ID}
}
