package tracking

import (
	"math"
)

// MinExtendLength is the length a tracklet must exceed before its velocity
// is trusted for extension.
const MinExtendLength = 16

// RenumberTrackIDs maps arbitrary labels to 0..K-1 in order of first
// appearance. Equal inputs map to equal outputs and distinct inputs to
// distinct outputs.
func RenumberTrackIDs(trackIDs []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(trackIDs))
	for i, id := range trackIDs {
		newID, ok := mapping[id]
		if !ok {
			newID = len(mapping)
			mapping[id] = newID
		}
		out[i] = newID
	}
	return out
}

// TrimTracklets splits every tracklet longer than maxLength into
// consecutive chunks of at most maxLength detections with fresh dense ids.
// The boundaries between chunks are returned so later passes do not join
// them back together. A non-positive maxLength leaves the input untouched.
func TrimTracklets(dets []Detection, trackIDs []int, maxLength int) ([]Detection, []int, Constraints, error) {
	cuts := make(Constraints)
	if maxLength <= 0 {
		return dets, trackIDs, cuts, nil
	}

	tracklets, err := GroupTracklets(dets, trackIDs)
	if err != nil {
		return nil, nil, nil, err
	}

	trimmed := NewTracklets()
	next := 0
	for _, id := range tracklets.IDs() {
		t := tracklets.Get(id)
		for start := 0; start < len(t); start += maxLength {
			end := min(start+maxLength, len(t))
			if start > 0 {
				cuts.Add(Link{From: t[start-1].ID, To: t[start].ID})
			}
			trimmed.Set(next, t[start:end])
			next++
		}
	}

	outDets, outIDs := trimmed.Flatten()
	return outDets, RenumberTrackIDs(outIDs), cuts, nil
}

// ExtendTracklets pushes the first and last box of each long tracklet along
// its constant velocity by up to length frames, widening the endpoint box
// to cover both the observed and the extrapolated position. Endpoints whose
// extrapolation reaches the frame edge get a zero sized box. The geometry
// observed before the first extension is kept in Detection.Orig and
// restored each time, so extending again does not compound.
func ExtendTracklets(tracklets *Tracklets, length int) *Tracklets {
	out := NewTracklets()

	for _, id := range tracklets.IDs() {
		t := tracklets.Get(id)
		if len(t) <= MinExtendLength {
			out.Set(id, t)
			continue
		}

		t = append(Tracklet(nil), t...)
		t.sortByFrame()

		first, last := &t[0], &t[len(t)-1]
		restoreOrig(first)
		restoreOrig(last)

		var sumW, sumH float64
		for _, d := range t {
			sumW += d.Box.Width
			sumH += d.Box.Height
		}
		avgW := sumW / float64(len(t))
		avgH := sumH / float64(len(t))

		ext := float64(min(length, len(t)))
		vel := TrackVelocity(t)

		newX := clamp(last.Box.X+vel.VX*ext, 0, 1)
		newY := clamp(last.Box.Y+vel.VY*ext, 0, 1)
		oldX := clamp(first.Box.X-vel.VX*ext, 0, 1)
		oldY := clamp(first.Box.Y-vel.VY*ext, 0, 1)

		last.Box = spanBox(last.Box, newX, newY, avgW, avgH)
		first.Box = spanBox(first.Box, oldX, oldY, avgW, avgH)

		out.Set(id, t)
	}

	return out
}

// restoreOrig puts back the pre-extension geometry, saving it on first use
func restoreOrig(d *Detection) {
	if d.Orig != nil {
		d.Box = *d.Orig
		return
	}
	orig := d.Box
	d.Orig = &orig
}

// spanBox covers b's origin and the extrapolated point px,py
func spanBox(b Box, px, py, avgW, avgH float64) Box {
	minX := math.Min(b.X, px)
	minY := math.Min(b.Y, py)
	if minX > 0 && minY > 0 {
		return Box{
			X:      minX,
			Y:      minY,
			Width:  clamp(math.Abs(px-b.X)+avgW, 0, 1),
			Height: clamp(math.Abs(py-b.Y)+avgH, 0, 1),
		}
	}
	b.Width = 0
	b.Height = 0
	return b
}
