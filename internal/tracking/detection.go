package tracking

import (
	"fmt"
	"sort"

	"github.com/andresmejia3/tracklets/internal/types"
)

// Box is a bounding box in normalized (0..1) frame coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is a single object observation on one frame.
type Detection struct {
	// ID is the localization id in the annotation store
	ID         int64
	Frame      int
	Box        Box
	Confidence float64
	Species    string

	// Crop holds the JPEG encoded pixels of the box. Only populated for
	// appearance based weighting and dropped once tracking is done.
	Crop []byte
	// Features is the appearance embedding of Crop
	Features []float64

	// Orig is the geometry before the first extension. Extension restores
	// it before recomputing so repeated extension does not drift.
	Orig *Box
}

// FromLocalization converts a stored localization into a detection.
func FromLocalization(l types.Localization) Detection {
	return Detection{
		ID:         l.ID,
		Frame:      l.Frame,
		Box:        Box{X: l.X, Y: l.Y, Width: l.Width, Height: l.Height},
		Confidence: l.Confidence,
		Species:    l.Species,
	}
}

// Tracklet is a frame ordered run of detections sharing one track id.
type Tracklet []Detection

// First returns the earliest detection of the tracklet.
func (t Tracklet) First() Detection {
	return t[0]
}

// Last returns the latest detection of the tracklet.
func (t Tracklet) Last() Detection {
	return t[len(t)-1]
}

// sortByFrame orders the tracklet in place, keeping input order for equal frames
func (t Tracklet) sortByFrame() {
	sort.SliceStable(t, func(i, j int) bool {
		return t[i].Frame < t[j].Frame
	})
}

// Tracklets maps track ids to their detections while remembering the order
// in which ids first appeared, so iteration is deterministic.
type Tracklets struct {
	order []int
	byID  map[int]Tracklet
}

// NewTracklets returns an empty collection.
func NewTracklets() *Tracklets {
	return &Tracklets{byID: make(map[int]Tracklet)}
}

// Get returns the tracklet for a track id, nil if unknown.
func (ts *Tracklets) Get(id int) Tracklet {
	return ts.byID[id]
}

// Set stores a tracklet, appending the id to the iteration order when new.
func (ts *Tracklets) Set(id int, t Tracklet) {
	if _, exists := ts.byID[id]; !exists {
		ts.order = append(ts.order, id)
	}
	ts.byID[id] = t
}

// IDs returns track ids in first-appearance order.
func (ts *Tracklets) IDs() []int {
	return ts.order
}

// Len is the number of tracklets.
func (ts *Tracklets) Len() int {
	return len(ts.order)
}

// GroupTracklets partitions detections by their parallel track id. Input
// order is preserved within a group before each group is sorted by frame.
func GroupTracklets(dets []Detection, trackIDs []int) (*Tracklets, error) {
	if len(dets) != len(trackIDs) {
		return nil, fmt.Errorf("detections and track ids differ in length: %d != %d", len(dets), len(trackIDs))
	}

	ts := NewTracklets()
	for i, d := range dets {
		id := trackIDs[i]
		ts.Set(id, append(ts.byID[id], d))
	}

	for _, id := range ts.order {
		ts.byID[id].sortByFrame()
	}

	return ts, nil
}

// Flatten returns parallel detection and track id slices in iteration order.
func (ts *Tracklets) Flatten() ([]Detection, []int) {
	var dets []Detection
	var ids []int

	for _, id := range ts.order {
		for _, d := range ts.byID[id] {
			dets = append(dets, d)
			ids = append(ids, id)
		}
	}

	return dets, ids
}
