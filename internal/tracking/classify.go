package tracking

import (
	"math"

	"github.com/andresmejia3/tracklets/internal/types"
)

// Track categories written to the Species attribute.
const (
	SpeciesTracklet   = "Tracklet"
	SpeciesTossOut    = "Toss out"
	SpeciesStationary = "Stationary"
	SpeciesExiting    = "Exiting"
	SpeciesEntering   = "Entering"
	SpeciesUnknown    = "Unknown"
)

// ClassifyRules are the thresholds of the track decision table.
type ClassifyRules struct {
	// TossLength is the length below which a track is marked for removal
	TossLength int `yaml:"toss-length"`
	// StationarySpeed is the speed below which a track is not moving
	StationarySpeed float64 `yaml:"stationary-speed"`
}

// DefaultClassifyRules returns the thresholds used on survey footage.
func DefaultClassifyRules() ClassifyRules {
	return ClassifyRules{
		TossLength:      200,
		StationarySpeed: 0.00001,
	}
}

// Classify applies the decision table. angle is in degrees; y points down,
// so 90 degrees is moving down the frame.
func Classify(length int, speed, angle float64, rules ClassifyRules) string {
	switch {
	case length < rules.TossLength:
		return SpeciesTossOut
	case speed < rules.StationarySpeed:
		return SpeciesStationary
	case angle > -45 && angle < 45:
		return SpeciesExiting
	case angle > -135 && angle < 175:
		return SpeciesEntering
	default:
		return SpeciesUnknown
	}
}

// ObjectMeta is the store context a track record is created in.
type ObjectMeta struct {
	TypeID  int64
	MediaID int64
	Version *int64
}

// MakeObject builds the track record for a final tracklet. Only the later
// half of the track feeds the velocity so the heading reflects where the
// object went, not where it came from.
func MakeObject(track Tracklet, meta ObjectMeta, rules ClassifyRules) types.TrackRecord {
	track = append(Tracklet(nil), track...)
	track.sortByFrame()

	vel := TrackVelocity(track[len(track)/2:])
	angle := vel.Angle * 180 / math.Pi

	locIDs := make([]int64, len(track))
	for i, d := range track {
		locIDs[i] = d.ID
	}

	return types.TrackRecord{
		Type:            meta.TypeID,
		MediaIDs:        []int64{meta.MediaID},
		LocalizationIDs: locIDs,
		Species:         Classify(len(track), vel.Speed, angle, rules),
		Length:          len(track),
		Angle:           angle,
		Speed:           vel.Speed,
		Version:         meta.Version,
	}
}
