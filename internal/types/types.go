package types

import (
	"time"

	"github.com/google/uuid"
)

// FrameTask represents a single decoded frame of a media file
type FrameTask struct {
	Index int
	Data  []byte
}

// Media describes a video in the annotation store
type Media struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// Localization is a stored detection box, normalized to the frame size
type Localization struct {
	ID         int64   `json:"id"`
	MediaID    int64   `json:"media"`
	TypeID     int64   `json:"type"`
	Frame      int     `json:"frame"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Species    string  `json:"species,omitempty"`
}

// Version is a named layer of annotations
type Version struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// TrackRecord is the finalized track handed to the annotation store
type TrackRecord struct {
	Type            int64   `json:"type"`
	MediaIDs        []int64 `json:"media_ids"`
	LocalizationIDs []int64 `json:"localization_ids"`
	Species         string  `json:"Species"`
	Length          int     `json:"length"`
	Angle           float64 `json:"angle"` // degrees
	Speed           float64 `json:"speed"`
	Version         *int64  `json:"version"`
}

// StoredTrack is a TrackRecord read back from the store
type StoredTrack struct {
	ID    int64
	RunID uuid.UUID
	TrackRecord
	CreatedAt time.Time
}
