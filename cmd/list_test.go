package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/tracklets/internal/types"
)

func TestFmtTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
	}

	for _, tt := range tests {
		if got := fmtTime(tt.seconds); got != tt.want {
			t.Errorf("fmtTime(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func storedTrack(id int64, species string, length int) types.StoredTrack {
	return types.StoredTrack{
		ID:    id,
		RunID: uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e"),
		TrackRecord: types.TrackRecord{
			Type: 7, MediaIDs: []int64{1234}, LocalizationIDs: []int64{1, 2},
			Species: species, Length: length, Angle: 12.5, Speed: 0.001,
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPrintTracks(t *testing.T) {
	var out bytes.Buffer
	printTracks(&out, []types.StoredTrack{storedTrack(1, "Exiting", 300), storedTrack(2, "Toss out", 3)}, 30)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected header, rule and 2 rows, got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[2], "Exiting") || !strings.Contains(lines[2], "00:00:10") || !strings.Contains(lines[2], "0f8fad5b") {
		t.Errorf("Unexpected first row: %q", lines[2])
	}
	if !strings.Contains(lines[3], "Toss out") {
		t.Errorf("Unexpected second row: %q", lines[3])
	}
}

func TestPrintTracks_UnknownFPS(t *testing.T) {
	var out bytes.Buffer
	printTracks(&out, []types.StoredTrack{storedTrack(1, "Exiting", 300)}, 0)
	if strings.Contains(out.String(), "00:00:10") {
		t.Errorf("Duration should be empty without a frame rate:\n%s", out.String())
	}
}

func TestPrintTrack(t *testing.T) {
	track := storedTrack(9, "Entering", 2)
	locs := []types.Localization{
		{ID: 1, Frame: 30, X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4, Confidence: 0.9},
	}

	var out bytes.Buffer
	printTrack(&out, track, locs, 30)

	text := out.String()
	for _, want := range []string{"Track 9: Entering", "00:00:01", "0.100, 0.200, 0.300, 0.400", "1 detections are no longer in the store"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output:\n%s", want, text)
		}
	}
}
