package cmd

import (
	"math"
	"strings"
	"testing"

	"github.com/andresmejia3/tracklets/internal/types"
)

const detectCSV = `video_id,frame,x,y,w,h,det_species,det_conf
1234_reef,0,100,50,200,100,2,0.1:0.8:0.1
1234_reef,,0,0,10,10,1,0.9:0.1:0.0
1234_reef,3,1800,1000,300,200,1,0.95:0.05:0.0
77_other,1,0,0,10,10,3,0.3:0.3:0.4
`

func TestParseDetectCSV(t *testing.T) {
	rows, err := parseDetectCSV(strings.NewReader(detectCSV), []string{"Cod", "Haddock"}, 0.5)
	if err != nil {
		t.Fatalf("parseDetectCSV failed: %v", err)
	}

	// The frameless row and the 0.4 confidence row are skipped
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d: %+v", len(rows), rows)
	}

	first := rows[0]
	if first.MediaID != 1234 || first.Frame != 0 || first.Species != "Haddock" || first.Confidence != 0.8 {
		t.Errorf("Unexpected first row %+v", first)
	}
	if first.Corners.X1 != 100 || first.Corners.Y1 != 50 || first.Corners.X2 != 300 || first.Corners.Y2 != 150 {
		t.Errorf("Expected corners from x,y,w,h, got %+v", first.Corners)
	}
	if rows[1].Species != "Cod" || rows[1].Frame != 3 {
		t.Errorf("Unexpected second row %+v", rows[1])
	}
}

func TestParseDetectCSV_UnnamedSpecies(t *testing.T) {
	rows, err := parseDetectCSV(strings.NewReader(detectCSV), nil, 0)
	if err != nil {
		t.Fatalf("parseDetectCSV failed: %v", err)
	}
	if len(rows) != 3 || rows[2].Species != "3" || rows[2].MediaID != 77 {
		t.Errorf("Expected class numbers as species, got %+v", rows)
	}
}

func TestParseDetectCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"Empty file", ""},
		{"Missing column", "video_id,frame,x,y,w,h,det_species\n1_a,0,0,0,1,1,1\n"},
		{"Bad video id", "video_id,frame,x,y,w,h,det_species,det_conf\nreef,0,0,0,1,1,1,0.9\n"},
		{"Bad box", "video_id,frame,x,y,w,h,det_species,det_conf\n1_a,0,left,0,1,1,1,0.9\n"},
		{"Class out of range", "video_id,frame,x,y,w,h,det_species,det_conf\n1_a,0,0,0,1,1,4,0.9:0.1\n"},
		{"Zero class", "video_id,frame,x,y,w,h,det_species,det_conf\n1_a,0,0,0,1,1,0,0.9\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseDetectCSV(strings.NewReader(tt.csv), nil, 0); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestToLocalization(t *testing.T) {
	media := types.Media{ID: 1234, Width: 2000, Height: 1000}
	row := detectRow{MediaID: 1234, Frame: 7, Confidence: 0.9, Species: "Cod"}

	tests := []struct {
		name         string
		x1, y1       float64
		x2, y2       float64
		opts         importOptions
		wantX, wantY float64
		wantW, wantH float64
	}{
		{
			name: "Media pixels",
			x1:   200, y1: 100, x2: 600, y2: 300,
			opts:  importOptions{TypeID: 5},
			wantX: 0.1, wantY: 0.1, wantW: 0.2, wantH: 0.2,
		},
		{
			name: "Network pixels are rescaled",
			x1:   100, y1: 50, x2: 300, y2: 150,
			opts:  importOptions{TypeID: 5, NetworkWidth: 1000, NetworkHeight: 500},
			wantX: 0.1, wantY: 0.1, wantW: 0.2, wantH: 0.2,
		},
		{
			name: "Clipped at the frame edge",
			x1:   1800, y1: 900, x2: 2200, y2: 1100,
			opts:  importOptions{TypeID: 5},
			wantX: 0.9, wantY: 0.9, wantW: 0.1, wantH: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row.Corners.X1, row.Corners.Y1, row.Corners.X2, row.Corners.Y2 = tt.x1, tt.y1, tt.x2, tt.y2
			loc := toLocalization(row, media, tt.opts)

			if loc.MediaID != 1234 || loc.TypeID != 5 || loc.Frame != 7 || loc.Species != "Cod" || loc.Confidence != 0.9 {
				t.Errorf("Row fields not carried: %+v", loc)
			}
			got := []float64{loc.X, loc.Y, loc.Width, loc.Height}
			want := []float64{tt.wantX, tt.wantY, tt.wantW, tt.wantH}
			for i := range got {
				if math.Abs(got[i]-want[i]) > 1e-9 {
					t.Errorf("Expected box %v, got %v", want, got)
					break
				}
			}
		})
	}
}
