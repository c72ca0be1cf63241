package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/tracklets/internal/tracking"
	"github.com/andresmejia3/tracklets/internal/types"
	"github.com/andresmejia3/tracklets/internal/utils"
)

// importOptions are the flags of the import command
type importOptions struct {
	TypeID        int64
	Species       []string
	Threshold     float64
	NetworkWidth  int
	NetworkHeight int
	VersionNumber int
	VersionName   string
}

var importOpts importOptions

var importCmd = &cobra.Command{
	Use:   "import <detect.csv> [media_file...]",
	Short: "Load detector output into the local store",
	Long: `Reads a detect.csv (video_id, frame, x, y, w, h, det_species, det_conf)
with pixel boxes and stores every detection as a normalized localization.
Media files given after the CSV are probed and registered first; the media
of every other row must already be in the store.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runImport(cmd.Context(), args[0], args[1:], importOpts)
	},
}

func init() {
	f := importCmd.Flags()
	f.Int64VarP(&importOpts.TypeID, "type-id", "t", 0, "Localization type to store the detections as")
	f.StringSliceVar(&importOpts.Species, "species", nil, "Species names in detector class order (det_species 1 is the first)")
	f.Float64Var(&importOpts.Threshold, "threshold", 0, "Skip detections below this confidence")
	f.IntVar(&importOpts.NetworkWidth, "network-width", 0, "Detector input width when boxes are in network pixels")
	f.IntVar(&importOpts.NetworkHeight, "network-height", 0, "Detector input height when boxes are in network pixels")
	f.IntVar(&importOpts.VersionNumber, "version-number", -1, "Create this version if missing (-1 to skip)")
	f.StringVar(&importOpts.VersionName, "version-name", "Detections", "Name of a version created by --version-number")

	importCmd.MarkFlagRequired("type-id")
	rootCmd.AddCommand(importCmd)
}

// detectRow is one parsed detect.csv line with a pixel box
type detectRow struct {
	MediaID    int64
	Frame      int
	Corners    tracking.Corners
	Confidence float64
	Species    string
}

func runImport(ctx context.Context, csvPath string, mediaFiles []string, opts importOptions) error {
	db, err := requireDB()
	if err != nil {
		utils.ShowError("Cannot import detections", err, nil)
		return err
	}

	for _, path := range mediaFiles {
		media, err := probeMedia(ctx, path)
		if err != nil {
			utils.ShowError("Failed to probe media", err, nil)
			return err
		}
		if err := db.UpsertMedia(ctx, media); err != nil {
			utils.ShowError("Failed to register media", err, nil)
			return err
		}
		Lookups.ForgetMedia(media.ID)
		fmt.Fprintf(os.Stderr, "📼 Registered media %d (%dx%d @ %.2f fps)\n", media.ID, media.Width, media.Height, media.FPS)
	}

	if opts.VersionNumber >= 0 {
		ver, err := db.EnsureVersion(ctx, opts.VersionNumber, opts.VersionName)
		if err != nil {
			utils.ShowError("Failed to create version", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🏷️  Version %d is %q (id %d)\n", ver.Number, ver.Name, ver.ID)
	}

	file, err := os.Open(filepath.Clean(csvPath))
	if err != nil {
		utils.ShowError("Failed to open detections", err, nil)
		return err
	}
	defer file.Close()

	rows, err := parseDetectCSV(file, opts.Species, opts.Threshold)
	if err != nil {
		utils.ShowError("Failed to parse detections", err, nil)
		return err
	}

	bar := progressbar.NewOptions(len(rows),
		progressbar.OptionSetDescription("📥 Importing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	locs := make([]types.Localization, 0, len(rows))
	for _, row := range rows {
		media, err := Lookups.Media(ctx, row.MediaID)
		if err != nil {
			utils.ShowError("Unknown media in detections", err, nil)
			return err
		}
		locs = append(locs, toLocalization(row, media, opts))
		bar.Add(1)
	}
	bar.Finish()

	ids, err := db.ImportLocalizations(ctx, locs)
	if err != nil {
		utils.ShowError("Failed to store detections", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "\n✅ Imported %d detections.\n", len(ids))
	return nil
}

// probeMedia builds the media record of a local video file
func probeMedia(ctx context.Context, path string) (types.Media, error) {
	id, err := utils.MediaIDFromPath(path)
	if err != nil {
		return types.Media{}, err
	}
	info, err := utils.ProbeVideo(ctx, path)
	if err != nil {
		return types.Media{}, err
	}
	return types.Media{ID: id, Name: filepath.Base(path), Width: info.Width, Height: info.Height, FPS: info.FPS}, nil
}

var detectColumns = []string{"video_id", "frame", "x", "y", "w", "h", "det_species", "det_conf"}

// parseDetectCSV reads detector rows. det_species is 1-based and det_conf
// holds one colon separated confidence per class; the detected class's
// value is kept. Rows without a frame or below threshold are skipped.
func parseDetectCSV(r io.Reader, species []string, threshold float64) ([]detectRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range detectColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var rows []detectRow
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec[col["frame"]] == "" {
			continue
		}

		row, err := parseDetectRecord(rec, col, species)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if row.Confidence < threshold {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseDetectRecord(rec []string, col map[string]int, species []string) (detectRow, error) {
	var row detectRow
	var err error

	mediaPrefix, _, _ := strings.Cut(rec[col["video_id"]], "_")
	if row.MediaID, err = strconv.ParseInt(mediaPrefix, 10, 64); err != nil {
		return row, fmt.Errorf("video_id %q does not start with a media id", rec[col["video_id"]])
	}

	frame, err := strconv.ParseFloat(rec[col["frame"]], 64)
	if err != nil {
		return row, fmt.Errorf("invalid frame: %w", err)
	}
	row.Frame = int(frame)

	var box [4]float64
	for i, name := range []string{"x", "y", "w", "h"} {
		if box[i], err = strconv.ParseFloat(rec[col[name]], 64); err != nil {
			return row, fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	row.Corners = tracking.Corners{X1: box[0], Y1: box[1], X2: box[0] + box[2], Y2: box[1] + box[3]}

	class, err := strconv.ParseFloat(rec[col["det_species"]], 64)
	if err != nil || class < 1 {
		return row, fmt.Errorf("invalid det_species %q", rec[col["det_species"]])
	}
	idx := int(class) - 1

	confs := strings.Split(rec[col["det_conf"]], ":")
	if idx >= len(confs) {
		return row, fmt.Errorf("det_conf has no value for class %d", idx+1)
	}
	if row.Confidence, err = strconv.ParseFloat(strings.TrimSpace(confs[idx]), 64); err != nil {
		return row, fmt.Errorf("invalid det_conf: %w", err)
	}

	if idx < len(species) {
		row.Species = species[idx]
	} else {
		row.Species = strconv.Itoa(idx + 1)
	}
	return row, nil
}

// toLocalization rescales a pixel box from network to media resolution when
// a network size is set, clips it to the frame and normalizes it.
func toLocalization(row detectRow, media types.Media, opts importOptions) types.Localization {
	c := row.Corners
	if opts.NetworkWidth > 0 && opts.NetworkHeight > 0 {
		c = tracking.RescaleCorners(c, opts.NetworkWidth, opts.NetworkHeight, media.Width, media.Height)
	}
	c = tracking.ClipCorners(c, media.Width, media.Height)
	box := tracking.CornersToBox(c, media.Width, media.Height)

	return types.Localization{
		MediaID:    row.MediaID,
		TypeID:     opts.TypeID,
		Frame:      row.Frame,
		X:          box.X,
		Y:          box.Y,
		Width:      box.Width,
		Height:     box.Height,
		Confidence: row.Confidence,
		Species:    row.Species,
	}
}
