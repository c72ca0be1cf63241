package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/tracklets/internal/types"
	"github.com/andresmejia3/tracklets/internal/utils"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <track_id>",
	Short: "Show a stored track and the detections it links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			utils.ShowError("Invalid track ID", err, nil)
			return err
		}
		return runShow(cmd.Context(), os.Stdout, id)
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the track record as JSON")
	rootCmd.AddCommand(showCmd)
}

func runShow(ctx context.Context, out io.Writer, id int64) error {
	db, err := requireDB()
	if err != nil {
		utils.ShowError("Cannot show tracks", err, nil)
		return err
	}

	track, err := db.GetTrack(ctx, id)
	if err != nil {
		utils.ShowError("Failed to load track", err, nil)
		return err
	}

	if showJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(track.TrackRecord)
	}

	locs, err := db.LocalizationsByID(ctx, track.LocalizationIDs)
	if err != nil {
		utils.ShowError("Failed to load detections", err, nil)
		return err
	}

	var fps float64
	if len(track.MediaIDs) > 0 {
		if media, err := Lookups.Media(ctx, track.MediaIDs[0]); err == nil {
			fps = media.FPS
		}
	}

	printTrack(out, track, locs, fps)
	return nil
}

func printTrack(out io.Writer, track types.StoredTrack, locs []types.Localization, fps float64) {
	fmt.Fprintf(out, "🐟 Track %d: %s\n", track.ID, track.Species)
	fmt.Fprintf(out, "   Media %v, %d detections, heading %.1f°, speed %.5f\n",
		track.MediaIDs, track.Length, track.Angle, track.Speed)
	fmt.Fprintf(out, "   Run %s at %s\n\n", track.RunID, track.CreatedAt.Local().Format("2006-01-02 15:04"))

	if missing := len(track.LocalizationIDs) - len(locs); missing > 0 {
		fmt.Fprintf(out, "⚠️  %d detections are no longer in the store.\n", missing)
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FRAME\tTIME\tLOCALIZATION\tBOX (x, y, w, h)\tCONFIDENCE")
	fmt.Fprintln(w, "-----\t----\t------------\t----------------\t----------")
	for _, l := range locs {
		at := ""
		if fps > 0 {
			at = fmtTime(float64(l.Frame) / fps)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%.3f, %.3f, %.3f, %.3f\t%.2f\n",
			l.Frame, at, l.ID, l.X, l.Y, l.Width, l.Height, l.Confidence)
	}
	w.Flush()
}
