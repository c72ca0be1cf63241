package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/tracklets/internal/types"
	"github.com/andresmejia3/tracklets/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list <media_id>",
	Short: "List the tracks stored for a media",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mediaID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			utils.Die("Invalid media ID", err, nil)
		}
		runList(cmd, mediaID)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, mediaID int64) {
	ctx := cmd.Context()
	db, err := requireDB()
	if err != nil {
		utils.Die("Cannot list tracks", err, nil)
	}

	media, err := Lookups.Media(ctx, mediaID)
	if err != nil {
		utils.Die("Failed to load media", err, nil)
	}

	tracks, err := db.ListTracks(ctx, mediaID)
	if err != nil {
		utils.Die("Failed to list tracks", err, nil)
	}

	if len(tracks) == 0 {
		fmt.Printf("No tracks found for media %d.\n", mediaID)
		return
	}

	printTracks(os.Stdout, tracks, media.FPS)
}

// printTracks writes one row per track. The duration column is empty when
// the frame rate is unknown.
func printTracks(out io.Writer, tracks []types.StoredTrack, fps float64) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSPECIES\tLENGTH\tDURATION\tANGLE\tSPEED\tRUN\tCREATED")
	fmt.Fprintln(w, "--\t-------\t------\t--------\t-----\t-----\t---\t-------")

	for _, t := range tracks {
		duration := ""
		if fps > 0 {
			duration = fmtTime(float64(t.Length) / fps)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%.1f°\t%.5f\t%s\t%s\n",
			t.ID, t.Species, t.Length, duration, t.Angle, t.Speed,
			t.RunID.String()[:8], t.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
