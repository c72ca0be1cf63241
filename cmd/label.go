package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/tracklets/internal/utils"
)

var labelCmd = &cobra.Command{
	Use:   "label <track_id> <species>",
	Short: "Override the species label of a stored track",
	Long: `Replaces the label the decision table gave a track, for example to turn
"Unknown" into "Entering" after reviewing it with show.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			utils.Die("Invalid track ID", err, nil)
		}
		if err := runLabel(cmd.Context(), os.Stdout, id, args[1]); err != nil {
			utils.Die("Failed to label track", err, nil)
		}
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, out io.Writer, id int64, species string) error {
	species = strings.TrimSpace(species)
	if species == "" {
		return errors.New("species must not be empty")
	}

	db, err := requireDB()
	if err != nil {
		return err
	}

	track, err := db.GetTrack(ctx, id)
	if err != nil {
		return err
	}
	if track.Species == species {
		fmt.Fprintf(out, "Track %d is already labeled '%s'\n", id, species)
		return nil
	}

	if err := db.RenameTrack(ctx, id, species); err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Track %d relabeled from '%s' to '%s'\n", id, track.Species, species)
	return nil
}
