package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/tracklets/internal/utils"
)

// resetOptions selects what reset clears. With neither DB nor Files set,
// both are cleared.
type resetOptions struct {
	DB    bool
	Files bool
	Yes   bool
}

var resetOpts resetOptions

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear stored annotations and JSON track output",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runReset(cmd.Context(), os.Stdin, os.Stdout, resetOpts); err != nil {
			utils.Die("Reset failed", err, nil)
		}
	},
}

func init() {
	f := resetCmd.Flags()
	f.BoolVar(&resetOpts.DB, "db", false, "Drop every PostgreSQL table")
	f.BoolVar(&resetOpts.Files, "files", false, "Delete the JSON track files in the output directory")
	f.BoolVarP(&resetOpts.Yes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(ctx context.Context, in io.Reader, out io.Writer, opts resetOptions) error {
	if !opts.DB && !opts.Files {
		opts.DB, opts.Files = true, true
	}
	reader := bufio.NewReader(in)
	ask := func(prompt string) bool {
		return opts.Yes || confirm(reader, out, prompt)
	}

	if opts.DB {
		db, err := requireDB()
		if err != nil {
			return err
		}
		if ask("⚠️  Are you sure you want to DROP all database tables?") {
			fmt.Fprintln(out, "🗑️  Clearing Database...")
			if err := db.Reset(ctx); err != nil {
				return fmt.Errorf("dropping tables: %w", err)
			}
			Lookups.Flush()
		}
	}

	if opts.Files {
		if ask(fmt.Sprintf("⚠️  Are you sure you want to delete every track file in %s?", settings.OutputDir)) {
			n, err := removeTrackFiles(settings.OutputDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "🗑️  Removed %d track files.\n", n)
		}
	}

	fmt.Fprintln(out, "✨ System Reset Complete.")
	return nil
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeTrackFiles deletes the <media_id>.json files written by track and
// leaves anything else in dir alone. A missing dir is not an error.
func removeTrackFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if _, err := utils.MediaIDFromPath(e.Name()); err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
