package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andresmejia3/tracklets/internal/cache"
	"github.com/andresmejia3/tracklets/internal/config"
	"github.com/andresmejia3/tracklets/internal/logging"
	"github.com/andresmejia3/tracklets/internal/store"
	"github.com/andresmejia3/tracklets/internal/tator"
	"github.com/andresmejia3/tracklets/internal/types"
)

// annotationStore is what the tracking driver needs from a backend.
type annotationStore interface {
	cache.Lookup
	Localizations(ctx context.Context, mediaID, typeID int64) ([]types.Localization, error)
	CreateTracks(ctx context.Context, runID uuid.UUID, recs []types.TrackRecord) ([]int64, error)
	MarkProcessed(ctx context.Context, mediaID int64, at time.Time) error
}

var (
	_ annotationStore = (*store.Store)(nil)
	_ annotationStore = (*tator.Client)(nil)
)

var (
	// DB is the PostgreSQL store, nil when another backend is selected
	DB *store.Store
	// Backend is the annotation store selected by the settings
	Backend annotationStore
	// Lookups caches media and version reads against Backend
	Lookups *cache.Lookups

	settings *config.Settings
	logger   *slog.Logger
	v        = viper.New()
)

// errNeedsPostgres is returned by commands that only the local store supports.
var errNeedsPostgres = errors.New("this command needs the postgres backend")

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "tracklets",
	Short:   "Link fish detections into tracks and classify their movement",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if settings, err = config.Load(v); err != nil {
			return err
		}

		if logger, err = logging.Setup(os.Stderr, settings.LogLevel, settings.LogFormat); err != nil {
			return err
		}

		switch settings.Backend {
		case config.BackendTator:
			Backend = tator.New(settings.Tator.URL, settings.Tator.Token, settings.Tator.Project)
			logger.Debug("using tator backend", "url", settings.Tator.URL, "project", settings.Tator.Project)
		default:
			// Use the command's context (which will be cancellable) for the connection
			DB, err = store.New(cmd.Context(), settings.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			Backend = DB
		}

		Lookups = cache.New(Backend, cache.DefaultTTL, logging.ForModule(logger, "cache"))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Lookups != nil {
			hits, misses, _ := Lookups.Stats()
			logger.Debug("lookup cache", "hits", hits, "misses", misses)
		}
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// requireDB returns the local store or errNeedsPostgres.
func requireDB() (*store.Store, error) {
	if DB == nil {
		return nil, errNeedsPostgres
	}
	return DB, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("db", "", "PostgreSQL connection string (default: POSTGRES_* env or "+config.DefaultDatabaseURL+")")
	flags.String("backend", config.BackendPostgres, "Annotation store backend: postgres or tator")
	flags.String("tator-url", "https://cloud.tator.io", "Tator host")
	flags.String("tator-token", "", "Tator API token")
	flags.Int64("tator-project", 0, "Tator project id")
	flags.String("worker", "python/comparator.py", "Python model worker script")
	flags.String("python", "python3", "Python interpreter for the worker")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("output-dir", "work", "Directory holding one JSON file of tracks per media")

	for key, name := range map[string]string{
		"db":            "db",
		"backend":       "backend",
		"tator.url":     "tator-url",
		"tator.token":   "tator-token",
		"tator.project": "tator-project",
		"worker":        "worker",
		"python":        "python",
		"log-level":     "log-level",
		"log-format":    "log-format",
		"output-dir":    "output-dir",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}
